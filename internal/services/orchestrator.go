package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gospodapp/backend/internal/models"
	"github.com/gospodapp/backend/internal/upstream"
)

const (
	completionRetries = 2
	retryBackoff      = 500 * time.Millisecond
)

// ChatRequest is one inbound diagnosis request.
type ChatRequest struct {
	DeviceHash  string
	Kind        string
	Message     string
	ImageBase64 string
	RefCode     string
	UserName    *string
	ClientIP    string
}

// ChatResponse is the accepted outcome. ReferralReward is nil when the
// request carried no referral code.
type ChatResponse struct {
	Text           string
	ReferralReward *bool
}

// OrchestratorQuota is the quota surface the orchestrator consumes.
type OrchestratorQuota interface {
	EnsureDevice(ctx context.Context, deviceHash string, userName *string) error
	DeletionPending(ctx context.Context, deviceHash string) (bool, error)
	IsPremium(ctx context.Context, deviceHash string) (bool, error)
	CanMake(ctx context.Context, deviceHash, kind string) (bool, error)
	Increment(ctx context.Context, deviceHash, kind string) (*models.UsageRecord, error)
}

// OrchestratorLimiter is the short-window burst guard.
type OrchestratorLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, bypass bool) bool
}

// OrchestratorReferrals credits referral codes. Its failures never
// block the primary request.
type OrchestratorReferrals interface {
	Process(ctx context.Context, inviterHash, invitedHash string) (bool, error)
}

// OrchestratorConversation is the context window.
type OrchestratorConversation interface {
	Append(ctx context.Context, deviceHash, text string, isUserTurn bool) error
	Recent(ctx context.Context, deviceHash string, limit int) ([]models.Message, error)
}

// UsageRecorder is the fire-and-forget analytics sink. The orchestrator
// logs recording failures and moves on.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, deviceHash, kind, plantLabel, ip string) error
}

// Orchestrator runs an inbound request through validation, rate limit,
// quota accounting, referral crediting, context assembly and the
// completion call.
type Orchestrator struct {
	quota      OrchestratorQuota
	limiter    OrchestratorLimiter
	referrals  OrchestratorReferrals
	convo      OrchestratorConversation
	classifier upstream.Classifier
	completer  upstream.Completer
	recorder   UsageRecorder
	log        *slog.Logger

	rateLimit     int
	rateWindow    time.Duration
	historyWindow int
	systemPrompt  string

	// chargeOnFailure preserves the historical billing policy: the
	// quota increment lands before the completion call, so a failed
	// upstream call still consumes quota. When false the charge is
	// deferred until the completion succeeds.
	chargeOnFailure bool

	sleep func(time.Duration)
}

type OrchestratorOptions struct {
	RateLimit               int
	RateWindow              time.Duration
	HistoryWindow           int
	SystemPrompt            string
	ChargeOnUpstreamFailure bool
}

func NewOrchestrator(
	quota OrchestratorQuota,
	limiter OrchestratorLimiter,
	referrals OrchestratorReferrals,
	convo OrchestratorConversation,
	classifier upstream.Classifier,
	completer upstream.Completer,
	recorder UsageRecorder,
	opts OrchestratorOptions,
	log *slog.Logger,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		quota:           quota,
		limiter:         limiter,
		referrals:       referrals,
		convo:           convo,
		classifier:      classifier,
		completer:       completer,
		recorder:        recorder,
		log:             log,
		rateLimit:       opts.RateLimit,
		rateWindow:      opts.RateWindow,
		historyWindow:   opts.HistoryWindow,
		systemPrompt:    opts.SystemPrompt,
		chargeOnFailure: opts.ChargeOnUpstreamFailure,
		sleep:           time.Sleep,
	}
}

// Handle runs the request to a terminal state. The returned error is
// always a *RequestError carrying the status class; operator detail
// stays in the log.
func (o *Orchestrator) Handle(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	// 1. Input shape.
	if err := ValidateDeviceHash(req.DeviceHash); err != nil {
		return nil, err
	}
	var imageBytes []byte
	switch req.Kind {
	case models.KindText:
		if err := ValidateMessage(req.Message); err != nil {
			return nil, err
		}
	case models.KindImage:
		raw, err := DecodeImage(req.ImageBase64)
		if err != nil {
			return nil, err
		}
		imageBytes = raw
		if req.Message != "" {
			if err := ValidateMessage(req.Message); err != nil {
				return nil, err
			}
		}
	default:
		return nil, ErrValidation
	}

	if err := o.quota.EnsureDevice(ctx, req.DeviceHash, req.UserName); err != nil {
		o.log.Error("ensure device failed", "device", req.DeviceHash, "error", err)
		return nil, ErrInternal
	}

	// 2. Devices scheduled for deletion are locked out.
	pending, err := o.quota.DeletionPending(ctx, req.DeviceHash)
	if err != nil {
		o.log.Error("deletion check failed", "device", req.DeviceHash, "error", err)
		return nil, ErrInternal
	}
	if pending {
		return nil, ErrAccessRestricted
	}

	// 3. Referral crediting; recorded for the response, never blocking.
	var referralReward *bool
	if req.RefCode != "" && req.RefCode != req.DeviceHash {
		rewarded, err := o.referrals.Process(ctx, req.RefCode, req.DeviceHash)
		if err != nil {
			o.log.Warn("referral processing failed", "device", req.DeviceHash, "ref", req.RefCode, "error", err)
		} else {
			referralReward = &rewarded
		}
	}

	premium, err := o.quota.IsPremium(ctx, req.DeviceHash)
	if err != nil {
		o.log.Error("premium check failed", "device", req.DeviceHash, "error", err)
		return nil, ErrInternal
	}

	// 4. Burst guard, keyed by device (IP when the hash is absent
	// never happens past validation, but the limiter key stays
	// device-or-IP shaped for reuse).
	key := req.DeviceHash
	if key == "" {
		key = req.ClientIP
	}
	if !o.limiter.Allow(ctx, key, o.rateLimit, o.rateWindow, premium) {
		return nil, ErrRateLimited
	}

	// 5. Daily quota.
	ok, err := o.quota.CanMake(ctx, req.DeviceHash, req.Kind)
	if err != nil {
		o.log.Error("quota check failed", "device", req.DeviceHash, "error", err)
		return nil, ErrInternal
	}
	if !ok {
		return nil, ErrQuotaExceeded
	}

	// 6. Charge the attempt. A storage failure here must propagate:
	// this write is the transaction of record.
	if o.chargeOnFailure {
		if _, err := o.quota.Increment(ctx, req.DeviceHash, req.Kind); err != nil {
			o.log.Error("usage increment failed", "device", req.DeviceHash, "kind", req.Kind, "error", err)
			return nil, ErrInternal
		}
	}

	// 7. Context assembly.
	userTurn := req.Message
	plantLabel := ""
	if req.Kind == models.KindImage {
		result, err := o.classifier.Classify(ctx, imageBytes)
		if err != nil {
			o.log.Warn("image classification failed", "device", req.DeviceHash, "error", err)
			return nil, ErrUpstream
		}
		plantLabel = result.Label
		userTurn = imageTurn(req.Message, result)
	}

	history, err := o.convo.Recent(ctx, req.DeviceHash, o.historyWindow)
	if err != nil {
		// Context continuity is best-effort; answer without it.
		o.log.Warn("history fetch failed, continuing without context", "device", req.DeviceHash, "error", err)
		history = nil
	}
	messages := make([]models.Message, 0, len(history)+2)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: o.systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: userTurn})

	// 8. Completion, with bounded retries. Only the completion call is
	// retried; the classifier ran once above.
	text, err := o.completeWithRetry(ctx, messages)
	if err != nil {
		o.log.Error("completion failed after retries", "device", req.DeviceHash, "error", err)
		return nil, ErrUpstream
	}

	// Deferred charge lands only once the reply exists.
	if !o.chargeOnFailure {
		if _, err := o.quota.Increment(ctx, req.DeviceHash, req.Kind); err != nil {
			o.log.Error("usage increment failed", "device", req.DeviceHash, "kind", req.Kind, "error", err)
			return nil, ErrInternal
		}
	}

	// 9. Both turns must be durable before the response is sent.
	if err := o.convo.Append(ctx, req.DeviceHash, userTurn, true); err != nil {
		o.log.Error("persist user turn failed", "device", req.DeviceHash, "error", err)
		return nil, ErrInternal
	}
	if err := o.convo.Append(ctx, req.DeviceHash, text, false); err != nil {
		o.log.Error("persist assistant turn failed", "device", req.DeviceHash, "error", err)
		return nil, ErrInternal
	}

	if err := o.recorder.RecordUsage(ctx, req.DeviceHash, req.Kind, plantLabel, req.ClientIP); err != nil {
		o.log.Warn("usage recording failed", "device", req.DeviceHash, "error", err)
	}

	return &ChatResponse{Text: text, ReferralReward: referralReward}, nil
}

func (o *Orchestrator) completeWithRetry(ctx context.Context, messages []models.Message) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= completionRetries; attempt++ {
		if attempt > 0 {
			o.sleep(retryBackoff)
		}
		text, err := o.completer.Complete(ctx, messages)
		if err == nil {
			return text, nil
		}
		lastErr = err
		o.log.Warn("completion attempt failed", "attempt", attempt+1, "error", err)
	}
	return "", lastErr
}

// imageTurn folds the classifier output into the user turn so the
// completion call sees what the photo shows.
func imageTurn(message string, c *upstream.Classification) string {
	if message == "" {
		message = "Ce problemă are planta din imagine și cum o tratez?"
	}
	return fmt.Sprintf("%s\n\n[Analiză imagine: %s, încredere %.0f%%]", message, c.Label, c.Confidence*100)
}
