package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gospodapp/backend/internal/models"
	"github.com/gospodapp/backend/internal/upstream"
)

// ---------------------------------------------------------------------------
// Collaborator mocks
// ---------------------------------------------------------------------------

type orchQuota struct {
	deletionPending bool
	premium         bool
	canMake         bool
	incrementErr    error

	incrementCalls int
	lastKind       string
}

func (q *orchQuota) EnsureDevice(context.Context, string, *string) error { return nil }
func (q *orchQuota) DeletionPending(context.Context, string) (bool, error) {
	return q.deletionPending, nil
}
func (q *orchQuota) IsPremium(context.Context, string) (bool, error) { return q.premium, nil }
func (q *orchQuota) CanMake(context.Context, string, string) (bool, error) {
	return q.canMake, nil
}
func (q *orchQuota) Increment(_ context.Context, _, kind string) (*models.UsageRecord, error) {
	if q.incrementErr != nil {
		return nil, q.incrementErr
	}
	q.incrementCalls++
	q.lastKind = kind
	return &models.UsageRecord{}, nil
}

type orchLimiter struct {
	allow      bool
	lastKey    string
	lastBypass bool
}

func (l *orchLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration, bypass bool) bool {
	l.lastKey = key
	l.lastBypass = bypass
	if bypass {
		return true
	}
	return l.allow
}

type orchReferrals struct {
	rewarded bool
	err      error
	calls    int
}

func (r *orchReferrals) Process(context.Context, string, string) (bool, error) {
	r.calls++
	return r.rewarded, r.err
}

type orchConvo struct {
	history   []models.Message
	recentErr error
	appendErr error
	appended  []models.Message
}

func (c *orchConvo) Append(_ context.Context, _ string, text string, isUserTurn bool) error {
	if c.appendErr != nil {
		return c.appendErr
	}
	role := models.RoleAssistant
	if isUserTurn {
		role = models.RoleUser
	}
	c.appended = append(c.appended, models.Message{Role: role, Content: text})
	return nil
}

func (c *orchConvo) Recent(context.Context, string, int) ([]models.Message, error) {
	if c.recentErr != nil {
		return nil, c.recentErr
	}
	return c.history, nil
}

type orchClassifier struct {
	result *upstream.Classification
	err    error
	calls  int
}

func (c *orchClassifier) Classify(context.Context, []byte) (*upstream.Classification, error) {
	c.calls++
	return c.result, c.err
}

type orchCompleter struct {
	reply    string
	failures int
	calls    int
	messages []models.Message
}

func (c *orchCompleter) Complete(_ context.Context, messages []models.Message) (string, error) {
	c.calls++
	c.messages = messages
	if c.calls <= c.failures {
		return "", errors.New("upstream unavailable")
	}
	return c.reply, nil
}

type orchRecorder struct {
	calls     int
	lastLabel string
}

func (r *orchRecorder) RecordUsage(_ context.Context, _, _, plantLabel, _ string) error {
	r.calls++
	r.lastLabel = plantLabel
	return nil
}

type orchFixture struct {
	quota      *orchQuota
	limiter    *orchLimiter
	referrals  *orchReferrals
	convo      *orchConvo
	classifier *orchClassifier
	completer  *orchCompleter
	recorder   *orchRecorder
	orch       *Orchestrator
}

func newOrchFixture(opts OrchestratorOptions) *orchFixture {
	f := &orchFixture{
		quota:      &orchQuota{canMake: true},
		limiter:    &orchLimiter{allow: true},
		referrals:  &orchReferrals{},
		convo:      &orchConvo{},
		classifier: &orchClassifier{result: &upstream.Classification{Label: "Tomato", Confidence: 0.92}},
		completer:  &orchCompleter{reply: "Udă planta dimineața."},
		recorder:   &orchRecorder{},
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 20
	}
	if opts.RateWindow == 0 {
		opts.RateWindow = time.Minute
	}
	if opts.HistoryWindow == 0 {
		opts.HistoryWindow = 10
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = "Ești un grădinar expert."
	}
	f.orch = NewOrchestrator(f.quota, f.limiter, f.referrals, f.convo,
		f.classifier, f.completer, f.recorder, opts, slog.Default())
	f.orch.sleep = func(time.Duration) {}
	return f
}

func textRequest() ChatRequest {
	return ChatRequest{
		DeviceHash: "device_hash_test_0001",
		Kind:       models.KindText,
		Message:    "Frunzele roșiilor se îngălbenesc, ce fac?",
		ClientIP:   "203.0.113.7",
	}
}

func testImageBase64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 320, 240))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func wantRequestError(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHandleTextHappyPath(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: true})
	f.convo.history = []models.Message{
		{Role: models.RoleUser, Content: "Salut"},
		{Role: models.RoleAssistant, Content: "Salut! Cu ce te ajut?"},
	}

	resp, err := f.orch.Handle(context.Background(), textRequest())
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Text != "Udă planta dimineața." {
		t.Fatalf("text = %q", resp.Text)
	}
	if resp.ReferralReward != nil {
		t.Fatal("no referral code was sent, reward must be nil")
	}
	if f.quota.incrementCalls != 1 || f.quota.lastKind != models.KindText {
		t.Fatalf("increment calls = %d kind = %q, want 1 text", f.quota.incrementCalls, f.quota.lastKind)
	}

	// Completion sees system prompt, history, then the new user turn.
	msgs := f.completer.messages
	if len(msgs) != 4 {
		t.Fatalf("completion got %d messages, want 4", len(msgs))
	}
	if msgs[0].Role != models.RoleSystem {
		t.Fatalf("first message role = %q, want system", msgs[0].Role)
	}
	if msgs[3].Role != models.RoleUser || msgs[3].Content != textRequest().Message {
		t.Fatalf("last message = %+v, want the new user turn", msgs[3])
	}

	// Both turns persisted, user first.
	if len(f.convo.appended) != 2 {
		t.Fatalf("appended %d turns, want 2", len(f.convo.appended))
	}
	if f.convo.appended[0].Role != models.RoleUser || f.convo.appended[1].Role != models.RoleAssistant {
		t.Fatalf("turn order wrong: %+v", f.convo.appended)
	}
	if f.recorder.calls != 1 {
		t.Fatalf("recorder calls = %d, want 1", f.recorder.calls)
	}
}

func TestHandleRejectsBadInput(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: true})
	ctx := context.Background()

	req := textRequest()
	req.DeviceHash = "bad hash"
	_, err := f.orch.Handle(ctx, req)
	wantRequestError(t, err, ErrInvalidDevice)

	req = textRequest()
	req.Message = ""
	_, err = f.orch.Handle(ctx, req)
	wantRequestError(t, err, ErrEmptyMessage)

	req = textRequest()
	req.Kind = "video"
	_, err = f.orch.Handle(ctx, req)
	wantRequestError(t, err, ErrValidation)

	if f.quota.incrementCalls != 0 {
		t.Fatal("rejected input must not be charged")
	}
	if f.completer.calls != 0 {
		t.Fatal("rejected input must not reach the completion service")
	}
}

func TestHandleDeletionPendingLockout(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: true})
	f.quota.deletionPending = true

	_, err := f.orch.Handle(context.Background(), textRequest())
	wantRequestError(t, err, ErrAccessRestricted)
	if f.quota.incrementCalls != 0 {
		t.Fatal("locked-out device must not be charged")
	}
}

func TestHandleRateLimited(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: true})
	f.limiter.allow = false

	_, err := f.orch.Handle(context.Background(), textRequest())
	wantRequestError(t, err, ErrRateLimited)
	if f.limiter.lastKey != textRequest().DeviceHash {
		t.Fatalf("limiter key = %q, want the device hash", f.limiter.lastKey)
	}
	if f.quota.incrementCalls != 0 {
		t.Fatal("rate-limited request must not be charged")
	}
}

func TestHandlePremiumBypassesRateLimit(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: true})
	f.limiter.allow = false
	f.quota.premium = true

	if _, err := f.orch.Handle(context.Background(), textRequest()); err != nil {
		t.Fatalf("premium device should bypass the limiter: %v", err)
	}
	if !f.limiter.lastBypass {
		t.Fatal("limiter should have been called with bypass")
	}
}

func TestHandleQuotaExceededLeavesCountUnchanged(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: true})
	f.quota.canMake = false

	_, err := f.orch.Handle(context.Background(), textRequest())
	wantRequestError(t, err, ErrQuotaExceeded)
	if f.quota.incrementCalls != 0 {
		t.Fatal("quota rejection must not increment the counter")
	}
	if f.completer.calls != 0 {
		t.Fatal("quota rejection must not reach the completion service")
	}
}

func TestHandleChargesBeforeUpstreamFailure(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: true})
	f.completer.failures = 100

	_, err := f.orch.Handle(context.Background(), textRequest())
	wantRequestError(t, err, ErrUpstream)
	// Historical policy: the attempt was charged even though the call failed.
	if f.quota.incrementCalls != 1 {
		t.Fatalf("increment calls = %d, want 1", f.quota.incrementCalls)
	}
	// Three attempts total: the original and two retries.
	if f.completer.calls != 3 {
		t.Fatalf("completion attempts = %d, want 3", f.completer.calls)
	}
}

func TestHandleDeferredChargeOnSuccessOnly(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: false})
	f.completer.failures = 100

	_, err := f.orch.Handle(context.Background(), textRequest())
	wantRequestError(t, err, ErrUpstream)
	if f.quota.incrementCalls != 0 {
		t.Fatal("deferred policy must not charge a failed attempt")
	}

	// Same policy, successful call: exactly one charge.
	f = newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: false})
	if _, err := f.orch.Handle(context.Background(), textRequest()); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if f.quota.incrementCalls != 1 {
		t.Fatalf("increment calls = %d, want 1", f.quota.incrementCalls)
	}
}

func TestHandleRetriesCompletionThenSucceeds(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: true})
	f.completer.failures = 2

	resp, err := f.orch.Handle(context.Background(), textRequest())
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Text == "" {
		t.Fatal("expected a reply after retries")
	}
	if f.completer.calls != 3 {
		t.Fatalf("completion attempts = %d, want 3", f.completer.calls)
	}
}

func TestHandleClassifierNeverRetried(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: true})
	f.classifier.err = errors.New("vision unavailable")

	req := textRequest()
	req.Kind = models.KindImage
	req.Message = ""
	req.ImageBase64 = testImageBase64(t)

	_, err := f.orch.Handle(context.Background(), req)
	wantRequestError(t, err, ErrUpstream)
	if f.classifier.calls != 1 {
		t.Fatalf("classifier calls = %d, want 1", f.classifier.calls)
	}
	if f.completer.calls != 0 {
		t.Fatal("completion must not run when classification fails")
	}
}

func TestHandleHistoryFailureDegrades(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: true})
	f.convo.recentErr = errors.New("db timeout")

	resp, err := f.orch.Handle(context.Background(), textRequest())
	if err != nil {
		t.Fatalf("history failure should not fail the request: %v", err)
	}
	if resp.Text == "" {
		t.Fatal("expected a reply")
	}
	// Without history the completion sees system prompt + user turn only.
	if len(f.completer.messages) != 2 {
		t.Fatalf("completion got %d messages, want 2", len(f.completer.messages))
	}
}

func TestHandleReferralFailureDoesNotBlock(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: true})
	f.referrals.err = errors.New("referral store down")

	req := textRequest()
	req.RefCode = "inviter_device_hash_0001"

	resp, err := f.orch.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("referral failure should not fail the request: %v", err)
	}
	if resp.ReferralReward != nil {
		t.Fatal("failed referral must leave the reward unset")
	}
}

func TestHandleSelfReferralSkipped(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: true})

	req := textRequest()
	req.RefCode = req.DeviceHash

	resp, err := f.orch.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if f.referrals.calls != 0 {
		t.Fatal("self-referral must not reach the ledger")
	}
	if resp.ReferralReward != nil {
		t.Fatal("self-referral must leave the reward unset")
	}
}

// First image request from a fresh device carrying a referral code: the
// reward lands, the image is classified, the label reaches both the
// completion context and the analytics record.
func TestHandleFirstImageWithReferral(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: true})
	f.referrals.rewarded = true

	req := ChatRequest{
		DeviceHash:  "invited_device_hash_0001",
		Kind:        models.KindImage,
		ImageBase64: testImageBase64(t),
		RefCode:     "inviter_device_hash_0001",
		ClientIP:    "203.0.113.7",
	}

	resp, err := f.orch.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.ReferralReward == nil || !*resp.ReferralReward {
		t.Fatal("referral reward should be reported")
	}
	if f.quota.lastKind != models.KindImage {
		t.Fatalf("charged kind = %q, want image", f.quota.lastKind)
	}

	userTurn := f.completer.messages[len(f.completer.messages)-1].Content
	if !strings.Contains(userTurn, "Tomato") {
		t.Fatalf("user turn should carry the classifier label: %q", userTurn)
	}
	if f.recorder.lastLabel != "Tomato" {
		t.Fatalf("recorded label = %q, want Tomato", f.recorder.lastLabel)
	}
}

func TestHandleChargeFailureIsInternal(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: true})
	f.quota.incrementErr = errors.New("db down")

	_, err := f.orch.Handle(context.Background(), textRequest())
	wantRequestError(t, err, ErrInternal)
	if f.completer.calls != 0 {
		t.Fatal("a request that could not be charged must not reach the completion service")
	}
}

func TestHandleAppendFailureIsInternal(t *testing.T) {
	f := newOrchFixture(OrchestratorOptions{ChargeOnUpstreamFailure: true})
	f.convo.appendErr = errors.New("disk full")

	_, err := f.orch.Handle(context.Background(), textRequest())
	wantRequestError(t, err, ErrInternal)
	if f.recorder.calls != 0 {
		t.Fatal("analytics must not record a request that failed to persist")
	}
}
