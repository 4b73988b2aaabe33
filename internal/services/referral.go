package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// ReferralEdgeRepo is the edge storage the ledger needs. InsertEdgeTx
// reports false when a concurrent or earlier insert already claimed
// the pair or the invited hash.
type ReferralEdgeRepo interface {
	InvitedExists(ctx context.Context, invitedHash string) (bool, error)
	InsertEdgeTx(ctx context.Context, tx pgx.Tx, inviterHash, invitedHash string) (bool, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ReferralDeviceRepo locks and updates the premium window of both
// sides of a credited edge.
type ReferralDeviceRepo interface {
	EnsureTx(ctx context.Context, tx pgx.Tx, deviceHash string) error
	GetPremiumUntilForUpdate(ctx context.Context, tx pgx.Tx, deviceHash string) (*time.Time, error)
	SetPremiumUntil(ctx context.Context, tx pgx.Tx, deviceHash string, until time.Time) error
}

// ReferralService credits inviter/invited pairs exactly once. The edge
// insert's uniqueness constraints are the concurrency safety net: when
// two requests race on the same pair, one inserts and the other
// observes the no-op path.
type ReferralService struct {
	edges   ReferralEdgeRepo
	devices ReferralDeviceRepo
	bonus   time.Duration
	log     *slog.Logger
	now     func() time.Time
}

func NewReferralService(edges ReferralEdgeRepo, devices ReferralDeviceRepo, bonusDays int, log *slog.Logger) *ReferralService {
	if log == nil {
		log = slog.Default()
	}
	return &ReferralService{
		edges:   edges,
		devices: devices,
		bonus:   time.Duration(bonusDays) * 24 * time.Hour,
		log:     log,
		now:     time.Now,
	}
}

// Process records the edge and grants the premium bonus to both sides.
// Returns true only when this call created the edge; duplicates,
// self-referrals and malformed hashes are a no-op.
func (s *ReferralService) Process(ctx context.Context, inviterHash, invitedHash string) (bool, error) {
	if inviterHash == invitedHash {
		return false, nil
	}
	if !deviceHashRe.MatchString(inviterHash) || !deviceHashRe.MatchString(invitedHash) {
		return false, nil
	}

	// Cheap pre-check before opening a transaction. The constraint
	// inside the transaction still decides races.
	invited, err := s.edges.InvitedExists(ctx, invitedHash)
	if err != nil {
		return false, fmt.Errorf("check invited: %w", err)
	}
	if invited {
		return false, nil
	}

	tx, err := s.edges.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin referral tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := s.edges.InsertEdgeTx(ctx, tx, inviterHash, invitedHash)
	if err != nil {
		return false, fmt.Errorf("insert referral edge: %w", err)
	}
	if !inserted {
		return false, nil
	}

	for _, hash := range []string{inviterHash, invitedHash} {
		if err := s.extendPremium(ctx, tx, hash); err != nil {
			return false, fmt.Errorf("extend premium for %s: %w", hash, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit referral tx: %w", err)
	}
	s.log.Info("referral credited", "inviter", inviterHash, "invited", invitedHash)
	return true, nil
}

// extendPremium pushes the device's premium window out by the bonus,
// stacking on top of any remaining premium: the new expiry is
// max(current expiry, now) + bonus, never just now + bonus.
func (s *ReferralService) extendPremium(ctx context.Context, tx pgx.Tx, deviceHash string) error {
	if err := s.devices.EnsureTx(ctx, tx, deviceHash); err != nil {
		return err
	}
	current, err := s.devices.GetPremiumUntilForUpdate(ctx, tx, deviceHash)
	if err != nil {
		return err
	}
	base := s.now()
	if current != nil && current.After(base) {
		base = *current
	}
	return s.devices.SetPremiumUntil(ctx, tx, deviceHash, base.Add(s.bonus))
}
