package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReferralRepo struct {
	pool *pgxpool.Pool
}

func NewReferralRepo(pool *pgxpool.Pool) *ReferralRepo {
	return &ReferralRepo{pool: pool}
}

// InvitedExists reports whether the hash already appears as the invited
// party of any edge. A device can be referred at most once system-wide.
func (r *ReferralRepo) InvitedExists(ctx context.Context, invitedHash string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM referrals WHERE invited_hash = $1)
	`, invitedHash).Scan(&exists)
	return exists, err
}

// InsertEdgeTx inserts the (inviter, invited) edge inside the caller's
// transaction. The pair primary key and the invited-hash unique
// constraint make concurrent duplicates lose the race: ON CONFLICT DO
// NOTHING reports zero rows and the caller takes the no-op path.
func (r *ReferralRepo) InsertEdgeTx(ctx context.Context, tx pgx.Tx, inviterHash, invitedHash string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO referrals (inviter_hash, invited_hash)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, inviterHash, invitedHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CountByInviter returns how many devices this hash has invited.
func (r *ReferralRepo) CountByInviter(ctx context.Context, inviterHash string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM referrals WHERE inviter_hash = $1
	`, inviterHash).Scan(&n)
	return n, err
}

// Begin opens a transaction on the underlying pool.
func (r *ReferralRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}
