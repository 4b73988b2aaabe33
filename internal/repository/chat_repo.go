package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gospodapp/backend/internal/models"
)

type ChatRepo struct {
	pool *pgxpool.Pool
}

func NewChatRepo(pool *pgxpool.Pool) *ChatRepo {
	return &ChatRepo{pool: pool}
}

// Append stores one turn. History is append-only; nothing in the
// request path ever mutates or deletes turns.
func (r *ChatRepo) Append(ctx context.Context, deviceHash, text string, isUserTurn bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chat_history (device_hash, message_text, is_user_message)
		VALUES ($1, $2, $3)
	`, deviceHash, text, isUserTurn)
	return err
}

// RecentDesc returns up to limit turns, newest first. Callers that feed
// a completion service must reverse to chronological order.
func (r *ChatRepo) RecentDesc(ctx context.Context, deviceHash string, limit int) ([]*models.ChatTurn, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, device_hash, message_text, is_user_message, created_at
		FROM chat_history
		WHERE device_hash = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, deviceHash, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var turns []*models.ChatTurn
	for rows.Next() {
		var t models.ChatTurn
		if err := rows.Scan(&t.ID, &t.DeviceHash, &t.MessageText, &t.IsUserTurn, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}

// DeleteOlderThan drops turns past the retention horizon.
func (r *ChatRepo) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM chat_history WHERE created_at < now() - make_interval(days => $1)
	`, days)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteByDevice removes a device's history inside the caller's
// transaction, as part of a scheduled device purge.
func (r *ChatRepo) DeleteByDevice(ctx context.Context, tx pgx.Tx, deviceHash string) error {
	_, err := tx.Exec(ctx, `DELETE FROM chat_history WHERE device_hash = $1`, deviceHash)
	return err
}
