package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// InsertSecurityEvent records a diagnostic event. Callers treat a
// failure here as degradable: log it, never fail the request.
func (r *EventRepo) InsertSecurityEvent(ctx context.Context, deviceHash, eventType, ipAddress, userAgent string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO security_events (id, device_hash, event_type, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), deviceHash, eventType, ipAddress, userAgent)
	return err
}

// InsertUsageEvent records one accepted request for analytics.
func (r *EventRepo) InsertUsageEvent(ctx context.Context, id uuid.UUID, deviceHash, kind, plantLabel, ipAddress string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO usage_log (id, device_hash, kind, plant_label, ip_address)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
	`, id, deviceHash, kind, plantLabel, ipAddress)
	return err
}
