package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gospodapp/backend/internal/models"
)

type UsageRepo struct {
	pool *pgxpool.Pool
}

func NewUsageRepo(pool *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{pool: pool}
}

// GetToday returns the device's counter row for the current date, or
// nil when the device has not made a request today.
func (r *UsageRepo) GetToday(ctx context.Context, deviceHash string) (*models.UsageRecord, error) {
	var u models.UsageRecord
	err := r.pool.QueryRow(ctx, `
		SELECT device_hash, date, text_count, image_count, last_request, created_at
		FROM usage_tracking WHERE device_hash = $1 AND date = CURRENT_DATE
	`, deviceHash).Scan(&u.DeviceHash, &u.Date, &u.TextCount, &u.ImageCount, &u.LastRequest, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Increment bumps today's counter for the given kind as a single
// conditional upsert. Two concurrent increments for the same device
// both land; there is no read-modify-write to lose.
func (r *UsageRepo) Increment(ctx context.Context, deviceHash, kind string) (*models.UsageRecord, error) {
	textInc, imageInc := 0, 0
	switch kind {
	case models.KindText:
		textInc = 1
	case models.KindImage:
		imageInc = 1
	default:
		return nil, errors.New("unknown usage kind: " + kind)
	}

	var u models.UsageRecord
	err := r.pool.QueryRow(ctx, `
		INSERT INTO usage_tracking (device_hash, date, text_count, image_count, last_request)
		VALUES ($1, CURRENT_DATE, $2, $3, now())
		ON CONFLICT (device_hash, date) DO UPDATE SET
			text_count = usage_tracking.text_count + $2,
			image_count = usage_tracking.image_count + $3,
			last_request = now()
		RETURNING device_hash, date, text_count, image_count, last_request, created_at
	`, deviceHash, textInc, imageInc).Scan(&u.DeviceHash, &u.Date, &u.TextCount, &u.ImageCount, &u.LastRequest, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Aggregate sums a device's lifetime counters across all dates.
func (r *UsageRepo) Aggregate(ctx context.Context, deviceHash string) (*models.UsageAggregate, error) {
	var a models.UsageAggregate
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(text_count), 0), COALESCE(SUM(image_count), 0), COUNT(*)
		FROM usage_tracking WHERE device_hash = $1
	`, deviceHash).Scan(&a.TotalText, &a.TotalImage, &a.ActiveDays)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteByDevice removes all counter rows for a device. Used by the
// retention purge once a scheduled deletion comes due.
func (r *UsageRepo) DeleteByDevice(ctx context.Context, tx pgx.Tx, deviceHash string) error {
	_, err := tx.Exec(ctx, `DELETE FROM usage_tracking WHERE device_hash = $1`, deviceHash)
	return err
}
