package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gospodapp/backend/internal/models"
)

type DeviceRepo struct {
	pool *pgxpool.Pool
}

func NewDeviceRepo(pool *pgxpool.Pool) *DeviceRepo {
	return &DeviceRepo{pool: pool}
}

func (r *DeviceRepo) Get(ctx context.Context, deviceHash string) (*models.Device, error) {
	var d models.Device
	err := r.pool.QueryRow(ctx, `
		SELECT device_hash, user_name, premium_until, pending_deletion, deletion_due_at, created_at
		FROM devices WHERE device_hash = $1
	`, deviceHash).Scan(&d.DeviceHash, &d.UserName, &d.PremiumUntil, &d.PendingDeletion, &d.DeletionDueAt, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Ensure creates the device row on first contact. The upsert keeps the
// first seen user_name unless a new non-null one arrives.
func (r *DeviceRepo) Ensure(ctx context.Context, deviceHash string, userName *string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO devices (device_hash, user_name)
		VALUES ($1, $2)
		ON CONFLICT (device_hash) DO UPDATE SET
			user_name = COALESCE(EXCLUDED.user_name, devices.user_name)
	`, deviceHash, userName)
	return err
}

// EnsureTx is Ensure inside the caller's transaction.
func (r *DeviceRepo) EnsureTx(ctx context.Context, tx pgx.Tx, deviceHash string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO devices (device_hash) VALUES ($1)
		ON CONFLICT (device_hash) DO NOTHING
	`, deviceHash)
	return err
}

// GetPremiumUntilForUpdate locks the device row and returns its current
// premium expiry. Call within a transaction.
func (r *DeviceRepo) GetPremiumUntilForUpdate(ctx context.Context, tx pgx.Tx, deviceHash string) (*time.Time, error) {
	var until *time.Time
	err := tx.QueryRow(ctx, `
		SELECT premium_until FROM devices WHERE device_hash = $1 FOR UPDATE
	`, deviceHash).Scan(&until)
	if err != nil {
		return nil, err
	}
	return until, nil
}

// SetPremiumUntil updates the premium expiry. Call after
// GetPremiumUntilForUpdate in the same transaction.
func (r *DeviceRepo) SetPremiumUntil(ctx context.Context, tx pgx.Tx, deviceHash string, until time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE devices SET premium_until = $2 WHERE device_hash = $1
	`, deviceHash, until)
	return err
}

// ScheduleDeletion marks the device for deletion after the grace
// period. The purge job removes it once the due date passes.
func (r *DeviceRepo) ScheduleDeletion(ctx context.Context, deviceHash string, graceDays int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE devices
		SET pending_deletion = true,
		    deletion_due_at = now() + make_interval(days => $2)
		WHERE device_hash = $1
	`, deviceHash, graceDays)
	return err
}

// ListDeletionDue returns device hashes whose scheduled deletion has
// come due.
func (r *DeviceRepo) ListDeletionDue(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT device_hash FROM devices
		WHERE pending_deletion AND deletion_due_at <= now()
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// DeleteTx removes the device row inside the caller's transaction.
func (r *DeviceRepo) DeleteTx(ctx context.Context, tx pgx.Tx, deviceHash string) error {
	_, err := tx.Exec(ctx, `DELETE FROM devices WHERE device_hash = $1`, deviceHash)
	return err
}

// Begin opens a transaction on the underlying pool.
func (r *DeviceRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}
