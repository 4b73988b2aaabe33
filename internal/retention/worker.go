package retention

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// PurgeArgs triggers one housekeeping pass. Scheduled daily as a River
// periodic job.
type PurgeArgs struct {
	ChatRetentionDays int `json:"chat_retention_days"`
}

func (PurgeArgs) Kind() string { return "retention_purge" }

// DeviceStore lists and removes devices whose scheduled deletion came
// due.
type DeviceStore interface {
	ListDeletionDue(ctx context.Context) ([]string, error)
	DeleteTx(ctx context.Context, tx pgx.Tx, deviceHash string) error
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UsageStore removes a purged device's counter rows.
type UsageStore interface {
	DeleteByDevice(ctx context.Context, tx pgx.Tx, deviceHash string) error
}

// ChatStore trims history, both per purged device and by age.
type ChatStore interface {
	DeleteByDevice(ctx context.Context, tx pgx.Tx, deviceHash string) error
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// PurgeWorker removes expired devices (with their usage counters and
// chat history) and drops chat turns past the retention horizon.
// Referral edges are never purged: dropping one would let a device be
// credited as invited a second time.
type PurgeWorker struct {
	river.WorkerDefaults[PurgeArgs]
	devices DeviceStore
	usage   UsageStore
	chat    ChatStore
	log     *slog.Logger
}

func NewPurgeWorker(devices DeviceStore, usage UsageStore, chat ChatStore, log *slog.Logger) *PurgeWorker {
	if log == nil {
		log = slog.Default()
	}
	return &PurgeWorker{devices: devices, usage: usage, chat: chat, log: log}
}

func (w *PurgeWorker) Work(ctx context.Context, job *river.Job[PurgeArgs]) error {
	due, err := w.devices.ListDeletionDue(ctx)
	if err != nil {
		return fmt.Errorf("list deletion due: %w", err)
	}
	for _, hash := range due {
		if err := w.purgeDevice(ctx, hash); err != nil {
			return fmt.Errorf("purge device %s: %w", hash, err)
		}
	}

	dropped, err := w.chat.DeleteOlderThan(ctx, job.Args.ChatRetentionDays)
	if err != nil {
		return fmt.Errorf("trim chat history: %w", err)
	}
	w.log.Info("retention purge complete", "devices_purged", len(due), "turns_dropped", dropped)
	return nil
}

// purgeDevice removes everything belonging to one device in a single
// transaction so a partial purge never survives.
func (w *PurgeWorker) purgeDevice(ctx context.Context, deviceHash string) error {
	tx, err := w.devices.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := w.chat.DeleteByDevice(ctx, tx, deviceHash); err != nil {
		return err
	}
	if err := w.usage.DeleteByDevice(ctx, tx, deviceHash); err != nil {
		return err
	}
	if err := w.devices.DeleteTx(ctx, tx, deviceHash); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
