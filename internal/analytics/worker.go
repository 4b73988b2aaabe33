package analytics

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/gospodapp/backend/internal/repository"
)

// LogUsageWorker drains queued usage events into the usage_log table.
type LogUsageWorker struct {
	river.WorkerDefaults[LogUsageArgs]
	events *repository.EventRepo
}

func NewLogUsageWorker(events *repository.EventRepo) *LogUsageWorker {
	return &LogUsageWorker{events: events}
}

func (w *LogUsageWorker) Work(ctx context.Context, job *river.Job[LogUsageArgs]) error {
	args := job.Args
	if err := w.events.InsertUsageEvent(ctx, args.EventID, args.DeviceHash, args.EventKind, args.PlantLabel, args.IPAddress); err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}
