package analytics

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/gospodapp/backend/internal/repository"
)

// LogUsageArgs is the queued analytics event for one accepted request.
type LogUsageArgs struct {
	EventID    uuid.UUID `json:"event_id"`
	DeviceHash string    `json:"device_hash"`
	EventKind  string    `json:"kind"`
	PlantLabel string    `json:"plant_label,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
}

func (LogUsageArgs) Kind() string { return "log_usage" }

// InsertJobFunc enqueues a job; typically a closure over
// river.Client.Insert provided by main.
type InsertJobFunc func(ctx context.Context, args river.JobArgs) error

// Recorder is the fire-and-forget analytics sink. Every method returns
// an explicit error so callers can decide to degrade, but none of them
// is meant to fail a primary request.
type Recorder struct {
	insert InsertJobFunc
	events *repository.EventRepo
	log    *slog.Logger
}

func NewRecorder(insert InsertJobFunc, events *repository.EventRepo, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{insert: insert, events: events, log: log}
}

// RecordUsage queues one usage event. The queue write is cheap and
// durable; the row itself is written by the worker.
func (r *Recorder) RecordUsage(ctx context.Context, deviceHash, kind, plantLabel, ip string) error {
	return r.insert(ctx, LogUsageArgs{
		EventID:    uuid.New(),
		DeviceHash: deviceHash,
		EventKind:  kind,
		PlantLabel: plantLabel,
		IPAddress:  ip,
	})
}

// RecordSecurityEvent writes the diagnostic row directly; failures are
// logged and swallowed here because no caller can do better.
func (r *Recorder) RecordSecurityEvent(ctx context.Context, deviceHash, eventType, ip, userAgent string) {
	if err := r.events.InsertSecurityEvent(ctx, deviceHash, eventType, ip, userAgent); err != nil {
		r.log.Warn("security event not recorded", "device", deviceHash, "type", eventType, "error", err)
	}
}
