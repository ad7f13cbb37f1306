// Package jobs runs the asynchronous audit pipeline: decision events are
// enqueued by the API process and persisted by the worker.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/educanvas/educanvas/internal/audit"
	jobmetrics "github.com/educanvas/educanvas/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeAuditRecord persists one decision event.
	TaskTypeAuditRecord = "audit:record"
	// TaskTypeAuditPrune trims decision rows past the retention window.
	TaskTypeAuditPrune = "audit:prune"
)

// DecisionStore persists and prunes decision events.
type DecisionStore interface {
	Record(ctx context.Context, ev audit.Event) error
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// NewAuditRecordTask constructs an Asynq task carrying one decision event.
func NewAuditRecordTask(ev audit.Event) (*asynq.Task, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditRecord, data), nil
}

// NewAuditRecordHandler processes TaskTypeAuditRecord tasks. The audit
// logger deduplicates on event_id, so retries after partial failures are
// safe.
func NewAuditRecordHandler(logger *slog.Logger, sink DecisionStore, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("audit_record")
		var ev audit.Event
		if err := json.Unmarshal(t.Payload(), &ev); err != nil {
			logger.Error("audit record payload malformed", slog.Any("error", err))
			_ = tracker.End(err)
			return asynq.SkipRetry
		}
		if err := sink.Record(ctx, ev); err != nil {
			logger.Warn("audit record persist failed",
				slog.String("event_id", ev.EventID),
				slog.Any("error", err))
			return tracker.End(err)
		}
		return tracker.End(nil)
	}
}

// AuditPrunePayload configures one prune run.
type AuditPrunePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewAuditPruneTask constructs the scheduled prune task.
func NewAuditPruneTask(payload AuditPrunePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditPrune, data), nil
}

// NewAuditPruneHandler processes TaskTypeAuditPrune tasks.
func NewAuditPruneHandler(logger *slog.Logger, sink DecisionStore) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AuditPrunePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logger.Error("audit prune payload malformed", slog.Any("error", err))
			return asynq.SkipRetry
		}
		if payload.RetentionDays <= 0 {
			return asynq.SkipRetry
		}
		retention := time.Duration(payload.RetentionDays) * 24 * time.Hour
		removed, err := sink.Prune(ctx, retention)
		if err != nil {
			logger.Warn("audit prune failed", slog.Any("error", err))
			return err
		}
		logger.Info("audit prune complete",
			slog.Int("retention_days", payload.RetentionDays),
			slog.Int64("removed", removed))
		return nil
	}
}
