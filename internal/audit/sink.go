// Package audit carries authorization decision events to observability
// backends. The engine emits one event per decision; sinks must never block
// or fail the decision path.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event is one authorization decision as seen by the audit pipeline.
type Event struct {
	EventID     string    `json:"event_id"`
	PrincipalID string    `json:"principal_id"`
	Action      string    `json:"action"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Granted     bool      `json:"granted"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Sink receives decision events. Implementations must be safe for concurrent
// use and swallow their own failures.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

// SlogSink writes decision events to the structured log.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink constructs a log-backed sink.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Record logs the decision. Denials caused by degraded lookups log at warn
// so operators can tell "no access" from "system down".
func (s *SlogSink) Record(_ context.Context, ev Event) {
	attrs := []any{
		slog.String("event_id", ev.EventID),
		slog.String("principal", ev.PrincipalID),
		slog.String("action", ev.Action),
		slog.String("tenant", ev.TenantID),
		slog.Bool("granted", ev.Granted),
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	switch {
	case ev.Reason == "ServiceUnavailable":
		s.logger.Warn("authz decision degraded", attrs...)
	case ev.Granted:
		s.logger.Debug("authz decision", attrs...)
	default:
		s.logger.Info("authz decision denied", attrs...)
	}
}

// Enqueuer hands events to the background queue for durable persistence.
type Enqueuer interface {
	EnqueueDecision(ctx context.Context, ev Event) error
}

// QueueSink forwards decision events to the async worker, best-effort.
type QueueSink struct {
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewQueueSink constructs a queue-backed sink.
func NewQueueSink(enqueuer Enqueuer, logger *slog.Logger) *QueueSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueSink{enqueuer: enqueuer, logger: logger}
}

// Record enqueues the event. A full or unreachable queue only logs; the
// decision has already been made and must not be disturbed.
func (s *QueueSink) Record(ctx context.Context, ev Event) {
	if s.enqueuer == nil {
		return
	}
	if err := s.enqueuer.EnqueueDecision(ctx, ev); err != nil {
		s.logger.Warn("enqueue audit event", slog.Any("error", err))
	}
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

// Record delivers the event to every sink in order.
func (m MultiSink) Record(ctx context.Context, ev Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Record(ctx, ev)
		}
	}
}
