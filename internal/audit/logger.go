package audit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Logger persists decision events into authz_decision_log. It runs inside
// the worker, off the decision path.
type Logger struct {
	pool *pgxpool.Pool
}

// NewLogger returns a new Logger.
func NewLogger(pool *pgxpool.Pool) *Logger {
	return &Logger{pool: pool}
}

// Record inserts the event. Replays of an already stored event (same
// event_id) are ignored so task retries stay idempotent.
func (l *Logger) Record(ctx context.Context, ev Event) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if ev.EventID == "" || ev.PrincipalID == "" || ev.Action == "" {
		return errors.New("audit event requires event_id/principal_id/action")
	}
	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	_, err := l.pool.Exec(ctx, `INSERT INTO authz_decision_log (event_id, principal_id, action, tenant_id, granted, reason, occurred_at) VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7)`,
		ev.EventID, ev.PrincipalID, ev.Action, ev.TenantID, ev.Granted, ev.Reason, occurredAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil
		}
		return err
	}
	return nil
}

// Prune deletes decision rows older than the retention window and reports
// how many were removed.
func (l *Logger) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if l == nil || l.pool == nil {
		return 0, errors.New("audit logger not initialised")
	}
	if retention <= 0 {
		return 0, errors.New("audit retention must be positive")
	}
	tag, err := l.pool.Exec(ctx, `DELETE FROM authz_decision_log WHERE occurred_at < $1`, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
