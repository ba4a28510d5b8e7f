package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/gridstats/dbopen"
	"github.com/hazyhaar/gridstats/idgen"
)

// BusinessEvent is one user-visible action of the overlay: a toggle, a
// refresh, a saved or reset order.
type BusinessEvent struct {
	EventType   string    `json:"event_type"`
	ServiceName string    `json:"service_name"`
	EntityType  string    `json:"entity_type,omitempty"`
	EntityID    string    `json:"entity_id,omitempty"`
	Action      string    `json:"action"`
	Details     string    `json:"details,omitempty"` // optional JSON
	Success     bool      `json:"success"`
	CreatedAt   time.Time `json:"created_at"`
}

// EventLogger writes business events to SQLite.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets the event ID generator. Default: "evt_" + UUIDv7.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithEventLogger sets the slog logger used to report write failures.
func WithEventLogger(logger *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = logger }
}

// NewEventLogger creates a logger over db, which must carry Schema.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records ev. Write errors are logged and swallowed: a broken
// event store never fails a command.
func (l *EventLogger) LogEvent(ctx context.Context, ev BusinessEvent) {
	ts := ev.CreatedAt
	if ts.IsZero() {
		ts = l.now()
	}
	_, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO business_event_logs (
			event_id, event_type, service_name, entity_type, entity_id,
			action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.newID(), ev.EventType, ev.ServiceName, ev.EntityType, ev.EntityID,
		ev.Action, ev.Details, ev.Success, ts.Unix())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "event_type", ev.EventType)
	}
}

// Recent returns the latest limit events, newest first.
func (l *EventLogger) Recent(ctx context.Context, limit int) ([]BusinessEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_type, service_name, COALESCE(entity_type, ''), COALESCE(entity_id, ''),
		       action, COALESCE(details, ''), success, created_at
		FROM business_event_logs
		ORDER BY created_at DESC, event_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: query events: %w", err)
	}
	defer rows.Close()

	var out []BusinessEvent
	for rows.Next() {
		var ev BusinessEvent
		var ts int64
		if err := rows.Scan(&ev.EventType, &ev.ServiceName, &ev.EntityType, &ev.EntityID,
			&ev.Action, &ev.Details, &ev.Success, &ts); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		ev.CreatedAt = time.Unix(ts, 0)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RetentionConfig sets per-table retention in days. Zero keeps everything.
type RetentionConfig struct {
	EventLogsDays  int
	MetricsDays    int
	RunVacuumAfter bool
}

// Cleanup deletes rows older than the retention thresholds in a single
// transaction.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()
	targets := []struct {
		query string
		days  int
	}{
		{"DELETE FROM business_event_logs WHERE created_at < ?", cfg.EventLogsDays},
		{"DELETE FROM metrics_timeseries WHERE timestamp < ?", cfg.MetricsDays},
	}

	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		for _, t := range targets {
			if t.days <= 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx, t.query, now-int64(t.days*86400)); err != nil {
				return fmt.Errorf("observability: cleanup: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("observability: vacuum: %w", err)
		}
	}
	return nil
}

// RunRetention applies Cleanup once, then every interval until ctx ends.
// Failures are logged and retried on the next tick.
func RunRetention(ctx context.Context, db *sql.DB, cfg RetentionConfig, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	run := func() {
		if err := Cleanup(ctx, db, cfg); err != nil && ctx.Err() == nil {
			logger.Warn("observability: retention cleanup failed", "error", err)
			return
		}
		logger.Debug("observability: retention cleanup done",
			"event_days", cfg.EventLogsDays, "metric_days", cfg.MetricsDays)
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
