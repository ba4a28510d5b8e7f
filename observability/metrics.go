// Package observability keeps the gridstats event and metric history in
// SQLite: business events (toggle, refresh, order saves) written as they
// happen, and pass metrics buffered and flushed in batches.
//
// Both live in their own database file, apart from the order store, so a
// burst of metric writes never contends with a drag-end save.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/gridstats/dbopen"
)

// Metric names recorded by the overlay controller.
const (
	MetricPassDurationMs = "overlay_pass_duration_ms"
	MetricPassTiles      = "overlay_pass_tiles"
	MetricFetchFailures  = "overlay_fetch_failures"
)

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
	Unit      string
}

// MetricsManager buffers metrics and flushes them to SQLite every
// flushInterval or whenever bufferSize datapoints are queued.
type MetricsManager struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []*Metric

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMetricsManager starts the flush loop. Defaults: bufferSize 100,
// flushInterval 5s.
func NewMetricsManager(db *sql.DB, bufferSize int, flushInterval time.Duration, logger *slog.Logger) *MetricsManager {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	mm := &MetricsManager{
		db:            db,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		logger:        logger,
		buffer:        make([]*Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go mm.flushLoop()
	return mm
}

// Record queues m. It never blocks on the database.
func (mm *MetricsManager) Record(m *Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.mu.Lock()
	mm.buffer = append(mm.buffer, m)
	var batch []*Metric
	if len(mm.buffer) >= mm.bufferSize {
		batch = mm.takeLocked()
	}
	mm.mu.Unlock()

	if batch != nil {
		go mm.write(batch)
	}
}

// RecordSimple queues an unlabelled datapoint stamped now.
func (mm *MetricsManager) RecordSimple(name string, value float64, unit string) {
	mm.Record(&Metric{Name: name, Value: value, Unit: unit})
}

// Flush writes every queued datapoint now.
func (mm *MetricsManager) Flush() {
	mm.mu.Lock()
	batch := mm.takeLocked()
	mm.mu.Unlock()
	mm.write(batch)
}

// Query returns datapoints of metricName (all names when empty), newest
// first. limit <= 0 means no limit.
func (mm *MetricsManager) Query(ctx context.Context, metricName string, since time.Time, limit int) ([]*Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, COALESCE(unit, '') FROM metrics_timeseries WHERE timestamp >= ?"
	args := []any{since.Unix()}
	if metricName != "" {
		q += " AND metric_name = ?"
		args = append(args, metricName)
	}
	q += " ORDER BY timestamp DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var (
			m          Metric
			ts         int64
			labelsJSON sql.NullString
		)
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labelsJSON, &m.Unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0)
		if labelsJSON.Valid {
			_ = json.Unmarshal([]byte(labelsJSON.String), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Close flushes what is queued and stops the flush loop.
func (mm *MetricsManager) Close() error {
	mm.closeOnce.Do(func() {
		close(mm.stop)
		<-mm.done
	})
	return nil
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mm.stop:
			mm.Flush()
			return
		case <-ticker.C:
			mm.Flush()
		}
	}
}

func (mm *MetricsManager) takeLocked() []*Metric {
	if len(mm.buffer) == 0 {
		return nil
	}
	batch := mm.buffer
	mm.buffer = make([]*Metric, 0, mm.bufferSize)
	return batch
}

func (mm *MetricsManager) write(batch []*Metric) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := dbopen.RunTx(ctx, mm.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range batch {
			var labels sql.NullString
			if len(m.Labels) > 0 {
				if b, err := json.Marshal(m.Labels); err == nil {
					labels = sql.NullString{String: string(b), Valid: true}
				}
			}
			if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.Unix(), m.Value, labels, m.Unit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		mm.logger.Error("observability: flush metrics", "error", err, "count", len(batch))
	}
}
