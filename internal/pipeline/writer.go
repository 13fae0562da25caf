package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dentalytics/dentasync/internal/config"
	"github.com/dentalytics/dentasync/internal/db"
	"github.com/dentalytics/dentasync/internal/metrics"
)

// streamingBufferSize is the flush threshold for the streaming path. Kept
// small so memory stays flat on multi-million row history tables.
const streamingBufferSize = 500

// maxBindParams caps the placeholders in one INSERT statement. SQLite allows
// 32766 host parameters and the Postgres extended protocol allows 65535; a
// single page stays under the smaller budget.
const maxBindParams = 30000

// WriteStats summarizes one writer invocation.
type WriteStats struct {
	Rows         int64
	Batches      int
	MaxWatermark string
}

// TargetWriter applies extracted rows to the analytics store with
// primary-key upserts, so replays of already-loaded rows are harmless.
type TargetWriter struct {
	dst     *db.Connector
	schema  string
	cfg     *config.Config
	metrics *metrics.Store
	logger  *zap.Logger
}

func NewTargetWriter(dst *db.Connector, schema string, cfg *config.Config, m *metrics.Store, logger *zap.Logger) *TargetWriter {
	return &TargetWriter{
		dst:     dst,
		schema:  schema,
		cfg:     cfg,
		metrics: m,
		logger:  logger.Named("target-writer"),
	}
}

// Write drains the stream using the selected strategy and reports rows
// written, batches applied, and the highest incremental value seen.
func (w *TargetWriter) Write(ctx context.Context, tc *config.TableConfig, strategy Strategy, stream *RowStream) (WriteStats, error) {
	switch strategy {
	case StrategyStandard:
		return w.writeBuffered(ctx, tc, stream, 0)
	case StrategyChunked:
		return w.writeBuffered(ctx, tc, stream, BatchSizeFor(tc, w.cfg))
	case StrategyStreaming:
		return w.writeBuffered(ctx, tc, stream, streamingBufferSize)
	default:
		return WriteStats{}, fmt.Errorf("unknown load strategy %q", strategy)
	}
}

// pageSize bounds the rows per INSERT so a statement never exceeds the
// driver's bind-variable budget, whatever the configured batch size.
func (w *TargetWriter) pageSize(tc *config.TableConfig) int {
	size := BatchSizeFor(tc, w.cfg)
	if cols := len(tc.Columns); cols > 0 {
		if limit := maxBindParams / cols; limit < size {
			size = limit
		}
	}
	if size < 1 {
		size = 1
	}
	return size
}

// writeBuffered accumulates rows up to flushAt and upserts each full buffer.
// flushAt of zero drains the entire stream before the first write. Every
// flush is issued in pages of at most pageSize rows.
func (w *TargetWriter) writeBuffered(ctx context.Context, tc *config.TableConfig, stream *RowStream, flushAt int) (WriteStats, error) {
	var stats WriteStats
	capacity := flushAt
	if capacity == 0 {
		capacity = BatchSizeFor(tc, w.cfg)
	}
	buffer := make([]map[string]interface{}, 0, capacity)
	pageRows := w.pageSize(tc)

	flush := func() error {
		for start := 0; start < len(buffer); start += pageRows {
			end := start + pageRows
			if end > len(buffer) {
				end = len(buffer)
			}
			page := buffer[start:end]
			if err := w.upsertBatchWithRetry(ctx, tc, page); err != nil {
				return err
			}
			stats.Rows += int64(len(page))
			stats.Batches++
			w.metrics.RowsLoadedTotal.WithLabelValues(tc.Name).Add(float64(len(page)))
			w.metrics.BatchesWrittenTotal.WithLabelValues(tc.Name).Inc()
		}
		buffer = buffer[:0]
		return nil
	}

	for {
		row, ok, err := stream.Next()
		if err != nil {
			return stats, &WriteError{Table: tc.Name, Err: err}
		}
		if !ok {
			break
		}
		if v, exists := row[tc.IncrementalColumn]; exists {
			norm, nerr := NormalizeWatermarkValue(tc.IncrementalKind, v)
			if nerr != nil {
				return stats, &WriteError{Table: tc.Name, Err: fmt.Errorf("normalize incremental value: %w", nerr)}
			}
			if stats.MaxWatermark == "" {
				stats.MaxWatermark = norm
			} else if cmp, cerr := CompareWatermarks(tc.IncrementalKind, norm, stats.MaxWatermark); cerr == nil && cmp > 0 {
				stats.MaxWatermark = norm
			}
		}
		buffer = append(buffer, row)
		if flushAt > 0 && len(buffer) >= flushAt {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

// upsertBatchWithRetry applies one batch with ON CONFLICT upsert semantics,
// retrying transient failures up to the configured limit.
func (w *TargetWriter) upsertBatchWithRetry(ctx context.Context, tc *config.TableConfig, batch []map[string]interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			w.logger.Warn("Retrying batch write",
				zap.String("table", tc.Name),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", w.cfg.MaxRetries),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.RetryInterval):
			}
		}

		start := time.Now()
		err := w.upsertBatch(ctx, tc, batch)
		if err == nil {
			status := "success"
			if attempt > 0 {
				status = "success_retry"
			}
			w.metrics.BatchWriteDuration.WithLabelValues(tc.Name, status).Observe(time.Since(start).Seconds())
			return nil
		}
		w.metrics.BatchWriteDuration.WithLabelValues(tc.Name, "failure").Observe(time.Since(start).Seconds())
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return &WriteError{Table: tc.Name, Err: fmt.Errorf("batch failed after %d retries: %w", w.cfg.MaxRetries, lastErr)}
}

func (w *TargetWriter) upsertBatch(ctx context.Context, tc *config.TableConfig, batch []map[string]interface{}) error {
	pkColumns := make([]clause.Column, 0, len(tc.PrimaryKey))
	for _, pk := range tc.PrimaryKey {
		pkColumns = append(pkColumns, clause.Column{Name: pk})
	}
	updatable := make([]string, 0, len(tc.Columns))
	for _, col := range tc.Columns {
		if !tc.IsPrimaryKey(col) {
			updatable = append(updatable, col)
		}
	}

	return w.dst.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stmt := tx.Table(w.targetTable(tc.Name))
		if len(updatable) > 0 {
			stmt = stmt.Clauses(clause.OnConflict{
				Columns:   pkColumns,
				DoUpdates: clause.AssignmentColumns(updatable),
			})
		} else {
			stmt = stmt.Clauses(clause.OnConflict{Columns: pkColumns, DoNothing: true})
		}
		return stmt.Create(batch).Error
	})
}

func (w *TargetWriter) targetTable(table string) string {
	if w.dst.Dialect == "sqlite" || w.schema == "" {
		return table
	}
	return w.schema + "." + table
}
