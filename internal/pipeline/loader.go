package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dentalytics/dentasync/internal/config"
	"github.com/dentalytics/dentasync/internal/metrics"
)

// Loader runs the full load cycle for a single table. The orchestrator
// holds one behind this interface so scheduling tests can stub it out.
type Loader interface {
	Load(ctx context.Context, tc config.TableConfig) LoadResult
}

// TableLoader drives one table through reconcile, extract, write, and
// commit. Failures in any phase produce a failed result without touching
// the committed watermark, so the next run resumes from the last good
// position.
type TableLoader struct {
	cfg        *config.Config
	reconciler *SchemaReconciler
	extractor  *IncrementalExtractor
	writer     *TargetWriter
	tracker    Tracker
	metrics    *metrics.Store
	logger     *zap.Logger
	dryRun     bool
	force      bool
}

func NewTableLoader(cfg *config.Config, reconciler *SchemaReconciler, extractor *IncrementalExtractor, writer *TargetWriter, tracker Tracker, m *metrics.Store, logger *zap.Logger, dryRun, force bool) *TableLoader {
	return &TableLoader{
		cfg:        cfg,
		reconciler: reconciler,
		extractor:  extractor,
		writer:     writer,
		tracker:    tracker,
		metrics:    m,
		logger:     logger.Named("table-loader"),
		dryRun:     dryRun,
		force:      force,
	}
}

func (l *TableLoader) Load(ctx context.Context, tc config.TableConfig) LoadResult {
	id := tableIdentity{name: tc.Name, priority: string(tc.Priority)}
	log := l.logger.With(zap.String("table", tc.Name), zap.String("priority", string(tc.Priority)))

	tableCtx, cancel := context.WithTimeout(ctx, l.cfg.TableTimeout)
	defer cancel()

	start := time.Now()
	result := l.load(tableCtx, &tc, id, log)
	result.Duration = time.Since(start)
	result.DurationSecs = result.Duration.Seconds()

	l.metrics.TableLoadDuration.WithLabelValues(tc.Name).Observe(result.Duration.Seconds())
	switch {
	case result.Succeeded:
		l.metrics.TableLoadSuccessTotal.WithLabelValues(tc.Name).Inc()
		log.Info("Table load finished",
			zap.String("strategy", string(result.Strategy)),
			zap.Int64("rows", result.RowsLoaded),
			zap.Int("batches", result.Batches),
			zap.String("watermark", result.NewWatermark),
			zap.Duration("duration", result.Duration))
	case result.Skipped:
		log.Warn("Table load skipped", zap.String("reason", result.SkipReason))
	default:
		l.metrics.LoadErrorsTotal.WithLabelValues(string(result.ErrorKind), tc.Name).Inc()
		log.Error("Table load failed",
			zap.String("error_kind", string(result.ErrorKind)),
			zap.Duration("duration", result.Duration),
			zap.Error(result.err))
	}
	return result
}

func (l *TableLoader) load(ctx context.Context, tc *config.TableConfig, id tableIdentity, log *zap.Logger) LoadResult {
	// Phase: reconciling.
	if l.force && !l.dryRun {
		log.Info("Forced full reload requested, resetting watermark")
		l.metrics.WatermarkResetsTotal.WithLabelValues(tc.Name).Inc()
		if err := l.tracker.Reset(ctx, tc); err != nil {
			return failedResult(id, err)
		}
	}

	outcome, srcDesc, err := l.reconciler.Reconcile(ctx, tc)
	if err != nil {
		if errors.Is(err, ErrSourceTableAbsent) {
			return skippedResult(id, "table not found in source database")
		}
		return failedResult(id, err)
	}

	watermark, err := l.startingWatermark(ctx, tc, log)
	if err != nil {
		return failedResult(id, err)
	}

	if l.dryRun {
		return l.dryRunLoad(ctx, tc, id, outcome, srcDesc, watermark)
	}

	// Phase: extracting.
	if err := l.tracker.Begin(ctx, tc.Name); err != nil {
		return failedResult(id, err)
	}

	stream, err := l.extractor.Extract(ctx, tc, srcDesc, watermark)
	if err != nil {
		l.markFailed(ctx, tc.Name, log)
		return failedResult(id, err)
	}
	defer stream.Close()

	// Phase: writing.
	strategy := SelectStrategy(tc.EstimatedRows, l.cfg)
	stats, err := l.writer.Write(ctx, tc, strategy, stream)
	if err != nil {
		l.markFailed(ctx, tc.Name, log)
		return failedResult(id, err)
	}

	// Phase: committing. Zero extracted rows still commits, re-marking the
	// watermark completed at its current value.
	newWatermark := stats.MaxWatermark
	if newWatermark == "" {
		newWatermark = watermark
	}
	if err := l.tracker.Commit(ctx, tc, newWatermark, stats.Rows); err != nil {
		return failedResult(id, err)
	}

	return LoadResult{
		Table:        tc.Name,
		Priority:     string(tc.Priority),
		Strategy:     strategy,
		Outcome:      outcome,
		RowsLoaded:   stats.Rows,
		Batches:      stats.Batches,
		NewWatermark: newWatermark,
		Succeeded:    true,
	}
}

// startingWatermark picks the position to extract from. A stale in_progress
// status means a previous run died mid-load; the committed value is still
// the last trustworthy position, so the load repeats from there and the
// upsert path absorbs any rows the dead run managed to write.
func (l *TableLoader) startingWatermark(ctx context.Context, tc *config.TableConfig, log *zap.Logger) (string, error) {
	wm, err := l.tracker.Get(ctx, tc.Name)
	if err != nil {
		return "", err
	}
	if wm == nil || wm.LastExtractedValue == "" {
		return EpochValue(tc.IncrementalKind), nil
	}
	if wm.LoadStatus == StatusInProgress {
		log.Warn("Found stale in-progress watermark from interrupted run, resuming from last committed value",
			zap.String("watermark", wm.LastExtractedValue),
			zap.Time("updated_at", wm.UpdatedAt))
	}
	return wm.LastExtractedValue, nil
}

// dryRunLoad extracts and counts without writing, committing, or marking
// progress. The source sees exactly the same queries a real run would issue.
func (l *TableLoader) dryRunLoad(ctx context.Context, tc *config.TableConfig, id tableIdentity, outcome ReconcileOutcome, srcDesc *SchemaDescriptor, watermark string) LoadResult {
	stream, err := l.extractor.Extract(ctx, tc, srcDesc, watermark)
	if err != nil {
		return failedResult(id, err)
	}
	defer stream.Close()

	var rows int64
	for {
		_, ok, err := stream.Next()
		if err != nil {
			return failedResult(id, err)
		}
		if !ok {
			break
		}
		rows++
	}
	return LoadResult{
		Table:      tc.Name,
		Priority:   string(tc.Priority),
		Strategy:   SelectStrategy(tc.EstimatedRows, l.cfg),
		Outcome:    outcome,
		RowsLoaded: rows,
		Succeeded:  true,
	}
}

// markFailed records the failed status best-effort. A fresh context covers
// the case where the table context already expired.
func (l *TableLoader) markFailed(ctx context.Context, table string, log *zap.Logger) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := l.tracker.Fail(ctx, table); err != nil {
		log.Warn("Could not record failed watermark status", zap.Error(err))
	}
}
