package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dentalytics/dentasync/internal/config"
	"github.com/dentalytics/dentasync/internal/db"
	"github.com/dentalytics/dentasync/internal/metrics"
)

// Orchestrator schedules table loads across priority groups. Groups run
// strictly in order; tables inside a group run concurrently on a bounded
// worker pool. One failed table never stops the others.
type Orchestrator struct {
	cfg     *config.Config
	catalog *config.TableCatalog
	loader  Loader
	src     *db.Connector
	metrics *metrics.Store
	logger  *zap.Logger
	dryRun  bool
}

func NewOrchestrator(cfg *config.Config, catalog *config.TableCatalog, loader Loader, src *db.Connector, m *metrics.Store, logger *zap.Logger, dryRun bool) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		catalog: catalog,
		loader:  loader,
		src:     src,
		metrics: m,
		logger:  logger.Named("orchestrator"),
		dryRun:  dryRun,
	}
}

// Run executes the whole pipeline and returns a report with exactly one
// result per configured table.
func (o *Orchestrator) Run(ctx context.Context) *RunReport {
	report := NewRunReport(o.dryRun)
	o.metrics.PipelineRunning.Set(1)
	defer o.metrics.PipelineRunning.Set(0)

	start := time.Now()
	defer func() {
		report.Finish()
		o.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}()

	liveTables := o.listSourceTables(ctx)

	groups := o.catalog.ByPriority()
	for _, priority := range config.PriorityOrder {
		tables := groups[priority]
		if len(tables) == 0 {
			continue
		}
		o.logger.Info("Starting priority group",
			zap.String("priority", string(priority)),
			zap.Int("tables", len(tables)),
			zap.Int("workers", o.cfg.ParallelJobs))
		results := o.runGroup(ctx, tables, liveTables)
		for _, r := range results {
			report.Add(r)
		}
	}
	return report
}

// runGroup fans the group's tables out over a semaphore-bounded pool and
// waits for the whole group before returning. Cancellation stops scheduling
// new tables; already-running loads wind down through their own contexts.
func (o *Orchestrator) runGroup(ctx context.Context, tables []config.TableConfig, liveTables map[string]bool) []LoadResult {
	var wg sync.WaitGroup
	sem := make(chan struct{}, o.cfg.ParallelJobs)
	resultCh := make(chan LoadResult, len(tables))

	for _, tc := range tables {
		id := tableIdentity{name: tc.Name, priority: string(tc.Priority)}

		if liveTables != nil && !liveTables[tc.Name] {
			o.logger.Warn("Configured table not found in source, skipping",
				zap.String("table", tc.Name))
			resultCh <- skippedResult(id, "table not found in source database")
			continue
		}

		if ctx.Err() != nil {
			o.logger.Warn("Run cancelled, skipping remaining table",
				zap.String("table", tc.Name))
			resultCh <- skippedResult(id, "run cancelled before table was scheduled")
			continue
		}
		select {
		case <-ctx.Done():
			o.logger.Warn("Run cancelled, skipping remaining table",
				zap.String("table", tc.Name))
			resultCh <- skippedResult(id, "run cancelled before table was scheduled")
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(tc config.TableConfig) {
			defer wg.Done()
			defer func() { <-sem }()
			resultCh <- o.loader.Load(ctx, tc)
		}(tc)
	}

	wg.Wait()
	close(resultCh)

	results := make([]LoadResult, 0, len(tables))
	for r := range resultCh {
		results = append(results, r)
	}
	return results
}

// listSourceTables inventories the live source so configured-but-missing
// tables are skipped up front and unconfigured tables are surfaced for the
// catalog maintainers. Inventory failure is non-fatal; per-table schema
// fetches will report their own errors.
func (o *Orchestrator) listSourceTables(ctx context.Context) map[string]bool {
	var names []string
	query := `SELECT table_name FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'`
	if err := o.src.DB.WithContext(ctx).Raw(query).Scan(&names).Error; err != nil {
		o.logger.Warn("Could not inventory source tables", zap.Error(err))
		return nil
	}

	live := make(map[string]bool, len(names))
	for _, n := range names {
		live[n] = true
	}

	configured := make(map[string]bool, len(o.catalog.Tables))
	for _, tc := range o.catalog.Tables {
		configured[tc.Name] = true
	}
	var extra []string
	for _, n := range names {
		if !configured[n] && n != watermarkTableName {
			extra = append(extra, n)
		}
	}
	if len(extra) > 0 {
		o.logger.Warn("Source tables not present in catalog, not replicated",
			zap.Int("count", len(extra)),
			zap.Strings("tables", extra))
	}
	return live
}
