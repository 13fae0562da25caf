package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dentalytics/dentasync/internal/config"
	"github.com/dentalytics/dentasync/internal/db"
	"github.com/dentalytics/dentasync/internal/metrics"
)

// stubLoader records invocations and returns canned results per table.
type stubLoader struct {
	mu      sync.Mutex
	calls   []string
	results map[string]LoadResult
}

func (s *stubLoader) Load(ctx context.Context, tc config.TableConfig) LoadResult {
	s.mu.Lock()
	s.calls = append(s.calls, tc.Name)
	s.mu.Unlock()
	if r, ok := s.results[tc.Name]; ok {
		return r
	}
	return LoadResult{Table: tc.Name, Priority: string(tc.Priority), Succeeded: true}
}

func newTestOrchestrator(t *testing.T, catalog *config.TableCatalog, loader Loader) *Orchestrator {
	t.Helper()
	// The source inventory query targets MySQL's information_schema; against
	// this SQLite handle it fails and the orchestrator proceeds without an
	// inventory, which is the degraded path under test here.
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	cfg := &config.Config{ParallelJobs: 2}
	return NewOrchestrator(cfg, catalog, loader, &db.Connector{DB: gdb, Dialect: "sqlite"}, metrics.NewStore(), zap.NewNop(), false)
}

func TestOrchestratorOneResultPerTable(t *testing.T) {
	catalog := &config.TableCatalog{Tables: []config.TableConfig{
		{Name: "patient", Priority: config.PriorityCritical},
		{Name: "appointment", Priority: config.PriorityCritical},
		{Name: "definition", Priority: config.PrioritySmall},
		{Name: "procedurelog", Priority: config.PriorityLarge},
	}}
	loader := &stubLoader{}

	report := newTestOrchestrator(t, catalog, loader).Run(context.Background())

	assert.Len(t, report.Tables, 4)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.ElementsMatch(t, []string{"patient", "appointment", "definition", "procedurelog"}, loader.calls)
}

func TestOrchestratorPriorityGroupOrdering(t *testing.T) {
	catalog := &config.TableCatalog{Tables: []config.TableConfig{
		{Name: "securitylog", Priority: config.PriorityLarge},
		{Name: "patient", Priority: config.PriorityCritical},
		{Name: "definition", Priority: config.PrioritySmall},
	}}
	loader := &stubLoader{}

	newTestOrchestrator(t, catalog, loader).Run(context.Background())

	require.Equal(t, []string{"patient", "definition", "securitylog"}, loader.calls)
}

func TestOrchestratorFailureIsolation(t *testing.T) {
	catalog := &config.TableCatalog{Tables: []config.TableConfig{
		{Name: "patient", Priority: config.PriorityCritical},
		{Name: "eobattach", Priority: config.PriorityMedium},
		{Name: "claimproc", Priority: config.PriorityMedium},
	}}
	loader := &stubLoader{results: map[string]LoadResult{
		"eobattach": {
			Table:     "eobattach",
			Priority:  "medium",
			ErrorKind: ErrKindSourceSchema,
			Error:     `source schema drift on table "eobattach": column "DateTCreated" no longer exists`,
		},
	}}

	report := newTestOrchestrator(t, catalog, loader).Run(context.Background())

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.ElementsMatch(t, []string{"patient", "eobattach", "claimproc"}, loader.calls)
	assert.Equal(t, ExitFailed, report.ExitCode())
}

func TestOrchestratorCancellationSkipsUnscheduled(t *testing.T) {
	catalog := &config.TableCatalog{Tables: []config.TableConfig{
		{Name: "patient", Priority: config.PriorityCritical},
		{Name: "appointment", Priority: config.PriorityMedium},
		{Name: "procedurelog", Priority: config.PriorityLarge},
	}}
	loader := &stubLoader{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := newTestOrchestrator(t, catalog, loader).Run(ctx)

	// Every table still gets a result; none were scheduled.
	assert.Len(t, report.Tables, 3)
	assert.Equal(t, 3, report.Skipped)
	assert.Empty(t, loader.calls)
	assert.Equal(t, ExitAllSkipped, report.ExitCode())
}
