package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"
)

// Exit codes surfaced to schedulers (cron, Airflow) driving the binary.
const (
	ExitSuccess    = 0
	ExitFailed     = 1
	ExitAllSkipped = 3
)

// RunReport aggregates per-table results for one pipeline run. It is
// written as JSON next to the logs so downstream jobs can gate on it.
type RunReport struct {
	RunID        string       `json:"run_id"`
	DryRun       bool         `json:"dry_run"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	DurationSecs float64      `json:"duration_seconds"`
	Succeeded    int          `json:"succeeded"`
	Failed       int          `json:"failed"`
	Skipped      int          `json:"skipped"`
	TotalRows    int64        `json:"total_rows_loaded"`
	Tables       []LoadResult `json:"tables"`
}

func NewRunReport(dryRun bool) *RunReport {
	return &RunReport{
		RunID:     xid.New().String(),
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
}

// Add records one table result in the run totals.
func (r *RunReport) Add(res LoadResult) {
	r.Tables = append(r.Tables, res)
	switch {
	case res.Skipped:
		r.Skipped++
	case res.Succeeded:
		r.Succeeded++
		r.TotalRows += res.RowsLoaded
	default:
		r.Failed++
	}
}

// Finish stamps the end of the run.
func (r *RunReport) Finish() {
	r.FinishedAt = time.Now().UTC()
	r.DurationSecs = r.FinishedAt.Sub(r.StartedAt).Seconds()
}

// ExitCode maps the aggregate outcome onto the process exit code contract.
func (r *RunReport) ExitCode() int {
	if r.Failed > 0 {
		return ExitFailed
	}
	if len(r.Tables) > 0 && r.Skipped == len(r.Tables) {
		return ExitAllSkipped
	}
	return ExitSuccess
}

// Write serializes the report to path as indented JSON.
func (r *RunReport) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write run report %s: %w", path, err)
	}
	return nil
}

// LogSummary emits the run totals at the appropriate level.
func (r *RunReport) LogSummary(logger *zap.Logger) {
	fields := []zap.Field{
		zap.String("run_id", r.RunID),
		zap.Bool("dry_run", r.DryRun),
		zap.Int("succeeded", r.Succeeded),
		zap.Int("failed", r.Failed),
		zap.Int("skipped", r.Skipped),
		zap.Int64("total_rows", r.TotalRows),
		zap.Float64("duration_seconds", r.DurationSecs),
	}
	if r.Failed > 0 {
		logger.Error("Replication run finished with failures", fields...)
		return
	}
	if r.Skipped > 0 && r.Succeeded == 0 {
		logger.Warn("Replication run skipped every table", fields...)
		return
	}
	logger.Info("Replication run finished", fields...)
}
