package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReportCountsAndExitCode(t *testing.T) {
	t.Run("all succeeded", func(t *testing.T) {
		r := NewRunReport(false)
		r.Add(LoadResult{Table: "patient", Succeeded: true, RowsLoaded: 10})
		r.Add(LoadResult{Table: "appointment", Succeeded: true, RowsLoaded: 5})
		assert.Equal(t, 2, r.Succeeded)
		assert.Equal(t, int64(15), r.TotalRows)
		assert.Equal(t, ExitSuccess, r.ExitCode())
	})

	t.Run("one failure dominates", func(t *testing.T) {
		r := NewRunReport(false)
		r.Add(LoadResult{Table: "patient", Succeeded: true})
		r.Add(LoadResult{Table: "eobattach", ErrorKind: ErrKindSourceSchema, Error: "column gone"})
		r.Add(LoadResult{Table: "oldtable", Skipped: true, SkipReason: "table not found in source database"})
		assert.Equal(t, 1, r.Succeeded)
		assert.Equal(t, 1, r.Failed)
		assert.Equal(t, 1, r.Skipped)
		assert.Equal(t, ExitFailed, r.ExitCode())
	})

	t.Run("everything skipped", func(t *testing.T) {
		r := NewRunReport(false)
		r.Add(LoadResult{Table: "a", Skipped: true})
		r.Add(LoadResult{Table: "b", Skipped: true})
		assert.Equal(t, ExitAllSkipped, r.ExitCode())
	})

	t.Run("empty run", func(t *testing.T) {
		r := NewRunReport(false)
		assert.Equal(t, ExitSuccess, r.ExitCode())
	})
}

func TestRunReportWrite(t *testing.T) {
	r := NewRunReport(true)
	r.Add(LoadResult{
		Table:        "appointment",
		Priority:     "critical",
		Strategy:     StrategyStandard,
		Outcome:      OutcomeUnchanged,
		RowsLoaded:   1204,
		Batches:      1,
		NewWatermark: "2026-08-29 14:05:00",
		Succeeded:    true,
	})
	r.Finish()

	path := filepath.Join(t.TempDir(), "run_report.json")
	require.NoError(t, r.Write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var parsed RunReport
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.NotEmpty(t, parsed.RunID)
	assert.True(t, parsed.DryRun)
	require.Len(t, parsed.Tables, 1)
	assert.Equal(t, "appointment", parsed.Tables[0].Table)
	assert.Equal(t, "2026-08-29 14:05:00", parsed.Tables[0].NewWatermark)
}
