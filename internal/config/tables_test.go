package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tables.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTableCatalog(t *testing.T) {
	path := writeCatalog(t, `
tables:
  - name: appointment
    priority: critical
    incremental_column: DateTStamp
    primary_key: [AptNum]
    columns: [AptNum, PatNum, AptDateTime, AptStatus, DateTStamp]
    estimated_rows: 48000
  - name: securitylog
    priority: large
    incremental_column: SecurityLogNum
    primary_key: [SecurityLogNum]
    columns: [SecurityLogNum, PermType, UserNum, LogDateTime]
    batch_size: 10000
    estimated_rows: 12000000
`)
	catalog, err := LoadTableCatalog(path)
	require.NoError(t, err)
	require.Len(t, catalog.Tables, 2)

	appt := catalog.Tables[0]
	assert.Equal(t, PriorityCritical, appt.Priority)
	assert.Equal(t, IncrementalTimestamp, appt.IncrementalKind, "DateTStamp should infer a timestamp watermark")

	seclog := catalog.Tables[1]
	assert.Equal(t, IncrementalID, seclog.IncrementalKind, "SecurityLogNum should infer an id watermark")
	assert.Equal(t, 10000, seclog.BatchSize)
}

func TestLoadTableCatalogStripsBacktickQuoting(t *testing.T) {
	// Catalog entries pasted from SHOW CREATE TABLE keep their backticks.
	path := writeCatalog(t, `
tables:
  - name: "` + "`appointment`" + `"
    incremental_column: "` + "`DateTStamp`" + `"
    primary_key: ["` + "`AptNum`" + `"]
    columns: ["` + "`AptNum`" + `", "` + "`AptStatus`" + `", "` + "`DateTStamp`" + `"]
`)
	catalog, err := LoadTableCatalog(path)
	require.NoError(t, err)

	tc := catalog.Tables[0]
	assert.Equal(t, "appointment", tc.Name)
	assert.Equal(t, "DateTStamp", tc.IncrementalColumn)
	assert.Equal(t, []string{"AptNum"}, tc.PrimaryKey)
	assert.Equal(t, []string{"AptNum", "AptStatus", "DateTStamp"}, tc.Columns)
	assert.True(t, tc.IsPrimaryKey("AptNum"))
}

func TestLoadTableCatalogDefaultsPriority(t *testing.T) {
	path := writeCatalog(t, `
tables:
  - name: provider
    incremental_column: DateTStamp
    primary_key: [ProvNum]
    columns: [ProvNum, Abbr, DateTStamp]
`)
	catalog, err := LoadTableCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, PriorityMedium, catalog.Tables[0].Priority)
}

func TestLoadTableCatalogRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errHint string
	}{
		{
			"duplicate table",
			`
tables:
  - name: patient
    incremental_column: DateTStamp
    primary_key: [PatNum]
    columns: [PatNum, DateTStamp]
  - name: patient
    incremental_column: DateTStamp
    primary_key: [PatNum]
    columns: [PatNum, DateTStamp]
`,
			"duplicate table",
		},
		{
			"incremental column outside allowlist",
			`
tables:
  - name: patient
    incremental_column: DateTStamp
    primary_key: [PatNum]
    columns: [PatNum, LName]
`,
			"incremental_column",
		},
		{
			"primary key outside allowlist",
			`
tables:
  - name: patient
    incremental_column: DateTStamp
    primary_key: [PatNum]
    columns: [LName, DateTStamp]
`,
			"primary_key",
		},
		{
			"missing primary key",
			`
tables:
  - name: patient
    incremental_column: DateTStamp
    columns: [PatNum, DateTStamp]
`,
			"primary_key is required",
		},
		{
			"invalid priority",
			`
tables:
  - name: patient
    priority: urgent
    incremental_column: DateTStamp
    primary_key: [PatNum]
    columns: [PatNum, DateTStamp]
`,
			"invalid priority",
		},
		{
			"unknown yaml key",
			`
tables:
  - name: patient
    incremental_column: DateTStamp
    primary_key: [PatNum]
    columns: [PatNum, DateTStamp]
    chunk_size: 500
`,
			"",
		},
		{"empty catalog", "tables: []\n", "no tables"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTableCatalog(writeCatalog(t, tt.content))
			require.Error(t, err)
			if tt.errHint != "" {
				assert.Contains(t, err.Error(), tt.errHint)
			}
		})
	}
}

func TestByPriority(t *testing.T) {
	catalog := &TableCatalog{Tables: []TableConfig{
		{Name: "securitylog", Priority: PriorityLarge},
		{Name: "patient", Priority: PriorityCritical},
		{Name: "appointment", Priority: PriorityCritical},
	}}
	groups := catalog.ByPriority()

	require.Len(t, groups[PriorityCritical], 2)
	assert.Equal(t, "appointment", groups[PriorityCritical][0].Name)
	assert.Equal(t, "patient", groups[PriorityCritical][1].Name)
	require.Len(t, groups[PriorityLarge], 1)
	assert.Empty(t, groups[PrioritySmall])
}

func TestFilter(t *testing.T) {
	catalog := &TableCatalog{Tables: []TableConfig{
		{Name: "patient"}, {Name: "appointment"}, {Name: "claimproc"},
	}}

	filtered, missing := catalog.Filter([]string{"appointment", "perioexam", "patient"})
	assert.Len(t, filtered.Tables, 2)
	assert.Equal(t, []string{"perioexam"}, missing)
}

func TestIsPrimaryKey(t *testing.T) {
	tc := &TableConfig{PrimaryKey: []string{"AptNum"}}
	assert.True(t, tc.IsPrimaryKey("AptNum"))
	assert.True(t, tc.IsPrimaryKey("aptnum"))
	assert.False(t, tc.IsPrimaryKey("PatNum"))
}
