package pipeline

import (
	"strings"
	"time"
)

// Strategy names a load path. Selection depends only on the estimated row
// count and the configured thresholds.
type Strategy string

const (
	StrategyStandard  Strategy = "standard"
	StrategyChunked   Strategy = "chunked"
	StrategyStreaming Strategy = "streaming"
)

// ReconcileOutcome reports what the schema reconciler did to the target table.
type ReconcileOutcome string

const (
	OutcomeUnchanged ReconcileOutcome = "unchanged"
	OutcomeCreated   ReconcileOutcome = "created"
	OutcomeRecreated ReconcileOutcome = "recreated"
)

// ColumnInfo is a dialect-neutral column description built from
// information_schema (or PRAGMA table_info on SQLite targets).
type ColumnInfo struct {
	Name            string
	Type            string // lowercased data type, e.g. "tinyint", "varchar"
	FullType        string // column_type with modifiers, e.g. "tinyint(1) unsigned"
	IsNullable      bool
	IsPrimary       bool
	Length          int64
	Precision       int64
	Scale           int64
	OrdinalPosition int
}

// SchemaDescriptor is a point-in-time snapshot of one table's columns,
// ordered by ordinal position.
type SchemaDescriptor struct {
	Table   string
	Columns []ColumnInfo
}

// ColumnNames returns the column names in ordinal order.
func (d *SchemaDescriptor) ColumnNames() []string {
	names := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		names = append(names, c.Name)
	}
	return names
}

// Column returns the named column, matching case-insensitively the way
// MySQL resolves identifiers.
func (d *SchemaDescriptor) Column(name string) (ColumnInfo, bool) {
	for _, c := range d.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnInfo{}, false
}

// Missing reports which of the wanted columns are absent from the snapshot.
func (d *SchemaDescriptor) Missing(wanted []string) []string {
	var missing []string
	for _, w := range wanted {
		if _, ok := d.Column(w); !ok {
			missing = append(missing, w)
		}
	}
	return missing
}

// LoadResult is the per-table outcome of one pipeline run. Exactly one is
// produced per configured table, whatever happened.
type LoadResult struct {
	Table        string           `json:"table"`
	Priority     string           `json:"priority"`
	Strategy     Strategy         `json:"strategy,omitempty"`
	Outcome      ReconcileOutcome `json:"schema_outcome,omitempty"`
	RowsLoaded   int64            `json:"rows_loaded"`
	Batches      int              `json:"batches"`
	NewWatermark string           `json:"new_watermark,omitempty"`
	Succeeded    bool             `json:"succeeded"`
	Skipped      bool             `json:"skipped"`
	SkipReason   string           `json:"skip_reason,omitempty"`
	ErrorKind    ErrorKind        `json:"error_kind,omitempty"`
	Error        string           `json:"error,omitempty"`
	Duration     time.Duration    `json:"-"`
	DurationSecs float64          `json:"duration_seconds"`

	err error
}

// Err returns the underlying error, nil for succeeded or skipped tables.
func (r LoadResult) Err() error { return r.err }

func failedResult(tc tableIdentity, err error) LoadResult {
	return LoadResult{
		Table:     tc.name,
		Priority:  tc.priority,
		Succeeded: false,
		ErrorKind: KindOf(err),
		Error:     err.Error(),
		err:       err,
	}
}

func skippedResult(tc tableIdentity, reason string) LoadResult {
	return LoadResult{
		Table:      tc.name,
		Priority:   tc.priority,
		Skipped:    true,
		SkipReason: reason,
	}
}

type tableIdentity struct {
	name     string
	priority string
}
