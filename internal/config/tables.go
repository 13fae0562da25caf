package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/dentalytics/dentasync/internal/utils"
)

// Priority buckets control scheduling order: a later group does not start
// until the previous one has finished.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PrioritySmall    Priority = "small"
	PriorityMedium   Priority = "medium"
	PriorityLarge    Priority = "large"
)

// PriorityOrder is the fixed processing sequence across groups.
var PriorityOrder = []Priority{PriorityCritical, PrioritySmall, PriorityMedium, PriorityLarge}

// IncrementalKind distinguishes timestamp watermarks from autoincrement-id
// watermarks.
type IncrementalKind string

const (
	IncrementalTimestamp IncrementalKind = "timestamp"
	IncrementalID        IncrementalKind = "id"
)

// TableConfig describes one source table to replicate. It is produced by an
// offline discovery step and treated as immutable static input for the whole
// run; the engine never re-discovers schema while loading.
type TableConfig struct {
	Name              string          `yaml:"name"`
	Priority          Priority        `yaml:"priority"`
	IncrementalColumn string          `yaml:"incremental_column"`
	IncrementalKind   IncrementalKind `yaml:"incremental_kind"`
	PrimaryKey        []string        `yaml:"primary_key"`
	Columns           []string        `yaml:"columns"`
	BatchSize         int             `yaml:"batch_size"`
	EstimatedRows     int64           `yaml:"estimated_rows"`
}

// IsPrimaryKey reports whether the named column is part of the table's
// primary key, matching case-insensitively the way MySQL does.
func (tc *TableConfig) IsPrimaryKey(column string) bool {
	for _, pk := range tc.PrimaryKey {
		if strings.EqualFold(pk, column) {
			return true
		}
	}
	return false
}

// TableCatalog is the parsed tables file.
type TableCatalog struct {
	Tables []TableConfig `yaml:"tables"`
}

// LoadTableCatalog reads and validates the YAML table catalog. Structural
// problems here are fatal to the run; mismatches against the live source are
// handled later as per-table warnings.
func LoadTableCatalog(path string) (*TableCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table catalog %s: %w", path, err)
	}

	var catalog TableCatalog
	if err := yaml.UnmarshalStrict(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse table catalog %s: %w", path, err)
	}

	if len(catalog.Tables) == 0 {
		return nil, fmt.Errorf("table catalog %s contains no tables", path)
	}

	seen := make(map[string]bool, len(catalog.Tables))
	for i := range catalog.Tables {
		tc := &catalog.Tables[i]
		normalizeIdentifiers(tc)
		if err := validateTableConfig(tc); err != nil {
			return nil, fmt.Errorf("table catalog %s, entry %q: %w", path, tc.Name, err)
		}
		if seen[tc.Name] {
			return nil, fmt.Errorf("table catalog %s: duplicate table %q", path, tc.Name)
		}
		seen[tc.Name] = true
	}

	return &catalog, nil
}

// normalizeIdentifiers strips MySQL backtick quoting from catalog entries.
// Column lists are routinely pasted from SHOW CREATE TABLE output.
func normalizeIdentifiers(tc *TableConfig) {
	tc.Name = utils.UnquoteIdentifier(tc.Name, "mysql")
	tc.IncrementalColumn = utils.UnquoteIdentifier(tc.IncrementalColumn, "mysql")
	for i, pk := range tc.PrimaryKey {
		tc.PrimaryKey[i] = utils.UnquoteIdentifier(pk, "mysql")
	}
	for i, col := range tc.Columns {
		tc.Columns[i] = utils.UnquoteIdentifier(col, "mysql")
	}
}

func validateTableConfig(tc *TableConfig) error {
	if tc.Name == "" {
		return fmt.Errorf("table name must not be empty")
	}
	switch tc.Priority {
	case PriorityCritical, PrioritySmall, PriorityMedium, PriorityLarge:
	case "":
		tc.Priority = PriorityMedium
	default:
		return fmt.Errorf("invalid priority %q (valid: critical, small, medium, large)", tc.Priority)
	}
	if tc.IncrementalColumn == "" {
		return fmt.Errorf("incremental_column is required")
	}
	switch tc.IncrementalKind {
	case IncrementalTimestamp, IncrementalID:
	case "":
		tc.IncrementalKind = inferIncrementalKind(tc.IncrementalColumn)
	default:
		return fmt.Errorf("invalid incremental_kind %q (valid: timestamp, id)", tc.IncrementalKind)
	}
	if len(tc.PrimaryKey) == 0 {
		return fmt.Errorf("primary_key is required")
	}
	if len(tc.Columns) == 0 {
		return fmt.Errorf("columns allowlist is required")
	}
	colSet := make(map[string]bool, len(tc.Columns))
	for _, c := range tc.Columns {
		if c == "" {
			return fmt.Errorf("empty column name in allowlist")
		}
		if colSet[c] {
			return fmt.Errorf("duplicate column %q in allowlist", c)
		}
		colSet[c] = true
	}
	if !colSet[tc.IncrementalColumn] {
		return fmt.Errorf("incremental_column %q must be part of the columns allowlist", tc.IncrementalColumn)
	}
	for _, pk := range tc.PrimaryKey {
		if !colSet[pk] {
			return fmt.Errorf("primary_key column %q must be part of the columns allowlist", pk)
		}
	}
	if tc.BatchSize < 0 {
		return fmt.Errorf("batch_size cannot be negative")
	}
	if tc.EstimatedRows < 0 {
		return fmt.Errorf("estimated_rows cannot be negative")
	}
	return nil
}

// inferIncrementalKind guesses the watermark kind from OpenDental naming
// conventions: DateTStamp/SecDateTEdit style columns are timestamps, *Num
// columns are autoincrement ids.
func inferIncrementalKind(column string) IncrementalKind {
	lower := strings.ToLower(column)
	if strings.Contains(lower, "date") || strings.Contains(lower, "time") || strings.Contains(lower, "stamp") {
		return IncrementalTimestamp
	}
	return IncrementalID
}

// ByPriority groups table configs by priority bucket. Tables inside a group
// are sorted by name for deterministic scheduling.
func (c *TableCatalog) ByPriority() map[Priority][]TableConfig {
	groups := make(map[Priority][]TableConfig)
	for _, tc := range c.Tables {
		groups[tc.Priority] = append(groups[tc.Priority], tc)
	}
	for p := range groups {
		sort.Slice(groups[p], func(i, j int) bool { return groups[p][i].Name < groups[p][j].Name })
	}
	return groups
}

// Filter returns the subset of the catalog whose names appear in keep. Names
// not present in the catalog are returned separately so the caller can warn.
func (c *TableCatalog) Filter(keep []string) (*TableCatalog, []string) {
	byName := make(map[string]TableConfig, len(c.Tables))
	for _, tc := range c.Tables {
		byName[tc.Name] = tc
	}
	out := &TableCatalog{}
	var missing []string
	for _, name := range keep {
		if tc, ok := byName[name]; ok {
			out.Tables = append(out.Tables, tc)
		} else {
			missing = append(missing, name)
		}
	}
	return out, missing
}
