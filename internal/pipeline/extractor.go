package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dentalytics/dentasync/internal/config"
	"github.com/dentalytics/dentasync/internal/db"
	"github.com/dentalytics/dentasync/internal/utils"
)

// mysqlUnknownColumnRe matches the message of MySQL error 1054, raised when
// the live table lost a column between the snapshot and the query.
var mysqlUnknownColumnRe = regexp.MustCompile(`Unknown column '([^']+)'`)

// forbiddenVerbs are statement verbs that must never reach the source. The
// extractor builds its own SQL, so this guard only fires on a programming
// error, but the operational database is too important to trust that.
var forbiddenVerbs = []string{
	"insert", "update", "delete", "replace", "drop", "alter",
	"create", "truncate", "grant", "revoke", "lock", "set",
}

// IncrementalExtractor reads changed rows from the operational MySQL
// database. All access is strictly read-only.
type IncrementalExtractor struct {
	src    *db.Connector
	logger *zap.Logger
}

func NewIncrementalExtractor(src *db.Connector, logger *zap.Logger) *IncrementalExtractor {
	return &IncrementalExtractor{src: src, logger: logger.Named("extractor")}
}

// Extract opens a streaming cursor over rows whose incremental column is
// strictly greater than the watermark, ordered ascending so the watermark
// can advance monotonically as batches commit.
func (e *IncrementalExtractor) Extract(ctx context.Context, tc *config.TableConfig, srcDesc *SchemaDescriptor, watermark string) (*RowStream, error) {
	if missing := srcDesc.Missing(tc.Columns); len(missing) > 0 {
		return nil, &SourceSchemaError{Table: tc.Name, Column: missing[0]}
	}

	query := buildExtractQuery(tc)
	if err := validateReadOnly(query); err != nil {
		return nil, err
	}

	e.logger.Debug("Opening extraction cursor",
		zap.String("table", tc.Name),
		zap.String("watermark", watermark))

	rows, err := e.src.DB.WithContext(ctx).Raw(query, watermark).Rows()
	if err != nil {
		if m := mysqlUnknownColumnRe.FindStringSubmatch(err.Error()); m != nil {
			return nil, &SourceSchemaError{Table: tc.Name, Column: m[1], Err: err}
		}
		return nil, fmt.Errorf("open extraction cursor for %s: %w", tc.Name, err)
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("read cursor columns for %s: %w", tc.Name, err)
	}

	return &RowStream{rows: rows, columns: cols, table: tc.Name}, nil
}

// buildExtractQuery renders the allowlisted projection with a strict
// watermark filter. Rows stamped exactly at the watermark were already
// loaded in the run that committed it.
func buildExtractQuery(tc *config.TableConfig) string {
	quoted := make([]string, 0, len(tc.Columns))
	for _, c := range tc.Columns {
		quoted = append(quoted, utils.QuoteIdentifier(c, "mysql"))
	}
	inc := utils.QuoteIdentifier(tc.IncrementalColumn, "mysql")
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s > ? ORDER BY %s ASC",
		strings.Join(quoted, ", "),
		utils.QuoteIdentifier(tc.Name, "mysql"),
		inc, inc)
}

// validateReadOnly rejects anything other than a single SELECT statement.
func validateReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "select") {
		return fmt.Errorf("refusing non-SELECT statement against source: %q", firstWords(trimmed, 3))
	}
	if rest := strings.TrimRight(trimmed, "; \t\n"); strings.ContainsRune(rest, ';') {
		return fmt.Errorf("refusing multi-statement query against source")
	}
	for _, verb := range forbiddenVerbs {
		if regexp.MustCompile(`(?i)^\s*` + verb + `\b`).MatchString(trimmed) {
			return fmt.Errorf("refusing %s statement against source", strings.ToUpper(verb))
		}
	}
	return nil
}

// RowStream is a forward-only cursor over extracted rows. It is not safe
// for concurrent use; the writer drains it from a single goroutine.
type RowStream struct {
	rows    *sql.Rows
	columns []string
	table   string
}

// Columns returns the projection in query order.
func (s *RowStream) Columns() []string { return s.columns }

// Next returns the next row as a column-to-value map, or ok=false when the
// stream is drained. Byte slices are copied out as strings because the
// MySQL driver reuses its buffers between scans.
func (s *RowStream) Next() (map[string]interface{}, bool, error) {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, false, fmt.Errorf("read row from %s: %w", s.table, err)
		}
		return nil, false, nil
	}

	values := make([]interface{}, len(s.columns))
	ptrs := make([]interface{}, len(s.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return nil, false, fmt.Errorf("scan row from %s: %w", s.table, err)
	}

	row := make(map[string]interface{}, len(s.columns))
	for i, col := range s.columns {
		switch v := values[i].(type) {
		case []byte:
			row[col] = string(v)
		default:
			row[col] = v
		}
	}
	return row, true, nil
}

// Close releases the underlying cursor.
func (s *RowStream) Close() error { return s.rows.Close() }

// NormalizeWatermarkValue renders an extracted incremental value into the
// canonical string form stored in the watermark table.
func NormalizeWatermarkValue(kind config.IncrementalKind, v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", fmt.Errorf("incremental column value is NULL")
	case time.Time:
		return val.Format(TimeFormat), nil
	case string:
		return normalizeWatermarkString(kind, val)
	case []byte:
		return normalizeWatermarkString(kind, string(val))
	case int64:
		return fmt.Sprintf("%d", val), nil
	case uint64:
		return fmt.Sprintf("%d", val), nil
	case int:
		return fmt.Sprintf("%d", val), nil
	case float64:
		return fmt.Sprintf("%.0f", val), nil
	default:
		return fmt.Sprintf("%v", val), nil
	}
}

func normalizeWatermarkString(kind config.IncrementalKind, s string) (string, error) {
	if kind == config.IncrementalID {
		return strings.TrimSpace(s), nil
	}
	// MySQL DATETIME values arrive as "2006-01-02 15:04:05" already; other
	// renderings get reparsed so comparisons stay lexical.
	for _, layout := range []string{TimeFormat, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(TimeFormat), nil
		}
	}
	return "", fmt.Errorf("unrecognized timestamp value %q", s)
}
