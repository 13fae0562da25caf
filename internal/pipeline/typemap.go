package pipeline

import (
	"fmt"
	"strings"
)

// MapColumnType translates a MySQL source column into a target column type.
// booleans holds the lowercased names of columns the sampler proved to be
// flags; those become real booleans on the target.
func MapColumnType(col ColumnInfo, booleans map[string]bool, dialect string) string {
	if dialect == "sqlite" {
		return mapColumnTypeSQLite(col, booleans)
	}
	return mapColumnTypePostgres(col, booleans)
}

func mapColumnTypePostgres(col ColumnInfo, booleans map[string]bool) string {
	if booleans[strings.ToLower(col.Name)] {
		return "boolean"
	}
	unsigned := strings.Contains(col.FullType, "unsigned")
	switch col.Type {
	case "tinyint", "smallint":
		if unsigned {
			return "integer"
		}
		return "smallint"
	case "mediumint", "int", "integer":
		if unsigned {
			return "bigint"
		}
		return "integer"
	case "bigint":
		// Unsigned bigint overflows int64; numeric keeps the full range.
		if unsigned {
			return "numeric(20,0)"
		}
		return "bigint"
	case "decimal", "numeric":
		if col.Precision > 0 {
			return fmt.Sprintf("numeric(%d,%d)", col.Precision, col.Scale)
		}
		return "numeric"
	case "float":
		return "real"
	case "double", "real":
		return "double precision"
	case "bit":
		return "bit varying"
	case "date":
		return "date"
	case "datetime", "timestamp":
		return "timestamp"
	case "time":
		return "time"
	case "year":
		return "smallint"
	case "char":
		if col.Length > 0 {
			return fmt.Sprintf("char(%d)", col.Length)
		}
		return "char(1)"
	case "varchar":
		if col.Length > 0 && col.Length <= 10485760 {
			return fmt.Sprintf("varchar(%d)", col.Length)
		}
		return "text"
	case "tinytext", "text", "mediumtext", "longtext":
		return "text"
	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob":
		return "bytea"
	case "enum", "set":
		return "text"
	case "json":
		return "jsonb"
	default:
		return "text"
	}
}

func mapColumnTypeSQLite(col ColumnInfo, booleans map[string]bool) string {
	if booleans[strings.ToLower(col.Name)] {
		return "boolean"
	}
	switch col.Type {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint", "year", "bit":
		return "integer"
	case "decimal", "numeric":
		return "numeric"
	case "float", "double", "real":
		return "real"
	case "date", "datetime", "timestamp", "time":
		return "datetime"
	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob":
		return "blob"
	default:
		return "text"
	}
}
