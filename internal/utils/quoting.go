package utils

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// QuoteIdentifier quotes an identifier for the given SQL dialect, escaping
// the quote character inside the name.
func QuoteIdentifier(name, dialect string) string {
	switch strings.ToLower(dialect) {
	case "mysql":
		return fmt.Sprintf("`%s`", strings.ReplaceAll(name, "`", "``"))
	case "postgres":
		return pq.QuoteIdentifier(name)
	default:
		// SQLite and anything else: ANSI double quotes.
		return fmt.Sprintf("\"%s\"", strings.ReplaceAll(name, "\"", "\"\""))
	}
}

// QualifyTable returns schema.table with both parts quoted. An empty schema
// yields just the quoted table name.
func QualifyTable(schema, table, dialect string) string {
	if schema == "" {
		return QuoteIdentifier(table, dialect)
	}
	return QuoteIdentifier(schema, dialect) + "." + QuoteIdentifier(table, dialect)
}

// UnquoteIdentifier strips dialect quoting from an identifier and unescapes
// embedded quote characters. Unquoted input is returned unchanged.
func UnquoteIdentifier(quotedName, dialect string) string {
	name := strings.TrimSpace(quotedName)
	if len(name) < 2 {
		return name
	}

	var quote, escaped string
	switch strings.ToLower(dialect) {
	case "mysql":
		quote, escaped = "`", "``"
	default:
		quote, escaped = "\"", "\"\""
	}

	if strings.HasPrefix(name, quote) && strings.HasSuffix(name, quote) {
		return strings.ReplaceAll(name[1:len(name)-1], escaped, quote)
	}
	return name
}
