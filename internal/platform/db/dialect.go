package db

import (
	"fmt"
	"regexp"
	"strings"
)

// Dialect selects placeholder and catalog-query syntax for an executor.
type Dialect string

const (
	Postgres Dialect = "postgresql"
	SQLite   Dialect = "sqlite"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseDialect accepts the configured dialect names.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "postgresql", "postgres":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported dialect %q", s)
}

// ValidIdentifier reports whether s is safe to interpolate as a schema, table
// or column name.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Placeholders returns a comma-separated marker list for count parameters
// starting at position start.
func (d Dialect) Placeholders(start, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = d.Placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}

// Qualify renders schema.table. Callers validate both identifiers first.
func (d Dialect) Qualify(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}

// TablesQuery lists the tables of a schema; it yields one table_name column.
// Postgres folds the unquoted identifiers Qualify renders to lower case, so
// the catalog lookup binds the folded name.
func (d Dialect) TablesQuery(schema string) (string, []interface{}) {
	if d == SQLite {
		return fmt.Sprintf(`SELECT name AS table_name FROM %s.sqlite_master WHERE type IN ('table', 'view')`, schema), nil
	}
	return `SELECT table_name FROM information_schema.tables WHERE table_schema = $1`, []interface{}{strings.ToLower(schema)}
}
