package dialects

import "strings"

// SQLiteDialect implements SQLite-specific SQL dialect.
type SQLiteDialect struct{}

func init() {
	RegisterDialect("sqlite", &SQLiteDialect{})
	RegisterDialect("sqlite3", &SQLiteDialect{})
}

// Name returns "sqlite".
func (d *SQLiteDialect) Name() string { return "sqlite" }

// QuoteIdentifier quotes a SQLite identifier using double quotes.
func (d *SQLiteDialect) QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Placeholder returns SQLite placeholder format (always "?").
func (d *SQLiteDialect) Placeholder(_ int) string {
	return "?"
}

// LikeEscape declares the backslash escape, SQLite has no default one.
func (d *SQLiteDialect) LikeEscape() string {
	return ` ESCAPE '\'`
}

// Concat uses the || operator.
func (d *SQLiteDialect) Concat(parts []string) string {
	return strings.Join(parts, " || ")
}

// Returning is empty, SQLite drivers report LastInsertId.
func (d *SQLiteDialect) Returning(_ string) string {
	return ""
}

// SelfSubqueryUpdate is supported by SQLite.
func (d *SQLiteDialect) SelfSubqueryUpdate() bool {
	return true
}
