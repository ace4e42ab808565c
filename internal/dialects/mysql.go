package dialects

import "strings"

// MySQLDialect implements MySQL-specific SQL dialect.
type MySQLDialect struct{}

func init() {
	RegisterDialect("mysql", &MySQLDialect{})
}

// Name returns "mysql".
func (d *MySQLDialect) Name() string { return "mysql" }

// QuoteIdentifier quotes a MySQL identifier using backticks.
func (d *MySQLDialect) QuoteIdentifier(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// Placeholder returns MySQL placeholder format (always "?").
func (d *MySQLDialect) Placeholder(_ int) string {
	return "?"
}

// LikeEscape is empty, backslash is the MySQL default.
func (d *MySQLDialect) LikeEscape() string {
	return ""
}

// Concat uses CONCAT(), || is logical OR in MySQL.
func (d *MySQLDialect) Concat(parts []string) string {
	return "CONCAT(" + strings.Join(parts, ", ") + ")"
}

// Returning is empty, the MySQL driver reports LastInsertId.
func (d *MySQLDialect) Returning(_ string) string {
	return ""
}

// SelfSubqueryUpdate is false: MySQL rejects UPDATE t ... WHERE id IN (SELECT ... FROM t).
func (d *MySQLDialect) SelfSubqueryUpdate() bool {
	return false
}
