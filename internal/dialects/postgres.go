package dialects

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresDialect implements PostgreSQL-specific SQL dialect.
type PostgresDialect struct{}

func init() {
	RegisterDialect("postgres", &PostgresDialect{})
	RegisterDialect("postgresql", &PostgresDialect{})
	RegisterDialect("pgx", &PostgresDialect{})
}

// Name returns "postgres".
func (d *PostgresDialect) Name() string { return "postgres" }

// QuoteIdentifier quotes a PostgreSQL identifier using double quotes.
func (d *PostgresDialect) QuoteIdentifier(s string) string {
	return pq.QuoteIdentifier(s)
}

// Placeholder returns PostgreSQL placeholder format ($1, $2, etc.).
func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// LikeEscape is empty, backslash is the PostgreSQL default.
func (d *PostgresDialect) LikeEscape() string {
	return ""
}

// Concat uses the || operator.
func (d *PostgresDialect) Concat(parts []string) string {
	return strings.Join(parts, " || ")
}

// Returning reads generated keys back with RETURNING.
func (d *PostgresDialect) Returning(column string) string {
	return " RETURNING " + d.QuoteIdentifier(column)
}

// SelfSubqueryUpdate is supported by PostgreSQL.
func (d *PostgresDialect) SelfSubqueryUpdate() bool {
	return true
}
