// Package dialects provides database-specific SQL dialect implementations for
// PostgreSQL, MySQL, and SQLite, handling identifier quoting, placeholders,
// LIKE escaping, and string concatenation.
package dialects

import "sync"

// Dialect defines database-specific behaviors.
type Dialect interface {
	// Name returns the canonical dialect name ("sqlite", "postgres", "mysql").
	Name() string
	QuoteIdentifier(string) string
	Placeholder(int) string
	// LikeEscape returns the ESCAPE clause appended to LIKE comparisons.
	LikeEscape() string
	// Concat joins already-built SQL operands into a string concatenation.
	Concat(parts []string) string
	// Returning returns the clause used to read back a generated key after INSERT,
	// or an empty string when the driver reports it through LastInsertId.
	Returning(column string) string
	// SelfSubqueryUpdate reports whether an UPDATE may filter its own table
	// through a subquery selecting from that same table.
	SelfSubqueryUpdate() bool
}

var (
	mu       sync.RWMutex
	dialects = make(map[string]Dialect)
)

// RegisterDialect registers a database dialect by driver name.
func RegisterDialect(name string, d Dialect) {
	mu.Lock()
	defer mu.Unlock()
	dialects[name] = d
}

// GetDialect retrieves a registered dialect by driver name, panics if not found.
func GetDialect(name string) Dialect {
	d, ok := Lookup(name)
	if !ok {
		panic("unsupported dialect: " + name)
	}
	return d
}

// Lookup retrieves a registered dialect by driver name.
func Lookup(name string) (Dialect, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := dialects[name]
	return d, ok
}
