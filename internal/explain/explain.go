// Package explain runs EXPLAIN for compiled queries and condenses the
// database's plan into a Plan: whether an index is used, whether a table is
// scanned in full, and the planner's estimates where the database reports
// them.
package explain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coregx/queryprops/internal/core"
)

// ErrUnsupported is returned for dialects without a plan parser.
var ErrUnsupported = errors.New("explain not supported")

// Plan is the condensed execution plan of one query.
type Plan struct {
	Database string
	// Raw is the plan as the database printed it.
	Raw string

	Cost          float64
	EstimatedRows int64

	UsesIndex bool
	// IndexName is the first index the plan uses.
	IndexName string
	FullScan  bool
	// Tables lists the tables the plan reads, in plan order.
	Tables []string
}

func (p *Plan) useIndex(name string) {
	p.UsesIndex = true
	if p.IndexName == "" && name != "" {
		p.IndexName = name
	}
}

func (p *Plan) addTable(name string) {
	if name == "" {
		return
	}
	for _, t := range p.Tables {
		if t == name {
			return
		}
	}
	p.Tables = append(p.Tables, name)
}

// Run explains query with args through exec. The query uses "?"
// placeholders like the compiler output.
func Run(ctx context.Context, exec core.Executor, query string, args []any) (*Plan, error) {
	name := exec.Dialect().Name()
	var prefix string
	switch name {
	case "sqlite":
		prefix = "EXPLAIN QUERY PLAN "
	case "postgres":
		prefix = "EXPLAIN (FORMAT JSON) "
	case "mysql":
		prefix = "EXPLAIN FORMAT=JSON "
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, name)
	}

	rows, err := exec.NewStatement(prefix+query, args...).Query(ctx)
	if err != nil {
		return nil, fmt.Errorf("explain: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		if name == "sqlite" {
			var id, parent, notused int
			var detail string
			if err := rows.Scan(&id, &parent, &notused, &detail); err != nil {
				return nil, fmt.Errorf("explain: scan plan row: %w", err)
			}
			lines = append(lines, detail)
			continue
		}
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("explain: scan plan: %w", err)
		}
		lines = append(lines, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("explain: %w", err)
	}

	switch name {
	case "sqlite":
		return ParseSQLite(lines), nil
	case "postgres":
		return ParsePostgres(strings.Join(lines, "\n"))
	default:
		return ParseMySQL(strings.Join(lines, "\n"))
	}
}
