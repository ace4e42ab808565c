package core

import (
	"context"
	"fmt"
)

// fetch runs the compiled query and returns every row after the row hooks.
// Rows are read completely before the result set is closed.
func (c *Compiler) fetch(ctx context.Context, exec Executor) ([][]any, error) {
	query, args := c.SQL()
	rows, err := exec.NewStatement(query, args...).Query(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	n := len(c.columns)
	var out [][]any
	for rows.Next() {
		vals := make([]any, n)
		ptrs := make([]any, n)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, c.applyHooks(vals))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// unmark strips the marker a row hook may have added and reports whether it
// was set. Model rows carry it last, named rows first.
func (c *Compiler) unmark(row []any) ([]any, bool) {
	n := len(c.columns)
	if len(row) != n+1 {
		return row, false
	}
	switch c.Mode {
	case RowsModel:
		marked, _ := row[n].(bool)
		return row[:n], marked
	case RowsNamed:
		marked, _ := row[0].(bool)
		return row[1:], marked
	}
	return row, false
}

// Instances runs the query and builds model instances. On marked rows, the
// values of the annotations passed to CacheValues are cached on the
// instance.
func (c *Compiler) Instances(ctx context.Context, exec Executor) ([]*Instance, error) {
	rows, err := c.fetch(ctx, exec)
	if err != nil {
		return nil, err
	}
	q := c.Query
	out := make([]*Instance, 0, len(rows))
	for _, row := range rows {
		row, marked := c.unmark(row)
		inst := NewInstance(q.Model, exec, nil)
		for i, col := range c.columns {
			if _, ok := q.annotations[col.Name]; !ok {
				inst.fields[col.Name] = row[i]
				continue
			}
			inst.setAnnotation(col.Name, row[i])
			if marked && c.cached[col.Name] {
				inst.SetCachedValue(col.Name, row[i])
			}
		}
		out = append(out, inst)
	}
	return out, nil
}

// Maps runs the query and returns one map per row keyed by column name.
func (c *Compiler) Maps(ctx context.Context, exec Executor) ([]map[string]any, error) {
	rows, err := c.fetch(ctx, exec)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		row, _ = c.unmark(row)
		m := make(map[string]any, len(c.columns))
		for i, col := range c.columns {
			m[col.Name] = row[i]
		}
		out = append(out, m)
	}
	return out, nil
}

// Tuples runs the query and returns the raw rows.
func (c *Compiler) Tuples(ctx context.Context, exec Executor) ([][]any, error) {
	rows, err := c.fetch(ctx, exec)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		rows[i], _ = c.unmark(row)
	}
	return rows, nil
}

// Flat runs a single-column query and returns its values.
func (c *Compiler) Flat(ctx context.Context, exec Executor) ([]any, error) {
	if len(c.columns) != 1 {
		return nil, fmt.Errorf("flat results need exactly one column, have %d", len(c.columns))
	}
	rows, err := c.Tuples(ctx, exec)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row[0]
	}
	return out, nil
}
