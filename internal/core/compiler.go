package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coregx/queryprops/internal/dialects"
)

// RowMode selects how compiled rows are turned into results.
type RowMode int

const (
	// RowsModel builds Instances.
	RowsModel RowMode = iota
	// RowsNamed builds maps keyed by column name.
	RowsNamed
	// RowsValues returns positional tuples.
	RowsValues
)

func (m RowMode) String() string {
	switch m {
	case RowsModel:
		return "model"
	case RowsNamed:
		return "named"
	case RowsValues:
		return "values"
	}
	return "RowMode(" + strconv.Itoa(int(m)) + ")"
}

// RowHook post-processes one raw result row before results are built from it.
type RowHook func(row []any) []any

// Compiler renders a query for one execution and post-processes its rows.
type Compiler struct {
	Query   *Query
	Dialect dialects.Dialect
	Mode    RowMode

	columns []NamedExpr
	hooks   []RowHook
	cached  map[string]bool
}

// NativeGetCompiler returns a compiler without row hooks.
func (q *Query) NativeGetCompiler(d dialects.Dialect, mode RowMode) *Compiler {
	return &Compiler{Query: q, Dialect: d, Mode: mode, columns: q.selectColumns()}
}

// AddRowHook registers h to run on every row, before the others when first is set.
func (c *Compiler) AddRowHook(h RowHook, first bool) {
	if first {
		c.hooks = append([]RowHook{h}, c.hooks...)
		return
	}
	c.hooks = append(c.hooks, h)
}

// CacheValues names the annotations whose values marked model rows cache
// on their instances.
func (c *Compiler) CacheValues(aliases ...string) {
	if c.cached == nil {
		c.cached = make(map[string]bool, len(aliases))
	}
	for _, a := range aliases {
		c.cached[a] = true
	}
}

// HasRowHooks reports whether any row hook is registered.
func (c *Compiler) HasRowHooks() bool { return len(c.hooks) > 0 }

func (c *Compiler) applyHooks(row []any) []any {
	for _, h := range c.hooks {
		row = h(row)
	}
	return row
}

// Columns returns the output column names in select order.
func (c *Compiler) Columns() []string {
	names := make([]string, len(c.columns))
	for i, col := range c.columns {
		names[i] = col.Name
	}
	return names
}

// selectColumns lists the output columns: for values queries the requested
// names in order, otherwise the model's columns and extra selects; selected
// annotations follow in both cases.
func (q *Query) selectColumns() []NamedExpr {
	var cols []NamedExpr
	seen := make(map[string]bool)
	add := func(name string, e Expression) {
		if !seen[name] {
			seen[name] = true
			cols = append(cols, NamedExpr{Name: name, Expr: e})
		}
	}
	selects := make(map[string]Expression, len(q.selects))
	for _, s := range q.selects {
		selects[s.Name] = s.Expr
	}
	if q.valuesMode {
		for _, name := range q.values {
			if e, ok := selects[name]; ok {
				add(name, e)
			} else if q.AnnotationSelected(name) {
				add(name, q.annotations[name])
			}
		}
	} else {
		if q.defaultCols {
			for _, f := range q.Model.Fields() {
				add(f.Name, &Col{Alias: q.baseAlias, Column: f.Column})
			}
		}
		for _, s := range q.selects {
			add(s.Name, s.Expr)
		}
	}
	for _, name := range q.SelectedAnnotations() {
		add(name, q.annotations[name])
	}
	if len(cols) == 0 {
		pk := q.Model.PK()
		add(pk.Name, &Col{Alias: q.baseAlias, Column: pk.Column})
	}
	return cols
}

// groupBy returns the GROUP BY expressions: the recorded baseline plus every
// non-aggregate select and ordering term and the plain columns of having,
// without duplicates.
func (c *Compiler) groupBy(having []Expression) []Expression {
	q := c.Query
	if !q.Grouped() {
		return nil
	}
	var candidates []Expression
	if q.groupByAll {
		candidates = append(candidates, q.baseColumns()...)
	} else {
		candidates = append(candidates, q.groupBy...)
	}
	for _, col := range c.columns {
		candidates = append(candidates, col.Expr)
	}
	for _, o := range q.ordering {
		candidates = append(candidates, o.Expr)
	}
	for _, e := range having {
		collectColumns(e, &candidates)
	}

	var out []Expression
	seen := make(map[string]bool)
	for _, e := range candidates {
		if e.ContainsAggregate() {
			continue
		}
		if _, ok := e.(*ValueExp); ok {
			continue
		}
		sql, args := e.Build(c.Dialect)
		key := sql + fmt.Sprint(args)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// collectColumns appends the columns of e that are not aggregate operands.
func collectColumns(e Expression, out *[]Expression) {
	switch x := e.(type) {
	case *AggregateExp:
	case *Col:
		*out = append(*out, x)
	case composite:
		for _, k := range x.children() {
			collectColumns(k, out)
		}
	}
}

// SQL renders the SELECT statement with "?" placeholders.
func (c *Compiler) SQL() (string, []any) {
	return c.sql(c.columns)
}

func (c *Compiler) sql(columns []NamedExpr) (string, []any) {
	q, d := c.Query, c.Dialect
	var (
		b    strings.Builder
		args []any
	)

	b.WriteString("SELECT ")
	if q.distinct {
		b.WriteString("DISTINCT ")
	}
	for i, col := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		s, a := col.Expr.Build(d)
		b.WriteString(s)
		if cc, ok := col.Expr.(*Col); !ok || cc.Column != col.Name {
			b.WriteString(" AS " + d.QuoteIdentifier(col.Name))
		}
		args = append(args, a...)
	}

	b.WriteString(" FROM " + d.QuoteIdentifier(q.Model.Table))
	if q.baseAlias != q.Model.Table {
		b.WriteString(" " + d.QuoteIdentifier(q.baseAlias))
	}
	for _, j := range q.joins {
		kind := " INNER JOIN "
		if j.Outer {
			kind = " LEFT OUTER JOIN "
		}
		b.WriteString(kind + d.QuoteIdentifier(j.Table))
		if j.Alias != j.Table {
			b.WriteString(" " + d.QuoteIdentifier(j.Alias))
		}
		b.WriteString(" ON (" + d.QuoteIdentifier(j.ParentAlias) + "." + d.QuoteIdentifier(j.ParentColumn) +
			" = " + d.QuoteIdentifier(j.Alias) + "." + d.QuoteIdentifier(j.Column) + ")")
	}

	var where, having []Expression
	for _, e := range q.where {
		w, h := splitHaving(e)
		where = append(where, w...)
		having = append(having, h...)
	}
	if s, a := (&WhereNode{Connector: ConnAnd, Children: where}).Build(d); s != "" {
		b.WriteString(" WHERE " + s)
		args = append(args, a...)
	}
	if group := c.groupBy(having); len(group) > 0 {
		s, a := joinBuilt(d, group, ", ")
		b.WriteString(" GROUP BY " + s)
		args = append(args, a...)
	}
	if s, a := (&WhereNode{Connector: ConnAnd, Children: having}).Build(d); s != "" {
		b.WriteString(" HAVING " + s)
		args = append(args, a...)
	}
	if len(q.ordering) > 0 {
		parts := make([]string, len(q.ordering))
		for i, o := range q.ordering {
			s, a := o.build(d)
			parts[i] = s
			args = append(args, a...)
		}
		b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	b.WriteString(limitClause(d, q.offset, q.limit))
	return b.String(), args
}

func limitClause(d dialects.Dialect, offset, limit int) string {
	var s string
	switch {
	case limit >= 0:
		s = " LIMIT " + strconv.Itoa(limit)
	case offset > 0 && d.Name() == "sqlite":
		s = " LIMIT -1"
	case offset > 0 && d.Name() == "mysql":
		s = " LIMIT 18446744073709551615"
	}
	if offset > 0 {
		s += " OFFSET " + strconv.Itoa(offset)
	}
	return s
}
