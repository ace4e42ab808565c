// Copyright (c) 2025 COREGX. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package core

import (
	"fmt"
	"strings"

	"github.com/coregx/queryprops/internal/dialects"
)

// Expression is a SQL fragment that can be attached to a query as an
// annotation, a filter operand, an ordering or an UPDATE value.
//
// Expressions are immutable. Resolve binds names against a query (adding
// joins or annotations as needed) and returns the bound copy; Build renders
// it with "?" placeholders that statements renumber per dialect.
type Expression interface {
	// Resolve binds the expression to q. With summarize set, references to
	// annotations become Refs to the annotation alias, for aggregation over
	// a wrapped subquery.
	Resolve(q *Query, summarize bool) (Expression, error)
	// Build converts the resolved expression into SQL and its parameters.
	Build(dialect dialects.Dialect) (sql string, args []any)
	// ContainsAggregate reports whether an aggregate function appears in the tree.
	ContainsAggregate() bool
}

// composite is implemented by expressions with operands, so query rewrites
// (alias relabeling, outer reference binding) can reach every node.
type composite interface {
	Expression
	children() []Expression
	withChildren([]Expression) Expression
}

// transform rewrites e bottom-up. fn returns the replacement and true to stop
// descending into a node.
func transform(e Expression, fn func(Expression) (Expression, bool, error)) (Expression, error) {
	if e == nil {
		return nil, nil
	}
	out, done, err := fn(e)
	if err != nil || done {
		return out, err
	}
	c, ok := e.(composite)
	if !ok {
		return e, nil
	}
	kids := c.children()
	changed := make([]Expression, len(kids))
	for i, k := range kids {
		if changed[i], err = transform(k, fn); err != nil {
			return nil, err
		}
	}
	return c.withChildren(changed), nil
}

// walk calls visit for every node of e, parents first.
func walk(e Expression, visit func(Expression)) {
	if e == nil {
		return
	}
	visit(e)
	if c, ok := e.(composite); ok {
		for _, k := range c.children() {
			walk(k, visit)
		}
	}
}

func anyAggregate(exprs []Expression) bool {
	for _, e := range exprs {
		if e != nil && e.ContainsAggregate() {
			return true
		}
	}
	return false
}

func resolveAll(q *Query, summarize bool, exprs []Expression) ([]Expression, error) {
	out := make([]Expression, len(exprs))
	for i, e := range exprs {
		r, err := e.Resolve(q, summarize)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// asExpression turns a field name into F and leaves expressions alone.
func asExpression(v any) Expression {
	switch x := v.(type) {
	case Expression:
		return x
	case string:
		return F(x)
	default:
		return Value(x)
	}
}

// FExp references a field, relation path or annotation by name.
type FExp struct {
	Name string
}

// F references a field by path, e.g. F("major") or F("application__name").
func F(name string) *FExp { return &FExp{Name: name} }

// Resolve asks the query to resolve the name.
func (e *FExp) Resolve(q *Query, summarize bool) (Expression, error) {
	return q.ResolveRef(e.Name, summarize)
}

// Build renders the bare quoted name; resolved expressions never contain FExp.
func (e *FExp) Build(d dialects.Dialect) (string, []any) {
	return d.QuoteIdentifier(e.Name), nil
}

// ContainsAggregate is false.
func (e *FExp) ContainsAggregate() bool { return false }

// OuterRefExp references a field of the query a subquery is embedded in.
type OuterRefExp struct {
	Name string
}

// OuterRef references name on the enclosing query.
func OuterRef(name string) *OuterRefExp { return &OuterRefExp{Name: name} }

// Resolve defers binding until the subquery is resolved against its outer query.
func (e *OuterRefExp) Resolve(_ *Query, _ bool) (Expression, error) {
	return &ResolvedOuterRef{Name: e.Name}, nil
}

// Build renders the bare quoted name.
func (e *OuterRefExp) Build(d dialects.Dialect) (string, []any) {
	return d.QuoteIdentifier(e.Name), nil
}

// ContainsAggregate is false.
func (e *OuterRefExp) ContainsAggregate() bool { return false }

// ResolvedOuterRef is an outer reference waiting for the outer query.
type ResolvedOuterRef struct {
	Name string
}

// Resolve returns e unchanged.
func (e *ResolvedOuterRef) Resolve(_ *Query, _ bool) (Expression, error) { return e, nil }

// Build renders the bare quoted name.
func (e *ResolvedOuterRef) Build(d dialects.Dialect) (string, []any) {
	return d.QuoteIdentifier(e.Name), nil
}

// ContainsAggregate is false.
func (e *ResolvedOuterRef) ContainsAggregate() bool { return false }

// ValueExp is a bound parameter.
type ValueExp struct {
	V any
}

// Value wraps a literal as a bound parameter. nil renders as NULL.
func Value(v any) *ValueExp { return &ValueExp{V: v} }

// Resolve returns e unchanged.
func (e *ValueExp) Resolve(_ *Query, _ bool) (Expression, error) { return e, nil }

// Build renders a placeholder.
func (e *ValueExp) Build(_ dialects.Dialect) (string, []any) {
	if e.V == nil {
		return "NULL", nil
	}
	return "?", []any{e.V}
}

// ContainsAggregate is false.
func (e *ValueExp) ContainsAggregate() bool { return false }

// RawExp is a literal SQL fragment with optional parameters.
type RawExp struct {
	SQL  string
	Args []any
	// Aggregate marks fragments that contain aggregate functions.
	Aggregate bool
}

// Raw embeds sql as-is. Statements are screened by the validator when it is enabled.
func Raw(sql string, args ...any) *RawExp { return &RawExp{SQL: sql, Args: args} }

// Resolve returns e unchanged.
func (e *RawExp) Resolve(_ *Query, _ bool) (Expression, error) { return e, nil }

// Build returns the fragment.
func (e *RawExp) Build(_ dialects.Dialect) (string, []any) { return e.SQL, e.Args }

// ContainsAggregate reports the Aggregate flag.
func (e *RawExp) ContainsAggregate() bool { return e.Aggregate }

// Col is a resolved column of a table alias.
type Col struct {
	Alias  string
	Column string
}

// Resolve returns c unchanged.
func (c *Col) Resolve(_ *Query, _ bool) (Expression, error) { return c, nil }

// Build renders "alias"."column".
func (c *Col) Build(d dialects.Dialect) (string, []any) {
	if c.Alias == "" {
		return d.QuoteIdentifier(c.Column), nil
	}
	return d.QuoteIdentifier(c.Alias) + "." + d.QuoteIdentifier(c.Column), nil
}

// ContainsAggregate is false.
func (c *Col) ContainsAggregate() bool { return false }

// Ref points at a column alias of the query being selected from, typically an
// annotation of a wrapped subquery.
type Ref struct {
	Name   string
	Source Expression
}

// Resolve returns r unchanged.
func (r *Ref) Resolve(_ *Query, _ bool) (Expression, error) { return r, nil }

// Build renders the quoted alias.
func (r *Ref) Build(d dialects.Dialect) (string, []any) {
	return d.QuoteIdentifier(r.Name), nil
}

// ContainsAggregate is false: the aggregate, if any, was computed by the inner query.
func (r *Ref) ContainsAggregate() bool { return false }

// CombinedExp applies a binary arithmetic operator.
type CombinedExp struct {
	Op  string
	LHS Expression
	RHS Expression
}

func combine(op string, lhs, rhs any) *CombinedExp {
	return &CombinedExp{Op: op, LHS: asExpression(lhs), RHS: asExpression(rhs)}
}

// Add returns lhs + rhs. Strings are field names.
func Add(lhs, rhs any) *CombinedExp { return combine("+", lhs, rhs) }

// Sub returns lhs - rhs.
func Sub(lhs, rhs any) *CombinedExp { return combine("-", lhs, rhs) }

// Mul returns lhs * rhs.
func Mul(lhs, rhs any) *CombinedExp { return combine("*", lhs, rhs) }

// Div returns lhs / rhs.
func Div(lhs, rhs any) *CombinedExp { return combine("/", lhs, rhs) }

// Resolve resolves both operands.
func (e *CombinedExp) Resolve(q *Query, summarize bool) (Expression, error) {
	kids, err := resolveAll(q, summarize, e.children())
	if err != nil {
		return nil, err
	}
	return e.withChildren(kids), nil
}

// Build renders (lhs op rhs).
func (e *CombinedExp) Build(d dialects.Dialect) (string, []any) {
	l, largs := e.LHS.Build(d)
	r, rargs := e.RHS.Build(d)
	return "(" + l + " " + e.Op + " " + r + ")", append(largs, rargs...)
}

// ContainsAggregate checks both operands.
func (e *CombinedExp) ContainsAggregate() bool { return anyAggregate(e.children()) }

func (e *CombinedExp) children() []Expression { return []Expression{e.LHS, e.RHS} }

func (e *CombinedExp) withChildren(k []Expression) Expression {
	return &CombinedExp{Op: e.Op, LHS: k[0], RHS: k[1]}
}

// SubqueryExp embeds a query as a scalar or row-set operand.
type SubqueryExp struct {
	Query *Query
}

// Subquery wraps q. The query should select exactly one column.
func Subquery(q *Query) *SubqueryExp { return &SubqueryExp{Query: q} }

// Resolve relabels the inner query's aliases so they cannot collide with the
// outer query, then binds every OuterRef against outer.
func (e *SubqueryExp) Resolve(outer *Query, _ bool) (Expression, error) {
	inner := e.Query.relabeled(outer.nextAliasPrefix())
	err := inner.rewrite(func(x Expression) (Expression, bool, error) {
		ref, ok := x.(*ResolvedOuterRef)
		if !ok {
			return x, false, nil
		}
		bound, err := outer.ResolveRef(ref.Name, false)
		if err != nil {
			return nil, true, fmt.Errorf("outer reference %q: %w", ref.Name, err)
		}
		return bound, true, nil
	})
	if err != nil {
		return nil, err
	}
	return &SubqueryExp{Query: inner}, nil
}

// Build renders (SELECT ...).
func (e *SubqueryExp) Build(d dialects.Dialect) (string, []any) {
	sql, args := e.Query.GetCompiler(d, RowsValues).SQL()
	return "(" + sql + ")", args
}

// ContainsAggregate is false: aggregation happens inside the subquery.
func (e *SubqueryExp) ContainsAggregate() bool { return false }

// OrderBy is one ORDER BY term.
type OrderBy struct {
	Expr Expression
	Desc bool
}

// Asc orders by e ascending. Strings are field names.
func Asc(e any) OrderBy { return OrderBy{Expr: asExpression(e)} }

// Desc orders by e descending.
func Desc(e any) OrderBy { return OrderBy{Expr: asExpression(e), Desc: true} }

func (o OrderBy) build(d dialects.Dialect) (string, []any) {
	sql, args := o.Expr.Build(d)
	if o.Desc {
		return sql + " DESC", args
	}
	return sql + " ASC", args
}

func joinBuilt(d dialects.Dialect, exprs []Expression, sep string) (string, []any) {
	parts := make([]string, 0, len(exprs))
	var args []any
	for _, e := range exprs {
		s, a := e.Build(d)
		parts = append(parts, s)
		args = append(args, a...)
	}
	return strings.Join(parts, sep), args
}
