// Copyright (c) 2025 COREGX. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package core

import (
	"strings"

	"github.com/coregx/queryprops/internal/dialects"
)

// =============================================================================
// Aggregates
// =============================================================================

// AggregateExp is an aggregate function call such as COUNT or SUM.
type AggregateExp struct {
	Func     string
	Arg      Expression // nil for COUNT(*)
	Distinct bool
}

func aggregate(fn string, arg any, distinct bool) *AggregateExp {
	if s, ok := arg.(string); ok && s == "*" {
		return &AggregateExp{Func: fn}
	}
	return &AggregateExp{Func: fn, Arg: asExpression(arg), Distinct: distinct}
}

// Count counts rows of arg. Count("*") counts all rows; counting a reverse
// relation counts related rows, with a zero for none.
func Count(arg any) *AggregateExp { return aggregate("COUNT", arg, false) }

// CountDistinct counts distinct values of arg.
func CountDistinct(arg any) *AggregateExp { return aggregate("COUNT", arg, true) }

// Sum adds up arg.
func Sum(arg any) *AggregateExp { return aggregate("SUM", arg, false) }

// Avg averages arg.
func Avg(arg any) *AggregateExp { return aggregate("AVG", arg, false) }

// Min returns the smallest arg.
func Min(arg any) *AggregateExp { return aggregate("MIN", arg, false) }

// Max returns the largest arg.
func Max(arg any) *AggregateExp { return aggregate("MAX", arg, false) }

// Resolve resolves the argument.
func (a *AggregateExp) Resolve(q *Query, summarize bool) (Expression, error) {
	if a.Arg == nil {
		return a, nil
	}
	arg, err := a.Arg.Resolve(q, summarize)
	if err != nil {
		return nil, err
	}
	return &AggregateExp{Func: a.Func, Arg: arg, Distinct: a.Distinct}, nil
}

// Build renders FUNC([DISTINCT] arg).
func (a *AggregateExp) Build(d dialects.Dialect) (string, []any) {
	if a.Arg == nil {
		return a.Func + "(*)", nil
	}
	sql, args := a.Arg.Build(d)
	if a.Distinct {
		sql = "DISTINCT " + sql
	}
	return a.Func + "(" + sql + ")", args
}

// ContainsAggregate is true.
func (a *AggregateExp) ContainsAggregate() bool { return true }

func (a *AggregateExp) children() []Expression {
	if a.Arg == nil {
		return nil
	}
	return []Expression{a.Arg}
}

func (a *AggregateExp) withChildren(k []Expression) Expression {
	if len(k) == 0 {
		return a
	}
	return &AggregateExp{Func: a.Func, Arg: k[0], Distinct: a.Distinct}
}

// =============================================================================
// Scalar functions
// =============================================================================

// FuncExp is a scalar SQL function call.
type FuncExp struct {
	Name string
	Args []Expression
}

func function(name string, args []any) *FuncExp {
	exprs := make([]Expression, len(args))
	for i, a := range args {
		exprs[i] = asExpression(a)
	}
	return &FuncExp{Name: name, Args: exprs}
}

// Concat joins its arguments as text. Strings are field names; wrap literals in Value.
func Concat(args ...any) *FuncExp { return function("CONCAT", args) }

// Coalesce returns the first non-NULL argument.
func Coalesce(args ...any) *FuncExp { return function("COALESCE", args) }

// Greatest returns the largest argument.
func Greatest(args ...any) *FuncExp { return function("GREATEST", args) }

// Least returns the smallest argument.
func Least(args ...any) *FuncExp { return function("LEAST", args) }

// NullIf returns NULL when both arguments are equal.
func NullIf(a, b any) *FuncExp { return function("NULLIF", []any{a, b}) }

// Lower lowercases its argument.
func Lower(arg any) *FuncExp { return function("LOWER", []any{arg}) }

// Upper uppercases its argument.
func Upper(arg any) *FuncExp { return function("UPPER", []any{arg}) }

// Resolve resolves every argument.
func (f *FuncExp) Resolve(q *Query, summarize bool) (Expression, error) {
	args, err := resolveAll(q, summarize, f.Args)
	if err != nil {
		return nil, err
	}
	return &FuncExp{Name: f.Name, Args: args}, nil
}

// Build renders the call. CONCAT uses the dialect's operator form, and SQLite
// spells GREATEST/LEAST as multi-argument MAX/MIN.
func (f *FuncExp) Build(d dialects.Dialect) (string, []any) {
	parts := make([]string, len(f.Args))
	var args []any
	for i, a := range f.Args {
		s, as := a.Build(d)
		parts[i] = s
		args = append(args, as...)
	}
	name := f.Name
	switch {
	case name == "CONCAT":
		return "(" + d.Concat(parts) + ")", args
	case d.Name() == "sqlite" && name == "GREATEST":
		name = "MAX"
	case d.Name() == "sqlite" && name == "LEAST":
		name = "MIN"
	}
	return name + "(" + strings.Join(parts, ", ") + ")", args
}

// ContainsAggregate checks the arguments.
func (f *FuncExp) ContainsAggregate() bool { return anyAggregate(f.Args) }

func (f *FuncExp) children() []Expression { return f.Args }

func (f *FuncExp) withChildren(k []Expression) Expression { return &FuncExp{Name: f.Name, Args: k} }

// =============================================================================
// CASE
// =============================================================================

// WhenClause is one branch of a CASE expression.
type WhenClause struct {
	Cond *Q
	Then any
}

// When builds a CASE branch taken when cond holds.
func When(cond *Q, then any) WhenClause { return WhenClause{Cond: cond, Then: then} }

// CaseExp is a searched CASE expression whose conditions are filter trees,
// so they may reference anything a filter can.
type CaseExp struct {
	whens []WhenClause
	els   any

	// resolved form
	conds []Expression
	thens []Expression
	other Expression
}

// Case builds CASE WHEN ... THEN ... [ELSE ...] END. Then and else values are
// literals unless they are expressions.
func Case(whens ...WhenClause) *CaseExp { return &CaseExp{whens: whens} }

// Else sets the ELSE branch.
func (c *CaseExp) Else(v any) *CaseExp {
	out := *c
	out.els = v
	return &out
}

func literal(v any) Expression {
	if e, ok := v.(Expression); ok {
		return e
	}
	return Value(v)
}

// Resolve builds each condition through the query's filter machinery.
func (c *CaseExp) Resolve(q *Query, summarize bool) (Expression, error) {
	out := &CaseExp{}
	for _, w := range c.whens {
		cond, err := q.BuildQ(w.Cond)
		if err != nil {
			return nil, err
		}
		then, err := literal(w.Then).Resolve(q, summarize)
		if err != nil {
			return nil, err
		}
		out.conds = append(out.conds, cond)
		out.thens = append(out.thens, then)
	}
	if c.els != nil {
		other, err := literal(c.els).Resolve(q, summarize)
		if err != nil {
			return nil, err
		}
		out.other = other
	}
	return out, nil
}

// Build renders the CASE expression.
func (c *CaseExp) Build(d dialects.Dialect) (string, []any) {
	var b strings.Builder
	var args []any
	b.WriteString("CASE")
	for i := range c.conds {
		cs, ca := c.conds[i].Build(d)
		ts, ta := c.thens[i].Build(d)
		b.WriteString(" WHEN " + cs + " THEN " + ts)
		args = append(append(args, ca...), ta...)
	}
	if c.other != nil {
		es, ea := c.other.Build(d)
		b.WriteString(" ELSE " + es)
		args = append(args, ea...)
	}
	b.WriteString(" END")
	return b.String(), args
}

// ContainsAggregate checks every branch.
func (c *CaseExp) ContainsAggregate() bool { return anyAggregate(c.children()) }

func (c *CaseExp) children() []Expression {
	out := make([]Expression, 0, 2*len(c.conds)+1)
	out = append(out, c.conds...)
	out = append(out, c.thens...)
	if c.other != nil {
		out = append(out, c.other)
	}
	return out
}

func (c *CaseExp) withChildren(k []Expression) Expression {
	n := len(c.conds)
	out := &CaseExp{conds: k[:n:n], thens: k[n : 2*n : 2*n]}
	if c.other != nil {
		out.other = k[2*n]
	}
	return out
}
