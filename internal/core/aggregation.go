package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/coregx/queryprops/internal/dialects"
	"github.com/coregx/queryprops/internal/util"
)

// CountAlias is the result alias Count uses.
const CountAlias = "__count"

// NativeGetAggregation computes aggregates over the rows q matches. The query
// is wrapped in a subquery whenever its rows are not plain table rows: when it
// is sliced, distinct or grouped, when it already aggregates, or when an
// aggregate refers to one of its annotations.
func (q *Query) NativeGetAggregation(ctx context.Context, exec Executor, aggregates map[string]Expression) (map[string]any, error) {
	if len(aggregates) == 0 {
		return map[string]any{}, nil
	}
	names := make([]string, 0, len(aggregates))
	for name := range aggregates {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := make([]NamedExpr, len(names))
	hasRef := false
	for i, name := range names {
		e, err := aggregates[name].Resolve(q, true)
		if err != nil {
			return nil, fmt.Errorf("aggregate %q: %w", name, err)
		}
		if !e.ContainsAggregate() {
			return nil, fmt.Errorf("aggregate %q: %w: expression is not an aggregate", name, ErrInvalidLookup)
		}
		walk(e, func(x Expression) {
			if _, ok := x.(*Ref); ok {
				hasRef = true
			}
		})
		resolved[i] = NamedExpr{Name: name, Expr: e}
	}

	existing := false
	for _, name := range q.annotationNames {
		if q.annotations[name].ContainsAggregate() {
			existing = true
		}
	}
	for _, w := range q.where {
		if w.ContainsAggregate() {
			existing = true
		}
	}

	d := exec.Dialect()
	var (
		query string
		args  []any
	)
	if q.IsSliced() || q.distinct || q.Grouped() || existing || hasRef {
		query, args = q.wrappedAggregation(d, resolved, existing)
		query = buildOuter(d, resolved, query)
		args = append(outerArgs(d, resolved), args...)
	} else {
		plain := q.Clone()
		plain.ClearOrdering()
		plain.defaultCols, plain.valuesMode, plain.selects = false, false, nil
		plain.SetAnnotationMask([]string{})
		query, args = plain.NativeGetCompiler(d, RowsValues).sql(resolved)
	}

	rows, err := exec.NewStatement(query, args...).Query(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]any, len(names))
	vals := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan aggregates: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, name := range names {
		if b, ok := vals[i].([]byte); ok {
			vals[i] = string(b)
		}
		out[name] = vals[i]
	}
	return out, nil
}

// wrappedAggregation prepares the inner query of an aggregation over a
// subquery. Columns used inside the aggregates become inner annotations so
// the outer query can reference them; aggregates are rewritten in place.
func (q *Query) wrappedAggregation(d dialects.Dialect, aggs []NamedExpr, existing bool) (string, []any) {
	inner := q.Clone()
	if !inner.IsSliced() {
		inner.ClearOrdering()
	}
	if !inner.distinct {
		if inner.defaultCols && existing {
			pk := inner.Model.PK()
			inner.groupByAll = false
			inner.groupBy = []Expression{&Col{Alias: inner.baseAlias, Column: pk.Column}}
		}
		inner.defaultCols = false
	}

	n := 0
	for i := range aggs {
		// Rewriting only replaces Col and Ref nodes, which cannot fail.
		aggs[i].Expr, _ = transform(aggs[i].Expr, func(e Expression) (Expression, bool, error) {
			switch x := e.(type) {
			case *Ref:
				inner.AppendAnnotationMask(x.Name)
				return x, true, nil
			case *Col:
				n++
				alias := fmt.Sprintf("__col%d", n)
				inner.annotationNames = append(inner.annotationNames, alias)
				inner.annotations[alias] = x
				inner.AppendAnnotationMask(alias)
				return &Ref{Name: alias, Source: x}, true, nil
			}
			return e, false, nil
		})
	}
	return inner.GetCompiler(d, RowsValues).SQL()
}

func buildOuter(d dialects.Dialect, aggs []NamedExpr, inner string) string {
	parts := make([]string, len(aggs))
	for i, a := range aggs {
		s, _ := a.Expr.Build(d)
		parts[i] = s + " AS " + d.QuoteIdentifier(a.Name)
	}
	return "SELECT " + strings.Join(parts, ", ") + " FROM (" + inner + ") " + d.QuoteIdentifier("subquery")
}

func outerArgs(d dialects.Dialect, aggs []NamedExpr) []any {
	var args []any
	for _, a := range aggs {
		_, as := a.Expr.Build(d)
		args = append(args, as...)
	}
	return args
}

// Count returns the number of rows q matches.
func (q *Query) Count(ctx context.Context, exec Executor) (int64, error) {
	res, err := q.GetAggregation(ctx, exec, map[string]Expression{CountAlias: Count("*")})
	if err != nil {
		return 0, err
	}
	n, ok := util.ToInt64(res[CountAlias])
	if !ok {
		return 0, fmt.Errorf("unexpected count value %T", res[CountAlias])
	}
	return n, nil
}

// Exists reports whether q matches any row.
func (q *Query) Exists(ctx context.Context, exec Executor) (bool, error) {
	c := q.Clone()
	c.ClearOrdering()
	c.SetLimits(0, 1)
	rows, err := c.GetCompiler(exec.Dialect(), RowsValues).Tuples(ctx, exec)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}
