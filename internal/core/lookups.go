// Copyright (c) 2025 COREGX. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package core

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/coregx/queryprops/internal/dialects"
)

// DefaultLikeEscape specifies the escaping applied to pattern lookups. The
// strings at 2i positions are escaped into those at 2i+1.
var DefaultLikeEscape = []string{"\\", "\\\\", "%", "\\%", "_", "\\_"}

var likeEscaper = strings.NewReplacer(DefaultLikeEscape...)

// Lookup operators understood by filters.
var lookupOps = map[string]bool{
	"exact": true, "iexact": true,
	"gt": true, "gte": true, "lt": true, "lte": true,
	"in": true, "range": true, "isnull": true,
	"contains": true, "icontains": true,
	"startswith": true, "istartswith": true,
	"endswith": true, "iendswith": true,
}

// IsLookup reports whether name is a lookup operator.
func IsLookup(name string) bool { return lookupOps[name] }

var comparisonOps = map[string]string{"exact": "=", "gt": ">", "gte": ">=", "lt": "<", "lte": "<="}

// LookupExp is a boolean condition comparing an expression with operands.
type LookupExp struct {
	Op  string
	LHS Expression
	RHS []Expression
}

// newLookup validates value for op and builds the condition. Expression
// values must already be resolved.
func newLookup(lhs Expression, op string, value any) (*LookupExp, error) {
	if !IsLookup(op) {
		return nil, fmt.Errorf("%w: unsupported lookup %q", ErrInvalidLookup, op)
	}
	switch op {
	case "exact":
		if value == nil {
			return &LookupExp{Op: "isnull", LHS: lhs}, nil
		}
	case "isnull":
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: isnull expects a bool, got %T", ErrInvalidLookup, value)
		}
		if !b {
			return &LookupExp{Op: "notnull", LHS: lhs}, nil
		}
		return &LookupExp{Op: "isnull", LHS: lhs}, nil
	case "in":
		if e, ok := value.(Expression); ok {
			return &LookupExp{Op: op, LHS: lhs, RHS: []Expression{e}}, nil
		}
		items, err := sliceValues(value)
		if err != nil {
			return nil, err
		}
		rhs := make([]Expression, len(items))
		for i, v := range items {
			rhs[i] = literal(v)
		}
		return &LookupExp{Op: op, LHS: lhs, RHS: rhs}, nil
	case "range":
		items, err := sliceValues(value)
		if err != nil || len(items) != 2 {
			return nil, fmt.Errorf("%w: range expects two values", ErrInvalidLookup)
		}
		return &LookupExp{Op: op, LHS: lhs, RHS: []Expression{literal(items[0]), literal(items[1])}}, nil
	case "contains", "icontains", "startswith", "istartswith", "endswith", "iendswith":
		if _, ok := value.(Expression); ok {
			return nil, fmt.Errorf("%w: %s expects a literal value", ErrInvalidLookup, op)
		}
		return &LookupExp{Op: op, LHS: lhs, RHS: []Expression{Value(likePattern(op, fmt.Sprint(value)))}}, nil
	}
	return &LookupExp{Op: op, LHS: lhs, RHS: []Expression{literal(value)}}, nil
}

func sliceValues(value any) ([]any, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: expected a slice, got %T", ErrInvalidLookup, value)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func likePattern(op, v string) string {
	v = likeEscaper.Replace(v)
	switch strings.TrimPrefix(op, "i") {
	case "startswith":
		return v + "%"
	case "endswith":
		return "%" + v
	default:
		return "%" + v + "%"
	}
}

// Resolve returns e unchanged; lookups are built from resolved operands.
func (e *LookupExp) Resolve(_ *Query, _ bool) (Expression, error) { return e, nil }

// Build renders the condition.
func (e *LookupExp) Build(d dialects.Dialect) (string, []any) {
	lhs, args := e.LHS.Build(d)
	switch e.Op {
	case "isnull":
		return lhs + " IS NULL", args
	case "notnull":
		return lhs + " IS NOT NULL", args
	case "iexact":
		rhs, rargs := e.RHS[0].Build(d)
		return "UPPER(" + lhs + ") = UPPER(" + rhs + ")", append(args, rargs...)
	case "in":
		if len(e.RHS) == 0 {
			return "1 = 0", nil
		}
		if sub, ok := e.RHS[0].(*SubqueryExp); ok {
			rhs, rargs := sub.Build(d)
			return lhs + " IN " + rhs, append(args, rargs...)
		}
		if len(e.RHS) == 1 {
			rhs, rargs := e.RHS[0].Build(d)
			return lhs + " = " + rhs, append(args, rargs...)
		}
		rhs, rargs := joinBuilt(d, e.RHS, ", ")
		return lhs + " IN (" + rhs + ")", append(args, rargs...)
	case "range":
		lo, loArgs := e.RHS[0].Build(d)
		hi, hiArgs := e.RHS[1].Build(d)
		return lhs + " BETWEEN " + lo + " AND " + hi, append(append(args, loArgs...), hiArgs...)
	case "contains", "startswith", "endswith":
		rhs, rargs := e.RHS[0].Build(d)
		return lhs + " LIKE " + rhs + d.LikeEscape(), append(args, rargs...)
	case "icontains", "istartswith", "iendswith":
		rhs, rargs := e.RHS[0].Build(d)
		return "UPPER(" + lhs + ") LIKE UPPER(" + rhs + ")" + d.LikeEscape(), append(args, rargs...)
	}
	rhs, rargs := e.RHS[0].Build(d)
	return lhs + " " + comparisonOps[e.Op] + " " + rhs, append(args, rargs...)
}

// ContainsAggregate checks both sides.
func (e *LookupExp) ContainsAggregate() bool { return anyAggregate(e.children()) }

func (e *LookupExp) children() []Expression { return append([]Expression{e.LHS}, e.RHS...) }

func (e *LookupExp) withChildren(k []Expression) Expression {
	return &LookupExp{Op: e.Op, LHS: k[0], RHS: k[1:]}
}

// WhereNode combines boolean conditions.
type WhereNode struct {
	Connector string
	Negated   bool
	Children  []Expression
}

// Resolve returns n unchanged.
func (n *WhereNode) Resolve(_ *Query, _ bool) (Expression, error) { return n, nil }

// Build renders the combined condition, or "" when n is empty.
func (n *WhereNode) Build(d dialects.Dialect) (string, []any) {
	parts := make([]string, 0, len(n.Children))
	var args []any
	for _, c := range n.Children {
		s, a := c.Build(d)
		if s == "" {
			continue
		}
		if _, nested := c.(*WhereNode); nested || len(n.Children) > 1 {
			s = "(" + s + ")"
		}
		parts = append(parts, s)
		args = append(args, a...)
	}
	if len(parts) == 0 {
		return "", nil
	}
	sql := strings.Join(parts, " "+n.Connector+" ")
	if n.Negated {
		sql = "NOT (" + sql + ")"
	}
	return sql, args
}

// ContainsAggregate checks every child.
func (n *WhereNode) ContainsAggregate() bool { return anyAggregate(n.Children) }

func (n *WhereNode) children() []Expression { return n.Children }

func (n *WhereNode) withChildren(k []Expression) Expression {
	return &WhereNode{Connector: n.Connector, Negated: n.Negated, Children: k}
}

// splitHaving separates the conditions of e that must run after grouping.
// AND branches are split child by child; any other node containing an
// aggregate moves to HAVING whole.
func splitHaving(e Expression) (where, having []Expression) {
	if !e.ContainsAggregate() {
		return []Expression{e}, nil
	}
	n, ok := e.(*WhereNode)
	if !ok || n.Negated || n.Connector != ConnAnd {
		return nil, []Expression{e}
	}
	for _, c := range n.Children {
		w, h := splitHaving(c)
		where = append(where, w...)
		having = append(having, h...)
	}
	return where, having
}
