package core

import "sort"

// Connectors of a filter tree.
const (
	ConnAnd = "AND"
	ConnOr  = "OR"
)

// Condition is a leaf of a filter tree: a lookup path and its value.
type Condition struct {
	Path  string
	Value any
}

// Q is a filter tree. Leaves are conditions such as Cond("major__gt", 1);
// inner nodes combine children with AND or OR and may be negated.
//
// Q values are immutable; the combinators return new trees.
type Q struct {
	Connector string
	Negated   bool
	Children  []any // *Q or Condition
}

// Cond builds a single-condition tree. The path may traverse relations and
// end with a lookup: "application__name__icontains".
func Cond(path string, value any) *Q {
	return &Q{Connector: ConnAnd, Children: []any{Condition{Path: path, Value: value}}}
}

// Match ANDs one condition per map entry, in key order.
func Match(conds map[string]any) *Q {
	keys := make([]string, 0, len(conds))
	for k := range conds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	q := &Q{Connector: ConnAnd}
	for _, k := range keys {
		q.Children = append(q.Children, Condition{Path: k, Value: conds[k]})
	}
	return q
}

func combineQ(conn string, qs []*Q) *Q {
	out := &Q{Connector: conn}
	for _, q := range qs {
		if q == nil || q.Empty() {
			continue
		}
		if q.Connector == conn && !q.Negated {
			out.Children = append(out.Children, q.Children...)
			continue
		}
		out.Children = append(out.Children, q)
	}
	return out
}

// And requires every tree to match.
func And(qs ...*Q) *Q { return combineQ(ConnAnd, qs) }

// Or requires any tree to match.
func Or(qs ...*Q) *Q { return combineQ(ConnOr, qs) }

// Not negates q.
func Not(q *Q) *Q {
	return &Q{Connector: ConnAnd, Negated: true, Children: []any{q}}
}

// And is shorthand for And(q, other).
func (q *Q) And(other *Q) *Q { return And(q, other) }

// Or is shorthand for Or(q, other).
func (q *Q) Or(other *Q) *Q { return Or(q, other) }

// Empty reports whether q has no conditions.
func (q *Q) Empty() bool { return len(q.Children) == 0 }
