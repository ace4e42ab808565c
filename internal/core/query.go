package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/coregx/queryprops/internal/dialects"
)

// Extension overlays behavior on a Query. When a query has an extension, the
// hookable entry points below call it instead of the native implementation;
// the extension delegates back through the Native* methods. Clone re-applies
// the extension to the copy through CloneFor.
type Extension interface {
	BuildFilter(q *Query, path string, value any) (Expression, error)
	ResolveRef(q *Query, name string, summarize bool) (Expression, error)
	AddOrdering(q *Query, fields ...string) error
	SetValues(q *Query, fields ...string) error
	GetAggregation(ctx context.Context, q *Query, exec Executor, aggregates map[string]Expression) (map[string]any, error)
	GetCompiler(q *Query, d dialects.Dialect, mode RowMode) *Compiler
	CloneFor(q *Query) Extension
}

// Join is one joined table of a query.
type Join struct {
	Alias        string
	Table        string
	ParentAlias  string
	ParentColumn string
	Column       string
	Outer        bool
	path         string
}

// NamedExpr is a select column with its output name.
type NamedExpr struct {
	Name string
	Expr Expression
}

// Query is the model-aware query state: joins, conditions, annotations,
// grouping, ordering, selected values and slicing. It is not safe for
// concurrent mutation; chained operations work on clones.
type Query struct {
	Model     *Model
	Extension Extension

	baseAlias   string
	aliasPrefix string
	tableAlias  bool
	aliases     map[string]bool
	joins       []*Join
	joinPaths   map[string]*Join

	// Depth of OR or negated branches while a filter tree is built. Joins
	// made inside them are outer, and negated lookups also match NULL.
	promoting int
	negating  int

	where []Expression

	annotationNames []string
	annotations     map[string]Expression
	mask            map[string]bool // nil selects every annotation

	groupBy    []Expression
	groupByAll bool

	ordering []OrderBy

	defaultCols bool
	valuesMode  bool
	values      []string
	selects     []NamedExpr

	distinct bool
	offset   int
	limit    int
}

// NewQuery returns a query selecting every column of m.
func NewQuery(m *Model) *Query {
	return &Query{
		Model:       m,
		baseAlias:   m.Table,
		aliasPrefix: "T",
		tableAlias:  true,
		aliases:     map[string]bool{m.Table: true},
		joinPaths:   make(map[string]*Join),
		annotations: make(map[string]Expression),
		defaultCols: true,
		limit:       -1,
	}
}

// Clone returns an independent copy, re-applying the extension.
func (q *Query) Clone() *Query {
	c := *q
	c.aliases = make(map[string]bool, len(q.aliases))
	for a := range q.aliases {
		c.aliases[a] = true
	}
	c.joins = make([]*Join, len(q.joins))
	c.joinPaths = make(map[string]*Join, len(q.joinPaths))
	for i, j := range q.joins {
		jj := *j
		c.joins[i] = &jj
		c.joinPaths[jj.path] = &jj
	}
	c.where = append([]Expression(nil), q.where...)
	c.annotationNames = append([]string(nil), q.annotationNames...)
	c.annotations = make(map[string]Expression, len(q.annotations))
	for k, v := range q.annotations {
		c.annotations[k] = v
	}
	if q.mask != nil {
		c.mask = make(map[string]bool, len(q.mask))
		for k := range q.mask {
			c.mask[k] = true
		}
	}
	c.groupBy = append([]Expression(nil), q.groupBy...)
	c.ordering = append([]OrderBy(nil), q.ordering...)
	c.values = append([]string(nil), q.values...)
	c.selects = append([]NamedExpr(nil), q.selects...)
	if q.Extension != nil {
		c.Extension = q.Extension.CloneFor(&c)
	}
	return &c
}

// BaseAlias returns the alias of the model's table.
func (q *Query) BaseAlias() string { return q.baseAlias }

// Joins returns the joined tables in join order.
func (q *Query) Joins() []*Join { return q.joins }

// =============================================================================
// Hookable entry points
// =============================================================================

// BuildFilter builds the condition for one path/value pair.
func (q *Query) BuildFilter(path string, value any) (Expression, error) {
	if q.Extension != nil {
		return q.Extension.BuildFilter(q, path, value)
	}
	return q.NativeBuildFilter(path, value)
}

// ResolveRef resolves a name used inside an expression.
func (q *Query) ResolveRef(name string, summarize bool) (Expression, error) {
	if q.Extension != nil {
		return q.Extension.ResolveRef(q, name, summarize)
	}
	return q.NativeResolveRef(name, summarize)
}

// AddOrdering appends ORDER BY terms given as field names, "-" meaning descending.
func (q *Query) AddOrdering(fields ...string) error {
	if q.Extension != nil {
		return q.Extension.AddOrdering(q, fields...)
	}
	return q.NativeAddOrdering(fields...)
}

// SetValues turns q into a values query selecting fields.
func (q *Query) SetValues(fields ...string) error {
	if q.Extension != nil {
		return q.Extension.SetValues(q, fields...)
	}
	return q.NativeSetValues(fields...)
}

// GetAggregation runs the resolved aggregates over q and returns them by alias.
func (q *Query) GetAggregation(ctx context.Context, exec Executor, aggregates map[string]Expression) (map[string]any, error) {
	if q.Extension != nil {
		return q.Extension.GetAggregation(ctx, q, exec, aggregates)
	}
	return q.NativeGetAggregation(ctx, exec, aggregates)
}

// GetCompiler returns a compiler for one execution of q.
func (q *Query) GetCompiler(d dialects.Dialect, mode RowMode) *Compiler {
	if q.Extension != nil {
		return q.Extension.GetCompiler(q, d, mode)
	}
	return q.NativeGetCompiler(d, mode)
}

// =============================================================================
// Filters
// =============================================================================

// BuildQ combines the conditions of a filter tree, building every leaf
// through BuildFilter.
func (q *Query) BuildQ(tree *Q) (Expression, error) {
	node := &WhereNode{Connector: tree.Connector, Negated: tree.Negated}
	if node.Connector == "" {
		node.Connector = ConnAnd
	}
	if tree.Negated || (node.Connector == ConnOr && len(tree.Children) > 1) {
		q.promoting++
		defer func() { q.promoting-- }()
	}
	if tree.Negated {
		q.negating++
		defer func() { q.negating-- }()
	}
	for _, child := range tree.Children {
		var (
			e   Expression
			err error
		)
		switch c := child.(type) {
		case *Q:
			e, err = q.BuildQ(c)
		case Condition:
			e, err = q.BuildFilter(c.Path, c.Value)
		default:
			err = fmt.Errorf("%w: unexpected filter node %T", ErrInvalidLookup, child)
		}
		if err != nil {
			return nil, err
		}
		if e != nil {
			node.Children = append(node.Children, e)
		}
	}
	return node, nil
}

// AddQ adds a filter tree to the query's conditions.
func (q *Query) AddQ(tree *Q) error {
	if tree == nil || tree.Empty() {
		return nil
	}
	e, err := q.BuildQ(tree)
	if err != nil {
		return err
	}
	q.where = append(q.where, e)
	return nil
}

// NativeBuildFilter resolves path against annotations, then fields and
// relations, and builds the lookup condition. Annotation aliases may contain
// the separator themselves, so the longest matching alias wins.
func (q *Query) NativeBuildFilter(path string, value any) (Expression, error) {
	parts := strings.Split(path, LookupSep)
	var (
		lhs  Expression
		rest []string
	)
	for n := len(parts); n > 0 && lhs == nil; n-- {
		if e, ok := q.annotations[strings.Join(parts[:n], LookupSep)]; ok {
			lhs, rest = e, parts[n:]
		}
	}
	if lhs == nil {
		var err error
		if lhs, rest, err = q.setupJoins(parts, false); err != nil {
			return nil, err
		}
	}
	op := "exact"
	switch len(rest) {
	case 0:
	case 1:
		op = rest[0]
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidLookup, path)
	}
	if e, ok := value.(Expression); ok {
		resolved, err := e.Resolve(q, false)
		if err != nil {
			return nil, err
		}
		value = resolved
	}
	lookup, err := newLookup(lhs, op, value)
	if err != nil {
		return nil, err
	}
	return q.nullSafe(lookup), nil
}

// nullSafe makes a lookup built under a negation reject NULL operands, so
// the negated condition keeps rows whose column or outer join is NULL.
func (q *Query) nullSafe(l *LookupExp) Expression {
	if q.negating == 0 || l.Op == "isnull" || l.Op == "notnull" || l.LHS.ContainsAggregate() {
		return l
	}
	return &WhereNode{Connector: ConnAnd, Children: []Expression{l, &LookupExp{Op: "notnull", LHS: l.LHS}}}
}

// HasFilters reports whether q has any condition.
func (q *Query) HasFilters() bool { return len(q.where) > 0 }

// =============================================================================
// Name resolution and joins
// =============================================================================

// NativeResolveRef resolves an annotation alias or a field path. Reverse
// relations resolve to the related primary key, forward ones to the local
// foreign key column.
func (q *Query) NativeResolveRef(name string, summarize bool) (Expression, error) {
	if e, ok := q.annotations[name]; ok {
		if summarize {
			return &Ref{Name: name, Source: e}, nil
		}
		return e, nil
	}
	col, rest, err := q.setupJoins(strings.Split(name, LookupSep), true)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, &FieldError{Model: q.Model.Name, Name: name}
	}
	return col, nil
}

// setupJoins walks parts over fields and relations, joining tables as needed.
// It returns the column for the final field and any trailing lookup segments.
// Reverse relations are outer joined when reverseOuter is set, and every
// relation is while an OR or negated branch is built.
func (q *Query) setupJoins(parts []string, reverseOuter bool) (Expression, []string, error) {
	model, alias := q.Model, q.baseAlias
	var parent *Join
	for i, name := range parts {
		if f, ok := model.Field(name); ok {
			return &Col{Alias: alias, Column: f.Column}, parts[i+1:], nil
		}
		rel, ok := model.Relation(name)
		if !ok {
			return nil, nil, &FieldError{Model: model.Name, Name: name, Choices: model.choices()}
		}
		rest := parts[i+1:]
		last := len(rest) == 0 || IsLookup(rest[0])
		if !rel.Reverse && (last || rest[0] == "pk" || rest[0] == rel.Target.PK().Name) {
			if !last {
				rest = rest[1:]
			}
			return &Col{Alias: alias, Column: rel.Column}, rest, nil
		}
		outer := (rel.Reverse && reverseOuter) || q.promoting > 0
		j := q.join(strings.Join(parts[:i+1], LookupSep), rel, alias, outer, parent)
		if last {
			return &Col{Alias: j.Alias, Column: rel.Target.PK().Column}, rest, nil
		}
		model, alias, parent = rel.Target, j.Alias, j
	}
	return nil, nil, &FieldError{Model: model.Name, Name: strings.Join(parts, LookupSep)}
}

// join returns the join for a relation path, creating it on first use. An
// outer request promotes an existing inner join, and joins below an outer
// join are outer as well.
func (q *Query) join(path string, rel *Relation, parentAlias string, outer bool, parent *Join) *Join {
	outer = outer || (parent != nil && parent.Outer)
	if j, ok := q.joinPaths[path]; ok {
		if outer {
			q.promote(j)
		}
		return j
	}
	j := &Join{
		Alias:       q.newAlias(rel.Target.Table),
		Table:       rel.Target.Table,
		ParentAlias: parentAlias,
		Outer:       outer,
		path:        path,
	}
	if rel.Reverse {
		j.ParentColumn, j.Column = rel.Model.PK().Column, rel.Column
	} else {
		j.ParentColumn, j.Column = rel.Column, rel.Target.PK().Column
	}
	q.joins = append(q.joins, j)
	q.joinPaths[path] = j
	return j
}

// promote makes j and every join below it outer.
func (q *Query) promote(j *Join) {
	if j.Outer {
		return
	}
	j.Outer = true
	for _, c := range q.joins {
		if c.ParentAlias == j.Alias {
			q.promote(c)
		}
	}
}

func (q *Query) newAlias(table string) string {
	alias := table
	if !q.tableAlias || q.aliases[alias] {
		alias = fmt.Sprintf("%s%d", q.aliasPrefix, len(q.aliases)+1)
		if !q.tableAlias {
			alias = fmt.Sprintf("%s%d", q.aliasPrefix, len(q.aliases))
		}
	}
	q.aliases[alias] = true
	return alias
}

// nextAliasPrefix picks the alias prefix for a subquery embedded in q.
func (q *Query) nextAliasPrefix() string { return nextPrefix(q.aliasPrefix) }

func nextPrefix(p string) string {
	if p == "" || p[0] >= 'Z' {
		return "A" + p
	}
	return string(rune(p[0]+1)) + p[1:]
}

// relabeled returns a clone whose table aliases are prefix0, prefix1, ... so
// it can be embedded in another query.
func (q *Query) relabeled(prefix string) *Query {
	return q.relabeledWith(prefix, nil)
}

// relabeledWith relabels q to prefix and additionally renames the aliases in
// outer, which belong to an enclosing query being relabeled at the same time.
// Nested subqueries move on to the next prefix so they never share aliases
// with q.
func (q *Query) relabeledWith(prefix string, outer map[string]string) *Query {
	c := q.Clone()
	own := map[string]string{q.baseAlias: prefix + "0"}
	for i, j := range q.joins {
		own[j.Alias] = fmt.Sprintf("%s%d", prefix, i+1)
	}
	mapping := make(map[string]string, len(outer)+len(own))
	for from, to := range outer {
		mapping[from] = to
	}
	for from, to := range own {
		mapping[from] = to
	}

	c.baseAlias = own[q.baseAlias]
	c.aliases = make(map[string]bool, len(own))
	for _, a := range own {
		c.aliases[a] = true
	}
	for _, j := range c.joins {
		j.Alias, j.ParentAlias = own[j.Alias], own[j.ParentAlias]
	}
	c.aliasPrefix, c.tableAlias = prefix, false
	// Relabeling only renames nodes, which cannot fail.
	_ = c.rewrite(func(e Expression) (Expression, bool, error) {
		switch x := e.(type) {
		case *Col:
			if to, ok := mapping[x.Alias]; ok {
				return &Col{Alias: to, Column: x.Column}, true, nil
			}
			return x, true, nil
		case *SubqueryExp:
			return &SubqueryExp{Query: x.Query.relabeledWith(nextPrefix(prefix), mapping)}, true, nil
		}
		return e, false, nil
	})
	return c
}

// rewrite applies fn to every expression held by q.
func (q *Query) rewrite(fn func(Expression) (Expression, bool, error)) error {
	var err error
	apply := func(e Expression) Expression {
		if err != nil || e == nil {
			return e
		}
		var out Expression
		out, err = transform(e, fn)
		return out
	}
	for i := range q.where {
		q.where[i] = apply(q.where[i])
	}
	for _, name := range q.annotationNames {
		q.annotations[name] = apply(q.annotations[name])
	}
	for i := range q.groupBy {
		q.groupBy[i] = apply(q.groupBy[i])
	}
	for i := range q.ordering {
		q.ordering[i].Expr = apply(q.ordering[i].Expr)
	}
	for i := range q.selects {
		q.selects[i].Expr = apply(q.selects[i].Expr)
	}
	return err
}

// =============================================================================
// Annotations
// =============================================================================

// AddAnnotation resolves expr and registers it under alias. Unselected
// annotations are available to filters and ordering but not returned.
func (q *Query) AddAnnotation(expr Expression, alias string, selected bool) error {
	resolved, err := expr.Resolve(q, false)
	if err != nil {
		return err
	}
	if _, exists := q.annotations[alias]; !exists {
		q.annotationNames = append(q.annotationNames, alias)
	}
	q.annotations[alias] = resolved
	if selected {
		q.AppendAnnotationMask(alias)
		return nil
	}
	if q.mask == nil {
		q.mask = make(map[string]bool, len(q.annotationNames))
		for _, name := range q.annotationNames {
			q.mask[name] = true
		}
	}
	delete(q.mask, alias)
	return nil
}

// RemoveAnnotation drops an annotation. Conditions and orderings that
// already inlined it are unaffected.
func (q *Query) RemoveAnnotation(alias string) {
	if _, ok := q.annotations[alias]; !ok {
		return
	}
	delete(q.annotations, alias)
	delete(q.mask, alias)
	for i, name := range q.annotationNames {
		if name == alias {
			q.annotationNames = append(q.annotationNames[:i:i], q.annotationNames[i+1:]...)
			break
		}
	}
}

// Annotation returns the resolved expression registered under alias.
func (q *Query) Annotation(alias string) (Expression, bool) {
	e, ok := q.annotations[alias]
	return e, ok
}

// AnnotationNames returns every annotation alias in registration order.
func (q *Query) AnnotationNames() []string {
	return append([]string(nil), q.annotationNames...)
}

// AnnotationSelected reports whether alias is registered and selected.
func (q *Query) AnnotationSelected(alias string) bool {
	if _, ok := q.annotations[alias]; !ok {
		return false
	}
	return q.mask == nil || q.mask[alias]
}

// SelectedAnnotations returns the selected aliases in registration order.
func (q *Query) SelectedAnnotations() []string {
	var out []string
	for _, name := range q.annotationNames {
		if q.AnnotationSelected(name) {
			out = append(out, name)
		}
	}
	return out
}

// AppendAnnotationMask selects more annotations.
func (q *Query) AppendAnnotationMask(aliases ...string) {
	if q.mask == nil {
		return
	}
	for _, a := range aliases {
		q.mask[a] = true
	}
}

// SetAnnotationMask selects exactly aliases. A nil slice selects everything.
func (q *Query) SetAnnotationMask(aliases []string) {
	if aliases == nil {
		q.mask = nil
		return
	}
	q.mask = make(map[string]bool, len(aliases))
	for _, a := range aliases {
		q.mask[a] = true
	}
}

// =============================================================================
// Grouping
// =============================================================================

// SetGroupByAll groups by every column of the model's table.
func (q *Query) SetGroupByAll() {
	q.groupByAll = true
	q.groupBy = nil
}

// SetGroupBy groups by what is currently selected: the model's columns (or
// the selected values) and the selected non-aggregate annotations.
func (q *Query) SetGroupBy() {
	var cols []Expression
	if q.defaultCols {
		cols = append(cols, q.baseColumns()...)
	}
	for _, s := range q.selects {
		cols = append(cols, s.Expr)
	}
	for _, name := range q.SelectedAnnotations() {
		if e := q.annotations[name]; !e.ContainsAggregate() {
			cols = append(cols, e)
		}
	}
	q.groupByAll = false
	q.groupBy = cols
}

// GroupByAll reports whether q groups by every column of its table.
func (q *Query) GroupByAll() bool { return q.groupByAll }

// GroupBy returns the explicit GROUP BY expressions.
func (q *Query) GroupBy() []Expression { return q.groupBy }

// Grouped reports whether q has any GROUP BY.
func (q *Query) Grouped() bool { return q.groupByAll || q.groupBy != nil }

func (q *Query) baseColumns() []Expression {
	cols := make([]Expression, 0, len(q.Model.Fields()))
	for _, f := range q.Model.Fields() {
		cols = append(cols, &Col{Alias: q.baseAlias, Column: f.Column})
	}
	return cols
}

// =============================================================================
// Ordering, values, slicing
// =============================================================================

// NativeAddOrdering orders by annotation aliases or field paths.
func (q *Query) NativeAddOrdering(fields ...string) error {
	for _, field := range fields {
		desc := strings.HasPrefix(field, "-")
		name := strings.TrimPrefix(field, "-")
		if e, ok := q.annotations[name]; ok {
			q.ordering = append(q.ordering, OrderBy{Expr: e, Desc: desc})
			continue
		}
		col, rest, err := q.setupJoins(strings.Split(name, LookupSep), true)
		if err != nil {
			return err
		}
		if len(rest) > 0 {
			return &FieldError{Model: q.Model.Name, Name: name}
		}
		q.ordering = append(q.ordering, OrderBy{Expr: col, Desc: desc})
	}
	return nil
}

// AddOrderingExpr orders by arbitrary expressions, resolving them first.
func (q *Query) AddOrderingExpr(terms ...OrderBy) error {
	for _, t := range terms {
		e, err := t.Expr.Resolve(q, false)
		if err != nil {
			return err
		}
		q.ordering = append(q.ordering, OrderBy{Expr: e, Desc: t.Desc})
	}
	return nil
}

// ClearOrdering removes every ORDER BY term.
func (q *Query) ClearOrdering() { q.ordering = nil }

// Ordering returns the ORDER BY terms.
func (q *Query) Ordering() []OrderBy { return q.ordering }

// NativeSetValues selects fields instead of model rows. Names that are
// annotation aliases select the annotation; every other annotation is
// deselected. With no fields, every column is selected.
func (q *Query) NativeSetValues(fields ...string) error {
	if q.groupByAll {
		q.groupBy = append(q.baseColumns(), q.nonAggregateSelected()...)
		q.groupByAll = false
	}
	if len(fields) == 0 {
		for _, f := range q.Model.Fields() {
			fields = append(fields, f.Name)
		}
		fields = append(fields, q.SelectedAnnotations()...)
	}
	var (
		selects     []NamedExpr
		annotations = []string{}
	)
	for _, name := range fields {
		if _, ok := q.annotations[name]; ok {
			annotations = append(annotations, name)
			continue
		}
		col, rest, err := q.setupJoins(strings.Split(name, LookupSep), true)
		if err != nil {
			return err
		}
		if len(rest) > 0 {
			return &FieldError{Model: q.Model.Name, Name: name}
		}
		selects = append(selects, NamedExpr{Name: name, Expr: col})
	}
	q.defaultCols = false
	q.valuesMode = true
	q.values = fields
	q.selects = selects
	q.SetAnnotationMask(annotations)
	return nil
}

func (q *Query) nonAggregateSelected() []Expression {
	var out []Expression
	for _, name := range q.SelectedAnnotations() {
		if e := q.annotations[name]; !e.ContainsAggregate() {
			out = append(out, e)
		}
	}
	return out
}

// IsValues reports whether q selects values rather than model rows.
func (q *Query) IsValues() bool { return q.valuesMode }

// Values returns the field names of a values query in request order.
func (q *Query) Values() []string { return q.values }

// SetDistinct toggles SELECT DISTINCT.
func (q *Query) SetDistinct(on bool) { q.distinct = on }

// SetLimits restricts the rows returned. A negative limit means none.
func (q *Query) SetLimits(offset, limit int) {
	q.offset, q.limit = offset, limit
}

// Limits returns the offset and limit. A negative limit means none.
func (q *Query) Limits() (offset, limit int) { return q.offset, q.limit }

// IsSliced reports whether a limit or offset applies.
func (q *Query) IsSliced() bool { return q.offset > 0 || q.limit >= 0 }
