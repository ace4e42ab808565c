package props

import (
	"context"
	"fmt"
	"iter"

	"github.com/coregx/queryprops/internal/core"
	"github.com/coregx/queryprops/internal/dialects"
	"github.com/coregx/queryprops/internal/explain"
	"github.com/coregx/queryprops/internal/logger"
)

// QuerySet is a chainable, property-aware query over one model. Chain
// methods return modified copies; the receiver is never changed. The first
// error raised while building is kept and returned by the terminal call.
//
// Example:
//
//	versions, err := props.Objects(db, Version).
//		Filter(core.Cond("major_minor", "1.3")).
//		SelectProperties("version").
//		OrderBy("-version").
//		All(ctx)
type QuerySet struct {
	exec  core.Executor
	query *core.Query
	err   error
}

// Objects starts a query set over m. exec may be nil for query sets used
// only as subqueries.
func Objects(exec core.Executor, m *core.Model) *QuerySet {
	q := core.NewQuery(m)
	var l logger.Logger
	if withLogger, ok := exec.(interface{ Logger() logger.Logger }); ok {
		l = withLogger.Logger()
	}
	Extend(q, l)
	return &QuerySet{exec: exec, query: q}
}

func (qs *QuerySet) chain(fn func(q *core.Query, s *Query) error) *QuerySet {
	if qs.err != nil {
		return qs
	}
	c := &QuerySet{exec: qs.exec, query: qs.query.Clone()}
	if err := fn(c.query, State(c.query)); err != nil {
		c.err = err
	}
	return c
}

// Using returns a copy running on exec, such as a transaction.
func (qs *QuerySet) Using(exec core.Executor) *QuerySet {
	return &QuerySet{exec: exec, query: qs.query.Clone(), err: qs.err}
}

// Err returns the first error raised while building the query set.
func (qs *QuerySet) Err() error { return qs.err }

// Query returns the underlying query, for use in core.Subquery.
func (qs *QuerySet) Query() *core.Query { return qs.query }

// Filter keeps rows matching every tree.
func (qs *QuerySet) Filter(trees ...*core.Q) *QuerySet {
	return qs.chain(func(q *core.Query, _ *Query) error {
		return q.AddQ(core.And(trees...))
	})
}

// Exclude drops rows matching every tree.
func (qs *QuerySet) Exclude(trees ...*core.Q) *QuerySet {
	return qs.chain(func(q *core.Query, _ *Query) error {
		tree := core.And(trees...)
		if tree.Empty() {
			return nil
		}
		return q.AddQ(core.Not(tree))
	})
}

// Annotate adds a selected annotation. Aggregates group model queries by
// every column and values queries by the selected values.
func (qs *QuerySet) Annotate(alias string, expr core.Expression) *QuerySet {
	return qs.chain(func(q *core.Query, s *Query) error {
		if err := q.AddAnnotation(expr, alias, true); err != nil {
			return fmt.Errorf("annotate %s: %w", alias, err)
		}
		s.forget(alias)
		if resolved, _ := q.Annotation(alias); resolved.ContainsAggregate() {
			if q.IsValues() {
				q.SetGroupBy()
			} else {
				q.SetGroupByAll()
			}
		}
		return nil
	})
}

// SelectProperties selects the annotations of the named properties. Model
// instances loaded afterwards have the values cached.
func (qs *QuerySet) SelectProperties(names ...string) *QuerySet {
	return qs.chain(func(_ *core.Query, s *Query) error {
		return s.SelectProperties(names...)
	})
}

// OrderBy replaces the ordering. A "-" prefix orders descending.
func (qs *QuerySet) OrderBy(fields ...string) *QuerySet {
	return qs.chain(func(q *core.Query, _ *Query) error {
		q.ClearOrdering()
		return q.AddOrdering(fields...)
	})
}

// OrderByExpr replaces the ordering with expressions.
func (qs *QuerySet) OrderByExpr(terms ...core.OrderBy) *QuerySet {
	return qs.chain(func(q *core.Query, _ *Query) error {
		q.ClearOrdering()
		return q.AddOrderingExpr(terms...)
	})
}

// Values selects the named fields, annotations and properties instead of
// model rows.
func (qs *QuerySet) Values(fields ...string) *QuerySet {
	return qs.chain(func(q *core.Query, _ *Query) error {
		return q.SetValues(fields...)
	})
}

// Distinct removes duplicate rows.
func (qs *QuerySet) Distinct() *QuerySet {
	return qs.chain(func(q *core.Query, _ *Query) error {
		q.SetDistinct(true)
		return nil
	})
}

// Limit restricts the number of rows.
func (qs *QuerySet) Limit(n int) *QuerySet {
	return qs.chain(func(q *core.Query, _ *Query) error {
		offset, _ := qs.bounds()
		q.SetLimits(offset, n)
		return nil
	})
}

// Offset skips rows.
func (qs *QuerySet) Offset(n int) *QuerySet {
	return qs.chain(func(q *core.Query, _ *Query) error {
		_, limit := qs.bounds()
		q.SetLimits(n, limit)
		return nil
	})
}

func (qs *QuerySet) bounds() (offset, limit int) { return qs.query.Limits() }

func (qs *QuerySet) ready() error {
	if qs.err != nil {
		return qs.err
	}
	if qs.exec == nil {
		return core.ErrNoExecutor
	}
	return nil
}

// compiler returns a compiler over a copy of the query, with the row marker
// set for model and named rows.
func (qs *QuerySet) compiler(mode core.RowMode) *core.Compiler {
	q := qs.query.Clone()
	if mode != core.RowsValues {
		State(q).SetMarker(true)
	}
	return q.GetCompiler(qs.exec.Dialect(), mode)
}

// All loads model instances. Selected property values are cached on them.
func (qs *QuerySet) All(ctx context.Context) ([]*core.Instance, error) {
	if err := qs.ready(); err != nil {
		return nil, err
	}
	if qs.query.IsValues() {
		return nil, fmt.Errorf("all on a values query of %s: use Maps or Flat", qs.query.Model.Name)
	}
	return qs.compiler(core.RowsModel).Instances(ctx, qs.exec)
}

// Iterator yields the model instances All would return.
func (qs *QuerySet) Iterator(ctx context.Context) iter.Seq2[*core.Instance, error] {
	return func(yield func(*core.Instance, error) bool) {
		insts, err := qs.All(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, inst := range insts {
			if !yield(inst, nil) {
				return
			}
		}
	}
}

// First returns the first instance, or core.ErrNoRows.
func (qs *QuerySet) First(ctx context.Context) (*core.Instance, error) {
	insts, err := qs.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(insts) == 0 {
		return nil, core.ErrNoRows
	}
	return insts[0], nil
}

// Maps returns one map per row keyed by column name.
func (qs *QuerySet) Maps(ctx context.Context) ([]map[string]any, error) {
	if err := qs.ready(); err != nil {
		return nil, err
	}
	return qs.compiler(core.RowsNamed).Maps(ctx, qs.exec)
}

// Flat returns the values of a single-column values query.
func (qs *QuerySet) Flat(ctx context.Context) ([]any, error) {
	if err := qs.ready(); err != nil {
		return nil, err
	}
	return qs.compiler(core.RowsValues).Flat(ctx, qs.exec)
}

// Count returns the number of rows.
func (qs *QuerySet) Count(ctx context.Context) (int64, error) {
	if err := qs.ready(); err != nil {
		return 0, err
	}
	return qs.query.Clone().Count(ctx, qs.exec)
}

// Exists reports whether any row matches.
func (qs *QuerySet) Exists(ctx context.Context) (bool, error) {
	if err := qs.ready(); err != nil {
		return false, err
	}
	return qs.query.Exists(ctx, qs.exec)
}

// Aggregate computes aggregates over the matching rows. Aggregates may
// refer to properties.
func (qs *QuerySet) Aggregate(ctx context.Context, aggregates map[string]core.Expression) (map[string]any, error) {
	if err := qs.ready(); err != nil {
		return nil, err
	}
	return qs.query.Clone().GetAggregation(ctx, qs.exec, aggregates)
}

// Update assigns values to every matching row and returns the number of
// rows changed. Properties are expanded into field assignments first.
func (qs *QuerySet) Update(ctx context.Context, values map[string]any) (int64, error) {
	if err := qs.ready(); err != nil {
		return 0, err
	}
	fields, err := BuildUpdateValues(qs.query.Model, values)
	if err != nil {
		return 0, err
	}
	State(qs.query).log.Debug("update with queryable properties",
		"model", qs.query.Model.Name, "values", len(values), "fields", len(fields))
	return qs.query.Clone().Update(ctx, qs.exec, fields)
}

// Create inserts a row from values, which may name properties, and loads
// it back.
func (qs *QuerySet) Create(ctx context.Context, values map[string]any) (*core.Instance, error) {
	if err := qs.ready(); err != nil {
		return nil, err
	}
	m := qs.query.Model
	fields, err := BuildUpdateValues(m, values)
	if err != nil {
		return nil, err
	}
	id, err := core.Insert(ctx, qs.exec, m, fields)
	if err != nil {
		return nil, err
	}
	var pk any = id
	if v, ok := fields[m.PK().Name]; ok {
		pk = v
	}
	return Objects(qs.exec, m).Filter(core.Cond("pk", pk)).First(ctx)
}

// Explain asks the database how it would run the query, including the
// joins and annotations its properties added.
func (qs *QuerySet) Explain(ctx context.Context) (*explain.Plan, error) {
	if err := qs.ready(); err != nil {
		return nil, err
	}
	query, args := qs.query.Clone().GetCompiler(qs.exec.Dialect(), core.RowsModel).SQL()
	return explain.Run(ctx, qs.exec, query, args)
}

// SQL compiles the query for d without running it. Placeholders are "?".
func (qs *QuerySet) SQL(d dialects.Dialect) (string, []any, error) {
	if qs.err != nil {
		return "", nil, qs.err
	}
	query, args := qs.query.Clone().GetCompiler(d, core.RowsModel).SQL()
	return query, args, nil
}
