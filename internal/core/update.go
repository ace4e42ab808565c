package core

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/coregx/queryprops/internal/util"
)

// Update sets fields on every row q matches and returns the number of rows
// changed. Values may be expressions over the model's own fields. Queries
// with joins or aggregate conditions select the matching primary keys in a
// subquery; dialects that cannot read the updated table in a subquery fetch
// the keys first.
func (q *Query) Update(ctx context.Context, exec Executor, values map[string]any) (int64, error) {
	if q.IsSliced() {
		return 0, ErrSlicedUpdate
	}
	if len(values) == 0 {
		return 0, nil
	}
	d := exec.Dialect()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	scope := q.Clone()
	joins := len(scope.joins)
	sets := make([]string, 0, len(keys))
	var args []any
	for _, k := range keys {
		f, ok := q.Model.Field(k)
		if !ok {
			return 0, &FieldError{Model: q.Model.Name, Name: k, Choices: q.Model.choices()}
		}
		var value Expression = Value(values[k])
		if e, ok := values[k].(Expression); ok {
			resolved, err := e.Resolve(scope, false)
			if err != nil {
				return 0, fmt.Errorf("update %s: %w", k, err)
			}
			if len(scope.joins) > joins {
				return 0, fmt.Errorf("update %s: %w", k, ErrJoinedUpdate)
			}
			value = resolved
		}
		s, a := value.Build(d)
		sets = append(sets, d.QuoteIdentifier(f.Column)+" = "+s)
		args = append(args, a...)
	}

	var b strings.Builder
	b.WriteString("UPDATE " + d.QuoteIdentifier(q.Model.Table) + " SET " + strings.Join(sets, ", "))

	aggregateWhere := false
	for _, w := range q.where {
		if w.ContainsAggregate() {
			aggregateWhere = true
		}
	}
	switch {
	case len(q.joins) == 0 && !aggregateWhere && !q.Grouped():
		if s, a := (&WhereNode{Connector: ConnAnd, Children: q.where}).Build(d); s != "" {
			b.WriteString(" WHERE " + s)
			args = append(args, a...)
		}
	case d.SelfSubqueryUpdate():
		s, a := q.pkQuery().relabeled("U").GetCompiler(d, RowsValues).SQL()
		b.WriteString(" WHERE " + d.QuoteIdentifier(q.Model.PK().Column) + " IN (" + s + ")")
		args = append(args, a...)
	default:
		pks, err := q.pkQuery().GetCompiler(d, RowsValues).Flat(ctx, exec)
		if err != nil {
			return 0, err
		}
		if len(pks) == 0 {
			return 0, nil
		}
		b.WriteString(" WHERE " + d.QuoteIdentifier(q.Model.PK().Column) + " IN (" +
			strings.TrimSuffix(strings.Repeat("?, ", len(pks)), ", ") + ")")
		args = append(args, pks...)
	}

	res, err := exec.NewStatement(b.String(), args...).Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// pkQuery returns a clone of q selecting only the primary key.
func (q *Query) pkQuery() *Query {
	c := q.Clone()
	c.ClearOrdering()
	pk := c.Model.PK()
	c.defaultCols, c.valuesMode, c.values = false, false, nil
	c.selects = []NamedExpr{{Name: pk.Name, Expr: &Col{Alias: c.baseAlias, Column: pk.Column}}}
	c.SetAnnotationMask([]string{})
	return c
}

// Insert adds a row to m's table and returns its generated primary key, or
// zero when the key was supplied or the driver reports none.
func Insert(ctx context.Context, exec Executor, m *Model, values map[string]any) (int64, error) {
	d := exec.Dialect()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		f, ok := m.Field(k)
		if !ok {
			return 0, &FieldError{Model: m.Name, Name: k, Choices: m.choices()}
		}
		cols[i] = d.QuoteIdentifier(f.Column)
		args[i] = values[k]
	}

	var query string
	if len(cols) == 0 {
		query = "INSERT INTO " + d.QuoteIdentifier(m.Table) + " DEFAULT VALUES"
	} else {
		query = "INSERT INTO " + d.QuoteIdentifier(m.Table) + " (" + strings.Join(cols, ", ") +
			") VALUES (" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	}

	if ret := d.Returning(m.PK().Column); ret != "" {
		rows, err := exec.NewStatement(query+ret, args...).Query(ctx)
		if err != nil {
			return 0, err
		}
		defer rows.Close()
		var id any
		if rows.Next() {
			if err := rows.Scan(&id); err != nil {
				return 0, err
			}
		}
		if err := rows.Err(); err != nil {
			return 0, err
		}
		n, _ := util.ToInt64(id)
		return n, nil
	}

	res, err := exec.NewStatement(query, args...).Exec(ctx)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, nil //nolint:nilerr // drivers without LastInsertId report no generated key
	}
	return id, nil
}

// InsertStruct inserts the struct v points to, a value of m's type, and
// stores a generated key back into its primary key field.
func InsertStruct(ctx context.Context, exec Executor, m *Model, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: insert needs a pointer to struct, got %T", ErrInvalidModelType, v)
	}
	rv = rv.Elem()
	fields, err := structInfo(rv.Type())
	if err != nil {
		return err
	}
	pk := m.PK()
	values := make(map[string]any, len(fields))
	var key reflect.Value
	for _, f := range fields {
		mf, ok := m.Field(f.Column)
		if !ok {
			continue
		}
		fv := rv.FieldByIndex(f.Index)
		if mf == pk {
			key = fv
			if util.IsZeroKey(fv) {
				continue
			}
		}
		values[mf.Name] = fv.Interface()
	}
	id, err := Insert(ctx, exec, m, values)
	if err != nil {
		return err
	}
	if key.IsValid() && util.IsZeroKey(key) && id != 0 {
		return util.SetKey(key, id)
	}
	return nil
}
