package props

import (
	"context"
	"fmt"
	"strings"

	"github.com/coregx/queryprops/internal/core"
	"github.com/coregx/queryprops/internal/dialects"
	"github.com/coregx/queryprops/internal/logger"
)

// Query is the property state of one core.Query. It implements
// core.Extension: filters, references, ordering and values that name
// properties are rewritten into annotations, everything else is passed
// to the native implementation.
type Query struct {
	query *core.Query
	log   logger.Logger

	// annotated records the properties annotated through this state and
	// whether their annotation is selected.
	annotated map[Reference]bool
	// stack holds the properties whose filter or annotation is being built.
	stack []Reference
	// useMarker makes the next compiler mark its rows.
	useMarker bool
}

var _ core.Extension = (*Query)(nil)

// Extend attaches a fresh property state to q and returns it.
func Extend(q *core.Query, l logger.Logger) *Query {
	s := &Query{query: q, log: logger.OrNoop(l), annotated: make(map[Reference]bool)}
	q.Extension = s
	return s
}

// State returns the property state of q, or nil.
func State(q *core.Query) *Query {
	s, _ := q.Extension.(*Query)
	return s
}

// CloneFor copies the state for a cloned query. The stack is not copied.
func (s *Query) CloneFor(q *core.Query) core.Extension {
	c := &Query{
		query:     q,
		log:       s.log,
		annotated: make(map[Reference]bool, len(s.annotated)),
		useMarker: s.useMarker,
	}
	for ref, selected := range s.annotated {
		c.annotated[ref] = selected
	}
	return c
}

// Annotated reports whether ref was annotated through this state and whether
// the annotation is selected.
func (s *Query) Annotated(ref Reference) (selected, ok bool) {
	selected, ok = s.annotated[ref]
	return selected, ok
}

// Stack returns the properties currently being filtered on or annotated,
// innermost last.
func (s *Query) Stack() []Reference { return append([]Reference(nil), s.stack...) }

// SetMarker makes the next compiler mark the rows it produces.
func (s *Query) SetMarker(on bool) { s.useMarker = on }

// UsesMarker reports whether the next compiler marks its rows.
func (s *Query) UsesMarker() bool { return s.useMarker }

func (s *Query) push(ref Reference) (func(), error) {
	for _, r := range s.stack {
		if r == ref {
			return nil, fmt.Errorf("%w: %s.%s", ErrCircularDependency, ref.Model.Name, ref.FullPath())
		}
	}
	s.stack = append(s.stack, ref)
	return func() { s.stack = s.stack[:len(s.stack)-1] }, nil
}

func (s *Query) top() (Reference, bool) {
	if len(s.stack) == 0 {
		return Reference{}, false
	}
	return s.stack[len(s.stack)-1], true
}

// relative makes a path written against the model of the property being
// built relative to the query's model.
func (s *Query) relative(path string) string {
	if top, ok := s.top(); ok {
		return top.prefix(path)
	}
	return path
}

func (s *Query) resolve(path string) (*Reference, []string) {
	return resolveParts(s.query.Model, strings.Split(path, core.LookupSep))
}

// BuildFilter builds a condition. Conditions on properties are replaced by
// the property's filter tree, built with the property on the stack so that
// its paths are taken relative to the property's model.
func (s *Query) BuildFilter(q *core.Query, path string, value any) (core.Expression, error) {
	path = s.relative(path)
	ref, rest := s.resolve(path)
	if ref == nil {
		return q.NativeBuildFilter(path, value)
	}
	if top, ok := s.top(); ok && top == *ref {
		// The property filters on its own annotation.
		if _, annotated := s.annotated[*ref]; annotated {
			return q.NativeBuildFilter(path, value)
		}
		return nil, fmt.Errorf("%w: %s filters on itself without an annotation", ErrCircularDependency, ref.FullPath())
	}

	f, ok := ref.Property.(Filterer)
	if !ok {
		return nil, missing(*ref, CapFilter)
	}
	if f.FilterRequiresAnnotation() {
		if _, err := s.EnsureAnnotated(*ref, false, false); err != nil {
			return nil, err
		}
	}
	lookup := "exact"
	if len(rest) > 0 {
		lookup = strings.Join(rest, core.LookupSep)
	}
	tree, err := f.GetFilter(ref.Model, lookup, value)
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", path, err)
	}

	pop, err := s.push(*ref)
	if err != nil {
		return nil, err
	}
	defer pop()
	return q.BuildQ(tree)
}

// ResolveRef resolves a name used in an expression. A name ending at a
// property resolves to the property's annotation, added unselected if
// needed. When summarizing, the annotation is referenced by alias.
func (s *Query) ResolveRef(q *core.Query, name string, summarize bool) (core.Expression, error) {
	name = s.relative(name)
	ref, rest := s.resolve(name)
	if ref == nil || len(rest) > 0 {
		return q.NativeResolveRef(name, summarize)
	}
	expr, err := s.EnsureAnnotated(*ref, false, false)
	if err != nil {
		return nil, err
	}
	if summarize {
		return &core.Ref{Name: ref.FullPath(), Source: expr}, nil
	}
	return expr, nil
}

// AddOrdering orders by fields. Properties are annotated unselected and
// ordered by alias.
func (s *Query) AddOrdering(q *core.Query, fields ...string) error {
	for _, field := range fields {
		name := strings.TrimPrefix(field, "-")
		ref, rest := s.resolve(name)
		if ref != nil && len(rest) == 0 {
			if _, err := s.EnsureAnnotated(*ref, false, false); err != nil {
				return err
			}
		}
		if err := q.NativeAddOrdering(field); err != nil {
			return err
		}
	}
	return nil
}

// SetValues selects fields. Properties are annotated selected with a full
// GROUP BY so aggregate properties yield one row per object.
func (s *Query) SetValues(q *core.Query, fields ...string) error {
	for _, field := range fields {
		ref, rest := s.resolve(field)
		if ref == nil || len(rest) > 0 {
			continue
		}
		if _, err := s.EnsureAnnotated(*ref, true, true); err != nil {
			return err
		}
	}
	if err := q.NativeSetValues(fields...); err != nil {
		return err
	}
	// Values replaces the annotation mask.
	for ref := range s.annotated {
		s.annotated[ref] = q.AnnotationSelected(ref.FullPath())
	}
	return nil
}

// SelectProperties annotates the named properties of the query's model and
// selects them.
func (s *Query) SelectProperties(names ...string) error {
	for _, name := range names {
		p, err := Get(s.query.Model, name)
		if err != nil {
			return err
		}
		if _, err := s.EnsureAnnotated(Reference{Property: p, Model: s.query.Model}, false, true); err != nil {
			return err
		}
	}
	return nil
}

// selectedAliases returns the aliases of the selected annotations of the
// query model's own properties.
func (s *Query) selectedAliases(q *core.Query) []string {
	var aliases []string
	for ref, selected := range s.annotated {
		if selected && ref.Relation == "" && q.AnnotationSelected(ref.FullPath()) {
			aliases = append(aliases, ref.FullPath())
		}
	}
	return aliases
}

// forget drops the record of the property annotated under alias, after the
// annotation was replaced.
func (s *Query) forget(alias string) {
	for ref := range s.annotated {
		if ref.FullPath() == alias {
			delete(s.annotated, ref)
		}
	}
}

// GetAggregation computes aggregates. Property annotations stay available
// to the aggregates while the query is wrapped.
func (s *Query) GetAggregation(ctx context.Context, q *core.Query, exec core.Executor, aggregates map[string]core.Expression) (map[string]any, error) {
	var aliases []string
	for ref := range s.annotated {
		if _, ok := q.Annotation(ref.FullPath()); ok {
			aliases = append(aliases, ref.FullPath())
		}
	}
	if len(aliases) > 0 {
		q.AppendAnnotationMask(aliases...)
		s.log.Debug("select queryable property annotations for aggregation", "model", q.Model.Name, "aliases", aliases)
	}
	return q.NativeGetAggregation(ctx, exec, aggregates)
}

// GetCompiler returns the native compiler. When the marker is set, the
// compiler marks model and named rows and the marker is consumed.
func (s *Query) GetCompiler(q *core.Query, d dialects.Dialect, mode core.RowMode) *core.Compiler {
	c := q.NativeGetCompiler(d, mode)
	if s.useMarker {
		s.useMarker = false
		if hook := MarkerHook(mode); hook != nil {
			c.AddRowHook(hook, false)
		}
		if mode == core.RowsModel {
			c.CacheValues(s.selectedAliases(q)...)
		}
	}
	return c
}
