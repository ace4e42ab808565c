package props

import (
	"fmt"

	"github.com/coregx/queryprops/internal/core"
)

// EnsureAnnotated adds the annotation of ref to the query unless it is
// already there, and returns the resolved expression. An existing
// annotation is reused and only gets selected if selected is true.
// Aggregate annotations group the query: by every column of the model
// when fullGroupBy is set, by what is currently selected otherwise.
func (s *Query) EnsureAnnotated(ref Reference, fullGroupBy, selected bool) (core.Expression, error) {
	q := s.query
	alias := ref.FullPath()
	if wasSelected, ok := s.annotated[ref]; ok {
		if expr, present := q.Annotation(alias); present {
			if selected && (!wasSelected || !q.AnnotationSelected(alias)) {
				q.AppendAnnotationMask(alias)
				s.annotated[ref] = true
				s.log.Debug("select queryable property annotation", "model", q.Model.Name, "alias", alias)
			}
			return expr, nil
		}
	}

	a, ok := ref.Property.(Annotater)
	if !ok {
		return nil, missing(ref, CapAnnotation)
	}
	pop, err := s.push(ref)
	if err != nil {
		return nil, err
	}
	defer pop()

	expr, err := a.GetAnnotation(ref.Model)
	if err != nil {
		return nil, fmt.Errorf("annotate %s: %w", alias, err)
	}
	if err := q.AddAnnotation(expr, alias, selected); err != nil {
		return nil, fmt.Errorf("annotate %s: %w", alias, err)
	}
	s.annotated[ref] = selected
	resolved, _ := q.Annotation(alias)

	aggregate := resolved.ContainsAggregate()
	if aggregate {
		switch {
		case fullGroupBy:
			q.SetGroupByAll()
		case !q.GroupByAll():
			q.SetGroupBy()
		}
	}
	s.log.Debug("add queryable property annotation",
		"model", q.Model.Name, "alias", alias, "selected", selected, "aggregate", aggregate)
	return resolved, nil
}
