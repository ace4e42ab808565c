// Package props makes computed model properties usable in queries. A
// property is a Go value registered on a model; the capabilities it
// implements decide whether it can be read on instances, filtered on,
// annotated, ordered by, aggregated or bulk updated.
//
// The package overlays core.Query through core.Extension: references to
// properties in filters, expressions, ordering and values are resolved to
// annotations that are injected into the query on demand.
package props

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/coregx/queryprops/internal/core"
)

// Capability names used in PropertyError.
const (
	CapGetter     = "getter"
	CapFilter     = "filter"
	CapAnnotation = "annotation"
	CapUpdate     = "update"
)

var (
	// ErrPropertyNotFound is returned when a model has no property of the given name.
	ErrPropertyNotFound = errors.New("queryable property not found")

	// ErrMissingCapability is returned when a property is used in a way it does not implement.
	ErrMissingCapability = errors.New("queryable property lacks capability")

	// ErrCircularDependency is returned when properties depend on each other
	// while being filtered on or annotated.
	ErrCircularDependency = errors.New("circular queryable property dependency")

	// ErrConflictingValues is returned when an update assigns a field two
	// different values.
	ErrConflictingValues = errors.New("conflicting update values")
)

// PropertyError reports a missing capability of a property.
type PropertyError struct {
	Model      string
	Property   string
	Capability string
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("queryable property %s.%s does not implement %s", e.Model, e.Property, e.Capability)
}

// Unwrap returns ErrMissingCapability.
func (e *PropertyError) Unwrap() error { return ErrMissingCapability }

func missing(ref Reference, capability string) error {
	return &PropertyError{Model: ref.Model.Name, Property: ref.Property.Name(), Capability: capability}
}

// Property is a named computed attribute of a model. Implementations should
// be pointer types; references to them are compared and used as map keys.
type Property interface {
	Name() string
}

// Getter computes the property for one instance.
type Getter interface {
	Property
	GetValue(ctx context.Context, inst *core.Instance) (any, error)
}

// Filterer turns a lookup on the property into a filter tree over the
// model's fields. Paths in the tree are relative to model.
type Filterer interface {
	Property
	GetFilter(model *core.Model, lookup string, value any) (*core.Q, error)
	// FilterRequiresAnnotation reports whether the tree refers to the
	// property's own annotation, which is then added first.
	FilterRequiresAnnotation() bool
}

// Annotater expresses the property in SQL.
type Annotater interface {
	Property
	GetAnnotation(model *core.Model) (core.Expression, error)
}

// Updater maps a value of the property to field assignments. The returned
// names may themselves be properties.
type Updater interface {
	Property
	GetUpdateValues(model *core.Model, value any) (map[string]any, error)
}

// AnnotationFilter filters on the property's own annotation. Properties that
// implement Annotater can return it from GetFilter together with
// FilterRequiresAnnotation returning true.
func AnnotationFilter(p Property, lookup string, value any) *core.Q {
	return core.Cond(p.Name()+core.LookupSep+lookup, value)
}

// Register attaches properties to m. Names must not collide with fields or
// relations of m.
func Register(m *core.Model, props ...Property) error {
	for _, p := range props {
		name := p.Name()
		if name == "" {
			return fmt.Errorf("register on %s: property has no name", m.Name)
		}
		if _, ok := m.Field(name); ok {
			return fmt.Errorf("register %s.%s: name is a field", m.Name, name)
		}
		if _, ok := m.Relation(name); ok {
			return fmt.Errorf("register %s.%s: name is a relation", m.Name, name)
		}
		if !reflect.TypeOf(p).Comparable() {
			return fmt.Errorf("register %s.%s: %T is not comparable", m.Name, name, p)
		}
		m.SetAttr(name, p)
	}
	return nil
}

// MustRegister is Register that panics on error, for package-level model declarations.
func MustRegister(m *core.Model, props ...Property) {
	if err := Register(m, props...); err != nil {
		panic(err)
	}
}

// Get returns the property registered on m under name.
func Get(m *core.Model, name string) (Property, error) {
	if attr, ok := m.Attr(name); ok {
		if p, ok := attr.(Property); ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrPropertyNotFound, m.Name, name)
}
