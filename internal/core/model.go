package core

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/go-openapi/inflect"

	"github.com/coregx/queryprops/internal/util"
)

// LookupSep separates relation hops, field names and lookups in a path.
const LookupSep = "__"

// Field is a concrete column of a model.
type Field struct {
	Name   string
	Column string
	// Index is the struct field index path when the model was derived from a struct.
	Index []int
}

// Relation links two models through a foreign key column on the child table.
// Every foreign key is registered twice: forward on the child and reverse on
// the parent.
type Relation struct {
	Name   string
	Model  *Model
	Target *Model
	// Column is the foreign key column, always on the child table.
	Column string
	// Reverse is true for the one-to-many side.
	Reverse bool
}

// Model describes a table: its fields, relations and named attributes.
// Attributes hold application values such as queryable properties and are
// read-only once queries start running.
type Model struct {
	Name  string
	Table string

	pk        *Field
	fields    []*Field
	byName    map[string]*Field
	relations map[string]*Relation
	typ       reflect.Type

	mu    sync.RWMutex
	attrs map[string]any
	order []string
}

// NewModel returns an empty model. Fields are added with AddField.
func NewModel(name, table string) *Model {
	return &Model{
		Name:      name,
		Table:     table,
		byName:    make(map[string]*Field),
		relations: make(map[string]*Relation),
		attrs:     make(map[string]any),
	}
}

// ModelFor derives a model from a struct using db tags. Fields are named after
// their columns and the table name is the pluralized snake case of the type name.
func ModelFor(v any) (*Model, error) {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T", ErrInvalidModelType, v)
	}
	fields, err := util.StructFields(t)
	if err != nil {
		return nil, err
	}
	pk, err := util.FindPrimaryKey(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidModelType, t.Name(), err)
	}

	m := NewModel(t.Name(), inflect.Pluralize(inflect.Underscore(t.Name())))
	m.typ = t
	for _, f := range fields {
		m.addField(&Field{Name: f.Column, Column: f.Column, Index: f.Index})
	}
	m.pk = m.byName[pk.Column]
	return m, nil
}

// MustModelFor is ModelFor that panics on error, for package-level model declarations.
func MustModelFor(v any) *Model {
	m, err := ModelFor(v)
	if err != nil {
		panic(err)
	}
	return m
}

// AddField adds a column. The first field added becomes the primary key
// unless SetPrimaryKey says otherwise.
func (m *Model) AddField(name, column string) *Model {
	if column == "" {
		column = name
	}
	f := &Field{Name: name, Column: column}
	m.addField(f)
	if m.pk == nil {
		m.pk = f
	}
	return m
}

func (m *Model) addField(f *Field) {
	m.fields = append(m.fields, f)
	m.byName[f.Name] = f
}

// SetPrimaryKey marks an existing field as the primary key.
func (m *Model) SetPrimaryKey(name string) *Model {
	if f, ok := m.byName[name]; ok {
		m.pk = f
	}
	return m
}

// PK returns the primary key field.
func (m *Model) PK() *Field { return m.pk }

// Fields returns the concrete fields in declaration order.
func (m *Model) Fields() []*Field { return m.fields }

// Type returns the struct type the model was derived from, or nil.
func (m *Model) Type() reflect.Type { return m.typ }

// Field looks up a concrete field by name, column, or the "pk" alias.
func (m *Model) Field(name string) (*Field, bool) {
	if name == "pk" {
		return m.pk, m.pk != nil
	}
	if f, ok := m.byName[name]; ok {
		return f, true
	}
	for _, f := range m.fields {
		if f.Column == name {
			return f, true
		}
	}
	return nil, false
}

// ForeignKey declares that m references target through column. The forward
// relation is called name on m; the reverse one is called relatedName on
// target, defaulting to the pluralized model name.
func (m *Model) ForeignKey(name string, target *Model, column, relatedName string) *Model {
	if relatedName == "" {
		relatedName = inflect.Pluralize(inflect.Underscore(m.Name))
	}
	if _, ok := m.Field(column); !ok {
		m.addField(&Field{Name: column, Column: column})
	}
	m.relations[name] = &Relation{Name: name, Model: m, Target: target, Column: column}
	target.relations[relatedName] = &Relation{Name: relatedName, Model: target, Target: m, Column: column, Reverse: true}
	return m
}

// Relation looks up a relation by name.
func (m *Model) Relation(name string) (*Relation, bool) {
	r, ok := m.relations[name]
	return r, ok
}

// SetAttr attaches a named attribute, replacing any previous one.
func (m *Model) SetAttr(name string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attrs[name]; !ok {
		m.order = append(m.order, name)
	}
	m.attrs[name] = v
}

// Attr returns a named attribute.
func (m *Model) Attr(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.attrs[name]
	return v, ok
}

// AttrNames returns attribute names in registration order.
func (m *Model) AttrNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// choices lists every name a path segment may use on m.
func (m *Model) choices() []string {
	out := make([]string, 0, len(m.fields)+len(m.relations)+1)
	out = append(out, "pk")
	for _, f := range m.fields {
		out = append(out, f.Name)
	}
	for name := range m.relations {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *Model) String() string { return m.Name }
