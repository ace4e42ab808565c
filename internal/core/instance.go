package core

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sync"

	"github.com/coregx/queryprops/internal/util"
)

// ValueGetter computes a model attribute for an instance. Attributes that
// implement it are reachable through Instance.Value.
type ValueGetter interface {
	GetValue(ctx context.Context, inst *Instance) (any, error)
}

// Instance is one model row: its field values, the annotations selected with
// it and a cache of computed attribute values.
type Instance struct {
	Model *Model

	exec        Executor
	fields      map[string]any
	annotations map[string]any
	cache       map[string]any
}

// NewInstance returns an instance of m holding fields. exec is the executor
// getters use for follow-up queries and may be nil.
func NewInstance(m *Model, exec Executor, fields map[string]any) *Instance {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Instance{
		Model:       m,
		exec:        exec,
		fields:      fields,
		annotations: make(map[string]any),
		cache:       make(map[string]any),
	}
}

// Executor returns the executor the instance was loaded through.
func (i *Instance) Executor() Executor { return i.exec }

// PK returns the primary key value.
func (i *Instance) PK() any { return i.fields[i.Model.PK().Name] }

// Field returns a concrete field value.
func (i *Instance) Field(name string) (any, bool) {
	f, ok := i.Model.Field(name)
	if !ok {
		return nil, false
	}
	v, ok := i.fields[f.Name]
	return v, ok
}

// SetField sets a concrete field value.
func (i *Instance) SetField(name string, v any) {
	if f, ok := i.Model.Field(name); ok {
		name = f.Name
	}
	i.fields[name] = v
}

// Annotation returns an annotation value selected with the row.
func (i *Instance) Annotation(name string) (any, bool) {
	v, ok := i.annotations[name]
	return v, ok
}

func (i *Instance) setAnnotation(name string, v any) { i.annotations[name] = v }

// HasCachedValue reports whether a computed value for name is cached.
func (i *Instance) HasCachedValue(name string) bool {
	_, ok := i.cache[name]
	return ok
}

// CachedValue returns the cached computed value for name.
func (i *Instance) CachedValue(name string) (any, bool) {
	v, ok := i.cache[name]
	return v, ok
}

// SetCachedValue caches a computed value for name.
func (i *Instance) SetCachedValue(name string, v any) { i.cache[name] = v }

// ResetCachedValue forgets the cached value for name so the next Value call
// computes it again.
func (i *Instance) ResetCachedValue(name string) { delete(i.cache, name) }

// Value returns a field, a cached value, an annotation, or the result of the
// model attribute's getter, in that order.
func (i *Instance) Value(ctx context.Context, name string) (any, error) {
	if v, ok := i.Field(name); ok {
		return v, nil
	}
	if v, ok := i.cache[name]; ok {
		return v, nil
	}
	if v, ok := i.annotations[name]; ok {
		return v, nil
	}
	attr, ok := i.Model.Attr(name)
	if !ok {
		return nil, &FieldError{Model: i.Model.Name, Name: name, Choices: i.Model.choices()}
	}
	getter, ok := attr.(ValueGetter)
	if !ok {
		return nil, fmt.Errorf("%s.%s has no getter", i.Model.Name, name)
	}
	return getter.GetValue(ctx, i)
}

// Scan copies field and annotation values into the struct dest points to,
// matching db column names.
func (i *Instance) Scan(dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: scan destination must be a pointer to struct, got %T", ErrInvalidModelType, dest)
	}
	rv = rv.Elem()
	fields, err := structInfo(rv.Type())
	if err != nil {
		return err
	}
	for _, f := range fields {
		v, ok := i.fields[f.Column]
		if !ok {
			if mf, found := i.Model.Field(f.Column); found {
				v, ok = i.fields[mf.Name]
			}
		}
		if !ok {
			v, ok = i.annotations[f.Column]
		}
		if !ok {
			continue
		}
		if err := assign(rv.FieldByIndex(f.Index), v); err != nil {
			return fmt.Errorf("scan %s.%s: %w", i.Model.Name, f.Name, err)
		}
	}
	return nil
}

var structCache = struct {
	sync.RWMutex
	m map[reflect.Type][]util.Field
}{m: make(map[reflect.Type][]util.Field)}

// structInfo returns the cached mapped fields of t.
func structInfo(t reflect.Type) ([]util.Field, error) {
	structCache.RLock()
	fields, ok := structCache.m[t]
	structCache.RUnlock()
	if ok {
		return fields, nil
	}

	structCache.Lock()
	defer structCache.Unlock()
	if fields, ok := structCache.m[t]; ok {
		return fields, nil
	}
	fields, err := util.StructFields(t)
	if err != nil {
		return nil, err
	}
	structCache.m[t] = fields
	return fields, nil
}

// assign stores a driver value into a struct field.
func assign(field reflect.Value, v any) error {
	if field.CanAddr() {
		if s, ok := field.Addr().Interface().(sql.Scanner); ok {
			return s.Scan(v)
		}
	}
	if v == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	if field.Kind() == reflect.Ptr {
		ptr := reflect.New(field.Type().Elem())
		if err := assign(ptr.Elem(), v); err != nil {
			return err
		}
		field.Set(ptr)
		return nil
	}
	val := reflect.ValueOf(v)
	switch {
	case val.Type().AssignableTo(field.Type()):
		field.Set(val)
	case isNumber(val.Kind()) && isNumber(field.Kind()):
		field.Set(val.Convert(field.Type()))
	case field.Kind() == reflect.String:
		field.SetString(fmt.Sprint(v))
	default:
		return fmt.Errorf("cannot assign %T to %s", v, field.Type())
	}
	return nil
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
