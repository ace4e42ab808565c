// Package util holds the struct reflection helpers behind model metadata and
// row scanning.
package util

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Field describes one mapped struct field.
type Field struct {
	Name   string
	Column string
	Index  []int
	Type   reflect.Type
	PK     bool
}

// ParseDBTag splits a db tag into its column name and pk flag.
//
//	"name"     column "name"
//	"id,pk"    column "id", primary key
//	"-"        skipped
func ParseDBTag(tag string) (column string, pk bool) {
	parts := strings.Split(tag, ",")
	column = strings.TrimSpace(parts[0])
	for _, opt := range parts[1:] {
		if strings.TrimSpace(opt) == "pk" {
			pk = true
		}
	}
	return column, pk
}

// StructFields returns the mapped fields of a struct type in declaration
// order, flattening embedded structs. Untagged fields map to their
// lowercased name.
func StructFields(t reflect.Type) ([]Field, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("util: expected struct, got %s", t.Kind())
	}
	return structFields(t, nil), nil
}

func structFields(t reflect.Type, index []int) []Field {
	var out []Field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		idx := append(append([]int(nil), index...), i)

		tag, tagged := sf.Tag.Lookup("db")
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && !tagged {
			out = append(out, structFields(sf.Type, idx)...)
			continue
		}

		column, pk := strings.ToLower(sf.Name), false
		if tagged {
			column, pk = ParseDBTag(tag)
			if column == "-" {
				continue
			}
			if column == "" {
				column = strings.ToLower(sf.Name)
			}
		}
		out = append(out, Field{Name: sf.Name, Column: column, Index: idx, Type: sf.Type, PK: pk})
	}
	return out
}

// FindPrimaryKey picks the primary key among fields: the first field tagged
// pk, else a field named ID or Id, else a column named id.
func FindPrimaryKey(fields []Field) (Field, error) {
	for _, f := range fields {
		if f.PK {
			return f, nil
		}
	}
	for _, name := range []string{"ID", "Id"} {
		for _, f := range fields {
			if f.Name == name {
				return f, nil
			}
		}
	}
	for _, f := range fields {
		if f.Column == "id" {
			return f, nil
		}
	}
	return Field{}, errors.New("util: no primary key field")
}

// IsZeroKey reports whether a primary key value still needs to be generated.
// Only integer keys are generated.
func IsZeroKey(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Ptr:
		return v.IsNil() || IsZeroKey(v.Elem())
	default:
		return false
	}
}

// SetKey stores a generated key into an integer field, allocating pointers.
func SetKey(field reflect.Value, id int64) error {
	if !field.CanSet() {
		return errors.New("util: key field is not settable")
	}
	switch field.Kind() {
	case reflect.Ptr:
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return SetKey(field.Elem(), id)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.OverflowInt(id) {
			return fmt.Errorf("util: key %d overflows %s", id, field.Type())
		}
		field.SetInt(id)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if id < 0 || field.OverflowUint(uint64(id)) {
			return fmt.Errorf("util: key %d overflows %s", id, field.Type())
		}
		field.SetUint(uint64(id))
	default:
		return fmt.Errorf("util: unsupported key type %s", field.Type())
	}
	return nil
}

// ToInt64 converts integer-like driver values. It reports false for
// anything else.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case []byte:
		var out int64
		_, err := fmt.Sscan(string(n), &out)
		return out, err == nil
	default:
		return 0, false
	}
}
