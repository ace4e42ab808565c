package props

import (
	"strings"

	"github.com/coregx/queryprops/internal/core"
)

// Reference identifies a property as seen from a query's model: the property,
// the model it is defined on and the relation path leading there. References
// are comparable and serve as map keys.
type Reference struct {
	Property Property
	Model    *core.Model
	// Relation is the "__"-joined relation path from the query's model, empty
	// for properties of the model itself.
	Relation string
}

// FullPath returns the path of the property from the query's model, which is
// also the alias of its annotation.
func (r Reference) FullPath() string {
	if r.Relation == "" {
		return r.Property.Name()
	}
	return r.Relation + core.LookupSep + r.Property.Name()
}

// prefix makes a path relative to the property's model relative to the
// query's model.
func (r Reference) prefix(path string) string {
	if r.Relation == "" {
		return path
	}
	return r.Relation + core.LookupSep + path
}

// Resolve finds the property a lookup path refers to. It walks relations from
// m and stops at the first segment naming a property, returning the reference
// and the remaining segments, or nil if the path names no property. A path
// ending at the property gets the remainder ["exact"].
func Resolve(m *core.Model, path string) (*Reference, []string) {
	ref, rest := resolveParts(m, strings.Split(path, core.LookupSep))
	if ref != nil && len(rest) == 0 {
		rest = []string{"exact"}
	}
	return ref, rest
}

func resolveParts(m *core.Model, parts []string) (*Reference, []string) {
	model := m
	for i, part := range parts {
		if attr, ok := model.Attr(part); ok {
			if p, ok := attr.(Property); ok {
				return &Reference{
					Property: p,
					Model:    model,
					Relation: strings.Join(parts[:i], core.LookupSep),
				}, parts[i+1:]
			}
			return nil, nil
		}
		rel, ok := model.Relation(part)
		if !ok {
			return nil, nil
		}
		model = rel.Target
	}
	return nil, nil
}
