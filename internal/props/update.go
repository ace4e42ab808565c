package props

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/coregx/queryprops/internal/core"
)

// BuildUpdateValues expands property assignments in values into field
// assignments. Values returned by a property may name further properties;
// they are expanded recursively. A field assigned two different values
// fails with ErrConflictingValues.
func BuildUpdateValues(m *core.Model, values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(values))
	if err := expandUpdate(m, values, out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func expandUpdate(m *core.Model, values, out map[string]any, stack []Reference) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := values[name]
		p, err := Get(m, name)
		if err != nil {
			if prev, ok := out[name]; ok && !reflect.DeepEqual(prev, value) {
				return fmt.Errorf("%w: %s.%s set to both %v and %v", ErrConflictingValues, m.Name, name, prev, value)
			}
			out[name] = value
			continue
		}

		ref := Reference{Property: p, Model: m}
		for _, r := range stack {
			if r == ref {
				return fmt.Errorf("%w: %s.%s updates itself", ErrCircularDependency, m.Name, name)
			}
		}
		u, ok := p.(Updater)
		if !ok {
			return missing(ref, CapUpdate)
		}
		fields, err := u.GetUpdateValues(m, value)
		if err != nil {
			return fmt.Errorf("update %s.%s: %w", m.Name, name, err)
		}
		if err := expandUpdate(m, fields, out, append(stack, ref)); err != nil {
			return err
		}
	}
	return nil
}
