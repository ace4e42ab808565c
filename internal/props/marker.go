package props

import "github.com/coregx/queryprops/internal/core"

// MarkerHook returns the row hook that marks rows of a property-aware query
// so row construction caches selected property values. Model rows carry the
// marker last, named rows first. Other modes are not marked and get nil.
func MarkerHook(mode core.RowMode) core.RowHook {
	switch mode {
	case core.RowsModel:
		return func(row []any) []any { return append(row, true) }
	case core.RowsNamed:
		return func(row []any) []any { return append([]any{true}, row...) }
	}
	return nil
}
