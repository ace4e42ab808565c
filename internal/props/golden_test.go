package props

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/queryprops/internal/core"
	"github.com/coregx/queryprops/internal/dialects"
)

// Regenerate with: go test ./internal/props -run TestQuerySet_SQL -update
func TestQuerySet_SQL(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		name    string
		dialect dialects.Dialect
		qs      *QuerySet
		args    []any
	}{
		{"major_minor_filter", sqlite, Objects(nil, f.version).Filter(core.Cond("major_minor", "1.3")), []any{1, 3}},
		{"version_count_filter", sqlite, Objects(nil, f.app).Filter(core.Cond("version_count__gt", 3)), []any{3}},
		{"highest_version_select", sqlite, Objects(nil, f.app).SelectProperties("highest_version"), []any{".", "."}},
		{
			"version_count_or_category_postgres",
			dialects.GetDialect("postgres"),
			Objects(nil, f.app).Filter(core.Or(core.Cond("version_count__gt", 10), core.Cond("category__name", "Linux apps"))),
			[]any{10, "Linux apps"},
		},
	}
	g := goldie.New(t, goldie.WithFixtureDir("testdata"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := tt.qs.SQL(tt.dialect)
			require.NoError(t, err)
			assert.Equal(t, tt.args, args)
			g.Assert(t, tt.name, []byte(sql+"\n"))
		})
	}
}
