package props

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/coregx/queryprops/internal/core"
)

func count(t *testing.T, qs *QuerySet) int64 {
	t.Helper()
	n, err := qs.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestQuerySet_FilterThroughFields(t *testing.T) {
	f := newFixture(t, true)
	versions := Objects(f.db, f.version)

	assert.EqualValues(t, 4, count(t, versions.Filter(core.Cond("major_minor", "1.3"))))
	assert.EqualValues(t, 2, count(t, versions.Filter(core.Cond("version", "1.3.1"))))
	assert.EqualValues(t, 6, count(t, versions.Exclude(core.Cond("version", "1.3.1"))))
	assert.EqualValues(t, 4, count(t, versions.Filter(core.Or(
		core.Cond("version", "1.2.3"),
		core.Cond("version", "2.0.0"),
	))))
}

func TestQuerySet_FilterAcrossRelation(t *testing.T) {
	f := newFixture(t, true)

	apps := Objects(f.db, f.app).Filter(core.Cond("versions__version", "2.0.0"))
	assert.EqualValues(t, 2, count(t, apps))

	apps = Objects(f.db, f.app).Filter(
		core.Cond("versions__major_minor", "1.3"),
		core.Cond("name__contains", "cool"),
	)
	assert.EqualValues(t, 2, count(t, apps))
}

func TestQuerySet_FilterOnAnnotation(t *testing.T) {
	f := newFixture(t, true)
	versions := Objects(f.db, f.version)

	assert.EqualValues(t, 6, count(t, versions.Filter(core.Cond("changes_or_default", "(No data)"))))
	assert.EqualValues(t, 1, count(t, versions.Filter(core.Cond("changes_or_default__icontains", "bugs"))))
}

func TestQuerySet_FilterOnAggregateAnnotation(t *testing.T) {
	f := newFixture(t, true)
	apps := Objects(f.db, f.app)

	assert.EqualValues(t, 2, count(t, apps.Filter(core.Cond("version_count__gt", 3))))
	assert.EqualValues(t, 0, count(t, apps.Filter(core.Cond("version_count__gt", 4))))
	assert.EqualValues(t, 1, count(t, apps.Filter(core.Cond("version_count", 4), core.Cond("name__contains", "cool"))))
	assert.EqualValues(t, 2, count(t, apps.Filter(core.Or(core.Cond("version_count", 3), core.Cond("name__contains", "App")))))

	both := core.And(core.Cond("version_count__gt", 3), core.Cond("major_sum__gt", 5))
	assert.EqualValues(t, 0, count(t, apps.Filter(both)))
	either := core.Or(core.Cond("version_count__gt", 3), core.Cond("major_sum__gt", 5))
	assert.EqualValues(t, 2, count(t, apps.Filter(either)))
}

func TestQuerySet_FilterOnRelatedAggregate(t *testing.T) {
	f := newFixture(t, true)

	versions := Objects(f.db, f.version).Filter(core.Cond("application__version_count", 4))
	assert.EqualValues(t, 8, count(t, versions))

	categories := Objects(f.db, f.category)
	assert.EqualValues(t, 1, count(t, categories.Filter(core.Cond("applications__version_count", 8))))
	assert.EqualValues(t, 1, count(t, categories.Filter(core.Cond("applications__version_count", 0))))
	assert.EqualValues(t, 0, count(t, categories.Filter(core.Cond("applications__version_count", 4))))

	names, err := categories.Filter(core.Cond("applications__version_count", 0)).Values("name").Flat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"Windows apps"}, names)
}

func TestQuerySet_OrAndNotOverNullableRelation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.db.NewStatement(`INSERT INTO applications (id, name, common_data, category_id) VALUES (3, 'Orphan', 'None', NULL)`).Exec(ctx)
	require.NoError(t, err)

	apps := Objects(f.db, f.app)
	windows := core.Cond("category__name", "Windows apps")
	assert.EqualValues(t, 3, count(t, apps))
	assert.EqualValues(t, 1, count(t, apps.Filter(core.Or(core.Cond("name", "Orphan"), windows))))
	assert.EqualValues(t, 1, count(t, apps.Filter(core.Or(core.Cond("version_count", 0), windows))))
	assert.EqualValues(t, 1, count(t, apps.Exclude(core.Cond("category__name", "Linux apps"))))
	assert.EqualValues(t, 1, count(t, apps.Filter(core.Not(core.Cond("category__name__startswith", "Linux")))))
	assert.EqualValues(t, 1, count(t, apps.Exclude(core.Or(core.Cond("version_count__gt", 3), windows))))

	names, err := apps.Filter(core.Or(core.Cond("version_count", 0), core.Cond("category__name", "Linux apps"))).
		OrderBy("name").Values("name").Flat(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"Another App", "My cool App", "Orphan"}, names)

	// Plain AND filters keep the inner join.
	sql, _, err := apps.Filter(core.Cond("category__name", "Linux apps")).SQL(sqlite)
	require.NoError(t, err)
	assert.Contains(t, sql, `INNER JOIN "categories"`)
}

func TestQuerySet_PropertyReferencingProperty(t *testing.T) {
	f := newFixture(t, true)

	apps := Objects(f.db, f.app).Filter(core.Cond("lowered_version_changes", "fixed bugs"))
	names, err := apps.Values("name").Flat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"Another App"}, names)

	categories := Objects(f.db, f.category).Filter(core.Cond("applications__lowered_version_changes", "amazing new features"))
	assert.EqualValues(t, 1, count(t, categories))
}

func TestQuerySet_SubqueryProperty(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	apps := Objects(f.db, f.app).Filter(core.Cond("highest_version", "2.0.0"))
	assert.EqualValues(t, 2, count(t, apps))

	_, err := f.db.DB().ExecContext(ctx, `DELETE FROM versions WHERE id = 8`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count(t, apps))

	insts, err := Objects(f.db, f.app).SelectProperties("highest_version").OrderBy("pk").All(ctx)
	require.NoError(t, err)
	require.Len(t, insts, 2)
	for i, want := range []string{"2.0.0", "1.3.1"} {
		v, ok := insts[i].CachedValue("highest_version")
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
}

func TestQuerySet_SelectPropertiesCachesValues(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	insts, err := Objects(f.db, f.version).SelectProperties("version").OrderBy("pk").All(ctx)
	require.NoError(t, err)
	require.Len(t, insts, 8)
	v, ok := insts[0].CachedValue("version")
	require.True(t, ok)
	assert.Equal(t, "1.2.3", v)
	v, err = insts[7].Value(ctx, "version")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", v)

	apps, err := Objects(f.db, f.app).SelectProperties("version_count").All(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	for _, app := range apps {
		v, ok := app.CachedValue("version_count")
		require.True(t, ok)
		assert.EqualValues(t, 4, v)
	}
}

func TestQuerySet_GetterWithoutSelection(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	app, err := Objects(f.db, f.app).Filter(core.Cond("pk", 1)).First(ctx)
	require.NoError(t, err)
	assert.False(t, app.HasCachedValue("version_count"))

	v, err := app.Value(ctx, "version_count")
	require.NoError(t, err)
	assert.EqualValues(t, 4, v)
}

func TestQuerySet_UnselectedAnnotationIsNotCached(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	insts, err := Objects(f.db, f.version).Filter(core.Cond("changes_or_default", "Fixed bugs")).All(ctx)
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.False(t, insts[0].HasCachedValue("changes_or_default"))
}

func TestQuerySet_ShadowingAnnotationIsNotCached(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	for name, qs := range map[string]*QuerySet{
		"plain":    Objects(f.db, f.app).Annotate("version_count", core.F("id")),
		"replaced": Objects(f.db, f.app).SelectProperties("version_count").Annotate("version_count", core.F("id")),
	} {
		t.Run(name, func(t *testing.T) {
			insts, err := qs.OrderBy("pk").All(ctx)
			require.NoError(t, err)
			require.Len(t, insts, 2)
			for _, inst := range insts {
				assert.False(t, inst.HasCachedValue("version_count"))
				v, ok := inst.Annotation("version_count")
				require.True(t, ok)
				assert.Equal(t, inst.PK(), v)
			}
		})
	}
}

func TestQuerySet_RemovedAnnotation(t *testing.T) {
	f := newFixture(t, true)
	qs := Objects(f.db, f.app).SelectProperties("version_count")
	qs.Query().RemoveAnnotation("version_count")

	insts, err := qs.All(context.Background())
	require.NoError(t, err)
	require.Len(t, insts, 2)
	for _, inst := range insts {
		assert.False(t, inst.HasCachedValue("version_count"))
	}
}

func TestQuerySet_Values(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	counts, err := Objects(f.db, f.app).Values("version_count").Flat(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(4), int64(4)}, counts)

	rows, err := Objects(f.db, f.app).Values("name", "version_count").OrderBy("name").Maps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"name": "Another App", "version_count": int64(4)},
		{"name": "My cool App", "version_count": int64(4)},
	}, rows)

	// Selecting the property after values groups by the selected values.
	rows, err = Objects(f.db, f.app).Values("common_data").SelectProperties("version_count").Maps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"common_data": "Some data", "version_count": int64(8)}}, rows)

	_, err = Objects(f.db, f.app).Values("name").All(ctx)
	assert.Error(t, err)
}

func TestQuerySet_OrderBy(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	versions, err := Objects(f.db, f.version).OrderBy("-version").Values("version").Flat(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"2.0.0", "2.0.0", "1.3.1", "1.3.1", "1.3.0", "1.3.0", "1.2.3", "1.2.3"}, versions)

	names, err := Objects(f.db, f.app).OrderBy("version_count", "name").Values("name").Flat(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"Another App", "My cool App"}, names)

	names, err = Objects(f.db, f.app).OrderBy("-versions__changes_or_default", "name").Values("name").Distinct().Flat(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, names)
}

func TestQuerySet_OrderByExprAndSlicing(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	ids, err := Objects(nil, f.version).
		OrderByExpr(core.Desc("major_minor"), core.Asc("patch"), core.Asc("id")).
		Offset(2).
		Limit(3).
		Values("id").
		Using(f.db).
		Flat(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), int64(6), int64(3)}, ids)
}

func TestQuerySet_Annotate(t *testing.T) {
	f := newFixture(t, true)

	rows, err := Objects(f.db, f.app).
		Annotate("double_count", core.Mul("version_count", core.Value(2))).
		Values("name", "double_count").
		OrderBy("name").
		Maps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"name": "Another App", "double_count": int64(8)},
		{"name": "My cool App", "double_count": int64(8)},
	}, rows)
}

func TestQuerySet_Aggregate(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	res, err := Objects(f.db, f.app).Aggregate(ctx, map[string]core.Expression{"total": core.Sum("version_count")})
	require.NoError(t, err)
	assert.EqualValues(t, 8, res["total"])

	res, err = Objects(f.db, f.app).Limit(1).Aggregate(ctx, map[string]core.Expression{"total": core.Sum("version_count")})
	require.NoError(t, err)
	assert.EqualValues(t, 4, res["total"])

	res, err = Objects(f.db, f.version).OrderBy("pk").Limit(4).
		Aggregate(ctx, map[string]core.Expression{"total": core.Sum("application__version_count")})
	require.NoError(t, err)
	assert.EqualValues(t, 16, res["total"])

	res, err = Objects(f.db, f.app).Filter(core.Cond("version_count__gt", 3)).
		Aggregate(ctx, map[string]core.Expression{"highest": core.Max("major_sum")})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res["highest"])
}

func TestQuerySet_Exists(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	ok, err := Objects(f.db, f.version).Filter(core.Cond("version", "2.0.0")).Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Objects(f.db, f.version).Filter(core.Cond("version", "9.9.9")).Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuerySet_Update(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	versions := Objects(f.db, f.version)

	n, err := versions.Filter(core.Cond("major_minor", "1.3")).Update(ctx, map[string]any{"major_minor": "1.4"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.EqualValues(t, 4, count(t, versions.Filter(core.Cond("major_minor", "1.4"))))

	n, err = versions.Filter(core.Cond("version", "1.4.1")).Update(ctx, map[string]any{"version": "1.4.37", "major_minor": "1.4"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.EqualValues(t, 2, count(t, versions.Filter(core.Cond("version", "1.4.37"))))

	_, err = versions.Update(ctx, map[string]any{"version": "1.3.37", "major": 2})
	require.ErrorIs(t, err, ErrConflictingValues)

	_, err = versions.Update(ctx, map[string]any{"changes_or_default": "x"})
	require.ErrorIs(t, err, ErrMissingCapability)

	n, err = versions.Filter(core.Cond("application__version_count", 4)).Update(ctx, map[string]any{"changes": "All"})
	require.NoError(t, err)
	assert.EqualValues(t, 8, n)
	assert.EqualValues(t, 0, count(t, versions.Filter(core.Cond("changes_or_default", "(No data)"))))
}

func TestQuerySet_Create(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	inst, err := Objects(f.db, f.version).Create(ctx, map[string]any{"version": "3.1.4", "application_id": 2})
	require.NoError(t, err)
	assert.EqualValues(t, 9, inst.PK())

	v, err := inst.Value(ctx, "version")
	require.NoError(t, err)
	assert.Equal(t, "3.1.4", v)

	highest, err := Objects(f.db, f.app).Filter(core.Cond("pk", 2)).Values("highest_version").Flat(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"3.1.4"}, highest)
}

func TestQuerySet_Transaction(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	err := f.db.Transactional(ctx, func(tx *core.Tx) error {
		n, err := Objects(tx, f.version).Filter(core.Cond("version", "2.0.0")).Update(ctx, map[string]any{"version": "2.0.1"})
		if err != nil {
			return err
		}
		if n != 2 {
			return fmt.Errorf("updated %d rows", n)
		}
		return fmt.Errorf("roll back")
	})
	require.Error(t, err)
	assert.EqualValues(t, 2, count(t, Objects(f.db, f.version).Filter(core.Cond("version", "2.0.0"))))
}

func TestQuerySet_Iterator(t *testing.T) {
	f := newFixture(t, true)

	var got []any
	for inst, err := range Objects(f.db, f.app).SelectProperties("major_sum").OrderBy("pk").Iterator(context.Background()) {
		require.NoError(t, err)
		v, ok := inst.CachedValue("major_sum")
		require.True(t, ok)
		got = append(got, v)
	}
	assert.Equal(t, []any{int64(5), int64(5)}, got)
}

func TestQuerySet_ChainsAreIndependent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	base := Objects(f.db, f.version).SelectProperties("version")

	filters := map[string]int64{
		"1.2.3": 2, "1.3.0": 2, "1.3.1": 2, "2.0.0": 2, "9.9.9": 0,
	}
	g, gctx := errgroup.WithContext(ctx)
	for version, want := range filters {
		g.Go(func() error {
			n, err := base.Filter(core.Cond("version", version)).Count(gctx)
			if err != nil {
				return err
			}
			if n != want {
				return fmt.Errorf("version %s: got %d rows, want %d", version, n, want)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, []string{"version"}, base.Query().AnnotationNames())
	assert.False(t, base.Query().HasFilters())
	assert.EqualValues(t, 8, count(t, base))
}

func TestQuerySet_Explain(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	p, err := Objects(f.db, f.app).Filter(core.Cond("version_count__gt", 3)).Explain(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", p.Database)
	assert.Contains(t, p.Tables, "applications")
	assert.Contains(t, p.Tables, "versions")

	p, err = Objects(f.db, f.version).Filter(core.Cond("pk", 1)).Explain(ctx)
	require.NoError(t, err)
	assert.True(t, p.UsesIndex)
	assert.False(t, p.FullScan)

	_, err = Objects(nil, f.version).Explain(ctx)
	assert.ErrorIs(t, err, core.ErrNoExecutor)
}
