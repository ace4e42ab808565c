package props

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/coregx/queryprops/internal/core"
)

const schema = `
CREATE TABLE categories (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE applications (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	common_data TEXT NOT NULL,
	category_id INTEGER REFERENCES categories(id)
);
CREATE TABLE versions (
	id INTEGER PRIMARY KEY,
	major INTEGER NOT NULL,
	minor INTEGER NOT NULL,
	patch INTEGER NOT NULL,
	changes TEXT,
	application_id INTEGER NOT NULL REFERENCES applications(id)
);
INSERT INTO categories (id, name) VALUES (1, 'Linux apps'), (2, 'Windows apps');
INSERT INTO applications (id, name, common_data, category_id) VALUES
	(1, 'My cool App', 'Some data', 1),
	(2, 'Another App', 'Some data', 1);
INSERT INTO versions (id, major, minor, patch, changes, application_id) VALUES
	(1, 1, 2, 3, NULL, 1),
	(2, 1, 3, 0, 'Amazing new features', 1),
	(3, 1, 3, 1, NULL, 1),
	(4, 2, 0, 0, NULL, 1),
	(5, 1, 2, 3, NULL, 2),
	(6, 1, 3, 0, NULL, 2),
	(7, 1, 3, 1, NULL, 2),
	(8, 2, 0, 0, 'Fixed bugs', 2);
`

type fixture struct {
	db       *core.DB
	category *core.Model
	app      *core.Model
	version  *core.Model
}

// newFixture builds the models with their properties. With a database, the
// fixture rows are loaded into a fresh in-memory SQLite database.
func newFixture(t *testing.T, withDB bool) *fixture {
	t.Helper()
	category := core.NewModel("Category", "categories").
		AddField("id", "").
		AddField("name", "")
	app := core.NewModel("Application", "applications").
		AddField("id", "").
		AddField("name", "").
		AddField("common_data", "")
	app.ForeignKey("category", category, "category_id", "applications")
	version := core.NewModel("Version", "versions").
		AddField("id", "").
		AddField("major", "").
		AddField("minor", "").
		AddField("patch", "").
		AddField("changes", "")
	version.ForeignKey("application", app, "application_id", "versions")

	require.NoError(t, Register(version,
		&majorMinorProperty{},
		&versionProperty{},
		&changesOrDefaultProperty{},
		&getterOnlyProperty{},
		&selfFilterProperty{},
		&circularProperty{name: "circular_a", other: "circular_b"},
		&circularProperty{name: "circular_b", other: "circular_a"},
	))
	require.NoError(t, Register(app,
		&versionCountProperty{versions: version},
		&aggregateProperty{name: "major_sum", expr: core.Sum("versions__major")},
		&aggregateProperty{name: "lowered_version_changes", expr: core.Lower("versions__changes_or_default")},
		&highestVersionProperty{versions: version},
	))

	f := &fixture{category: category, app: app, version: version}
	if withDB {
		db, err := core.Open("sqlite", ":memory:", core.WithMaxOpenConns(1))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		_, err = db.DB().ExecContext(context.Background(), schema)
		require.NoError(t, err)
		f.db = db
	}
	return f
}

func parseVersion(s string, parts int) ([]int, error) {
	fields := strings.Split(s, ".")
	if len(fields) != parts {
		return nil, fmt.Errorf("invalid version %q", s)
	}
	out := make([]int, parts)
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", s, err)
		}
		out[i] = n
	}
	return out, nil
}

// majorMinorProperty filters and updates through fields without an annotation.
type majorMinorProperty struct{}

func (*majorMinorProperty) Name() string { return "major_minor" }

func (*majorMinorProperty) GetValue(_ context.Context, inst *core.Instance) (any, error) {
	major, _ := inst.Field("major")
	minor, _ := inst.Field("minor")
	return fmt.Sprintf("%v.%v", major, minor), nil
}

func (*majorMinorProperty) GetFilter(_ *core.Model, lookup string, value any) (*core.Q, error) {
	if lookup != "exact" {
		return nil, fmt.Errorf("major_minor does not support %q", lookup)
	}
	v, err := parseVersion(fmt.Sprint(value), 2)
	if err != nil {
		return nil, err
	}
	return core.Match(map[string]any{"major": v[0], "minor": v[1]}), nil
}

func (*majorMinorProperty) FilterRequiresAnnotation() bool { return false }

func (*majorMinorProperty) GetAnnotation(*core.Model) (core.Expression, error) {
	return core.Concat("major", core.Value("."), "minor"), nil
}

func (*majorMinorProperty) GetUpdateValues(_ *core.Model, value any) (map[string]any, error) {
	v, err := parseVersion(fmt.Sprint(value), 2)
	if err != nil {
		return nil, err
	}
	return map[string]any{"major": v[0], "minor": v[1]}, nil
}

// versionProperty filters and updates through major_minor.
type versionProperty struct{}

func (*versionProperty) Name() string { return "version" }

func (*versionProperty) GetValue(_ context.Context, inst *core.Instance) (any, error) {
	major, _ := inst.Field("major")
	minor, _ := inst.Field("minor")
	patch, _ := inst.Field("patch")
	return fmt.Sprintf("%v.%v.%v", major, minor, patch), nil
}

func (*versionProperty) GetFilter(_ *core.Model, lookup string, value any) (*core.Q, error) {
	if lookup != "exact" {
		return nil, fmt.Errorf("version does not support %q", lookup)
	}
	v, err := parseVersion(fmt.Sprint(value), 3)
	if err != nil {
		return nil, err
	}
	return core.Match(map[string]any{"major_minor": fmt.Sprintf("%d.%d", v[0], v[1]), "patch": v[2]}), nil
}

func (*versionProperty) FilterRequiresAnnotation() bool { return false }

func (*versionProperty) GetAnnotation(*core.Model) (core.Expression, error) {
	return core.Concat("major", core.Value("."), "minor", core.Value("."), "patch"), nil
}

func (*versionProperty) GetUpdateValues(_ *core.Model, value any) (map[string]any, error) {
	v, err := parseVersion(fmt.Sprint(value), 3)
	if err != nil {
		return nil, err
	}
	return map[string]any{"major_minor": fmt.Sprintf("%d.%d", v[0], v[1]), "patch": v[2]}, nil
}

// changesOrDefaultProperty filters on its own annotation.
type changesOrDefaultProperty struct{}

func (*changesOrDefaultProperty) Name() string { return "changes_or_default" }

func (p *changesOrDefaultProperty) GetFilter(_ *core.Model, lookup string, value any) (*core.Q, error) {
	return AnnotationFilter(p, lookup, value), nil
}

func (*changesOrDefaultProperty) FilterRequiresAnnotation() bool { return true }

func (*changesOrDefaultProperty) GetAnnotation(*core.Model) (core.Expression, error) {
	return core.Coalesce("changes", core.Value("(No data)")), nil
}

// getterOnlyProperty has no query capabilities.
type getterOnlyProperty struct{}

func (*getterOnlyProperty) Name() string { return "getter_only" }

func (*getterOnlyProperty) GetValue(context.Context, *core.Instance) (any, error) { return 1, nil }

// selfFilterProperty filters on itself without an annotation.
type selfFilterProperty struct{}

func (*selfFilterProperty) Name() string { return "self_filter" }

func (p *selfFilterProperty) GetFilter(_ *core.Model, lookup string, value any) (*core.Q, error) {
	return AnnotationFilter(p, lookup, value), nil
}

func (*selfFilterProperty) FilterRequiresAnnotation() bool { return false }

// circularProperty annotates through another property that refers back.
type circularProperty struct {
	name, other string
}

func (p *circularProperty) Name() string { return p.name }

func (p *circularProperty) GetAnnotation(*core.Model) (core.Expression, error) {
	return core.F(p.other), nil
}

// versionCountProperty counts related versions.
type versionCountProperty struct {
	versions *core.Model
}

func (*versionCountProperty) Name() string { return "version_count" }

func (p *versionCountProperty) GetValue(ctx context.Context, inst *core.Instance) (any, error) {
	return Objects(inst.Executor(), p.versions).Filter(core.Cond("application", inst.PK())).Count(ctx)
}

func (p *versionCountProperty) GetFilter(_ *core.Model, lookup string, value any) (*core.Q, error) {
	return AnnotationFilter(p, lookup, value), nil
}

func (*versionCountProperty) FilterRequiresAnnotation() bool { return true }

func (*versionCountProperty) GetAnnotation(*core.Model) (core.Expression, error) {
	return core.Count("versions"), nil
}

// aggregateProperty is an annotation-only property filtering on itself.
type aggregateProperty struct {
	name string
	expr core.Expression
}

func (p *aggregateProperty) Name() string { return p.name }

func (p *aggregateProperty) GetFilter(_ *core.Model, lookup string, value any) (*core.Q, error) {
	return AnnotationFilter(p, lookup, value), nil
}

func (*aggregateProperty) FilterRequiresAnnotation() bool { return true }

func (p *aggregateProperty) GetAnnotation(*core.Model) (core.Expression, error) { return p.expr, nil }

// highestVersionProperty selects the highest version through a subquery.
type highestVersionProperty struct {
	versions *core.Model
}

func (*highestVersionProperty) Name() string { return "highest_version" }

func (p *highestVersionProperty) GetFilter(_ *core.Model, lookup string, value any) (*core.Q, error) {
	return AnnotationFilter(p, lookup, value), nil
}

func (*highestVersionProperty) FilterRequiresAnnotation() bool { return true }

func (p *highestVersionProperty) GetAnnotation(*core.Model) (core.Expression, error) {
	qs := Objects(nil, p.versions).
		Filter(core.Cond("application", core.OuterRef("pk"))).
		OrderBy("-major", "-minor", "-patch").
		Values("version").
		Limit(1)
	if err := qs.Err(); err != nil {
		return nil, err
	}
	return core.Subquery(qs.Query()), nil
}
