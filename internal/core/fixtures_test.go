package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/coregx/queryprops/internal/dialects"
)

var sqlite = dialects.GetDialect("sqlite")

type models struct {
	category, app, version *Model
}

func newModels() models {
	category := NewModel("Category", "categories").
		AddField("id", "").
		AddField("name", "")
	app := NewModel("Application", "applications").
		AddField("id", "").
		AddField("name", "").
		AddField("common_data", "")
	app.ForeignKey("category", category, "category_id", "applications")
	version := NewModel("Version", "versions").
		AddField("id", "").
		AddField("major", "").
		AddField("minor", "").
		AddField("patch", "").
		AddField("changes", "")
	version.ForeignKey("application", app, "application_id", "versions")
	return models{category: category, app: app, version: version}
}

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

// openTestDB opens an in-memory SQLite database with the version fixtures.
// A single connection keeps every statement on the same in-memory database.
func openTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	db, err := Open("sqlite", ":memory:", append([]Option{WithMaxOpenConns(1)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.DB().ExecContext(context.Background(), schema)
	require.NoError(t, err)
	return db
}
