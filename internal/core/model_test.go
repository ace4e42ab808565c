package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Timestamps struct {
	Created string `db:"created_at"`
}

type BlogPost struct {
	ID    int64  `db:"id,pk"`
	Title string `db:"title"`
	Body  string
	Skip  string `db:"-"`
	Timestamps
}

func TestModelFor(t *testing.T) {
	m, err := ModelFor(&BlogPost{})
	require.NoError(t, err)
	assert.Equal(t, "BlogPost", m.Name)
	assert.Equal(t, "blog_posts", m.Table)
	assert.Equal(t, "id", m.PK().Column)

	var names []string
	for _, f := range m.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"id", "title", "body", "created_at"}, names)

	_, err = ModelFor(42)
	assert.ErrorIs(t, err, ErrInvalidModelType)

	assert.Panics(t, func() { MustModelFor("nope") })
}

func TestModel_ForeignKey(t *testing.T) {
	m := newModels()

	fwd, ok := m.version.Relation("application")
	require.True(t, ok)
	assert.False(t, fwd.Reverse)
	assert.Same(t, m.app, fwd.Target)

	rev, ok := m.app.Relation("versions")
	require.True(t, ok)
	assert.True(t, rev.Reverse)
	assert.Equal(t, "application_id", rev.Column)

	f, ok := m.version.Field("application_id")
	require.True(t, ok)
	assert.Equal(t, "application_id", f.Column)

	pk, ok := m.version.Field("pk")
	require.True(t, ok)
	assert.Equal(t, "id", pk.Name)
}

func TestModel_DefaultRelatedName(t *testing.T) {
	parent := NewModel("Author", "authors").AddField("id", "")
	child := NewModel("BookEdition", "book_editions").AddField("id", "")
	child.ForeignKey("author", parent, "author_id", "")

	_, ok := parent.Relation("book_editions")
	assert.True(t, ok)
}

type constGetter struct{ v any }

func (g constGetter) GetValue(context.Context, *Instance) (any, error) { return g.v, nil }

func TestInstance_Value(t *testing.T) {
	m := newModels()
	m.version.SetAttr("answer", constGetter{v: 42})
	m.version.SetAttr("plain", "no getter")
	assert.Equal(t, []string{"answer", "plain"}, m.version.AttrNames())

	ctx := context.Background()
	inst := NewInstance(m.version, nil, map[string]any{"id": int64(1), "major": int64(2)})

	v, err := inst.Value(ctx, "major")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	v, err = inst.Value(ctx, "answer")
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.False(t, inst.HasCachedValue("answer"))

	inst.SetCachedValue("answer", 7)
	v, err = inst.Value(ctx, "answer")
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	inst.ResetCachedValue("answer")
	v, err = inst.Value(ctx, "answer")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = inst.Value(ctx, "plain")
	assert.ErrorContains(t, err, "has no getter")

	inst.SetField("pk", int64(5))
	assert.Equal(t, int64(5), inst.PK())
}

func TestWrapError(t *testing.T) {
	base := errors.New("base")
	err := WrapError(base, "context")
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "context: base", err.Error())
	assert.Nil(t, WrapError(nil, "context"))
}
