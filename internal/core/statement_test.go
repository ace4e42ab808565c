package core

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/coregx/queryprops/internal/dialects"
	"github.com/coregx/queryprops/internal/security"
	"github.com/coregx/queryprops/internal/tracer"
)

func TestRenumber(t *testing.T) {
	pg := dialects.GetDialect("postgres")
	assert.Equal(t, `SELECT $1, '?', "a?b", $2`, renumber(pg, `SELECT ?, '?', "a?b", ?`))
	assert.Equal(t, `SELECT ?, ?`, renumber(sqlite, `SELECT ?, ?`))
}

func TestStatement_Logging(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	db := openTestDB(t, WithLogger(l), WithSensitiveFields([]string{"changes"}))
	ctx := context.Background()
	m := newModels()

	q := NewQuery(m.version)
	require.NoError(t, q.AddQ(Cond("changes", "Fixed bugs")))
	_, err := q.Count(ctx, db)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"query executed"`)
	assert.Contains(t, out, `"database":"sqlite"`)
	assert.Contains(t, out, `"duration_ms"`)
	assert.NotContains(t, out, "Fixed bugs")

	buf.Reset()
	_, err = db.NewStatement("SELECT * FROM nope").Query(ctx)
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"msg":"query executed failed"`)
}

func TestStatement_Tracing(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	db := openTestDB(t, WithTracer(tracer.NewOtelTracer(tp.Tracer("test"))))
	ctx := context.Background()

	_, err := db.NewStatement(`UPDATE "versions" SET "patch" = ?`, 5).Exec(ctx)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, tracer.SpanExec, span.Name())
	assert.Equal(t, codes.Ok, span.Status().Code)
	assert.Contains(t, span.Attributes(), attribute.String("db.operation", "UPDATE"))
	assert.Contains(t, span.Attributes(), attribute.Int64("db.rows_affected", 8))
}

func TestStatement_Validation(t *testing.T) {
	db := openTestDB(t, WithValidation(security.WithParamChecks(true)))
	ctx := context.Background()
	m := newModels()

	q := NewQuery(m.version)
	require.NoError(t, q.AddQ(Cond("major", Raw("1 UNION SELECT 1"))))
	_, err := q.Count(ctx, db)
	assert.ErrorIs(t, err, security.ErrUnsafeSQL)

	q = NewQuery(m.version)
	require.NoError(t, q.AddQ(Cond("changes", "x' OR '1'='1")))
	_, err = q.Count(ctx, db)
	assert.ErrorIs(t, err, security.ErrUnsafeSQL)

	n, err := NewQuery(m.version).Count(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
}

func TestStatement_Cache(t *testing.T) {
	db := openTestDB(t, WithStmtCacheCapacity(10))
	ctx := context.Background()
	m := newModels()

	for i := 0; i < 3; i++ {
		_, err := NewQuery(m.version).Count(ctx, db)
		require.NoError(t, err)
	}
	stats := db.CacheStats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 10, stats.Capacity)
	assert.Equal(t, uint64(2), stats.Hits)

	off := openTestDB(t, WithStmtCacheCapacity(0))
	_, err := NewQuery(m.version).Count(ctx, off)
	require.NoError(t, err)
	assert.Zero(t, off.CacheStats().Size)
}

func TestWrapDB_UnknownDriver(t *testing.T) {
	db := openTestDB(t)
	_, err := WrapDB(db.DB(), "oracle")
	assert.Error(t, err)
}
