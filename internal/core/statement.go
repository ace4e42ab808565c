package core

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/coregx/queryprops/internal/dialects"
	"github.com/coregx/queryprops/internal/tracer"
)

// Statement is one SQL statement bound to an executor. The SQL uses the
// dialect's placeholders.
type Statement struct {
	db   *DB
	tx   *sql.Tx
	sql  string
	args []any
}

// SQL returns the statement text.
func (s *Statement) SQL() string { return s.sql }

// Args returns the bound parameters.
func (s *Statement) Args() []any { return s.args }

// renumber rewrites "?" placeholders for d, leaving quoted text alone.
func renumber(d dialects.Dialect, query string) string {
	if d.Placeholder(1) == "?" {
		return query
	}
	var (
		b     strings.Builder
		quote rune
		n     int
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '?':
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Statement) validate() error {
	if s.db.validator == nil {
		return nil
	}
	if err := s.db.validator.ValidateQuery(s.sql); err != nil {
		return err
	}
	return s.db.validator.ValidateParams(s.args)
}

// prepare returns a cached prepared statement. Transactions bypass the
// cache, as does a DB whose cache is disabled.
func (s *Statement) prepare(ctx context.Context) (*sql.Stmt, error) {
	if stmt, ok := s.db.stmtCache.Get(s.sql); ok {
		return stmt, nil
	}
	stmt, err := s.db.sqlDB.PrepareContext(ctx, s.sql)
	if err != nil {
		return nil, err
	}
	s.db.stmtCache.Set(s.sql, stmt)
	return stmt, nil
}

func (s *Statement) logResult(msg string, rowsAffected int64, err error, elapsed time.Duration) {
	params := s.db.sanitizer.FormatParams(s.db.sanitizer.MaskParams(s.sql, s.args))
	if err != nil {
		s.db.logger.Error(msg+" failed",
			"sql", s.sql,
			"params", params,
			"duration_ms", elapsed.Milliseconds(),
			"database", s.db.driverName,
			"error", err,
		)
		return
	}
	s.db.logger.Info(msg,
		"sql", s.sql,
		"params", params,
		"duration_ms", elapsed.Milliseconds(),
		"rows_affected", rowsAffected,
		"database", s.db.driverName,
	)
}

func (s *Statement) trace(span tracer.Span, rowsAffected int64, err error, elapsed time.Duration) {
	tracer.AddQueryAttributes(span, &tracer.QueryMetadata{
		SQL:          s.sql,
		Args:         s.args,
		Duration:     elapsed,
		RowsAffected: rowsAffected,
		Error:        err,
		Database:     s.db.driverName,
		Operation:    tracer.DetectOperation(s.sql),
	})
}

// Exec runs a statement that returns no rows.
func (s *Statement) Exec(ctx context.Context) (sql.Result, error) {
	ctx, span := s.db.tracer.StartSpan(ctx, tracer.SpanExec)
	defer span.End()

	if err := s.validate(); err != nil {
		s.trace(span, 0, err, 0)
		return nil, err
	}

	start := time.Now()
	var (
		result sql.Result
		err    error
	)
	switch {
	case s.tx != nil:
		result, err = s.tx.ExecContext(ctx, s.sql, s.args...)
	case s.db.stmtCache == nil:
		result, err = s.db.sqlDB.ExecContext(ctx, s.sql, s.args...)
	default:
		var stmt *sql.Stmt
		if stmt, err = s.prepare(ctx); err == nil {
			result, err = stmt.ExecContext(ctx, s.args...)
		}
	}
	elapsed := time.Since(start)

	var rowsAffected int64
	if err == nil {
		rowsAffected, _ = result.RowsAffected()
	}
	s.logResult("statement executed", rowsAffected, err, elapsed)
	s.trace(span, rowsAffected, err, elapsed)
	if err != nil {
		return nil, fmt.Errorf("exec %q: %w", s.sql, err)
	}
	return result, nil
}

// Query runs a statement that returns rows. The caller closes them.
func (s *Statement) Query(ctx context.Context) (*sql.Rows, error) {
	ctx, span := s.db.tracer.StartSpan(ctx, tracer.SpanQuery)
	defer span.End()

	if err := s.validate(); err != nil {
		s.trace(span, 0, err, 0)
		return nil, err
	}

	start := time.Now()
	var (
		rows *sql.Rows
		err  error
	)
	switch {
	case s.tx != nil:
		rows, err = s.tx.QueryContext(ctx, s.sql, s.args...)
	case s.db.stmtCache == nil:
		rows, err = s.db.sqlDB.QueryContext(ctx, s.sql, s.args...)
	default:
		var stmt *sql.Stmt
		if stmt, err = s.prepare(ctx); err == nil {
			rows, err = stmt.QueryContext(ctx, s.args...)
		}
	}
	elapsed := time.Since(start)

	s.logResult("query executed", 0, err, elapsed)
	s.trace(span, 0, err, elapsed)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", s.sql, err)
	}
	return rows, nil
}
