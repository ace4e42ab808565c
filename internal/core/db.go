// Package core provides the model-aware query layer: connection management,
// statement execution, model metadata, expressions, filter trees, the Query
// state with its extension overlay, compilation, aggregation and updates.
package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coregx/queryprops/internal/cache"
	"github.com/coregx/queryprops/internal/dialects"
	"github.com/coregx/queryprops/internal/logger"
	"github.com/coregx/queryprops/internal/security"
	"github.com/coregx/queryprops/internal/tracer"
)

// Executor runs statements. DB and Tx implement it.
type Executor interface {
	Dialect() dialects.Dialect
	NewStatement(query string, args ...any) *Statement
}

// DB is a database handle with a statement cache, logging and tracing.
type DB struct {
	sqlDB      *sql.DB
	driverName string
	dialect    dialects.Dialect
	stmtCache  *cache.StmtCache
	logger     logger.Logger
	sanitizer  *logger.Sanitizer
	tracer     tracer.Tracer
	validator  *security.Validator
}

// Tx is a database transaction.
type Tx struct {
	db *DB
	tx *sql.Tx
}

// TxOptions represents transaction options including isolation level.
type TxOptions struct {
	// Isolation level for the transaction (e.g., sql.LevelReadCommitted)
	Isolation sql.IsolationLevel
	// ReadOnly indicates whether the transaction is read-only
	ReadOnly bool
}

// Option is a functional option for configuring DB.
type Option func(*DB)

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(db *DB) {
		db.sqlDB.SetMaxOpenConns(n)
	}
}

// WithMaxIdleConns sets the maximum number of idle connections.
func WithMaxIdleConns(n int) Option {
	return func(db *DB) {
		db.sqlDB.SetMaxIdleConns(n)
	}
}

// WithStmtCacheCapacity sets the prepared statement cache capacity. Zero
// disables the cache.
func WithStmtCacheCapacity(capacity int) Option {
	return func(db *DB) {
		if db.stmtCache != nil {
			db.stmtCache.Clear()
		}
		db.stmtCache = nil
		if capacity > 0 {
			db.stmtCache = cache.New(capacity)
		}
	}
}

// WithLogger enables statement logging through l.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) {
		db.logger = logger.NewSlogAdapter(l)
	}
}

// WithSensitiveFields sets the column names whose statements get their
// parameters masked in logs.
func WithSensitiveFields(fields []string) Option {
	return func(db *DB) {
		db.sanitizer = logger.NewSanitizer(fields)
	}
}

// WithTracer enables tracing through t.
func WithTracer(t tracer.Tracer) Option {
	return func(db *DB) {
		if t == nil {
			t = tracer.NoopTracer{}
		}
		db.tracer = t
	}
}

// WithValidation screens every statement for injection patterns before it runs.
func WithValidation(opts ...security.Option) Option {
	return func(db *DB) {
		db.validator = security.NewValidator(opts...)
	}
}

func newDB(sqlDB *sql.DB, driverName string, opts []Option) (*DB, error) {
	d, ok := dialects.Lookup(driverName)
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q", driverName)
	}
	db := &DB{
		sqlDB:      sqlDB,
		driverName: driverName,
		dialect:    d,
		stmtCache:  cache.New(cache.DefaultCapacity),
		logger:     logger.NoopLogger{},
		sanitizer:  logger.NewSanitizer(nil),
		tracer:     tracer.NoopTracer{},
	}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Open opens a database. MySQL DSNs are parsed and get parseTime enabled.
func Open(driverName, dsn string, opts ...Option) (*DB, error) {
	if d, ok := dialects.Lookup(driverName); ok && d.Name() == "mysql" {
		var err error
		if dsn, err = normalizeMySQLDSN(dsn); err != nil {
			return nil, err
		}
	}
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db, err := newDB(sqlDB, driverName, opts)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// WrapDB wraps an existing connection pool. Close on the result closes sqlDB.
func WrapDB(sqlDB *sql.DB, driverName string, opts ...Option) (*DB, error) {
	return newDB(sqlDB, driverName, opts)
}

// Close releases all database resources.
func (db *DB) Close() error {
	if db.stmtCache != nil {
		db.stmtCache.Clear()
	}
	return db.sqlDB.Close()
}

// DB returns the underlying connection pool.
func (db *DB) DB() *sql.DB { return db.sqlDB }

// DriverName returns the driver the handle was opened with.
func (db *DB) DriverName() string { return db.driverName }

// Dialect returns the SQL dialect.
func (db *DB) Dialect() dialects.Dialect { return db.dialect }

// Logger returns the statement logger.
func (db *DB) Logger() logger.Logger { return db.logger }

// CacheStats returns statement cache statistics.
func (db *DB) CacheStats() cache.Stats {
	if db.stmtCache == nil {
		return cache.Stats{}
	}
	return db.stmtCache.Stats()
}

// NewStatement binds query to db, renumbering "?" placeholders for the dialect.
func (db *DB) NewStatement(query string, args ...any) *Statement {
	return &Statement{db: db, sql: renumber(db.dialect, query), args: args}
}

// Begin starts a transaction with default options.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	return db.BeginTx(ctx, nil)
}

// BeginTx starts a transaction with specified options.
func (db *DB) BeginTx(ctx context.Context, opts *TxOptions) (*Tx, error) {
	var sqlOpts *sql.TxOptions
	if opts != nil {
		sqlOpts = &sql.TxOptions{
			Isolation: opts.Isolation,
			ReadOnly:  opts.ReadOnly,
		}
	}
	tx, err := db.sqlDB.BeginTx(ctx, sqlOpts)
	if err != nil {
		return nil, err
	}
	return &Tx{db: db, tx: tx}, nil
}

// Transactional runs fn in a transaction, committing when it returns nil and
// rolling back otherwise. A panic in fn rolls back and is re-raised.
func (db *DB) Transactional(ctx context.Context, fn func(*Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, rbErr)
			}
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

// Dialect returns the SQL dialect.
func (tx *Tx) Dialect() dialects.Dialect { return tx.db.dialect }

// Logger returns the statement logger.
func (tx *Tx) Logger() logger.Logger { return tx.db.logger }

// NewStatement binds query to the transaction.
func (tx *Tx) NewStatement(query string, args ...any) *Statement {
	return &Statement{db: tx.db, tx: tx.tx, sql: renumber(tx.db.dialect, query), args: args}
}

// Commit commits the transaction.
func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

// Rollback rolls back the transaction.
func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}
