// Package queryprops adds queryable properties to a model-aware SQL query
// layer for PostgreSQL, MySQL and SQLite. A queryable property is a
// computed model attribute that can also be filtered on, selected, ordered
// by, aggregated over and assigned in bulk updates, by translating it into
// annotations and field conditions.
package queryprops

import (
	"github.com/coregx/queryprops/internal/core"
	"github.com/coregx/queryprops/internal/props"
	"github.com/coregx/queryprops/internal/tracer"
)

type (
	// DB represents the main database connection with caching and tracing capabilities.
	DB = core.DB
	// Option is a functional option for configuring DB.
	Option = core.Option
	// Config is the file-based connection configuration.
	Config = core.Config
	// Tx represents a database transaction.
	Tx = core.Tx
	// TxOptions represents transaction options including isolation level.
	TxOptions = core.TxOptions
	// Executor runs statements. DB and Tx implement it.
	Executor = core.Executor

	// Model describes a table, its fields, relations and properties.
	Model = core.Model
	// Instance is one loaded model row.
	Instance = core.Instance
	// Query is the native query state.
	Query = core.Query
	// Q is a filter tree.
	Q = core.Q
	// Expression is a SQL expression.
	Expression = core.Expression
	// OrderBy is an ORDER BY term.
	OrderBy = core.OrderBy
	// FieldError reports a path that could not be resolved.
	FieldError = core.FieldError

	// QuerySet is a chainable, property-aware query over one model.
	QuerySet = props.QuerySet
	// Property is a queryable property.
	Property = props.Property
	// Getter computes a property value for an instance.
	Getter = props.Getter
	// Filterer translates property conditions into filter trees.
	Filterer = props.Filterer
	// Annotater provides a property's annotation expression.
	Annotater = props.Annotater
	// Updater translates a property assignment into field assignments.
	Updater = props.Updater
	// PropertyError reports a missing property capability.
	PropertyError = props.PropertyError
)

// Re-export core functions.
var (
	Open                  = core.Open
	WrapDB                = core.WrapDB
	OpenConfig            = core.OpenConfig
	LoadConfig            = core.LoadConfig
	ParseConfig           = core.ParseConfig
	WithMaxOpenConns      = core.WithMaxOpenConns
	WithMaxIdleConns      = core.WithMaxIdleConns
	WithStmtCacheCapacity = core.WithStmtCacheCapacity
	WithLogger            = core.WithLogger
	WithSensitiveFields   = core.WithSensitiveFields
	WithTracer            = core.WithTracer
	WithValidation        = core.WithValidation
	NewOtelTracer         = tracer.NewOtelTracer

	// Models
	NewModel     = core.NewModel
	ModelFor     = core.ModelFor
	MustModelFor = core.MustModelFor

	// Filter trees
	Cond  = core.Cond
	Match = core.Match
	And   = core.And
	Or    = core.Or
	Not   = core.Not

	// Expressions
	F        = core.F
	OuterRef = core.OuterRef
	Value    = core.Value
	Raw      = core.Raw
	Add      = core.Add
	Sub      = core.Sub
	Mul      = core.Mul
	Div      = core.Div
	Subquery = core.Subquery
	Asc      = core.Asc
	Desc     = core.Desc
	Count    = core.Count
	Sum      = core.Sum
	Avg      = core.Avg
	Min      = core.Min
	Max      = core.Max
	Concat   = core.Concat
	Coalesce = core.Coalesce
	Lower    = core.Lower
	Upper    = core.Upper
	When     = core.When
	Case     = core.Case
)

// Re-export property functions.
var (
	Objects          = props.Objects
	Register         = props.Register
	MustRegister     = props.MustRegister
	AnnotationFilter = props.AnnotationFilter
)

// Errors.
var (
	ErrNoRows             = core.ErrNoRows
	ErrFieldNotFound      = core.ErrFieldNotFound
	ErrNoExecutor         = core.ErrNoExecutor
	ErrPropertyNotFound   = props.ErrPropertyNotFound
	ErrMissingCapability  = props.ErrMissingCapability
	ErrCircularDependency = props.ErrCircularDependency
	ErrConflictingValues  = props.ErrConflictingValues
)
