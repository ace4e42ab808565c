package core

import (
	"errors"
	"fmt"
)

// Predefined errors returned by the query layer.
var (
	// ErrNoRows is returned when a query that expects a row returns none.
	ErrNoRows = errors.New("no rows in result set")
	// ErrFieldNotFound is returned when a path names no field, relation or annotation.
	ErrFieldNotFound = errors.New("field not found")
	// ErrInvalidLookup is returned for unknown or malformed lookup operators.
	ErrInvalidLookup = errors.New("invalid lookup")
	// ErrNoExecutor is returned by terminal operations on a query set built without a database.
	ErrNoExecutor = errors.New("query set has no executor")
	// ErrInvalidModelType is returned when a value cannot be mapped to a model.
	ErrInvalidModelType = errors.New("invalid model type")
)

// FieldError reports a path segment that could not be resolved on a model.
type FieldError struct {
	Model string
	Name  string
	// Choices lists the names that would have been accepted.
	Choices []string
}

func (e *FieldError) Error() string {
	if len(e.Choices) == 0 {
		return fmt.Sprintf("cannot resolve %q on %s", e.Name, e.Model)
	}
	return fmt.Sprintf("cannot resolve %q on %s, choices are: %v", e.Name, e.Model, e.Choices)
}

// Is matches ErrFieldNotFound.
func (e *FieldError) Is(target error) bool {
	return target == ErrFieldNotFound
}

// WrapError wraps err with a message, keeping it reachable through errors.Is.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{msg: message, err: err}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string { return e.msg + ": " + e.err.Error() }

func (e *wrappedError) Unwrap() error { return e.err }

// Update and insert errors.
var (
	// ErrSlicedUpdate is returned when updating a query that has a limit or offset.
	ErrSlicedUpdate = errors.New("cannot update a sliced query")
	// ErrJoinedUpdate is returned when an update value needs a join.
	ErrJoinedUpdate = errors.New("update values cannot reference related fields")
)
