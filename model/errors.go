package model

import (
	"errors"
	"fmt"

	"github.com/jacentio/moody/filter"
	"github.com/jacentio/moody/index"
	"github.com/jacentio/moody/store"
)

var (
	// ErrQueryExecutionFailed is matched by every *QueryError.
	ErrQueryExecutionFailed = errors.New("moody: query execution failed")

	// ErrUnknownModel is returned when a registry lookup names no model.
	ErrUnknownModel = errors.New("moody: unknown model")

	// ErrModelExists is returned when a model name is defined twice.
	ErrModelExists = errors.New("moody: model already defined")

	// ErrInvalidSchema is returned when a schema cannot be turned into a model.
	ErrInvalidSchema = errors.New("moody: invalid schema")

	// ErrUnknownMethod is returned when calling a static or instance method that was never attached.
	ErrUnknownMethod = errors.New("moody: unknown method")

	// ErrIndexUnusable is returned when a forced index cannot serve the filter
	// because its hash key has no equality predicate.
	ErrIndexUnusable = errors.New("moody: index cannot serve query")

	// ErrUnknownIndex is re-exported from the index package.
	ErrUnknownIndex = index.ErrUnknownIndex

	// ErrUnsupportedOperator is re-exported from the filter package.
	ErrUnsupportedOperator = filter.ErrUnsupportedOperator

	// ErrNotFound is re-exported from the store package.
	ErrNotFound = store.ErrNotFound
)

// QueryError reports a store failure during query execution.
// It matches ErrQueryExecutionFailed and unwraps to the store's error.
type QueryError struct {
	Model string
	Stage Stage
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("moody: query on %s failed at %s: %v", e.Model, e.Stage, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Is matches ErrQueryExecutionFailed.
func (e *QueryError) Is(target error) bool {
	return target == ErrQueryExecutionFailed
}
