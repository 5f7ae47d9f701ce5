// Package storage persists workflow definitions and execution checkpoints,
// and adapts them to the hooks the workflow engine expects from its host.
package storage

import (
	"context"
	"errors"

	"github.com/songzhibin97/flownet/types"
	"github.com/songzhibin97/flownet/workflow"
)

// Errors
var (
	ErrDefinitionNotFound = workflow.ErrDefinitionNotFound
	ErrExecutionNotFound  = errors.New("execution not found")
)

// Storage defines the interface for persisting workflow definitions and execution checkpoints.
type Storage interface {
	// SaveDefinition stores def as the next version of its name and returns that version.
	SaveDefinition(ctx context.Context, def types.Definition) (int, error)

	// GetDefinition retrieves a definition. Version 0 selects the latest version.
	GetDefinition(ctx context.Context, name string, version int) (types.Definition, error)

	// SaveExecution stores an execution checkpoint, replacing any previous one.
	SaveExecution(ctx context.Context, st types.ExecutionState) error

	// GetExecution retrieves an execution checkpoint by ID.
	GetExecution(ctx context.Context, id uint64) (types.ExecutionState, error)

	// DeleteExecution removes an execution checkpoint. Deleting a missing checkpoint is not an error.
	DeleteExecution(ctx context.Context, id uint64) error
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
