package workflow

import (
	"context"
	"log/slog"
)

// Host persists executions on behalf of the engine, which never stores
// anything itself. The hooks are called synchronously from Start, Resume and
// the suspend and end paths; an error aborts the operation.
type Host interface {
	// OnStart is called when an execution starts, before any node runs.
	// Interactive hosts assign the execution id here.
	OnStart(ctx context.Context, e *Execution, parentID uint64) error
	OnSuspend(ctx context.Context, e *Execution) error
	OnResume(ctx context.Context, e *Execution) error
	OnEnd(ctx context.Context, e *Execution) error

	// SubExecution returns a new interactive execution when id is 0, or the
	// stored execution with that id.
	SubExecution(ctx context.Context, parent *Execution, id uint64) (*Execution, error)
}

// DefinitionStorage loads and saves workflow definitions.
type DefinitionStorage interface {
	// LoadByName loads a workflow. Version 0 selects the latest version.
	LoadByName(ctx context.Context, name string, version int) (*Workflow, error)
	// Save stores wf as a new version and updates wf.Version.
	Save(ctx context.Context, wf *Workflow) error
}

type nopHost struct{}

func (nopHost) OnStart(context.Context, *Execution, uint64) error { return nil }
func (nopHost) OnSuspend(context.Context, *Execution) error       { return nil }
func (nopHost) OnResume(context.Context, *Execution) error        { return nil }
func (nopHost) OnEnd(context.Context, *Execution) error           { return nil }

func (nopHost) SubExecution(context.Context, *Execution, uint64) (*Execution, error) {
	return nil, executionError(ErrNoSubExecution)
}

// Option configures an Execution.
type Option func(*Execution)

// WithHost sets the persistence hooks. Non-interactive executions ignore it.
func WithHost(h Host) Option {
	return func(e *Execution) {
		if h != nil {
			e.host = h
		}
	}
}

// WithDefinitionStorage sets the storage sub-workflow nodes load definitions from.
func WithDefinitionStorage(ds DefinitionStorage) Option {
	return func(e *Execution) {
		e.definitions = ds
	}
}

// WithLogger sets the logger for engine diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Execution) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithID sets the execution id, for hosts restoring a stored execution.
func WithID(id uint64) Option {
	return func(e *Execution) {
		e.id = id
	}
}

// WithPlugins attaches plugins.
func WithPlugins(plugins ...Plugin) Option {
	return func(e *Execution) {
		for _, p := range plugins {
			e.AddPlugin(p)
		}
	}
}
