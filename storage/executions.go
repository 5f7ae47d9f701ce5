package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"github.com/songzhibin97/flownet/types"
	"github.com/songzhibin97/flownet/workflow"
)

// Executions is a workflow.Host that checkpoints interactive executions to a
// Storage. Ids come from a generator, checkpoints are written when an
// execution starts or suspends and removed when it ends.
type Executions struct {
	store       Storage
	definitions workflow.DefinitionStorage
	generate    generator.Generator
	logger      *slog.Logger
	plugins     []workflow.Plugin

	mu      sync.RWMutex
	created map[uint64]int64 // creation time of executions seen by this host
}

// ExecutionsOption configures Executions.
type ExecutionsOption func(*Executions)

// WithExecutionsLogger sets the logger for host diagnostics and new executions.
func WithExecutionsLogger(l *slog.Logger) ExecutionsOption {
	return func(x *Executions) {
		if l != nil {
			x.logger = l
		}
	}
}

// WithExecutionPlugins attaches plugins to every execution the host creates or loads.
func WithExecutionPlugins(plugins ...workflow.Plugin) ExecutionsOption {
	return func(x *Executions) {
		x.plugins = append(x.plugins, plugins...)
	}
}

// NewExecutions creates a host persisting to store and loading workflows from definitions.
func NewExecutions(generate generator.Generator, store Storage, definitions workflow.DefinitionStorage, opts ...ExecutionsOption) (*Executions, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}
	if store == nil {
		store = NewMemoryStorage()
	}
	if definitions == nil {
		definitions = NewDefinitions(store, nil)
	}

	x := &Executions{
		store:       store,
		definitions: definitions,
		generate:    generate,
		logger:      slog.Default(),
		created:     make(map[uint64]int64),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// Definitions returns the definition storage executions load workflows from.
func (x *Executions) Definitions() workflow.DefinitionStorage { return x.definitions }

// New creates an interactive execution hosted by x.
func (x *Executions) New(opts ...workflow.Option) *workflow.Execution {
	base := []workflow.Option{
		workflow.WithHost(x),
		workflow.WithDefinitionStorage(x.definitions),
		workflow.WithLogger(x.logger),
		workflow.WithPlugins(x.plugins...),
	}
	return workflow.NewExecution(append(base, opts...)...)
}

// Start loads the workflow name at version (0 for the latest), sets vars and
// starts a new execution of it.
func (x *Executions) Start(ctx context.Context, name string, version int, vars map[string]interface{}) (*workflow.Execution, error) {
	wf, err := x.definitions.LoadByName(ctx, name, version)
	if err != nil {
		return nil, err
	}
	e := x.New()
	if err := e.SetWorkflow(wf); err != nil {
		return nil, err
	}
	e.SetVariables(ctx, vars)
	return e, e.Start(ctx)
}

// Load restores the stored execution id together with its workflow.
func (x *Executions) Load(ctx context.Context, id uint64) (*workflow.Execution, error) {
	st, err := x.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	wf, err := x.definitions.LoadByName(ctx, st.Workflow, st.WorkflowVersion)
	if err != nil {
		return nil, fmt.Errorf("execution %d: %w", id, err)
	}

	e := x.New(workflow.WithID(id))
	if err := e.SetWorkflow(wf); err != nil {
		return nil, err
	}
	if err := e.Restore(st); err != nil {
		return nil, fmt.Errorf("execution %d: %w", id, err)
	}

	x.mu.Lock()
	if _, ok := x.created[id]; !ok {
		x.created[id] = st.CreatedAt
	}
	x.mu.Unlock()
	return e, nil
}

// Resume loads the stored execution id and resumes it with input.
func (x *Executions) Resume(ctx context.Context, id uint64, input map[string]interface{}) (*workflow.Execution, error) {
	e, err := x.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return e, e.Resume(ctx, input)
}

// Cancel loads the stored execution id and cancels it.
func (x *Executions) Cancel(ctx context.Context, id uint64) error {
	e, err := x.Load(ctx, id)
	if err != nil {
		return err
	}
	return e.Cancel(ctx)
}

// checkpoint saves the current state of e.
func (x *Executions) checkpoint(ctx context.Context, e *workflow.Execution) error {
	st, err := e.Snapshot()
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	x.mu.RLock()
	created, ok := x.created[e.ID()]
	x.mu.RUnlock()
	if !ok {
		created = now
	}
	st.CreatedAt = created
	st.UpdatedAt = now

	if err := x.store.SaveExecution(ctx, st); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// OnStart assigns a new id to e and stores its first checkpoint.
func (x *Executions) OnStart(ctx context.Context, e *workflow.Execution, parentID uint64) error {
	id, err := x.generate.NextID()
	if err != nil {
		return fmt.Errorf("failed to generate ID: %w", err)
	}
	e.SetID(id)

	x.mu.Lock()
	x.created[id] = time.Now().UnixMilli()
	x.mu.Unlock()

	x.logger.InfoContext(ctx, "execution created",
		"execution_id", id, "parent_id", parentID, "workflow", e.Workflow().Name)
	return x.checkpoint(ctx, e)
}

// OnSuspend stores the suspended state of e.
func (x *Executions) OnSuspend(ctx context.Context, e *workflow.Execution) error {
	x.logger.InfoContext(ctx, "execution suspended",
		"execution_id", e.ID(), "waiting_for", len(e.WaitingFor()))
	return x.checkpoint(ctx, e)
}

// OnResume is a no-op: the checkpoint is replaced on the next suspend or removed on end.
func (x *Executions) OnResume(ctx context.Context, e *workflow.Execution) error {
	x.logger.DebugContext(ctx, "execution resumed", "execution_id", e.ID())
	return nil
}

// OnEnd removes the checkpoint of a finished execution.
func (x *Executions) OnEnd(ctx context.Context, e *workflow.Execution) error {
	x.mu.Lock()
	delete(x.created, e.ID())
	x.mu.Unlock()

	x.logger.InfoContext(ctx, "execution finished",
		"execution_id", e.ID(), "state", e.State().String())
	return x.store.DeleteExecution(ctx, e.ID())
}

// SubExecution creates a new interactive execution when id is 0 and loads
// the stored one otherwise.
func (x *Executions) SubExecution(ctx context.Context, parent *workflow.Execution, id uint64) (*workflow.Execution, error) {
	if id == 0 {
		return x.New(), nil
	}
	return x.Load(ctx, id)
}

// Get returns the stored checkpoint of execution id.
func (x *Executions) Get(ctx context.Context, id uint64) (types.ExecutionState, error) {
	return x.store.GetExecution(ctx, id)
}
