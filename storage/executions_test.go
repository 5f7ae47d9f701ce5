package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/flownet/conditions"
	"github.com/songzhibin97/flownet/workflow"
)

// MockGenerator is a simple ID generator for testing.
type MockGenerator struct {
	id  uint64
	err error
}

func (g *MockGenerator) NextID() (uint64, error) {
	if g.err != nil {
		return 0, g.err
	}
	g.id++
	return g.id, nil
}

func newTestExecutions(t *testing.T, store *MemoryStorage, defs workflow.DefinitionStorage) *Executions {
	t.Helper()
	x, err := NewExecutions(&MockGenerator{}, store, defs)
	require.NoError(t, err)
	return x
}

func TestNewExecutions(t *testing.T) {
	_, err := NewExecutions(nil, nil, nil)
	assert.EqualError(t, err, "generator is required")

	x, err := NewExecutions(&MockGenerator{}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, x.store)
	assert.NotNil(t, x.Definitions())
}

func TestExecutionsSuspendResume(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	defs := NewDefinitions(store, nil)
	require.NoError(t, defs.Save(ctx, approvalWorkflow()))

	x := newTestExecutions(t, store, defs)
	e, err := x.Start(ctx, "Approval", 0, map[string]interface{}{"amount": 10})
	require.NoError(t, err)
	require.True(t, e.IsSuspended())
	assert.Equal(t, uint64(1), e.ID())

	st, err := x.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "suspended", st.State)
	assert.Equal(t, "Approval", st.Workflow)
	assert.Equal(t, 1, st.WorkflowVersion)
	assert.Equal(t, 10, st.Variables["amount"])
	require.Len(t, st.WaitingFor, 1)
	assert.Equal(t, "approved", st.WaitingFor[0].Variable)
	assert.NotZero(t, st.CreatedAt)
	assert.GreaterOrEqual(t, st.UpdatedAt, st.CreatedAt)

	// a second host over the same storage picks the execution up
	other := newTestExecutions(t, store, NewDefinitions(store, nil))

	_, err = other.Resume(ctx, 1, map[string]interface{}{"approved": "yes"})
	var invalid *workflow.InvalidInputError
	require.True(t, errors.As(err, &invalid))
	assert.Contains(t, invalid.Errors, "approved")
	st, err = other.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "suspended", st.State)

	resumed, err := other.Resume(ctx, 1, map[string]interface{}{"approved": true})
	require.NoError(t, err)
	assert.True(t, resumed.HasEnded())
	status, err := resumed.Variable("status")
	require.NoError(t, err)
	assert.Equal(t, "approved", status)
	amount, err := resumed.Variable("amount")
	require.NoError(t, err)
	assert.Equal(t, 10, amount)

	_, err = other.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestExecutionsCancel(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	defs := NewDefinitions(store, nil)
	require.NoError(t, defs.Save(ctx, approvalWorkflow()))

	x := newTestExecutions(t, store, defs)
	e, err := x.Start(ctx, "Approval", 0, nil)
	require.NoError(t, err)
	require.True(t, e.IsSuspended())

	require.NoError(t, x.Cancel(ctx, e.ID()))
	_, err = x.Get(ctx, e.ID())
	assert.ErrorIs(t, err, ErrExecutionNotFound)

	assert.ErrorIs(t, x.Cancel(ctx, e.ID()), ErrExecutionNotFound)
}

func TestExecutionsCancelWithFinally(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	defs := NewDefinitions(store, nil)

	wf := workflow.NewWorkflow("Cleanup")
	workflow.Connect(wf.Start(), workflow.NewInput(map[string]conditions.Condition{"go": conditions.IsTrue()}), wf.End())
	workflow.Connect(wf.Finally(), workflow.NewSetVar(map[string]interface{}{"cleaned": true}), workflow.NewEnd())
	require.NoError(t, defs.Save(ctx, wf))

	x := newTestExecutions(t, store, defs)
	e, err := x.Start(ctx, "Cleanup", 0, nil)
	require.NoError(t, err)
	require.True(t, e.IsSuspended())

	// the finally graph ends the execution before the cancel does, so OnEnd runs twice
	require.NoError(t, e.Cancel(ctx))
	assert.True(t, e.IsCancelled())
	cleaned, err := e.Variable("cleaned")
	require.NoError(t, err)
	assert.Equal(t, true, cleaned)

	_, err = x.Get(ctx, e.ID())
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestExecutionsStartErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	x := newTestExecutions(t, store, nil)
	_, err := x.Start(ctx, "Missing", 0, nil)
	assert.ErrorIs(t, err, ErrDefinitionNotFound)

	require.NoError(t, x.Definitions().Save(ctx, approvalWorkflow()))
	failing, err := NewExecutions(&MockGenerator{err: errors.New("clock moved backwards")}, store, x.Definitions())
	require.NoError(t, err)
	_, err = failing.Start(ctx, "Approval", 0, nil)
	assert.ErrorContains(t, err, "clock moved backwards")
}

func TestExecutionsSubWorkflow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	defs := NewDefinitions(store, nil)

	ask := workflow.NewWorkflow("AskForY")
	workflow.Connect(ask.Start(), workflow.NewInput(map[string]conditions.Condition{"y": conditions.IsInteger()}), ask.End())
	require.NoError(t, defs.Save(ctx, ask))

	parent := workflow.NewWorkflow("Parent")
	workflow.Connect(parent.Start(),
		workflow.NewSubWorkflow("AskForY", nil, []workflow.VariableMapping{{From: "y", To: "result"}}),
		parent.End())
	require.NoError(t, defs.Save(ctx, parent))

	x := newTestExecutions(t, store, defs)
	e, err := x.Start(ctx, "Parent", 0, nil)
	require.NoError(t, err)
	require.True(t, e.IsSuspended())
	assert.Contains(t, e.WaitingFor(), "y")

	child, err := x.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "AskForY", child.Workflow)
	assert.Equal(t, uint64(1), child.ParentID)
	assert.Equal(t, "suspended", child.State)

	other := newTestExecutions(t, store, NewDefinitions(store, nil))
	resumed, err := other.Resume(ctx, 1, map[string]interface{}{"y": 7})
	require.NoError(t, err)
	assert.True(t, resumed.HasEnded())
	v, err := resumed.Variable("result")
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = other.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
	_, err = other.Get(ctx, 2)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestExecutionsVariableHandler(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	registry := workflow.NewRegistry()
	registry.RegisterVariableHandler("memory", func() (workflow.VariableHandler, error) {
		return store.VariableHandler(), nil
	})
	defs := NewDefinitions(store, registry)

	wf := workflow.NewWorkflow("Counter")
	wf.AddVariableHandler("count", "memory", store.VariableHandler())
	workflow.Connect(wf.Start(),
		workflow.NewSetVar(map[string]interface{}{"count": 5}),
		workflow.NewInput(map[string]conditions.Condition{"go": conditions.IsTrue()}),
		workflow.NewIncrement("count"),
		wf.End())
	require.NoError(t, defs.Save(ctx, wf))

	x := newTestExecutions(t, store, defs)
	e, err := x.Start(ctx, "Counter", 0, nil)
	require.NoError(t, err)
	require.True(t, e.IsSuspended())

	st, err := x.Get(ctx, e.ID())
	require.NoError(t, err)
	assert.NotContains(t, st.Variables, "count", "handler variables are not checkpointed")

	v, err := store.VariableHandler().Load(ctx, e, "count")
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	other := newTestExecutions(t, store, NewDefinitions(store, registry))
	resumed, err := other.Resume(ctx, e.ID(), map[string]interface{}{"go": true})
	require.NoError(t, err)
	require.True(t, resumed.HasEnded())

	v, err = store.VariableHandler().Load(ctx, resumed, "count")
	require.NoError(t, err)
	assert.Equal(t, 6, v)
}
