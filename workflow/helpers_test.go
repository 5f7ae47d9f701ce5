package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

// testHost keeps executions in memory and assigns sequential ids.
type testHost struct {
	nextID     uint64
	executions map[uint64]*Execution
	hooks      []string
}

func newTestHost() *testHost {
	return &testHost{executions: make(map[uint64]*Execution)}
}

func (h *testHost) OnStart(_ context.Context, e *Execution, _ uint64) error {
	h.nextID++
	e.SetID(h.nextID)
	h.executions[e.ID()] = e
	h.hooks = append(h.hooks, fmt.Sprintf("start %d", e.ID()))
	return nil
}

func (h *testHost) OnSuspend(_ context.Context, e *Execution) error {
	h.hooks = append(h.hooks, fmt.Sprintf("suspend %d", e.ID()))
	return nil
}

func (h *testHost) OnResume(_ context.Context, e *Execution) error {
	h.hooks = append(h.hooks, fmt.Sprintf("resume %d", e.ID()))
	return nil
}

func (h *testHost) OnEnd(_ context.Context, e *Execution) error {
	h.hooks = append(h.hooks, fmt.Sprintf("end %d", e.ID()))
	return nil
}

func (h *testHost) SubExecution(_ context.Context, parent *Execution, id uint64) (*Execution, error) {
	if id == 0 {
		return NewExecution(WithHost(h), WithDefinitionStorage(parent.DefinitionStorage())), nil
	}
	e, ok := h.executions[id]
	if !ok {
		return nil, fmt.Errorf("no execution %d", id)
	}
	return e, nil
}

// testDefinitions serves workflows by name.
type testDefinitions map[string]*Workflow

func (d testDefinitions) LoadByName(_ context.Context, name string, _ int) (*Workflow, error) {
	wf, ok := d[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDefinitionNotFound, name)
	}
	return wf, nil
}

func (d testDefinitions) Save(_ context.Context, wf *Workflow) error {
	wf.Version++
	d[wf.Name] = wf
	return nil
}

type message struct {
	level slog.Level
	text  string
}

type recordingListener struct {
	messages []message
}

func (l *recordingListener) Notify(_ context.Context, level slog.Level, text string) {
	l.messages = append(l.messages, message{level: level, text: text})
}

func (l *recordingListener) at(level slog.Level) []string {
	var out []string
	for _, m := range l.messages {
		if m.level == level {
			out = append(out, m.text)
		}
	}
	return out
}

// sequence builds a workflow running nodes one after another.
func sequence(name string, nodes ...Node) *Workflow {
	wf := NewWorkflow(name)
	chain := append([]Node{wf.Start()}, nodes...)
	Connect(append(chain, wf.End())...)
	return wf
}

// runNonInteractive runs wf to completion with vars preset.
func runNonInteractive(t *testing.T, wf *Workflow, vars map[string]interface{}) (*Execution, error) {
	t.Helper()
	e := NewNonInteractive()
	require.NoError(t, e.SetWorkflow(wf))
	e.SetVariables(context.Background(), vars)
	return e, e.Start(context.Background())
}
