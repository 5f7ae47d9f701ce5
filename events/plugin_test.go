package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/flownet/workflow"
)

func TestNewEvent(t *testing.T) {
	a := NewEvent(TypeExecutionStarted, 7, "Approval")
	b := NewEvent(TypeExecutionStarted, 7, "Approval")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, uint64(7), a.ExecutionID)
	assert.Equal(t, "Approval", a.Workflow)
	assert.False(t, a.Time.IsZero())
}

func TestPlugin(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	received := make(chan Event, 16)
	collect := func(ctx context.Context, event Event) error {
		received <- event
		return nil
	}
	eb.SubscribeFunc(TypeExecutionStarted, collect)
	eb.SubscribeFunc(TypeNodeExecuted, collect)
	eb.SubscribeFunc(TypeExecutionEnded, collect)

	wf := workflow.NewWorkflow("StartEnd")
	workflow.Connect(wf.Start(), wf.End())

	e := workflow.NewNonInteractive(workflow.WithPlugins(NewPlugin(eb)))
	require.NoError(t, e.SetWorkflow(wf))
	require.NoError(t, e.Start(context.Background()))

	var got []Event
	timeout := time.After(time.Second)
	for len(got) < 4 {
		select {
		case event := <-received:
			got = append(got, event)
		case <-timeout:
			t.Fatalf("Expected 4 events, got %d", len(got))
		}
	}

	assert.Equal(t, TypeExecutionStarted, got[0].Type)
	assert.Equal(t, TypeNodeExecuted, got[1].Type)
	assert.Equal(t, 1, got[1].NodeID)
	assert.Equal(t, "Start", got[1].Data["node"])
	assert.Equal(t, TypeNodeExecuted, got[2].Type)
	assert.Equal(t, 2, got[2].NodeID)
	assert.Equal(t, TypeExecutionEnded, got[3].Type)
	for _, event := range got {
		assert.Equal(t, "StartEnd", event.Workflow)
	}
}

func TestPluginReportsClosedBus(t *testing.T) {
	reported := make(chan error, 16)
	eb := NewEventBus(WithErrorHandler(func(event Event, err error) {
		reported <- err
	}))
	eb.SubscribeFunc(TypeExecutionStarted, func(context.Context, Event) error { return nil })
	eb.Stop()

	wf := workflow.NewWorkflow("StartEnd")
	workflow.Connect(wf.Start(), wf.End())

	e := workflow.NewNonInteractive(workflow.WithPlugins(NewPlugin(eb)))
	require.NoError(t, e.SetWorkflow(wf))
	require.NoError(t, e.Start(context.Background()))

	// closed bus errors are reported for every event, subscribed or not
	select {
	case err := <-reported:
		assert.ErrorIs(t, err, ErrBusClosed)
	case <-time.After(time.Second):
		t.Fatal("Expected closed bus to be reported")
	}
}
