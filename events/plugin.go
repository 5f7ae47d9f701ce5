package events

import (
	"context"
	"errors"

	"github.com/songzhibin97/flownet/internal/value"
	"github.com/songzhibin97/flownet/workflow"
)

// Plugin publishes execution lifecycle events to a bus. Publishing never
// blocks the execution: events without subscribers are dropped and a full
// buffer is reported to the bus error handler.
type Plugin struct {
	workflow.BasePlugin
	bus *EventBus
}

// NewPlugin creates a plugin publishing to bus.
func NewPlugin(bus *EventBus) *Plugin {
	return &Plugin{bus: bus}
}

func (p *Plugin) publish(ctx context.Context, e *workflow.Execution, eventType string, node workflow.Node, data map[string]interface{}) {
	name := ""
	if wf := e.Workflow(); wf != nil {
		name = wf.Name
	}
	event := NewEvent(eventType, e.ID(), name)
	event.Data = data
	if node != nil {
		event.NodeID = node.ID()
		if event.Data == nil {
			event.Data = make(map[string]interface{})
		}
		event.Data["node"] = node.String()
	}

	// the bus outlives the callback's context
	err := p.bus.Publish(context.WithoutCancel(ctx), event)
	switch {
	case err == nil, errors.Is(err, ErrNoHandler):
	default:
		p.bus.errorHandler()(event, err)
	}
}

func (p *Plugin) AfterExecutionStarted(ctx context.Context, e *workflow.Execution) {
	p.publish(ctx, e, TypeExecutionStarted, nil, map[string]interface{}{"parent_id": e.ParentID()})
}

func (p *Plugin) AfterExecutionSuspended(ctx context.Context, e *workflow.Execution) {
	waiting := make([]string, 0)
	for name := range e.WaitingFor() {
		waiting = append(waiting, name)
	}
	p.publish(ctx, e, TypeExecutionSuspended, nil, map[string]interface{}{"waiting_for": waiting})
}

func (p *Plugin) AfterExecutionResumed(ctx context.Context, e *workflow.Execution) {
	p.publish(ctx, e, TypeExecutionResumed, nil, nil)
}

func (p *Plugin) AfterExecutionCancelled(ctx context.Context, e *workflow.Execution) {
	p.publish(ctx, e, TypeExecutionCancelled, nil, nil)
}

func (p *Plugin) AfterExecutionEnded(ctx context.Context, e *workflow.Execution) {
	p.publish(ctx, e, TypeExecutionEnded, nil, nil)
}

func (p *Plugin) AfterNodeActivated(ctx context.Context, e *workflow.Execution, n workflow.Node) {
	p.publish(ctx, e, TypeNodeActivated, n, nil)
}

func (p *Plugin) AfterNodeExecuted(ctx context.Context, e *workflow.Execution, n workflow.Node) {
	p.publish(ctx, e, TypeNodeExecuted, n, nil)
}

func (p *Plugin) AfterThreadStarted(ctx context.Context, e *workflow.Execution, thread, parent, siblings int) {
	p.publish(ctx, e, TypeThreadStarted, nil, map[string]interface{}{
		"thread":   thread,
		"parent":   parent,
		"siblings": siblings,
	})
}

func (p *Plugin) AfterThreadEnded(ctx context.Context, e *workflow.Execution, thread int) {
	p.publish(ctx, e, TypeThreadEnded, nil, map[string]interface{}{"thread": thread})
}

func (p *Plugin) AfterVariableSet(ctx context.Context, e *workflow.Execution, name string, v interface{}) {
	p.publish(ctx, e, TypeVariableSet, nil, map[string]interface{}{"name": name, "value": value.String(v)})
}

func (p *Plugin) AfterVariableUnset(ctx context.Context, e *workflow.Execution, name string) {
	p.publish(ctx, e, TypeVariableUnset, nil, map[string]interface{}{"name": name})
}
