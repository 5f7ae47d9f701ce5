package workflow

import (
	"context"
	"reflect"
)

// Plugin observes an execution. Callbacks run synchronously in attachment
// order. Embed BasePlugin to implement only the callbacks you need.
type Plugin interface {
	// BeforeNodeActivated may veto the activation by returning false.
	BeforeNodeActivated(ctx context.Context, e *Execution, n Node) bool
	AfterNodeActivated(ctx context.Context, e *Execution, n Node)
	AfterNodeExecuted(ctx context.Context, e *Execution, n Node)

	// BeforeVariableSet may replace the value being set.
	BeforeVariableSet(ctx context.Context, e *Execution, name string, value interface{}) interface{}
	AfterVariableSet(ctx context.Context, e *Execution, name string, value interface{})
	// BeforeVariableUnset may veto the removal by returning false.
	BeforeVariableUnset(ctx context.Context, e *Execution, name string) bool
	AfterVariableUnset(ctx context.Context, e *Execution, name string)

	AfterExecutionStarted(ctx context.Context, e *Execution)
	AfterExecutionSuspended(ctx context.Context, e *Execution)
	AfterExecutionResumed(ctx context.Context, e *Execution)
	AfterExecutionCancelled(ctx context.Context, e *Execution)
	AfterExecutionEnded(ctx context.Context, e *Execution)

	AfterThreadStarted(ctx context.Context, e *Execution, thread, parent, siblings int)
	AfterThreadEnded(ctx context.Context, e *Execution, thread int)
}

// BasePlugin implements Plugin with callbacks that change nothing.
type BasePlugin struct{}

func (BasePlugin) BeforeNodeActivated(context.Context, *Execution, Node) bool { return true }
func (BasePlugin) AfterNodeActivated(context.Context, *Execution, Node)       {}
func (BasePlugin) AfterNodeExecuted(context.Context, *Execution, Node)        {}
func (BasePlugin) BeforeVariableSet(_ context.Context, _ *Execution, _ string, v interface{}) interface{} {
	return v
}
func (BasePlugin) AfterVariableSet(context.Context, *Execution, string, interface{})  {}
func (BasePlugin) BeforeVariableUnset(context.Context, *Execution, string) bool        { return true }
func (BasePlugin) AfterVariableUnset(context.Context, *Execution, string)              {}
func (BasePlugin) AfterExecutionStarted(context.Context, *Execution)                   {}
func (BasePlugin) AfterExecutionSuspended(context.Context, *Execution)                 {}
func (BasePlugin) AfterExecutionResumed(context.Context, *Execution)                   {}
func (BasePlugin) AfterExecutionCancelled(context.Context, *Execution)                 {}
func (BasePlugin) AfterExecutionEnded(context.Context, *Execution)                     {}
func (BasePlugin) AfterThreadStarted(context.Context, *Execution, int, int, int)       {}
func (BasePlugin) AfterThreadEnded(context.Context, *Execution, int)                   {}

// AddPlugin attaches p. Only one plugin of each concrete type may be
// attached; adding a second one returns false.
func (e *Execution) AddPlugin(p Plugin) bool {
	t := reflect.TypeOf(p)
	for _, attached := range e.plugins {
		if reflect.TypeOf(attached) == t {
			return false
		}
	}
	e.plugins = append(e.plugins, p)
	return true
}

// RemovePlugin detaches the plugin of p's concrete type.
func (e *Execution) RemovePlugin(p Plugin) bool {
	t := reflect.TypeOf(p)
	for i, attached := range e.plugins {
		if reflect.TypeOf(attached) == t {
			e.plugins = append(e.plugins[:i:i], e.plugins[i+1:]...)
			return true
		}
	}
	return false
}

// Plugins returns the attached plugins in attachment order.
func (e *Execution) Plugins() []Plugin { return append([]Plugin(nil), e.plugins...) }

func (e *Execution) notify(fn func(Plugin)) {
	for _, p := range e.plugins {
		fn(p)
	}
}
