package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/songzhibin97/flownet/internal/value"
)

// Listener receives human-readable messages about an execution.
// Lifecycle messages are sent at slog.LevelInfo, node, thread and variable
// messages at slog.LevelDebug.
type Listener interface {
	Notify(ctx context.Context, level slog.Level, message string)
}

// SlogListener writes listener messages to a structured logger.
type SlogListener struct {
	Logger *slog.Logger
}

// Notify implements Listener.
func (l SlogListener) Notify(ctx context.Context, level slog.Level, message string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(ctx, level, message)
}

// ListenerPlugin renders execution events as messages for its listeners.
type ListenerPlugin struct {
	BasePlugin
	listeners []Listener
}

// AddListener adds l. It returns false if l was already added.
func (p *ListenerPlugin) AddListener(l Listener) bool {
	for _, existing := range p.listeners {
		if existing == l {
			return false
		}
	}
	p.listeners = append(p.listeners, l)
	return true
}

// RemoveListener removes l.
func (p *ListenerPlugin) RemoveListener(l Listener) bool {
	for i, existing := range p.listeners {
		if existing == l {
			p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (p *ListenerPlugin) notify(ctx context.Context, level slog.Level, format string, args ...interface{}) {
	if len(p.listeners) == 0 {
		return
	}
	message := fmt.Sprintf(format, args...)
	for _, l := range p.listeners {
		l.Notify(ctx, level, message)
	}
}

func describe(e *Execution) string {
	name, version := "", 0
	if e.workflow != nil {
		name, version = e.workflow.Name, e.workflow.Version
	}
	return fmt.Sprintf("execution #%d of workflow %q (version %d)", e.id, name, version)
}

func (p *ListenerPlugin) AfterExecutionStarted(ctx context.Context, e *Execution) {
	p.notify(ctx, slog.LevelInfo, "Started %s.", describe(e))
}

func (p *ListenerPlugin) AfterExecutionSuspended(ctx context.Context, e *Execution) {
	p.notify(ctx, slog.LevelInfo, "Suspended %s.", describe(e))
}

func (p *ListenerPlugin) AfterExecutionResumed(ctx context.Context, e *Execution) {
	p.notify(ctx, slog.LevelInfo, "Resumed %s.", describe(e))
}

func (p *ListenerPlugin) AfterExecutionCancelled(ctx context.Context, e *Execution) {
	p.notify(ctx, slog.LevelInfo, "Cancelled %s.", describe(e))
}

func (p *ListenerPlugin) AfterExecutionEnded(ctx context.Context, e *Execution) {
	p.notify(ctx, slog.LevelInfo, "Ended %s.", describe(e))
}

func (p *ListenerPlugin) AfterNodeActivated(ctx context.Context, e *Execution, n Node) {
	p.notify(ctx, slog.LevelDebug, "Activated node #%d(%s) for %s.", n.ID(), n, describe(e))
}

func (p *ListenerPlugin) AfterNodeExecuted(ctx context.Context, e *Execution, n Node) {
	p.notify(ctx, slog.LevelDebug, "Executed node #%d(%s) for %s.", n.ID(), n, describe(e))
}

func (p *ListenerPlugin) AfterThreadStarted(ctx context.Context, e *Execution, thread, parent, siblings int) {
	if parent == NoThread {
		p.notify(ctx, slog.LevelDebug, "Started thread #%d (%d sibling(s)) for %s.", thread, siblings, describe(e))
		return
	}
	p.notify(ctx, slog.LevelDebug, "Started thread #%d (parent: %d, %d sibling(s)) for %s.", thread, parent, siblings, describe(e))
}

func (p *ListenerPlugin) AfterThreadEnded(ctx context.Context, e *Execution, thread int) {
	p.notify(ctx, slog.LevelDebug, "Ended thread #%d for %s.", thread, describe(e))
}

func (p *ListenerPlugin) AfterVariableSet(ctx context.Context, e *Execution, name string, v interface{}) {
	p.notify(ctx, slog.LevelDebug, "Set variable %q to %q for %s.", name, value.String(v), describe(e))
}

func (p *ListenerPlugin) AfterVariableUnset(ctx context.Context, e *Execution, name string) {
	p.notify(ctx, slog.LevelDebug, "Unset variable %q for %s.", name, describe(e))
}

// AddListener attaches l through the execution's listener plugin, attaching
// the plugin first if needed.
func (e *Execution) AddListener(l Listener) bool {
	for _, p := range e.plugins {
		if lp, ok := p.(*ListenerPlugin); ok {
			return lp.AddListener(l)
		}
	}
	lp := &ListenerPlugin{}
	e.AddPlugin(lp)
	return lp.AddListener(l)
}

// RemoveListener detaches l from the execution's listener plugin.
func (e *Execution) RemoveListener(l Listener) bool {
	for _, p := range e.plugins {
		if lp, ok := p.(*ListenerPlugin); ok {
			return lp.RemoveListener(l)
		}
	}
	return false
}
