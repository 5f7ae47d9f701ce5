package workflow

import (
	"context"
	"fmt"
	"strings"
)

// VariableMapping copies the variable From of one execution into the variable To of another.
type VariableMapping struct {
	From string
	To   string
}

// SubWorkflow runs another workflow, loaded by name from the execution's
// definition storage, as a child execution.
type SubWorkflow struct {
	node
	workflow string
	in       []VariableMapping
	out      []VariableMapping
}

// NewSubWorkflow creates a sub-workflow node. in maps parent variables into
// the child before it starts; out maps child variables back once it ends.
func NewSubWorkflow(workflow string, in, out []VariableMapping) *SubWorkflow {
	n := &SubWorkflow{
		workflow: workflow,
		in:       append([]VariableMapping(nil), in...),
		out:      append([]VariableMapping(nil), out...),
	}
	n.init(n, KindSubWorkflow, 1, 1, 1, 1)
	return n
}

// Workflow returns the name of the child workflow.
func (n *SubWorkflow) Workflow() string { return n.workflow }

// In returns the parent to child variable mappings.
func (n *SubWorkflow) In() []VariableMapping { return append([]VariableMapping(nil), n.in...) }

// Out returns the child to parent variable mappings.
func (n *SubWorkflow) Out() []VariableMapping { return append([]VariableMapping(nil), n.out...) }

func (n *SubWorkflow) String() string {
	in := make([]string, len(n.in))
	for i, m := range n.in {
		in[i] = m.From + ":" + m.To
	}
	return fmt.Sprintf("SubWorkflow(%s, in: %s)", n.workflow, strings.Join(in, ", "))
}

func (n *SubWorkflow) execute(ctx context.Context, e *Execution) (bool, error) {
	if e.definitions == nil {
		return false, configurationError(n, ErrNoDefinitionStorage)
	}
	wf, err := e.definitions.LoadByName(ctx, n.workflow, 0)
	if err != nil {
		return false, structuralError(n, fmt.Errorf("load sub-workflow %q: %w", n.workflow, err))
	}

	run := e.run(n)
	var sub *Execution

	switch {
	case !wf.IsInteractive() && !wf.HasSubWorkflows():
		if sub, err = n.startChild(ctx, e, wf, false); err != nil {
			return false, err
		}
	case run.child == 0:
		if sub, err = n.startChild(ctx, e, wf, true); err != nil {
			return false, err
		}
		run.child = sub.ID()
	default:
		if sub, err = e.SubExecution(ctx, run.child, true); err != nil {
			return false, err
		}
		if sub.Workflow() == nil {
			if err := sub.SetWorkflow(wf); err != nil {
				return false, err
			}
		}
		if err := sub.Resume(ctx, e.Variables()); err != nil {
			return false, err
		}
	}

	if sub.IsCancelled() {
		return true, e.cancel(ctx, n)
	}

	if sub.HasEnded() {
		for _, m := range n.out {
			v, err := sub.Variable(m.From)
			if err != nil {
				return false, err
			}
			e.SetVariable(ctx, m.To, v)
		}
		run.child = 0
		return true, n.activateOut(ctx, e, e.threadOf(n))
	}

	for name, w := range sub.WaitingFor() {
		e.addWaitingFor(n, name, w.Condition)
	}
	return false, nil
}

func (n *SubWorkflow) startChild(ctx context.Context, e *Execution, wf *Workflow, interactive bool) (*Execution, error) {
	sub, err := e.SubExecution(ctx, 0, interactive)
	if err != nil {
		return nil, err
	}
	if err := sub.SetWorkflow(wf); err != nil {
		return nil, err
	}
	for _, m := range n.in {
		v, err := e.Variable(m.From)
		if err != nil {
			return nil, err
		}
		sub.SetVariable(ctx, m.To, v)
	}
	if interactive {
		return sub, sub.StartSub(ctx, e.ID())
	}
	return sub, sub.Start(ctx)
}
