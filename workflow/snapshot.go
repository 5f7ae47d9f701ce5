package workflow

import (
	"fmt"
	"sort"

	"github.com/songzhibin97/flownet/conditions"
	"github.com/songzhibin97/flownet/internal/value"
	"github.com/songzhibin97/flownet/types"
)

// Snapshot captures the execution's runtime state. Together with the workflow
// definition it is everything a host needs to resume the execution in
// another process.
func (e *Execution) Snapshot() (types.ExecutionState, error) {
	st := types.ExecutionState{
		ID:           e.id,
		ParentID:     e.parentID,
		State:        e.state.String(),
		Variables:    e.Variables(),
		Activated:    make([]int, 0, len(e.activated)),
		NextThreadID: e.nextThreadID,
	}
	if e.workflow != nil {
		st.Workflow, st.WorkflowVersion = e.workflow.Name, e.workflow.Version
	}

	for _, n := range e.activated {
		st.Activated = append(st.Activated, n.ID())
	}
	for _, id := range e.Threads() {
		t := e.threads[id]
		st.Threads = append(st.Threads, types.Thread{ID: id, Parent: t.parent, Siblings: t.siblings})
	}

	names := make([]string, 0, len(e.waitingFor))
	for name := range e.waitingFor {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w := e.waitingFor[name]
		c, err := conditions.Encode(w.Condition)
		if err != nil {
			return types.ExecutionState{}, fmt.Errorf("encode condition for %q: %w", name, err)
		}
		st.WaitingFor = append(st.WaitingFor, types.WaitingFor{Variable: name, Node: nodeID(w.Node), Condition: c})
	}

	ids := make([]int, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		r := e.runs[id]
		if r.thread == NoThread && len(r.arrived) == 0 && r.siblings == 0 && r.parent == NoThread && r.child == 0 {
			continue
		}
		st.Nodes = append(st.Nodes, types.NodeState{
			Node:     id,
			Thread:   r.thread,
			Arrived:  append([]int(nil), r.arrived...),
			Siblings: r.siblings,
			Parent:   r.parent,
			Child:    r.child,
		})
	}
	return st, nil
}

// Restore replaces the execution's runtime state with st. The workflow st was
// taken from must already be attached.
func (e *Execution) Restore(st types.ExecutionState) error {
	if e.workflow == nil {
		return executionError(ErrNoWorkflow)
	}
	state, err := ParseState(st.State)
	if err != nil {
		return executionError(err)
	}

	byID := make(map[int]Node)
	for _, n := range e.workflow.Nodes() {
		byID[n.ID()] = n
	}
	lookup := func(id int) (Node, error) {
		n, ok := byID[id]
		if !ok {
			return nil, executionError(fmt.Errorf("%w: workflow %q has no node #%d", ErrInvalidState, e.workflow.Name, id))
		}
		return n, nil
	}

	activated := make([]Node, 0, len(st.Activated))
	numEnd := 0
	for _, id := range st.Activated {
		n, err := lookup(id)
		if err != nil {
			return err
		}
		activated = append(activated, n)
		if isEndNode(n) {
			numEnd++
		}
	}

	waitingFor := make(map[string]WaitingFor, len(st.WaitingFor))
	for _, w := range st.WaitingFor {
		n, err := lookup(w.Node)
		if err != nil {
			return err
		}
		c, err := conditions.Decode(w.Condition)
		if err != nil {
			return executionError(fmt.Errorf("decode condition for %q: %w", w.Variable, err))
		}
		waitingFor[w.Variable] = WaitingFor{Node: n, Condition: c}
	}

	runs := make(map[int]*nodeRun, len(byID))
	for id := range byID {
		runs[id] = newNodeRun()
	}
	for _, ns := range st.Nodes {
		if _, err := lookup(ns.Node); err != nil {
			return err
		}
		runs[ns.Node] = &nodeRun{
			thread:   ns.Thread,
			arrived:  append([]int(nil), ns.Arrived...),
			siblings: ns.Siblings,
			parent:   ns.Parent,
			child:    ns.Child,
		}
	}

	threads := make(map[int]thread, len(st.Threads))
	for _, t := range st.Threads {
		threads[t.ID] = thread{parent: t.Parent, siblings: t.Siblings}
	}

	variables := make(map[string]interface{}, len(st.Variables))
	for k, v := range st.Variables {
		variables[k] = value.Normalize(v)
	}

	e.id = st.ID
	e.parentID = st.ParentID
	e.state = state
	e.resumed = false
	e.activated = activated
	e.numActivated = len(activated)
	e.numActivatedEnd = numEnd
	e.threads = threads
	e.nextThreadID = st.NextThreadID
	e.variables = variables
	e.waitingFor = waitingFor
	e.runs = runs
	return nil
}
