package workflow

import "context"

// Start is the single entry point of a workflow. It starts the root thread.
type Start struct {
	node
}

// NewStart creates a start node. Workflows create their own; this is only
// needed when assembling a graph by hand.
func NewStart() *Start {
	n := &Start{}
	n.init(n, KindStart, 0, 0, 1, 1)
	return n
}

func (n *Start) execute(ctx context.Context, e *Execution) (bool, error) {
	thread := e.StartThread(ctx, NoThread, 1)
	return true, n.activateOut(ctx, e, thread)
}

// Finally is the entry point of the cleanup graph run when an execution is
// cancelled. It is only part of the workflow when it has an outgoing edge.
type Finally struct {
	node
}

// NewFinally creates a finally node.
func NewFinally() *Finally {
	n := &Finally{}
	n.init(n, KindFinally, 0, 0, 1, 1)
	return n
}

func (n *Finally) execute(ctx context.Context, e *Execution) (bool, error) {
	thread := e.StartThread(ctx, NoThread, 1)
	return true, n.activateOut(ctx, e, thread)
}

// End ends the execution once every other activated node is an end node.
type End struct {
	node
}

// NewEnd creates an end node.
func NewEnd() *End {
	n := &End{}
	n.init(n, KindEnd, 1, unbounded, 0, 0)
	return n
}

func (n *End) execute(ctx context.Context, e *Execution) (bool, error) {
	return true, e.end(ctx, n)
}

// Cancel cancels the execution, running the finally graph if there is one.
type Cancel struct {
	node
}

// NewCancel creates a cancel node.
func NewCancel() *Cancel {
	n := &Cancel{}
	n.init(n, KindCancel, 1, unbounded, 0, 1)
	return n
}

func (n *Cancel) execute(ctx context.Context, e *Execution) (bool, error) {
	return true, e.cancel(ctx, n)
}

func isEndNode(n Node) bool {
	switch n.(type) {
	case *End, *Cancel:
		return true
	}
	return false
}
