package workflow

import (
	"context"
	"fmt"
)

// NodeKind identifies a node type in serialized definitions.
type NodeKind string

// Node kinds
const (
	KindStart              NodeKind = "start"
	KindEnd                NodeKind = "end"
	KindFinally            NodeKind = "finally"
	KindCancel             NodeKind = "cancel"
	KindAction             NodeKind = "action"
	KindInput              NodeKind = "input"
	KindSetVar             NodeKind = "set_var"
	KindUnsetVar           NodeKind = "unset_var"
	KindAdd                NodeKind = "add"
	KindSub                NodeKind = "sub"
	KindMul                NodeKind = "mul"
	KindDiv                NodeKind = "div"
	KindIncrement          NodeKind = "increment"
	KindDecrement          NodeKind = "decrement"
	KindParallelSplit      NodeKind = "parallel_split"
	KindExclusiveChoice    NodeKind = "exclusive_choice"
	KindMultiChoice        NodeKind = "multi_choice"
	KindLoop               NodeKind = "loop"
	KindSimpleMerge        NodeKind = "simple_merge"
	KindSynchronization    NodeKind = "synchronization"
	KindSynchronizingMerge NodeKind = "synchronizing_merge"
	KindDiscriminator      NodeKind = "discriminator"
	KindSubWorkflow        NodeKind = "sub_workflow"
)

var kindTitles = map[NodeKind]string{
	KindStart:              "Start",
	KindEnd:                "End",
	KindFinally:            "Finally",
	KindCancel:             "Cancel",
	KindAction:             "Action",
	KindInput:              "Input",
	KindSetVar:             "SetVar",
	KindUnsetVar:           "UnsetVar",
	KindAdd:                "Add",
	KindSub:                "Sub",
	KindMul:                "Mul",
	KindDiv:                "Div",
	KindIncrement:          "Increment",
	KindDecrement:          "Decrement",
	KindParallelSplit:      "ParallelSplit",
	KindExclusiveChoice:    "ExclusiveChoice",
	KindMultiChoice:        "MultiChoice",
	KindLoop:               "Loop",
	KindSimpleMerge:        "SimpleMerge",
	KindSynchronization:    "Synchronization",
	KindSynchronizingMerge: "SynchronizingMerge",
	KindDiscriminator:      "Discriminator",
	KindSubWorkflow:        "SubWorkflow",
}

const unbounded = -1

// Node is a vertex of a workflow graph. The set of node types is closed;
// use the New* constructors to create nodes.
//
// Edges are bidirectional: adding an outgoing edge also adds the matching
// incoming edge on the other node. Edge counts are checked by Workflow.Verify,
// never on insertion, so graphs may be built in any order.
type Node interface {
	// ID is assigned when the owning workflow collects its nodes. It is 0 before that.
	ID() int
	Kind() NodeKind
	InNodes() []Node
	OutNodes() []Node
	AddInNode(n Node) bool
	AddOutNode(n Node) bool
	RemoveInNode(n Node) bool
	RemoveOutNode(n Node) bool
	String() string

	base() *node
	execute(ctx context.Context, e *Execution) (bool, error)
	activate(ctx context.Context, e *Execution, from Node, thread int) error
	verify() error
}

type node struct {
	self   Node
	id     int
	kind   NodeKind
	in     []Node
	out    []Node
	minIn  int
	maxIn  int
	minOut int
	maxOut int
}

func (n *node) init(self Node, kind NodeKind, minIn, maxIn, minOut, maxOut int) {
	n.self = self
	n.kind = kind
	n.minIn, n.maxIn = minIn, maxIn
	n.minOut, n.maxOut = minOut, maxOut
}

func (n *node) base() *node    { return n }
func (n *node) ID() int         { return n.id }
func (n *node) Kind() NodeKind  { return n.kind }
func (n *node) String() string  { return kindTitles[n.kind] }
func (n *node) InNodes() []Node { return append([]Node(nil), n.in...) }

func (n *node) OutNodes() []Node { return append([]Node(nil), n.out...) }

// AddInNode adds an edge from in to this node. It returns false if the edge exists.
func (n *node) AddInNode(in Node) bool { return link(in, n.self) }

// AddOutNode adds an edge from this node to out. It returns false if the edge exists.
func (n *node) AddOutNode(out Node) bool { return link(n.self, out) }

// RemoveInNode removes the edge from in to this node.
func (n *node) RemoveInNode(in Node) bool { return unlink(in, n.self) }

// RemoveOutNode removes the edge from this node to out.
func (n *node) RemoveOutNode(out Node) bool { return unlink(n.self, out) }

func (n *node) activate(ctx context.Context, e *Execution, _ Node, thread int) error {
	e.activateNode(ctx, n.self, thread)
	return nil
}

func (n *node) verify() error {
	return n.checkBounds()
}

func (n *node) checkBounds() error {
	check := func(what string, count, min, max int) error {
		if count < min {
			return structuralError(n.self, fmt.Errorf("%w: node %s has less %s nodes than required (%d < %d)",
				ErrInvalidWorkflow, n.self, what, count, min))
		}
		if max != unbounded && count > max {
			return structuralError(n.self, fmt.Errorf("%w: node %s has more %s nodes than allowed (%d > %d)",
				ErrInvalidWorkflow, n.self, what, count, max))
		}
		return nil
	}
	if err := check("incoming", len(n.in), n.minIn, n.maxIn); err != nil {
		return err
	}
	return check("outgoing", len(n.out), n.minOut, n.maxOut)
}

// activateOut activates every outgoing node on thread.
func (n *node) activateOut(ctx context.Context, e *Execution, thread int) error {
	for _, out := range n.out {
		if err := out.activate(ctx, e, n.self, thread); err != nil {
			return err
		}
	}
	return nil
}

// Connect chains nodes with edges: nodes[0] -> nodes[1] -> ... -> nodes[n-1].
func Connect(nodes ...Node) {
	for i := 1; i < len(nodes); i++ {
		nodes[i-1].AddOutNode(nodes[i])
	}
}

func link(from, to Node) bool {
	f, t := from.base(), to.base()
	if indexOf(f.out, to) >= 0 {
		return false
	}
	f.out = append(f.out, to)
	if indexOf(t.in, from) < 0 {
		t.in = append(t.in, from)
	}
	return true
}

func unlink(from, to Node) bool {
	f, t := from.base(), to.base()
	i := indexOf(f.out, to)
	if i < 0 {
		return false
	}
	f.out = append(f.out[:i:i], f.out[i+1:]...)
	if j := indexOf(t.in, from); j >= 0 {
		t.in = append(t.in[:j:j], t.in[j+1:]...)
	}
	return true
}

func indexOf(nodes []Node, n Node) int {
	for i, candidate := range nodes {
		if candidate == n {
			return i
		}
	}
	return -1
}
