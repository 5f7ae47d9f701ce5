package workflow

import (
	"context"
	"fmt"

	"github.com/songzhibin97/flownet/conditions"
)

// ParallelSplit activates every outgoing node, each on a new thread.
type ParallelSplit struct {
	node
}

// NewParallelSplit creates a parallel split.
func NewParallelSplit() *ParallelSplit {
	n := &ParallelSplit{}
	n.init(n, KindParallelSplit, 1, 1, 2, unbounded)
	return n
}

func (n *ParallelSplit) execute(ctx context.Context, e *Execution) (bool, error) {
	return true, activateBranches(ctx, e, n, n.out, true)
}

// conditionalBranch evaluates the conditions of its outgoing edges in edge
// order against the variable map. Unconditional edges always activate.
type conditionalBranch struct {
	node
	conditions map[Node]conditions.Condition
	elses      map[Node]bool

	minConditionalOut int
	minActivated      int
	maxActivated      int
	startThreads      bool
}

func (b *conditionalBranch) initBranch(self Node, kind NodeKind, minIn, maxIn, minConditionalOut, minActivated, maxActivated int, startThreads bool) {
	b.init(self, kind, minIn, maxIn, 2, unbounded)
	b.conditions = make(map[Node]conditions.Condition)
	b.elses = make(map[Node]bool)
	b.minConditionalOut = minConditionalOut
	b.minActivated = minActivated
	b.maxActivated = maxActivated
	b.startThreads = startThreads
}

// AddConditionalOutNode adds an edge to out taken when c holds. When elseNode
// is not nil, an edge to it is added as well, taken when c does not hold.
func (b *conditionalBranch) AddConditionalOutNode(c conditions.Condition, out Node, elseNode Node) {
	b.AddOutNode(out)
	b.conditions[out] = c
	if elseNode != nil {
		b.AddOutNode(elseNode)
		b.conditions[elseNode] = conditions.Not(c)
		b.elses[elseNode] = true
	}
}

func (b *conditionalBranch) branch() *conditionalBranch { return b }

// addEdge adds an edge to out; a nil c makes it unconditional.
func (b *conditionalBranch) addEdge(out Node, c conditions.Condition, isElse bool) {
	b.AddOutNode(out)
	if c == nil {
		return
	}
	b.conditions[out] = c
	if isElse {
		b.elses[out] = true
	}
}

// Condition returns the condition attached to the edge to out, nil for unconditional edges.
func (b *conditionalBranch) Condition(out Node) conditions.Condition {
	if indexOf(b.out, out) < 0 {
		return nil
	}
	return b.conditions[out]
}

// IsElse reports whether the edge to out is the else edge of a condition.
func (b *conditionalBranch) IsElse(out Node) bool {
	return indexOf(b.out, out) >= 0 && b.elses[out]
}

func (b *conditionalBranch) verify() error {
	if err := b.checkBounds(); err != nil {
		return err
	}
	n := 0
	for _, out := range b.out {
		if _, ok := b.conditions[out]; ok {
			n++
		}
	}
	if n < b.minConditionalOut {
		return structuralError(b.self, fmt.Errorf("%w: node %s has less conditional outgoing nodes than required (%d < %d)",
			ErrInvalidWorkflow, b.self, n, b.minConditionalOut))
	}
	return nil
}

// execute stops evaluating conditions once the activation cap is reached and
// checks the activation floor after every candidate was considered.
func (b *conditionalBranch) execute(ctx context.Context, e *Execution) (bool, error) {
	var targets []Node
	activated := 0

	for _, out := range b.out {
		c, ok := b.conditions[out]
		if !ok {
			targets = append(targets, out)
			continue
		}
		if b.maxActivated != unbounded && activated >= b.maxActivated {
			continue
		}
		if c.Evaluate(e.variables) {
			targets = append(targets, out)
			activated++
		}
	}

	if activated < b.minActivated {
		return false, structuralError(b.self, ErrTooFewActivated)
	}
	return true, activateBranches(ctx, e, b.self, targets, b.startThreads)
}

func activateBranches(ctx context.Context, e *Execution, from Node, targets []Node, startThreads bool) error {
	thread := e.threadOf(from)
	for _, out := range targets {
		t := thread
		if startThreads {
			t = e.StartThread(ctx, thread, len(targets))
		}
		if err := out.activate(ctx, e, from, t); err != nil {
			return err
		}
	}
	return nil
}

// ExclusiveChoice activates exactly one of its conditional outgoing nodes.
type ExclusiveChoice struct {
	conditionalBranch
}

// NewExclusiveChoice creates an exclusive choice.
func NewExclusiveChoice() *ExclusiveChoice {
	n := &ExclusiveChoice{}
	n.initBranch(n, KindExclusiveChoice, 1, 1, 2, 1, 1, false)
	return n
}

// MultiChoice activates every conditional outgoing node whose condition
// holds, at least one, each on a new thread.
type MultiChoice struct {
	conditionalBranch
}

// NewMultiChoice creates a multi choice.
func NewMultiChoice() *MultiChoice {
	n := &MultiChoice{}
	n.initBranch(n, KindMultiChoice, 1, 1, 2, 1, unbounded, true)
	return n
}

// Loop merges its continue edges and takes exactly one conditional exit.
type Loop struct {
	conditionalBranch
}

// NewLoop creates a loop node.
func NewLoop() *Loop {
	n := &Loop{}
	n.initBranch(n, KindLoop, 2, unbounded, 2, 1, 1, false)
	return n
}
