package workflow

import (
	"context"
	"fmt"
)

// SimpleMerge fires once per arrival and continues on the arriving thread.
type SimpleMerge struct {
	node
}

// NewSimpleMerge creates a simple merge.
func NewSimpleMerge() *SimpleMerge {
	n := &SimpleMerge{}
	n.init(n, KindSimpleMerge, 2, unbounded, 1, 1)
	return n
}

func (n *SimpleMerge) execute(ctx context.Context, e *Execution) (bool, error) {
	return true, n.activateOut(ctx, e, e.threadOf(n))
}

// synchronizer waits until every sibling thread of a split has arrived, then
// ends them and continues on their parent thread.
type synchronizer struct {
	node
}

// activate records the arrival even when the node is already activated.
func (n *synchronizer) activate(ctx context.Context, e *Execution, _ Node, thread int) error {
	run := e.run(n.self)
	run.arrived = append(run.arrived, thread)
	e.activateNode(ctx, n.self, thread)
	return nil
}

func (n *synchronizer) execute(ctx context.Context, e *Execution) (bool, error) {
	run := e.run(n.self)
	if len(run.arrived) == 0 {
		return false, nil
	}

	first := run.arrived[0]
	siblings, ok := e.NumSiblingThreads(first)
	if !ok {
		return false, executionError(fmt.Errorf("%w: #%d", ErrThreadNotFound, first))
	}
	parent, _ := e.ParentThreadID(first)
	for _, t := range run.arrived[1:] {
		if p, _ := e.ParentThreadID(t); p != parent {
			return false, structuralError(n.self, ErrCannotSynchronize)
		}
	}
	if len(run.arrived) < siblings {
		return false, nil
	}

	arrived := run.arrived
	run.arrived = nil

	out := first
	if parent != NoThread {
		out = parent
		for _, t := range arrived {
			if err := e.EndThread(ctx, t); err != nil {
				return false, err
			}
		}
	}
	return true, n.activateOut(ctx, e, out)
}

// Synchronization merges all branches of a parallel split.
type Synchronization struct {
	synchronizer
}

// NewSynchronization creates a synchronization merge.
func NewSynchronization() *Synchronization {
	n := &Synchronization{}
	n.init(n, KindSynchronization, 2, unbounded, 1, 1)
	return n
}

// SynchronizingMerge merges the branches a multi choice activated.
type SynchronizingMerge struct {
	synchronizer
}

// NewSynchronizingMerge creates a synchronizing merge.
func NewSynchronizingMerge() *SynchronizingMerge {
	n := &SynchronizingMerge{}
	n.init(n, KindSynchronizingMerge, 2, unbounded, 1, 1)
	return n
}

// Discriminator fires on the first arriving sibling. Later siblings are
// absorbed; once all have arrived their threads end and the node can fire
// again.
type Discriminator struct {
	node
}

// NewDiscriminator creates a discriminator.
func NewDiscriminator() *Discriminator {
	n := &Discriminator{}
	n.init(n, KindDiscriminator, 2, unbounded, 1, 1)
	return n
}

func (n *Discriminator) activate(ctx context.Context, e *Execution, _ Node, thread int) error {
	run := e.run(n)
	parent, _ := e.ParentThreadID(thread)

	if len(run.arrived) == 0 {
		siblings, ok := e.NumSiblingThreads(thread)
		if !ok {
			return executionError(fmt.Errorf("%w: #%d", ErrThreadNotFound, thread))
		}
		run.siblings = siblings
		run.parent = parent

		out := thread
		if parent != NoThread {
			out = parent
		}
		run.arrived = append(run.arrived, thread)
		e.activateNode(ctx, n, out)
	} else {
		if parent != run.parent {
			return structuralError(n, ErrCannotSynchronize)
		}
		run.arrived = append(run.arrived, thread)
	}

	if len(run.arrived) < run.siblings {
		return nil
	}
	arrived := run.arrived
	closeParent := run.parent
	run.arrived, run.siblings, run.parent = nil, 0, NoThread
	if closeParent == NoThread {
		return nil
	}
	for _, t := range arrived {
		if err := e.EndThread(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (n *Discriminator) execute(ctx context.Context, e *Execution) (bool, error) {
	return true, n.activateOut(ctx, e, e.threadOf(n))
}
