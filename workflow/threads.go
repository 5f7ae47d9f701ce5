package workflow

import (
	"context"
	"fmt"
	"sort"
)

// NoThread is the parent of root threads.
const NoThread = -1

type thread struct {
	parent   int
	siblings int
}

// StartThread starts a logical thread and returns its id. parent is NoThread
// for root threads; siblings is the number of threads the same split started.
func (e *Execution) StartThread(ctx context.Context, parent, siblings int) int {
	id := e.nextThreadID
	e.nextThreadID++
	e.threads[id] = thread{parent: parent, siblings: siblings}

	e.notify(func(p Plugin) { p.AfterThreadStarted(ctx, e, id, parent, siblings) })
	return id
}

// EndThread ends the thread id. Ending an unknown thread is an engine error.
func (e *Execution) EndThread(ctx context.Context, id int) error {
	if _, ok := e.threads[id]; !ok {
		return executionError(fmt.Errorf("%w: there is no thread with id #%d", ErrThreadNotFound, id))
	}
	delete(e.threads, id)

	e.notify(func(p Plugin) { p.AfterThreadEnded(ctx, e, id) })
	return nil
}

// ParentThreadID returns the parent of thread id, NoThread for root threads.
func (e *Execution) ParentThreadID(id int) (int, bool) {
	t, ok := e.threads[id]
	if !ok {
		return NoThread, false
	}
	return t.parent, true
}

// NumSiblingThreads returns the number of threads started together with id, itself included.
func (e *Execution) NumSiblingThreads(id int) (int, bool) {
	t, ok := e.threads[id]
	if !ok {
		return 0, false
	}
	return t.siblings, true
}

// rootThread returns the lowest running thread without a parent.
func (e *Execution) rootThread() (int, bool) {
	root, found := NoThread, false
	for id, t := range e.threads {
		if t.parent == NoThread && (!found || id < root) {
			root, found = id, true
		}
	}
	return root, found
}

// Threads returns the ids of the running threads, sorted.
func (e *Execution) Threads() []int {
	ids := make([]int, 0, len(e.threads))
	for id := range e.threads {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
