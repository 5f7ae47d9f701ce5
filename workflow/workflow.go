package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// VariableHandler keeps a workflow variable in external storage. Load is
// called on every start and resume, Save on every suspend and end.
type VariableHandler interface {
	Load(ctx context.Context, e *Execution, name string) (interface{}, error)
	Save(ctx context.Context, e *Execution, name string, value interface{}) error
}

type handlerBinding struct {
	key     string
	handler VariableHandler
}

// Workflow is a graph of nodes with a single start node, a default end node
// and an optional finally node. A verified workflow is not modified by
// executions and may be shared between them.
type Workflow struct {
	Name    string
	Version int

	start    *Start
	end      *End
	finally  *Finally
	handlers map[string]handlerBinding
	mu       sync.Mutex
}

// NewWorkflow creates an empty workflow with its start, end and finally nodes.
func NewWorkflow(name string) *Workflow {
	return &Workflow{
		Name:     name,
		start:    NewStart(),
		end:      NewEnd(),
		finally:  NewFinally(),
		handlers: make(map[string]handlerBinding),
	}
}

// Start returns the start node.
func (w *Workflow) Start() *Start { return w.start }

// End returns the default end node.
func (w *Workflow) End() *End { return w.end }

// Finally returns the finally node. It only runs when it has an outgoing edge.
func (w *Workflow) Finally() *Finally { return w.finally }

// AddVariableHandler binds the variable name to handler. key is the name the
// handler is registered under, used when the workflow is serialized.
func (w *Workflow) AddVariableHandler(name, key string, handler VariableHandler) {
	w.handlers[name] = handlerBinding{key: key, handler: handler}
}

// RemoveVariableHandler removes the handler bound to name.
func (w *Workflow) RemoveVariableHandler(name string) bool {
	if _, ok := w.handlers[name]; !ok {
		return false
	}
	delete(w.handlers, name)
	return true
}

// VariableHandlers returns the bound handlers by variable name.
func (w *Workflow) VariableHandlers() map[string]VariableHandler {
	out := make(map[string]VariableHandler, len(w.handlers))
	for name, b := range w.handlers {
		out[name] = b.handler
	}
	return out
}

// VariableHandlerKey returns the registry key of the handler bound to name.
func (w *Workflow) VariableHandlerKey(name string) string {
	return w.handlers[name].key
}

func (w *Workflow) handlerNames() []string {
	names := make([]string, 0, len(w.handlers))
	for name := range w.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// walk visits every node reachable from root once, depth first, parents before children.
func walk(root Node, seen map[Node]bool, fn func(Node)) {
	if seen[root] {
		return
	}
	seen[root] = true
	fn(root)
	for _, out := range root.base().out {
		walk(out, seen, fn)
	}
}

// Walk calls fn for every node reachable from the start node and, when it is
// used, from the finally node.
func (w *Workflow) Walk(fn func(Node)) {
	seen := make(map[Node]bool)
	walk(w.start, seen, fn)
	if w.hasFinally() {
		walk(w.finally, seen, fn)
	}
}

func (w *Workflow) hasFinally() bool { return len(w.finally.out) > 0 }

// Nodes assigns node ids and returns the nodes ordered by id. The start node
// is 1, the end node 2 and the finally node, when used, 3; the rest follow in
// traversal order.
//
// Ids are only written when they change, so executions sharing a numbered
// workflow never write to its nodes.
func (w *Workflow) Nodes() []Node {
	w.mu.Lock()
	defer w.mu.Unlock()

	setID(w.start, 1)
	setID(w.end, 2)
	next := 3
	if w.hasFinally() {
		setID(w.finally, next)
		next++
	}

	var nodes []Node
	w.Walk(func(n Node) {
		switch n {
		case Node(w.start), Node(w.end), Node(w.finally):
		default:
			setID(n, next)
			next++
		}
		nodes = append(nodes, n)
	})
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	return nodes
}

func setID(n Node, id int) {
	if b := n.base(); b.id != id {
		b.id = id
	}
}

// Count returns the number of nodes reachable from the start node.
func (w *Workflow) Count() int {
	n := 0
	walk(w.start, make(map[Node]bool), func(Node) { n++ })
	return n
}

// IsInteractive reports whether the workflow contains input nodes.
func (w *Workflow) IsInteractive() bool {
	return w.contains(func(n Node) bool { _, ok := n.(*Input); return ok })
}

// HasSubWorkflows reports whether the workflow contains sub-workflow nodes.
func (w *Workflow) HasSubWorkflows() bool {
	return w.contains(func(n Node) bool { _, ok := n.(*SubWorkflow); return ok })
}

func (w *Workflow) contains(match func(Node) bool) bool {
	found := false
	w.Walk(func(n Node) {
		if match(n) {
			found = true
		}
	})
	return found
}

// Verify checks that the workflow has exactly one start node, at most one
// finally node, and that every node satisfies its edge constraints.
func (w *Workflow) Verify() error {
	starts, finallies := 0, 0
	var errs []error

	w.Walk(func(n Node) {
		switch n.(type) {
		case *Start:
			starts++
		case *Finally:
			finallies++
		}
		if err := n.verify(); err != nil {
			errs = append(errs, err)
		}
	})

	if starts != 1 {
		return structuralError(nil, fmt.Errorf("%w: workflow %q has %d start nodes", ErrInvalidWorkflow, w.Name, starts))
	}
	if finallies > 1 {
		return structuralError(nil, fmt.Errorf("%w: workflow %q has %d finally nodes", ErrInvalidWorkflow, w.Name, finallies))
	}
	return errors.Join(errs...)
}
