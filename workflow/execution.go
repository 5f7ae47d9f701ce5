package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/songzhibin97/flownet/conditions"
)

// State is the lifecycle state of an execution.
type State int

// Execution states
const (
	StateIdle State = iota
	StateRunning
	StateSuspended
	StateEnded
	StateCancelled
)

var stateNames = map[State]string{
	StateIdle:      "idle",
	StateRunning:   "running",
	StateSuspended: "suspended",
	StateEnded:     "ended",
	StateCancelled: "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState converts the name of a state back into a State.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return StateIdle, fmt.Errorf("unknown execution state %q", name)
}

// WaitingFor is a variable an execution needs before it can continue.
type WaitingFor struct {
	Node      Node
	Condition conditions.Condition
}

// nodeRun is the runtime state of one node in one execution.
type nodeRun struct {
	thread   int
	arrived  []int
	siblings int
	parent   int
	child    uint64
}

// Execution runs a workflow. It is not safe for concurrent use; the workflow
// it runs may be shared with other executions.
type Execution struct {
	id          uint64
	parentID    uint64
	workflow    *Workflow
	definitions DefinitionStorage
	host        Host
	logger      *slog.Logger
	interactive bool
	plugins     []Plugin

	state   State
	resumed bool

	activated       []Node
	numActivated    int
	numActivatedEnd int

	threads      map[int]thread
	nextThreadID int

	variables  map[string]interface{}
	waitingFor map[string]WaitingFor
	runs       map[int]*nodeRun
}

// NewExecution creates an interactive execution. Without WithHost it cannot
// be persisted and cannot start interactive sub-workflows.
func NewExecution(opts ...Option) *Execution {
	e := &Execution{
		host:        nopHost{},
		logger:      slog.Default(),
		interactive: true,
		threads:     make(map[int]thread),
		variables:   make(map[string]interface{}),
		waitingFor:  make(map[string]WaitingFor),
		runs:        make(map[int]*nodeRun),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewNonInteractive creates an execution for workflows without input and
// sub-workflow nodes. It runs to completion in a single Start and is never persisted.
func NewNonInteractive(opts ...Option) *Execution {
	e := NewExecution(opts...)
	e.interactive = false
	e.host = nopHost{}
	return e
}

// ID returns the execution id, 0 until a host assigned one.
func (e *Execution) ID() uint64 { return e.id }

// SetID sets the execution id. Hosts call it from OnStart.
func (e *Execution) SetID(id uint64) { e.id = id }

// ParentID returns the id of the parent execution of a sub-workflow.
func (e *Execution) ParentID() uint64 { return e.parentID }

// Workflow returns the attached workflow.
func (e *Execution) Workflow() *Workflow { return e.workflow }

// DefinitionStorage returns the storage used to load sub-workflows.
func (e *Execution) DefinitionStorage() DefinitionStorage { return e.definitions }

// SetDefinitionStorage sets the storage used to load sub-workflows.
func (e *Execution) SetDefinitionStorage(ds DefinitionStorage) { e.definitions = ds }

// Logger returns the execution's logger.
func (e *Execution) Logger() *slog.Logger { return e.logger }

// Interactive reports whether the execution can suspend and be resumed.
func (e *Execution) Interactive() bool { return e.interactive }

// SetWorkflow attaches wf and assigns its node ids.
func (e *Execution) SetWorkflow(wf *Workflow) error {
	if wf == nil {
		return executionError(ErrNoWorkflow)
	}
	if !e.interactive && (wf.IsInteractive() || wf.HasSubWorkflows()) {
		return executionError(ErrInteractiveWorkflow)
	}
	wf.Nodes()
	e.workflow = wf
	return nil
}

// State returns the lifecycle state.
func (e *Execution) State() State { return e.state }

// IsSuspended reports whether the execution waits to be resumed.
func (e *Execution) IsSuspended() bool { return e.state == StateSuspended }

// HasEnded reports whether the execution reached an end node.
func (e *Execution) HasEnded() bool { return e.state == StateEnded }

// IsCancelled reports whether the execution was cancelled.
func (e *Execution) IsCancelled() bool { return e.state == StateCancelled }

// IsResumed reports whether the execution is running after a resume.
func (e *Execution) IsResumed() bool { return e.state == StateRunning && e.resumed }

func (e *Execution) terminal() bool {
	return e.state == StateEnded || e.state == StateCancelled
}

// Start runs the workflow from its start node until it ends, is cancelled or suspends.
func (e *Execution) Start(ctx context.Context) error {
	return e.start(ctx, 0)
}

// StartSub is Start for a sub-workflow execution of the execution parentID.
func (e *Execution) StartSub(ctx context.Context, parentID uint64) error {
	return e.start(ctx, parentID)
}

func (e *Execution) start(ctx context.Context, parentID uint64) error {
	if e.workflow == nil {
		return executionError(ErrNoWorkflow)
	}
	if err := e.workflow.Verify(); err != nil {
		return err
	}

	e.reset()
	e.parentID = parentID
	e.state = StateRunning
	e.resumed = false

	if err := e.host.OnStart(ctx, e, parentID); err != nil {
		return fmt.Errorf("start hook: %w", err)
	}
	if err := e.loadHandlerVariables(ctx); err != nil {
		return err
	}

	e.logger.DebugContext(ctx, "execution started", e.logAttrs()...)
	e.notify(func(p Plugin) { p.AfterExecutionStarted(ctx, e) })

	e.activateNode(ctx, e.workflow.start, NoThread)
	return e.drain(ctx)
}

// reset clears all runtime state except variables, which the host may set before starting.
func (e *Execution) reset() {
	e.activated = nil
	e.numActivated, e.numActivatedEnd = 0, 0
	e.threads = make(map[int]thread)
	e.nextThreadID = 0
	e.waitingFor = make(map[string]WaitingFor)
	e.runs = make(map[int]*nodeRun)
	for _, n := range e.workflow.Nodes() {
		e.runs[n.ID()] = newNodeRun()
	}
}

func newNodeRun() *nodeRun {
	return &nodeRun{thread: NoThread, parent: NoThread}
}

// Resume continues a suspended execution with input for the variables it
// waits for. Input for variables nobody waits for is ignored. If any value
// fails its condition nothing continues and an *InvalidInputError lists
// every failing variable.
func (e *Execution) Resume(ctx context.Context, input map[string]interface{}) error {
	if e.id == 0 {
		return executionError(ErrNoExecutionID)
	}
	if e.workflow == nil {
		return executionError(ErrNoWorkflow)
	}
	if e.terminal() {
		return executionError(fmt.Errorf("%w: execution #%d is %s", ErrInvalidState, e.id, e.state))
	}

	e.state = StateRunning
	e.resumed = true

	if err := e.host.OnResume(ctx, e); err != nil {
		return fmt.Errorf("resume hook: %w", err)
	}
	if err := e.loadHandlerVariables(ctx); err != nil {
		return err
	}

	invalid := make(map[string]string)
	names := make([]string, 0, len(input))
	for name := range input {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, ok := e.waitingFor[name]
		if !ok {
			continue
		}
		if w.Condition.Evaluate(input[name]) {
			e.SetVariable(ctx, name, input[name])
			delete(e.waitingFor, name)
		} else {
			invalid[name] = w.Condition.String()
		}
	}
	// the execution stays resumed; another Resume can supply the missing values
	if len(invalid) > 0 {
		return &InvalidInputError{Errors: invalid}
	}

	e.logger.DebugContext(ctx, "execution resumed", e.logAttrs()...)
	e.notify(func(p Plugin) { p.AfterExecutionResumed(ctx, e) })
	return e.drain(ctx)
}

// Cancel cancels the execution on behalf of the host, running the finally
// graph if the workflow has one.
func (e *Execution) Cancel(ctx context.Context) error {
	if e.workflow == nil {
		return executionError(ErrNoWorkflow)
	}
	if e.terminal() {
		return executionError(fmt.Errorf("%w: execution #%d is %s", ErrInvalidState, e.id, e.state))
	}
	return e.cancel(ctx, nil)
}

// drain executes activated nodes in activation order until the execution
// ends, is cancelled, or a full pass makes no progress, in which case it suspends.
func (e *Execution) drain(ctx context.Context) error {
	for len(e.activated) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		progress := false
		pass := append([]Node(nil), e.activated...)
		for _, n := range pass {
			if e.terminal() {
				return nil
			}
			if indexOf(e.activated, n) < 0 {
				continue
			}
			// end nodes wait until nothing else is left to execute
			if _, ok := n.(*End); ok && e.numActivated != e.numActivatedEnd {
				continue
			}

			done, err := n.execute(ctx, e)
			if err != nil {
				return err
			}
			if !done {
				continue
			}

			e.deactivate(n)
			progress = true
			if !e.terminal() {
				e.notify(func(p Plugin) { p.AfterNodeExecuted(ctx, e, n) })
			}
		}
		if !progress {
			break
		}
	}

	if e.terminal() {
		return nil
	}
	return e.suspend(ctx)
}

// Activate adds n to the activated nodes on the root thread, starting one if
// no root thread is running. It returns false if the execution is cancelled,
// n violates its edge constraints, n is already activated, or a plugin vetoed
// the activation.
func (e *Execution) Activate(ctx context.Context, n Node) bool {
	if e.state == StateCancelled {
		return false
	}
	if thread, ok := e.rootThread(); ok {
		return e.activateNode(ctx, n, thread)
	}
	thread := e.StartThread(ctx, NoThread, 1)
	if !e.activateNode(ctx, n, thread) {
		_ = e.EndThread(ctx, thread)
		return false
	}
	return true
}

func (e *Execution) activateNode(ctx context.Context, n Node, thread int) bool {
	if e.state == StateCancelled {
		return false
	}
	if n.verify() != nil {
		return false
	}
	if indexOf(e.activated, n) >= 0 {
		return false
	}
	for _, p := range e.plugins {
		if !p.BeforeNodeActivated(ctx, e, n) {
			return false
		}
	}

	e.run(n).thread = thread
	e.activated = append(e.activated, n)
	e.numActivated++
	if isEndNode(n) {
		e.numActivatedEnd++
	}

	e.notify(func(p Plugin) { p.AfterNodeActivated(ctx, e, n) })
	return true
}

func (e *Execution) deactivate(n Node) {
	i := indexOf(e.activated, n)
	if i < 0 {
		return
	}
	e.activated = append(e.activated[:i:i], e.activated[i+1:]...)
	e.numActivated--
	if isEndNode(n) {
		e.numActivatedEnd--
	}
}

// ActivatedNodes returns the nodes waiting to be executed, in activation order.
func (e *Execution) ActivatedNodes() []Node { return append([]Node(nil), e.activated...) }

// run returns the runtime state of n, creating it on first use.
func (e *Execution) run(n Node) *nodeRun {
	r, ok := e.runs[n.ID()]
	if !ok {
		r = newNodeRun()
		e.runs[n.ID()] = r
	}
	return r
}

func (e *Execution) threadOf(n Node) int { return e.run(n).thread }

func (e *Execution) suspend(ctx context.Context) error {
	e.state = StateSuspended
	e.resumed = false

	if err := e.saveHandlerVariables(ctx); err != nil {
		return err
	}
	for name := range e.workflow.handlers {
		delete(e.variables, name)
	}

	if err := e.host.OnSuspend(ctx, e); err != nil {
		return fmt.Errorf("suspend hook: %w", err)
	}
	e.logger.DebugContext(ctx, "execution suspended", e.logAttrs("waiting_for", len(e.waitingFor))...)
	e.notify(func(p Plugin) { p.AfterExecutionSuspended(ctx, e) })
	return nil
}

// cancel clears all pending work, runs the finally graph and ends the execution as cancelled.
func (e *Execution) cancel(ctx context.Context, n Node) error {
	if n != nil {
		e.notify(func(p Plugin) { p.AfterNodeExecuted(ctx, e, n) })
	}

	e.activated = nil
	e.numActivated, e.numActivatedEnd = 0, 0
	e.waitingFor = make(map[string]WaitingFor)

	if finally := e.workflow.finally; e.workflow.hasFinally() {
		e.activateNode(ctx, finally, NoThread)
		if err := e.drain(ctx); err != nil {
			return err
		}
	}

	// When the finally graph reached an end node, OnEnd has already run and
	// plugins saw AfterExecutionEnded. OnEnd runs again below, so hosts must
	// handle it idempotently.
	e.state = StateCancelled
	e.resumed = false
	if err := e.end(ctx, n); err != nil {
		return err
	}
	if err := e.host.OnEnd(ctx, e); err != nil {
		return fmt.Errorf("end hook: %w", err)
	}
	return nil
}

func (e *Execution) end(ctx context.Context, n Node) error {
	if e.state == StateCancelled {
		e.logger.DebugContext(ctx, "execution cancelled", e.logAttrs()...)
		e.notify(func(p Plugin) { p.AfterExecutionCancelled(ctx, e) })
		return nil
	}

	if n != nil {
		e.notify(func(p Plugin) { p.AfterNodeExecuted(ctx, e, n) })
	}
	e.state = StateEnded
	e.resumed = false

	if err := e.host.OnEnd(ctx, e); err != nil {
		return fmt.Errorf("end hook: %w", err)
	}
	if err := e.saveHandlerVariables(ctx); err != nil {
		return err
	}

	if n != nil {
		if err := e.EndThread(ctx, e.threadOf(n)); err != nil {
			return err
		}
		e.logger.DebugContext(ctx, "execution ended", e.logAttrs()...)
		e.notify(func(p Plugin) { p.AfterExecutionEnded(ctx, e) })
	}
	return nil
}

// WaitingFor returns the variables the execution waits for.
func (e *Execution) WaitingFor() map[string]WaitingFor {
	out := make(map[string]WaitingFor, len(e.waitingFor))
	for k, v := range e.waitingFor {
		out[k] = v
	}
	return out
}

// addWaitingFor registers name unless another node already waits for it.
func (e *Execution) addWaitingFor(n Node, name string, c conditions.Condition) {
	if _, ok := e.waitingFor[name]; ok {
		return
	}
	e.waitingFor[name] = WaitingFor{Node: n, Condition: c}
}

// SubExecution returns an execution for a sub-workflow: a stored or new
// interactive one from the host, or a new non-interactive one. The plugins
// of e are attached to it.
func (e *Execution) SubExecution(ctx context.Context, id uint64, interactive bool) (*Execution, error) {
	var sub *Execution
	if interactive {
		var err error
		if sub, err = e.host.SubExecution(ctx, e, id); err != nil {
			return nil, err
		}
	} else {
		sub = NewNonInteractive(WithLogger(e.logger), WithDefinitionStorage(e.definitions))
	}
	for _, p := range e.plugins {
		sub.AddPlugin(p)
	}
	return sub, nil
}

func (e *Execution) logAttrs(extra ...interface{}) []interface{} {
	attrs := []interface{}{"execution_id", e.id}
	if e.workflow != nil {
		attrs = append(attrs, "workflow", e.workflow.Name, "version", e.workflow.Version)
	}
	return append(attrs, extra...)
}

// Variable returns the value of the variable name.
func (e *Execution) Variable(name string) (interface{}, error) {
	v, ok := e.variables[name]
	if !ok {
		return nil, executionError(fmt.Errorf("%w: %q", ErrVariableNotFound, name))
	}
	return v, nil
}

// HasVariable reports whether the variable name is set.
func (e *Execution) HasVariable(name string) bool {
	_, ok := e.variables[name]
	return ok
}

// Variables returns a copy of all variables.
func (e *Execution) Variables() map[string]interface{} {
	out := make(map[string]interface{}, len(e.variables))
	for k, v := range e.variables {
		out[k] = v
	}
	return out
}

// SetVariable sets the variable name, after plugins had the chance to replace
// the value, and returns the value that was stored.
func (e *Execution) SetVariable(ctx context.Context, name string, v interface{}) interface{} {
	for _, p := range e.plugins {
		v = p.BeforeVariableSet(ctx, e, name, v)
	}
	e.variables[name] = v
	e.notify(func(p Plugin) { p.AfterVariableSet(ctx, e, name, v) })
	return v
}

// SetVariables sets every variable in vars, in name order.
func (e *Execution) SetVariables(ctx context.Context, vars map[string]interface{}) {
	for _, name := range sortedKeys(vars) {
		e.SetVariable(ctx, name, vars[name])
	}
}

// UnsetVariable removes the variable name. It returns false if the variable
// does not exist or a plugin vetoed the removal.
func (e *Execution) UnsetVariable(ctx context.Context, name string) bool {
	if _, ok := e.variables[name]; !ok {
		return false
	}
	for _, p := range e.plugins {
		if !p.BeforeVariableUnset(ctx, e, name) {
			return false
		}
	}
	delete(e.variables, name)
	e.notify(func(p Plugin) { p.AfterVariableUnset(ctx, e, name) })
	return true
}

func (e *Execution) loadHandlerVariables(ctx context.Context) error {
	for _, name := range e.workflow.handlerNames() {
		v, err := e.workflow.handlers[name].handler.Load(ctx, e, name)
		if err != nil {
			return fmt.Errorf("load variable %q: %w", name, err)
		}
		e.SetVariable(ctx, name, v)
	}
	return nil
}

func (e *Execution) saveHandlerVariables(ctx context.Context) error {
	for _, name := range e.workflow.handlerNames() {
		v, ok := e.variables[name]
		if !ok {
			continue
		}
		if err := e.workflow.handlers[name].handler.Save(ctx, e, name, v); err != nil {
			return fmt.Errorf("save variable %q: %w", name, err)
		}
	}
	return nil
}
