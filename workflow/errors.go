package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Standard error definitions
var (
	// engine misuse or corrupted runtime state
	ErrNoWorkflow          = errors.New("no workflow has been set up for execution")
	ErrNoExecutionID       = errors.New("no execution id given")
	ErrThreadNotFound      = errors.New("thread not found")
	ErrVariableNotFound    = errors.New("variable does not exist")
	ErrInteractiveWorkflow = errors.New("non-interactive executions cannot run workflows with input or sub-workflow nodes")
	ErrNoSubExecution      = errors.New("execution cannot create interactive sub-executions")
	ErrInvalidState        = errors.New("operation not allowed in current execution state")

	// structural errors in the graph
	ErrInvalidWorkflow    = errors.New("invalid workflow")
	ErrCannotSynchronize  = errors.New("cannot synchronize threads that were started by different branches")
	ErrTooFewActivated    = errors.New("node activates less conditional outgoing nodes than required")
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// node configuration errors
	ErrServiceObjectNotFound   = errors.New("service object not found")
	ErrVariableHandlerNotFound = errors.New("variable handler not found")
	ErrNotANumber              = errors.New("variable is not a number")
	ErrIllegalOperand          = errors.New("illegal operand")
	ErrDivisionByZero          = errors.New("division by zero")
	ErrNoDefinitionStorage     = errors.New("no definition storage available")
)

// Kind classifies engine errors.
type Kind int

const (
	// KindInvalidInput means the host can resume again with corrected input.
	KindInvalidInput Kind = iota + 1
	// KindStructural means the workflow graph itself is wrong.
	KindStructural
	// KindExecution means the engine was misused or its runtime state is corrupt.
	KindExecution
	// KindConfiguration means a node is misconfigured.
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindStructural:
		return "structural"
	case KindExecution:
		return "execution"
	case KindConfiguration:
		return "configuration"
	}
	return "unknown"
}

// Error is a classified engine error. Node is the id of the node that raised
// it, 0 when no node was involved.
type Error struct {
	Kind Kind
	Node int
	Err  error
}

func (e *Error) Error() string {
	if e.Node > 0 {
		return fmt.Sprintf("%s error at node #%d: %v", e.Kind, e.Node, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidInputError lists every variable that failed its condition, mapped to
// the condition's description.
type InvalidInputError struct {
	Errors map[string]string
}

func (e *InvalidInputError) Error() string {
	names := make([]string, 0, len(e.Errors))
	for name := range e.Errors {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s %s", name, e.Errors[name])
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

// KindOf classifies err. ok is false for errors not raised by the engine.
func KindOf(err error) (Kind, bool) {
	var invalid *InvalidInputError
	if errors.As(err, &invalid) {
		return KindInvalidInput, true
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func executionError(err error) error { return &Error{Kind: KindExecution, Err: err} }

func structuralError(n Node, err error) error { return &Error{Kind: KindStructural, Node: nodeID(n), Err: err} }

func configurationError(n Node, err error) error {
	return &Error{Kind: KindConfiguration, Node: nodeID(n), Err: err}
}

func nodeID(n Node) int {
	if n == nil {
		return 0
	}
	return n.ID()
}
