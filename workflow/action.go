package workflow

import (
	"context"
	"fmt"
	"time"
)

// ServiceObject is the business logic invoked by an Action node.
type ServiceObject interface {
	// Execute runs the service object. Returning false leaves the action
	// activated so it is executed again on a later pass or after a resume.
	Execute(ctx context.Context, e *Execution) (bool, error)
}

// ServiceObjectFunc is a function adapter for ServiceObject.
type ServiceObjectFunc func(ctx context.Context, e *Execution) (bool, error)

// Execute implements the ServiceObject interface.
func (f ServiceObjectFunc) Execute(ctx context.Context, e *Execution) (bool, error) {
	return f(ctx, e)
}

// ServiceObjectFactory builds a service object from the arguments configured on a node.
type ServiceObjectFactory func(args []interface{}) (ServiceObject, error)

// Action runs a service object once per activation.
type Action struct {
	node
	class     string
	arguments []interface{}
	factory   ServiceObjectFactory
}

// NewAction creates an action node. class names the service object in
// serialized definitions; factory builds it on every execution.
func NewAction(class string, factory ServiceObjectFactory, args ...interface{}) *Action {
	n := &Action{class: class, arguments: args, factory: factory}
	n.init(n, KindAction, 1, 1, 1, 1)
	return n
}

// Class returns the registered name of the service object.
func (n *Action) Class() string { return n.class }

// Arguments returns the arguments passed to the service object factory.
func (n *Action) Arguments() []interface{} { return append([]interface{}(nil), n.arguments...) }

func (n *Action) String() string { return fmt.Sprintf("Action(%s)", n.class) }

func (n *Action) execute(ctx context.Context, e *Execution) (bool, error) {
	if n.factory == nil {
		return false, configurationError(n, fmt.Errorf("%w: %q", ErrServiceObjectNotFound, n.class))
	}
	object, err := n.factory(n.Arguments())
	if err != nil {
		return false, configurationError(n, fmt.Errorf("create service object %q: %w", n.class, err))
	}

	finished, err := object.Execute(ctx, e)
	if err != nil {
		return false, fmt.Errorf("service object %q: %w", n.class, err)
	}
	if !finished {
		return false, nil
	}
	return true, n.activateOut(ctx, e, e.threadOf(n))
}

// Retry wraps object so that an execution returning an error is attempted
// again, up to attempts times in total, waiting delay in between.
func Retry(object ServiceObject, attempts int, delay time.Duration) ServiceObject {
	if attempts < 1 {
		attempts = 1
	}
	return ServiceObjectFunc(func(ctx context.Context, e *Execution) (bool, error) {
		var lastErr error
		for i := 0; i < attempts; i++ {
			finished, err := object.Execute(ctx, e)
			if err == nil {
				return finished, nil
			}
			lastErr = err
			if i == attempts-1 {
				break
			}
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(delay):
			}
		}
		return false, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
	})
}
