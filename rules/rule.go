package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator evaluates boolean expressions against a variable environment.
type Evaluator interface {
	Evaluate(expression string, env map[string]interface{}) (bool, error)
}

// Default is the evaluator shared by expression conditions.
var Default = NewExprEvaluator()

// ExprEvaluator is an Evaluator backed by expr-lang/expr. Compiled programs
// are cached by expression text.
type ExprEvaluator struct {
	cache    map[string]*vm.Program
	mu       sync.RWMutex
	computed map[string]func(map[string]interface{}) interface{}
}

// NewExprEvaluator creates a new ExprEvaluator with an empty program cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache:    make(map[string]*vm.Program),
		computed: make(map[string]func(map[string]interface{}) interface{}),
	}
}

// Define adds a computed variable, derived from the environment, to every evaluation.
func (e *ExprEvaluator) Define(name string, f func(map[string]interface{}) interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.computed[name] = f
}

// Compile compiles expression into the cache, reporting syntax errors early.
func (e *ExprEvaluator) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

func (e *ExprEvaluator) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok = e.cache[expression]; ok {
		return program, nil
	}
	program, err := expr.Compile(expression)
	if err != nil {
		return nil, err
	}
	e.cache[expression] = program
	return program, nil
}

// Evaluate runs expression against env. env is not modified.
// The expression must evaluate to a boolean; otherwise an error is returned.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]interface{}) (bool, error) {
	program, err := e.program(expression)
	if err != nil {
		return false, err
	}

	e.mu.RLock()
	scope := make(map[string]interface{}, len(env)+len(e.computed))
	for k, v := range env {
		scope[k] = v
	}
	for k, f := range e.computed {
		scope[k] = f(env)
	}
	e.mu.RUnlock()

	result, err := expr.Run(program, scope)
	if err != nil {
		return false, err
	}

	if b, ok := result.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
}
