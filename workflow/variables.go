package workflow

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/songzhibin97/flownet/conditions"
	"github.com/songzhibin97/flownet/internal/value"
)

// Input waits for variables to be supplied, validating each against its condition.
type Input struct {
	node
	names      []string
	conditions map[string]conditions.Condition
}

// NewInput creates an input node. A nil condition accepts any value.
func NewInput(inputs map[string]conditions.Condition) *Input {
	n := &Input{conditions: make(map[string]conditions.Condition, len(inputs))}
	n.init(n, KindInput, 1, 1, 1, 1)
	for name, c := range inputs {
		n.add(name, c)
	}
	sort.Strings(n.names)
	return n
}

func (n *Input) add(name string, c conditions.Condition) {
	if c == nil {
		c = conditions.IsAnything()
	}
	if _, ok := n.conditions[name]; !ok {
		n.names = append(n.names, name)
	}
	n.conditions[name] = c
}

// Names returns the variables this node waits for, in evaluation order.
func (n *Input) Names() []string { return append([]string(nil), n.names...) }

// Condition returns the condition for the variable name.
func (n *Input) Condition(name string) conditions.Condition { return n.conditions[name] }

func (n *Input) String() string {
	parts := make([]string, len(n.names))
	for i, name := range n.names {
		parts[i] = name + " " + n.conditions[name].String()
	}
	return "Input(" + strings.Join(parts, ", ") + ")"
}

// execute reports invalid values first: a present variable failing its
// condition is an error even while other variables are still missing.
func (n *Input) execute(ctx context.Context, e *Execution) (bool, error) {
	invalid := make(map[string]string)
	pending := false

	for _, name := range n.names {
		c := n.conditions[name]
		v, ok := e.variables[name]
		if !ok || v == nil {
			e.addWaitingFor(n, name, c)
			pending = true
			continue
		}
		if !c.Evaluate(v) {
			invalid[name] = c.String()
		}
	}

	if len(invalid) > 0 {
		return false, &InvalidInputError{Errors: invalid}
	}
	if pending {
		return false, nil
	}
	return true, n.activateOut(ctx, e, e.threadOf(n))
}

// SetVar sets a fixed set of variables.
type SetVar struct {
	node
	variables map[string]interface{}
}

// NewSetVar creates a node that sets vars.
func NewSetVar(vars map[string]interface{}) *SetVar {
	n := &SetVar{variables: make(map[string]interface{}, len(vars))}
	n.init(n, KindSetVar, 1, 1, 1, 1)
	for k, v := range vars {
		n.variables[k] = v
	}
	return n
}

// Variables returns the variables the node sets.
func (n *SetVar) Variables() map[string]interface{} {
	out := make(map[string]interface{}, len(n.variables))
	for k, v := range n.variables {
		out[k] = v
	}
	return out
}

func (n *SetVar) String() string {
	names := sortedKeys(n.variables)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + " = " + value.String(n.variables[name])
	}
	return "SetVar(" + strings.Join(parts, ", ") + ")"
}

func (n *SetVar) execute(ctx context.Context, e *Execution) (bool, error) {
	for _, name := range sortedKeys(n.variables) {
		e.SetVariable(ctx, name, n.variables[name])
	}
	return true, n.activateOut(ctx, e, e.threadOf(n))
}

// UnsetVar removes variables.
type UnsetVar struct {
	node
	names []string
}

// NewUnsetVar creates a node that unsets names.
func NewUnsetVar(names ...string) *UnsetVar {
	n := &UnsetVar{names: append([]string(nil), names...)}
	n.init(n, KindUnsetVar, 1, 1, 1, 1)
	return n
}

// Names returns the variables the node unsets.
func (n *UnsetVar) Names() []string { return append([]string(nil), n.names...) }

func (n *UnsetVar) String() string { return "UnsetVar(" + strings.Join(n.names, ", ") + ")" }

func (n *UnsetVar) execute(ctx context.Context, e *Execution) (bool, error) {
	for _, name := range n.names {
		e.UnsetVariable(ctx, name)
	}
	return true, n.activateOut(ctx, e, e.threadOf(n))
}

// Arithmetic applies an arithmetic operation to a numeric variable.
// The operand is either a number or the name of a numeric variable.
type Arithmetic struct {
	node
	variable string
	operand  interface{}
}

func newArithmetic(kind NodeKind, variable string, operand interface{}) *Arithmetic {
	n := &Arithmetic{variable: variable, operand: operand}
	n.init(n, kind, 1, 1, 1, 1)
	return n
}

// NewAdd creates a node computing variable += operand.
func NewAdd(variable string, operand interface{}) *Arithmetic {
	return newArithmetic(KindAdd, variable, operand)
}

// NewSub creates a node computing variable -= operand.
func NewSub(variable string, operand interface{}) *Arithmetic {
	return newArithmetic(KindSub, variable, operand)
}

// NewMul creates a node computing variable *= operand.
func NewMul(variable string, operand interface{}) *Arithmetic {
	return newArithmetic(KindMul, variable, operand)
}

// NewDiv creates a node computing variable /= operand.
func NewDiv(variable string, operand interface{}) *Arithmetic {
	return newArithmetic(KindDiv, variable, operand)
}

// NewIncrement creates a node adding one to variable.
func NewIncrement(variable string) *Arithmetic {
	return newArithmetic(KindIncrement, variable, nil)
}

// NewDecrement creates a node subtracting one from variable.
func NewDecrement(variable string) *Arithmetic {
	return newArithmetic(KindDecrement, variable, nil)
}

// Variable returns the name of the variable the node updates.
func (n *Arithmetic) Variable() string { return n.variable }

// Operand returns the configured operand, nil for increment and decrement.
func (n *Arithmetic) Operand() interface{} { return n.operand }

func (n *Arithmetic) String() string {
	switch n.kind {
	case KindIncrement:
		return n.variable + "++"
	case KindDecrement:
		return n.variable + "--"
	}
	symbols := map[NodeKind]string{KindAdd: "+", KindSub: "-", KindMul: "*", KindDiv: "/"}
	return fmt.Sprintf("%s %s= %s", n.variable, symbols[n.kind], value.String(n.operand))
}

func (n *Arithmetic) execute(ctx context.Context, e *Execution) (bool, error) {
	current, err := e.Variable(n.variable)
	if err != nil {
		return false, err
	}
	if !value.IsNumber(current) {
		return false, configurationError(n, fmt.Errorf("%w: %q", ErrNotANumber, n.variable))
	}

	operand, err := n.resolveOperand(e)
	if err != nil {
		return false, err
	}

	result, err := compute(n.kind, current, operand)
	if err != nil {
		return false, configurationError(n, err)
	}
	e.SetVariable(ctx, n.variable, result)
	return true, n.activateOut(ctx, e, e.threadOf(n))
}

func (n *Arithmetic) resolveOperand(e *Execution) (interface{}, error) {
	switch op := n.operand.(type) {
	case nil:
		return 1, nil
	case string:
		if v, ok := e.variables[op]; ok {
			if value.IsNumber(v) {
				return v, nil
			}
			return nil, configurationError(n, fmt.Errorf("%w: variable %q is not a number", ErrIllegalOperand, op))
		}
		if i, err := strconv.ParseInt(op, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(op, 64); err == nil {
			return f, nil
		}
		return nil, configurationError(n, fmt.Errorf("%w: %q", ErrIllegalOperand, op))
	}
	if value.IsNumber(n.operand) {
		return n.operand, nil
	}
	return nil, configurationError(n, fmt.Errorf("%w: %v", ErrIllegalOperand, n.operand))
}

// compute keeps integer results as int unless a division is inexact.
func compute(kind NodeKind, a, b interface{}) (interface{}, error) {
	ai, aok := value.Int(a)
	bi, bok := value.Int(b)
	if aok && bok {
		switch kind {
		case KindAdd, KindIncrement:
			return int(ai + bi), nil
		case KindSub, KindDecrement:
			return int(ai - bi), nil
		case KindMul:
			return int(ai * bi), nil
		case KindDiv:
			if bi == 0 {
				return nil, ErrDivisionByZero
			}
			if ai%bi == 0 {
				return int(ai / bi), nil
			}
		}
	}

	af, _ := value.Float(a)
	bf, _ := value.Float(b)
	switch kind {
	case KindAdd, KindIncrement:
		return af + bf, nil
	case KindSub, KindDecrement:
		return af - bf, nil
	case KindMul:
		return af * bf, nil
	case KindDiv:
		if bf == 0 {
			return nil, ErrDivisionByZero
		}
		return af / bf, nil
	}
	return nil, fmt.Errorf("unsupported arithmetic node %q", kind)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
