package conditions

import (
	"fmt"
	"strings"

	"github.com/songzhibin97/flownet/rules"
)

type not struct {
	c Condition
}

// Not negates c.
func Not(c Condition) Condition { return not{c: c} }

func (n not) Evaluate(v interface{}) bool { return !n.c.Evaluate(v) }
func (n not) String() string               { return "! " + n.c.String() }

type boolean struct {
	kind       string
	symbol     string
	conditions []Condition
}

// And is satisfied when every condition is. Evaluation stops at the first false.
func And(cs ...Condition) Condition { return boolean{kind: TypeAnd, symbol: "&&", conditions: cs} }

// Or is satisfied when any condition is. Evaluation stops at the first true.
func Or(cs ...Condition) Condition { return boolean{kind: TypeOr, symbol: "||", conditions: cs} }

// Xor is satisfied when exactly one condition is, whatever the number of conditions.
func Xor(cs ...Condition) Condition { return boolean{kind: TypeXor, symbol: "XOR", conditions: cs} }

func (b boolean) Evaluate(v interface{}) bool {
	switch b.kind {
	case TypeAnd:
		for _, c := range b.conditions {
			if !c.Evaluate(v) {
				return false
			}
		}
		return true
	case TypeOr:
		for _, c := range b.conditions {
			if c.Evaluate(v) {
				return true
			}
		}
		return false
	}

	n := 0
	for _, c := range b.conditions {
		if c.Evaluate(v) {
			n++
			if n > 1 {
				return false
			}
		}
	}
	return n == 1
}

func (b boolean) String() string {
	parts := make([]string, len(b.conditions))
	for i, c := range b.conditions {
		parts[i] = c.String()
	}
	return "( " + strings.Join(parts, " "+b.symbol+" ") + " )"
}

type variable struct {
	name string
	c    Condition
}

// Variable applies c to the entry name of a variable map. It is false, never
// an error, when the value is not a variable map or the entry is missing.
func Variable(name string, c Condition) Condition { return variable{name: name, c: c} }

func (vc variable) Evaluate(v interface{}) bool {
	vars, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	val, ok := vars[vc.name]
	if !ok {
		return false
	}
	return vc.c.Evaluate(val)
}

func (vc variable) String() string { return vc.name + " " + vc.c.String() }

type variables struct {
	left, right string
	op          Operator
}

// Variables compares two entries of a variable map. It is false when either is missing.
func Variables(left, right string, op Operator) Condition {
	return variables{left: left, right: right, op: op}
}

func (vc variables) Evaluate(v interface{}) bool {
	vars, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	a, ok := vars[vc.left]
	if !ok {
		return false
	}
	b, ok := vars[vc.right]
	if !ok {
		return false
	}
	return vc.op.Apply(a, b)
}

func (vc variables) String() string { return fmt.Sprintf("%s %s %s", vc.left, vc.op, vc.right) }

type expression struct {
	source    string
	evaluator rules.Evaluator
}

// Expr compiles an expr-lang expression into a condition. A variable map is
// used as the expression environment; any other value is bound to "value".
// Expressions that fail at run time or do not yield a boolean evaluate to false.
func Expr(source string) (Condition, error) {
	if err := rules.Default.Compile(source); err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", source, err)
	}
	return expression{source: source, evaluator: rules.Default}, nil
}

// MustExpr is like Expr but panics on a compile error.
func MustExpr(source string) Condition {
	c, err := Expr(source)
	if err != nil {
		panic(err)
	}
	return c
}

func (e expression) Evaluate(v interface{}) bool {
	env, ok := v.(map[string]interface{})
	if !ok {
		env = map[string]interface{}{"value": v}
	}
	result, err := e.evaluator.Evaluate(e.source, env)
	return err == nil && result
}

func (e expression) String() string { return e.source }
