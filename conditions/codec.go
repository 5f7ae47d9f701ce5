package conditions

import (
	"errors"
	"fmt"

	"github.com/songzhibin97/flownet/types"
)

// Serialized condition types.
const (
	TypeIsAnything = "is_anything"
	TypeIsTrue     = "is_true"
	TypeIsFalse    = "is_false"
	TypeIsBool     = "is_bool"
	TypeIsInteger  = "is_integer"
	TypeIsFloat    = "is_float"
	TypeIsString   = "is_string"
	TypeIsArray    = "is_array"
	TypeCompare    = "compare"
	TypeBetween    = "between"
	TypeInArray    = "in_array"
	TypeNot        = "not"
	TypeAnd        = "and"
	TypeOr         = "or"
	TypeXor        = "xor"
	TypeVariable   = "variable"
	TypeVariables  = "variables"
	TypeExpr       = "expr"
)

// ErrUnknownCondition is returned when a condition cannot be encoded or decoded.
var ErrUnknownCondition = errors.New("unknown condition")

var typeChecks = map[string]func() Condition{
	TypeIsAnything: IsAnything,
	TypeIsTrue:     IsTrue,
	TypeIsFalse:    IsFalse,
	TypeIsBool:     IsBool,
	TypeIsInteger:  IsInteger,
	TypeIsFloat:    IsFloat,
	TypeIsString:   IsString,
	TypeIsArray:    IsArray,
}

// Encode converts c into its serialized form.
func Encode(c Condition) (types.Condition, error) {
	switch t := c.(type) {
	case typeCheck:
		return types.Condition{Type: t.kind}, nil
	case comparison:
		return types.Condition{Type: TypeCompare, Operator: string(t.op), Value: t.value}, nil
	case between:
		return types.Condition{Type: TypeBetween, Values: []interface{}{t.min, t.max}}, nil
	case inArray:
		return types.Condition{Type: TypeInArray, Values: t.values}, nil
	case not:
		inner, err := Encode(t.c)
		if err != nil {
			return types.Condition{}, err
		}
		return types.Condition{Type: TypeNot, Conditions: []types.Condition{inner}}, nil
	case boolean:
		out := types.Condition{Type: t.kind, Conditions: make([]types.Condition, 0, len(t.conditions))}
		for _, child := range t.conditions {
			inner, err := Encode(child)
			if err != nil {
				return types.Condition{}, err
			}
			out.Conditions = append(out.Conditions, inner)
		}
		return out, nil
	case variable:
		inner, err := Encode(t.c)
		if err != nil {
			return types.Condition{}, err
		}
		return types.Condition{Type: TypeVariable, Name: t.name, Conditions: []types.Condition{inner}}, nil
	case variables:
		return types.Condition{Type: TypeVariables, Left: t.left, Right: t.right, Operator: string(t.op)}, nil
	case expression:
		return types.Condition{Type: TypeExpr, Expression: t.source}, nil
	}
	return types.Condition{}, fmt.Errorf("%w: %T", ErrUnknownCondition, c)
}

// Decode rebuilds a condition from its serialized form.
func Decode(def types.Condition) (Condition, error) {
	if f, ok := typeChecks[def.Type]; ok {
		return f(), nil
	}

	switch def.Type {
	case TypeCompare:
		op := Operator(def.Operator)
		if !op.valid() {
			return nil, fmt.Errorf("%w: operator %q", ErrUnknownCondition, def.Operator)
		}
		return comparison{op: op, value: def.Value}, nil
	case TypeBetween:
		if len(def.Values) != 2 {
			return nil, fmt.Errorf("between needs 2 values, got %d", len(def.Values))
		}
		return IsBetween(def.Values[0], def.Values[1]), nil
	case TypeInArray:
		return InArray(def.Values...), nil
	case TypeNot:
		inner, err := decodeSingle(def)
		if err != nil {
			return nil, err
		}
		return Not(inner), nil
	case TypeAnd, TypeOr, TypeXor:
		children := make([]Condition, 0, len(def.Conditions))
		for _, child := range def.Conditions {
			c, err := Decode(child)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		switch def.Type {
		case TypeAnd:
			return And(children...), nil
		case TypeOr:
			return Or(children...), nil
		}
		return Xor(children...), nil
	case TypeVariable:
		inner, err := decodeSingle(def)
		if err != nil {
			return nil, err
		}
		return Variable(def.Name, inner), nil
	case TypeVariables:
		op := Operator(def.Operator)
		if !op.valid() {
			return nil, fmt.Errorf("%w: operator %q", ErrUnknownCondition, def.Operator)
		}
		return Variables(def.Left, def.Right, op), nil
	case TypeExpr:
		return Expr(def.Expression)
	}
	return nil, fmt.Errorf("%w: type %q", ErrUnknownCondition, def.Type)
}

func decodeSingle(def types.Condition) (Condition, error) {
	if len(def.Conditions) != 1 {
		return nil, fmt.Errorf("%s needs exactly one condition, got %d", def.Type, len(def.Conditions))
	}
	return Decode(def.Conditions[0])
}
