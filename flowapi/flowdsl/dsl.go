// Package flowdsl parses the small expression language used in node
// configuration: durations, literals, `$scope.name` variable references and
// channel comparison predicates.
package flowdsl

import (
	"fmt"
	"strconv"
	"time"
)

func ParseExpr(s string) (Expr, error) {
	result, err := exprParser.ParseString("", s)
	if err != nil {
		return Expr{}, err
	}
	return *result, nil
}

func ParseOperand(s string) (Operand, error) {
	result, err := operandParser.ParseString("", s)
	if err != nil {
		return Operand{}, err
	}
	return *result, nil
}

func ParseDeclaration(decl string) (Declaration, error) {
	result, err := declarationParser.ParseString("", decl)
	if err != nil {
		return Declaration{}, err
	}
	shouldHaveDefault := false
	for _, p := range result.Parameters {
		if shouldHaveDefault && p.Default == nil {
			return Declaration{}, fmt.Errorf("parameter %s should have a default value", p.Name)
		}
		if p.Default != nil {
			shouldHaveDefault = true
			switch p.Type {
			case "string":
				if p.Default.String == nil {
					return Declaration{}, fmt.Errorf("parameter %s default value should be a string", p.Name)
				}
			case "number":
				if p.Default.Number == nil {
					return Declaration{}, fmt.Errorf("parameter %s default value should be a number", p.Name)
				}
			case "boolean":
				if p.Default.Boolean == nil {
					return Declaration{}, fmt.Errorf("parameter %s default value should be a boolean", p.Name)
				}
			case "Duration":
				if p.Default.Duration == nil {
					return Declaration{}, fmt.Errorf("parameter %s default value should be a duration", p.Name)
				}
			case "any":
			default:
				return Declaration{}, fmt.Errorf("unsupported type %s for a default value: %s", p.Type, p.Name)
			}
		}
	}
	return *result, nil
}

// Resolver supplies runtime values during expression evaluation. Channel
// resolves device channel state by name; Variable resolves a `$var.name`
// reference by its name part.
type Resolver interface {
	Channel(name string) (any, bool)
	Variable(name string) (any, bool)
}

// Eval evaluates the expression as a predicate. A bare operand is truthy
// when it resolves to true, a non-zero number or a non-empty string.
func (e Expr) Eval(r Resolver) (bool, error) {
	left, err := e.Left.Resolve(r)
	if err != nil {
		return false, err
	}
	if e.Op == nil {
		return Truthy(left), nil
	}
	right, err := e.Right.Resolve(r)
	if err != nil {
		return false, err
	}
	return compare(*e.Op, left, right)
}

// Resolve produces the operand's runtime value: time.Duration, float64,
// string or bool. Unresolvable channels and variables are nil.
func (o Operand) Resolve(r Resolver) (any, error) {
	switch {
	case o.Duration != nil:
		return time.Duration(*o.Duration), nil
	case o.Number != nil:
		return o.Number.Float64()
	case o.String != nil:
		return *o.String, nil
	case o.Boolean != nil:
		return bool(*o.Boolean), nil
	case o.Reference != nil:
		name, err := refName(*o.Reference)
		if err != nil {
			return nil, err
		}
		v, _ := r.Variable(name)
		return v, nil
	case o.Channel != nil:
		v, _ := r.Channel(*o.Channel)
		return v, nil
	default:
		return nil, fmt.Errorf("empty operand")
	}
}

// ResolveDuration interprets the operand as a duration. Plain numbers are
// milliseconds.
func (o Operand) ResolveDuration(r Resolver) (time.Duration, error) {
	v, err := o.Resolve(r)
	if err != nil {
		return 0, err
	}
	return DurationOf(v)
}

// DurationOf converts a resolved scalar to a duration. Numbers are
// milliseconds, strings are parsed with time.ParseDuration.
func DurationOf(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case float64:
		return time.Duration(d) * time.Millisecond, nil
	case int:
		return time.Duration(d) * time.Millisecond, nil
	case int64:
		return time.Duration(d) * time.Millisecond, nil
	case string:
		return time.ParseDuration(d)
	case nil:
		return 0, fmt.Errorf("duration is not set")
	default:
		return 0, fmt.Errorf("cannot interpret %T as duration", v)
	}
}

// Truthy reports whether a resolved scalar counts as true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case string:
		return t != "" && t != "false" && t != "0"
	case time.Duration:
		return t != 0
	default:
		return false
	}
}

func refName(ref string) (string, error) {
	// $var.cooldown -> cooldown
	for i := 1; i < len(ref); i++ {
		if ref[i] == '.' {
			return ref[i+1:], nil
		}
	}
	return "", fmt.Errorf("invalid reference: %s", ref)
}

func compare(op string, left, right any) (bool, error) {
	if lf, rf, ok := bothNumeric(left, right); ok {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		}
	}
	switch op {
	case "==":
		return scalarString(left) == scalarString(right), nil
	case "!=":
		return scalarString(left) != scalarString(right), nil
	default:
		return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", op, left, right)
	}
}

func bothNumeric(left, right any) (float64, float64, bool) {
	lf, lok := numeric(left)
	rf, rok := numeric(right)
	return lf, rf, lok && rok
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case time.Duration:
		return float64(t), true
	default:
		return 0, false
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
