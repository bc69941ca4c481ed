package flowdsl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func TestExpressions(t *testing.T) {
	type testCase struct {
		input    string
		expected Expr
	}

	testCases := []testCase{
		{
			input: `torch`,
			expected: Expr{
				Left: Operand{Channel: ptr("torch")},
			},
		},
		{
			input: `torch == true`,
			expected: Expr{
				Left:  Operand{Channel: ptr("torch")},
				Op:    ptr("=="),
				Right: &Operand{Boolean: ptr(Boolean(true))},
			},
		},
		{
			input: `volume >= 3`,
			expected: Expr{
				Left:  Operand{Channel: ptr("volume")},
				Op:    ptr(">="),
				Right: &Operand{Number: ptr(Number("3"))},
			},
		},
		{
			input: `$var.cooldown > 250ms`,
			expected: Expr{
				Left:  Operand{Reference: ptr("$var.cooldown")},
				Op:    ptr(">"),
				Right: &Operand{Duration: ptr(Duration(250 * time.Millisecond))},
			},
		},
		{
			input: `phrase == "lights on"`,
			expected: Expr{
				Left:  Operand{Channel: ptr("phrase")},
				Op:    ptr("=="),
				Right: &Operand{String: ptr("lights on")},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			expr, err := ParseExpr(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, expr)
		})
	}
}

func TestExpressionErrors(t *testing.T) {
	invalid := []string{
		``,
		`== 3`,
		`volume >=`,
	}
	for _, input := range invalid {
		t.Run(input, func(t *testing.T) {
			_, err := ParseExpr(input)
			assert.Error(t, err)
		})
	}
}

type mapResolver struct {
	channels  map[string]any
	variables map[string]any
}

func (m mapResolver) Channel(name string) (any, bool) {
	v, ok := m.channels[name]
	return v, ok
}

func (m mapResolver) Variable(name string) (any, bool) {
	v, ok := m.variables[name]
	return v, ok
}

func TestEval(t *testing.T) {
	r := mapResolver{
		channels: map[string]any{
			"torch":  true,
			"volume": float64(5),
			"phrase": "lights on",
		},
		variables: map[string]any{
			"threshold": float64(3),
		},
	}

	type testCase struct {
		input    string
		expected bool
	}

	testCases := []testCase{
		{`torch`, true},
		{`torch == true`, true},
		{`torch != true`, false},
		{`volume >= 3`, true},
		{`volume < 3`, false},
		{`volume >= $var.threshold`, true},
		{`phrase == "lights on"`, true},
		{`phrase == "lights off"`, false},
		{`missing`, false},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			expr, err := ParseExpr(tc.input)
			require.NoError(t, err)
			got, err := expr.Eval(r)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestResolveDuration(t *testing.T) {
	r := mapResolver{
		variables: map[string]any{
			"cooldown": 1500 * time.Millisecond,
		},
	}

	type testCase struct {
		input    string
		expected time.Duration
	}

	testCases := []testCase{
		{`250ms`, 250 * time.Millisecond},
		{`2s`, 2 * time.Second},
		{`500`, 500 * time.Millisecond},
		{`$var.cooldown`, 1500 * time.Millisecond},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			op, err := ParseOperand(tc.input)
			require.NoError(t, err)
			got, err := op.ResolveDuration(r)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestDeclarations(t *testing.T) {
	type testCase struct {
		name    string
		input   string
		wantErr bool
	}

	testCases := []testCase{
		{
			name:  "no parameters",
			input: `passthrough()`,
		},
		{
			name:  "typed defaults",
			input: `gate(gateType:string="AND", inputCount:number=2, invert:boolean=false)`,
		},
		{
			name:  "duration default",
			input: `delay(duration:Duration=1s)`,
		},
		{
			name:    "default must trail",
			input:   `gate(gateType:string="AND", inputCount:number)`,
			wantErr: true,
		},
		{
			name:    "default type mismatch",
			input:   `gate(inputCount:number="two")`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			decl, err := ParseDeclaration(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, decl.Identifier)
		})
	}
}
