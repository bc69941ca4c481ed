package flowdsl

import (
	"encoding/json"
	"time"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	ruleIdent          = lexer.SimpleRule{Name: "Ident", Pattern: `[a-z][\w\d]*`}
	ruleType           = lexer.SimpleRule{Name: "Type", Pattern: `(string|number|boolean|any|Duration)`}
	ruleDuration       = lexer.SimpleRule{Name: "Duration", Pattern: `\d+(ns|us|µs|ms|s|m|h)`}
	ruleString         = lexer.SimpleRule{Name: "String", Pattern: `"(\\"|[^"])*"`}
	ruleNumber         = lexer.SimpleRule{Name: "Number", Pattern: `[-+]?(\d*\.)?\d+`}
	ruleOperator       = lexer.SimpleRule{Name: "Operator", Pattern: `==|!=|>=|<=|>|<`}
	rulePunct          = lexer.SimpleRule{Name: "Punct", Pattern: `[-[!@#$%^&*()+_={}\|:;"'<,>.?/]|]`}
	ruleWhitespace     = lexer.SimpleRule{Name: "Whitespace", Pattern: `[ \t]+`}
	ruleReferenceIdent = lexer.SimpleRule{Name: "ReferenceIdent", Pattern: `\$[a-z][\w\d]*\.[a-z][\w\d]*`}
)

var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	ruleWhitespace,
	ruleDuration,
	ruleString,
	ruleNumber,
	ruleOperator,
	ruleReferenceIdent,
	ruleIdent,
	rulePunct,
})

var exprParser = participle.MustBuild[Expr](
	participle.Lexer(exprLexer),
	participle.UseLookahead(2),
	participle.Elide(ruleWhitespace.Name),
	participle.Unquote("String"),
)

var operandParser = participle.MustBuild[Operand](
	participle.Lexer(exprLexer),
	participle.UseLookahead(2),
	participle.Elide(ruleWhitespace.Name),
	participle.Unquote("String"),
)

// Expr is a predicate over channel state and flow variables. A bare operand
// is evaluated for truthiness; a comparison applies the operator.
type Expr struct {
	Left  Operand  `parser:"@@" json:"left"`
	Op    *string  `parser:"( @Operator" json:"op,omitempty"`
	Right *Operand `parser:"@@ )?" json:"right,omitempty"`
}

// Operand is a literal, a `$scope.name` variable reference, or a channel
// name resolved against current device state.
type Operand struct {
	Duration  *Duration `parser:"@Duration |" json:"duration,omitempty"`
	Number    *Number   `parser:"@Number |" json:"number,omitempty"`
	String    *string   `parser:"@String |" json:"string,omitempty"`
	Boolean   *Boolean  `parser:"@('true'|'false') |" json:"boolean,omitempty"`
	Reference *string   `parser:"@ReferenceIdent |" json:"reference,omitempty"`
	Channel   *string   `parser:"@Ident" json:"channel,omitempty"`
}

type Boolean bool

func (b *Boolean) Capture(values []string) error {
	*b = values[0] == "true"
	return nil
}

type Number json.Number

func (n *Number) Capture(values []string) error {
	*n = Number(values[0])
	return nil
}

func (n Number) Float64() (float64, error) {
	return json.Number(n).Float64()
}

type Duration time.Duration

func (d *Duration) Capture(values []string) error {
	duration, err := time.ParseDuration(values[0])
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

var declarationLexer = lexer.MustSimple([]lexer.SimpleRule{
	ruleWhitespace,
	ruleType,
	ruleIdent,
	ruleString,
	ruleDuration,
	ruleNumber,
	rulePunct,
})

var declarationParser = participle.MustBuild[Declaration](
	participle.Lexer(declarationLexer),
	participle.UseLookahead(2),
	participle.Elide(ruleWhitespace.Name),
	participle.Unquote("String"),
)

// Declaration declares a node type's configuration parameters with optional
// defaults, e.g. `delay(duration:Duration=1s, tag:string="")`.
type Declaration struct {
	Identifier string      `parser:"@Ident" json:"identifier"`
	Parameters []Parameter `parser:"'(' ( @@ ( ',' @@ )* )? ')'" json:"parameters,omitempty"`
}

type Parameter struct {
	Name    string          `parser:"@Ident" json:"name"`
	Type    string          `parser:"':' @Type" json:"type"`
	Default *ParameterValue `parser:"('=' @@)?" json:"default,omitempty"`
}

type ParameterValue struct {
	Duration *Duration `parser:"@Duration |" json:"duration,omitempty"`
	String   *string   `parser:"@String |" json:"string,omitempty"`
	Number   *Number   `parser:"@Number |" json:"number,omitempty"`
	Boolean  *Boolean  `parser:"@('true'|'false')" json:"boolean,omitempty"`
}
