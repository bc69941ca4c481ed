package devicesvc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/goccy/go-yaml"
)

// Value is a scalar channel state: boolean, number or string.
type Value struct {
	Bool   *bool
	Number *float64
	String *string
}

func BoolValue(b bool) Value {
	return Value{Bool: &b}
}

func NumberValue(f float64) Value {
	return Value{Number: &f}
}

func StringValue(s string) Value {
	return Value{String: &s}
}

// Any unwraps the scalar: bool, float64, string or nil.
func (v Value) Any() any {
	switch {
	case v.Bool != nil:
		return *v.Bool
	case v.Number != nil:
		return *v.Number
	case v.String != nil:
		return *v.String
	default:
		return nil
	}
}

func (v Value) Equal(other Value) bool {
	switch {
	case v.Bool != nil && other.Bool != nil:
		return *v.Bool == *other.Bool
	case v.Number != nil && other.Number != nil:
		return *v.Number == *other.Number
	case v.String != nil && other.String != nil:
		return *v.String == *other.String
	default:
		return v == Value{} && other == Value{}
	}
}

func (v Value) StringRepr() string {
	switch {
	case v.Bool != nil:
		return strconv.FormatBool(*v.Bool)
	case v.Number != nil:
		return strconv.FormatFloat(*v.Number, 'f', -1, 64)
	case v.String != nil:
		return *v.String
	default:
		return "<unset>"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return v.fromAny(raw)
}

func (v Value) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(v.Any())
}

func (v *Value) UnmarshalYAML(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	return v.fromAny(raw)
}

func (v *Value) fromAny(raw any) error {
	switch t := raw.(type) {
	case nil:
		*v = Value{}
	case bool:
		*v = BoolValue(t)
	case float64:
		*v = NumberValue(t)
	case int:
		*v = NumberValue(float64(t))
	case int64:
		*v = NumberValue(float64(t))
	case uint64:
		*v = NumberValue(float64(t))
	case string:
		*v = StringValue(t)
	default:
		return fmt.Errorf("unsupported channel value type %T", raw)
	}
	return nil
}
