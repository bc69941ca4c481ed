package flowsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/relayflow/relay-agent/pkg/bus"
	"go.uber.org/zap"
)

// FlowState holds named variables shared between nodes: delay durations,
// condition thresholds, setvar targets. Changes are published on a keyed
// bus so interested nodes can react.
type FlowState struct {
	variables *xsync.MapOf[string, VariableValue]
	log       *zap.Logger
	bus       *FlowStateBus
}

type (
	FlowStateEvent struct {
		Name  string
		Value VariableValue
	}
	FlowStateBus          = bus.Bus[string, FlowStateEvent]
	FlowStateSubscription = bus.Subscription[string, FlowStateEvent]
)

func NewState(log *zap.Logger) *FlowState {
	return &FlowState{
		variables: xsync.NewMapOf[string, VariableValue](),
		log:       log,
		bus:       bus.NewBus[string, FlowStateEvent](log),
	}
}

// VariableValue is a typed scalar variable.
type VariableValue struct {
	Int      *int64
	Float    *float64
	Bool     *bool
	String   *string
	Duration *time.Duration
}

func (v VariableValue) Equal(other VariableValue) bool {
	switch {
	case v.Int != nil && other.Int != nil:
		return *v.Int == *other.Int
	case v.Float != nil && other.Float != nil:
		return *v.Float == *other.Float
	case v.Bool != nil && other.Bool != nil:
		return *v.Bool == *other.Bool
	case v.String != nil && other.String != nil:
		return *v.String == *other.String
	case v.Duration != nil && other.Duration != nil:
		return *v.Duration == *other.Duration
	default:
		return false
	}
}

// Any unwraps to the plain scalar used by flowdsl resolution.
func (v VariableValue) Any() any {
	switch {
	case v.Int != nil:
		return *v.Int
	case v.Float != nil:
		return *v.Float
	case v.Bool != nil:
		return *v.Bool
	case v.String != nil:
		return *v.String
	case v.Duration != nil:
		return *v.Duration
	default:
		return nil
	}
}

// VariableOf wraps a plain scalar into a typed variable value.
func VariableOf(value any) (VariableValue, error) {
	switch t := value.(type) {
	case int:
		i := int64(t)
		return VariableValue{Int: &i}, nil
	case int64:
		return VariableValue{Int: &t}, nil
	case float64:
		return VariableValue{Float: &t}, nil
	case bool:
		return VariableValue{Bool: &t}, nil
	case string:
		return VariableValue{String: &t}, nil
	case time.Duration:
		return VariableValue{Duration: &t}, nil
	default:
		return VariableValue{}, fmt.Errorf("unsupported variable type %T", value)
	}
}

// Set stores a variable and publishes a change event when the value
// actually changed.
func (f *FlowState) Set(ctx context.Context, name string, value any) error {
	v, err := VariableOf(value)
	if err != nil {
		return err
	}
	previous, loaded := f.variables.LoadAndStore(name, v)
	if loaded && previous.Equal(v) {
		return nil
	}
	f.bus.Publish(ctx, name, FlowStateEvent{Name: name, Value: v})
	return nil
}

func (f *FlowState) Get(name string) (any, bool) {
	v, ok := f.variables.Load(name)
	if !ok {
		return nil, false
	}
	return v.Any(), true
}

func (f *FlowState) SubscribeVariable(name string, priority int, fn bus.Handler[string, FlowStateEvent]) *FlowStateSubscription {
	return f.bus.Subscribe(name, priority, fn)
}

// Clear drops every variable. Called when a graph rebuild changes the
// variable declaration set.
func (f *FlowState) Clear() {
	f.variables.Clear()
}
