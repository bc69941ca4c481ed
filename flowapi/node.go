package flowapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/relayflow/relay-agent/flowapi/flowdsl"
	"go.uber.org/zap"
)

type NodeLinkType int

const (
	NodeLinkTypeNone NodeLinkType = iota
	NodeLinkTypeOne
	NodeLinkTypeMany
)

// NodeTypeDescriptor describes a node type to the parser and to authoring
// surfaces. Declaration is a flowdsl parameter declaration for the node's
// configuration record, e.g. `gate(gateType:string="AND", inputCount:number=2)`.
type NodeTypeDescriptor struct {
	DisplayName string
	Description string
	Declaration string

	UpstreamType   NodeLinkType
	DownstreamType NodeLinkType

	InputPorts  []string
	OutputPorts []string
}

// NodeGraphInfo is a node's identity and wiring within the compiled graph.
type NodeGraphInfo struct {
	ID          NodeID
	Type        string
	Config      json.RawMessage
	Upstreams   []NodeID
	Downstreams []NodeID
}

// NodeType creates handlers for one node type tag. Implementations are
// registered once and must be safe to create handlers from concurrently.
type NodeType interface {
	Descriptor() NodeTypeDescriptor
	CreateHandler(p HandlerProvider) (Handler, error)
}

// Handler is the live behavior bound to exactly one node id. The engine
// awaits Handle before walking the node's outgoing edges. Close releases
// handler state when the handler is superseded or the engine is reset;
// it must not stop continuous signals owned by the node.
type Handler interface {
	Handle(ctx context.Context, sig Signal) (Decision, error)
	Close() error
}

// HandlerFunc adapts a plain function to a stateless Handler.
type HandlerFunc func(ctx context.Context, sig Signal) (Decision, error)

func (f HandlerFunc) Handle(ctx context.Context, sig Signal) (Decision, error) {
	return f(ctx, sig)
}

func (f HandlerFunc) Close() error {
	return nil
}

// AutoEmitSpec describes a condition that drives a node's continuous signal
// from external state changes rather than explicit triggers. When Expr is
// nil the channel's truthiness is the condition.
type AutoEmitSpec struct {
	Channel string
	Invert  bool
	Expr    *flowdsl.Expr
}

// AutoEmitting is implemented by handlers whose activation is reconciled
// against external state on every state change notification.
type AutoEmitting interface {
	AutoEmitSpec() (AutoEmitSpec, bool)
}

// Firer is implemented by handlers that can originate signals outside the
// engine's own edge walk (trigger nodes). External collaborators fire them
// by node id through the flow service.
type Firer interface {
	Fire(ctx context.Context, data map[string]any) error
	Stop(ctx context.Context) error
}

// HandlerProvider gives a node everything it may touch at runtime.
type HandlerProvider interface {
	Info() NodeGraphInfo
	// Unmarshal decodes the node's configuration record.
	Unmarshal(to any) error
	Log() *zap.Logger
	Engine() Engine
	Device() Device
	Events() Events
	Scheduler() Scheduler
	Variables() Variables
}

// Engine is the propagation surface exposed to handlers.
type Engine interface {
	EmitSignal(ctx context.Context, origin NodeID, data map[string]any)
	// EmitFrom resumes propagation downstream of a node with an
	// already-built signal. Used by delay and confirm continuations.
	EmitFrom(ctx context.Context, from NodeID, sig Signal)
	ToggleContinuousSignal(ctx context.Context, node NodeID, data map[string]any, opts ToggleOptions) bool
	StopContinuousSignalIfSource(ctx context.Context, node NodeID, source Source, origin NodeID) bool
	IsContinuousSignalActive(node NodeID) bool
}

// Effect is a request for an external side effect performed by a device
// backend (notify, vibrate, torch, volume).
type Effect struct {
	Kind string         `json:"kind"`
	Args map[string]any `json:"args,omitempty"`
}

// Device reads named channel state and applies effects. Channel values are
// scalars: bool, float64 or string.
type Device interface {
	Channel(name string) (any, bool)
	ApplyEffect(ctx context.Context, effect Effect) error
}

// Event is a cross-cutting notification that is not signal propagation.
type Event struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
}

type EventHandler func(ctx context.Context, ev Event)

// EventSubscription is an explicit handle owned by the subscriber.
type EventSubscription interface {
	Close()
}

// Events is the per-node view of the flow event bus. Subscriptions opened
// through it are tracked and closed by UnsubscribeNode.
type Events interface {
	Publish(ctx context.Context, name string, payload map[string]any)
	Subscribe(name string, priority int, fn EventHandler) EventSubscription
}

// Scheduler owns long-lived suspensions. Both forms are cancelled, without
// invoking their continuations, when the engine is reset.
type Scheduler interface {
	After(d time.Duration, fn func(ctx context.Context)) (cancel func())
	AwaitConfirmation(node NodeID, fn func(ctx context.Context, accepted bool))
}

// Variables is named flow state shared between nodes.
type Variables interface {
	Set(ctx context.Context, name string, value any) error
	Get(name string) (any, bool)
}
