package flowapi

// NodeID identifies a node within a single flow graph.
type NodeID int64

// Edge is a directed link between two node ports.
type Edge struct {
	From     NodeID `json:"from"`
	FromPort string `json:"fromPort"`
	To       NodeID `json:"to"`
	ToPort   string `json:"toPort"`
}

func (e Edge) IsZero() bool {
	return e == Edge{}
}

type SignalKind uint8

const (
	SignalPulse SignalKind = iota
	SignalContinuous
)

func (k SignalKind) String() string {
	if k == SignalContinuous {
		return "continuous"
	}
	return "pulse"
}

// SignalState applies to continuous signals only. Pulse signals carry
// SignalStateNone.
type SignalState uint8

const (
	SignalStateNone SignalState = iota
	SignalStateStart
	SignalStateStop
)

func (s SignalState) String() string {
	switch s {
	case SignalStateStart:
		return "start"
	case SignalStateStop:
		return "stop"
	default:
		return "none"
	}
}

// Signal is a transient message travelling along graph edges. Data is a
// shallow key/value payload that handlers may read and extend as the signal
// travels; it is never persisted or replayed.
type Signal struct {
	ID     string         `json:"id"`
	Origin NodeID         `json:"origin"`
	Kind   SignalKind     `json:"kind"`
	State  SignalState    `json:"state,omitempty"`
	Via    Edge           `json:"via,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// IsStop reports whether the signal terminates a continuous session.
// Stop signals are never filtered by condition predicates.
func (s Signal) IsStop() bool {
	return s.Kind == SignalContinuous && s.State == SignalStateStop
}

// Decision is a handler's verdict on an incoming signal. Data is shallow
// merged over the incoming signal data, handler keys winning on conflict.
type Decision struct {
	Propagate bool
	Data      map[string]any
}

// Source attributes a continuous session to whoever started it. Automatic
// and manual starters of the same effect must not cancel each other.
type Source string

const (
	SourceManual Source = "manual"
	SourceAuto   Source = "auto"
)

type Force uint8

const (
	ForceNone Force = iota
	ForceStart
	ForceStop
)

// ToggleOptions control ToggleContinuousSignal. A zero value toggles the
// current state with manual attribution originating at the toggled node.
type ToggleOptions struct {
	Force  Force
	Source Source
	Origin NodeID
}

// Normalize fills in default attribution for a toggle on the given node.
func (o ToggleOptions) Normalize(node NodeID) ToggleOptions {
	if o.Source == "" {
		o.Source = SourceManual
	}
	if o.Origin == 0 {
		o.Origin = node
	}
	return o
}
