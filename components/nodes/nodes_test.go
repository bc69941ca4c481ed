package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/relayflow/relay-agent/flowapi"
	"go.uber.org/zap"
)

// fakeProvider satisfies flowapi.HandlerProvider with recording fakes so
// each node can be exercised in isolation.
type fakeProvider struct {
	info   flowapi.NodeGraphInfo
	engine *fakeEngine
	device *fakeDevice
	events *fakeEvents
	sched  *fakeScheduler
	vars   *fakeVariables
}

func newFakeProvider(id flowapi.NodeID, config string) *fakeProvider {
	return &fakeProvider{
		info:   flowapi.NodeGraphInfo{ID: id, Config: json.RawMessage(config)},
		engine: &fakeEngine{active: map[flowapi.NodeID]bool{}},
		device: &fakeDevice{channels: map[string]any{}},
		events: &fakeEvents{},
		sched:  &fakeScheduler{},
		vars:   &fakeVariables{values: map[string]any{}},
	}
}

func (p *fakeProvider) Info() flowapi.NodeGraphInfo { return p.info }

func (p *fakeProvider) Unmarshal(to any) error {
	if len(p.info.Config) == 0 {
		return nil
	}
	return json.Unmarshal(p.info.Config, to)
}

func (p *fakeProvider) Log() *zap.Logger             { return zap.NewNop() }
func (p *fakeProvider) Engine() flowapi.Engine       { return p.engine }
func (p *fakeProvider) Device() flowapi.Device       { return p.device }
func (p *fakeProvider) Events() flowapi.Events       { return p.events }
func (p *fakeProvider) Scheduler() flowapi.Scheduler { return p.sched }
func (p *fakeProvider) Variables() flowapi.Variables { return p.vars }

type emitCall struct {
	origin flowapi.NodeID
	data   map[string]any
}

type emitFromCall struct {
	from flowapi.NodeID
	sig  flowapi.Signal
}

type toggleCall struct {
	node flowapi.NodeID
	data map[string]any
	opts flowapi.ToggleOptions
}

type fakeEngine struct {
	emits     []emitCall
	emitFroms []emitFromCall
	toggles   []toggleCall
	active    map[flowapi.NodeID]bool
}

func (e *fakeEngine) EmitSignal(ctx context.Context, origin flowapi.NodeID, data map[string]any) {
	e.emits = append(e.emits, emitCall{origin: origin, data: data})
}

func (e *fakeEngine) EmitFrom(ctx context.Context, from flowapi.NodeID, sig flowapi.Signal) {
	e.emitFroms = append(e.emitFroms, emitFromCall{from: from, sig: sig})
}

func (e *fakeEngine) ToggleContinuousSignal(ctx context.Context, node flowapi.NodeID, data map[string]any, opts flowapi.ToggleOptions) bool {
	e.toggles = append(e.toggles, toggleCall{node: node, data: data, opts: opts})
	switch opts.Force {
	case flowapi.ForceStart:
		e.active[node] = true
	case flowapi.ForceStop:
		e.active[node] = false
	default:
		e.active[node] = !e.active[node]
	}
	return e.active[node]
}

func (e *fakeEngine) StopContinuousSignalIfSource(ctx context.Context, node flowapi.NodeID, source flowapi.Source, origin flowapi.NodeID) bool {
	if !e.active[node] {
		return false
	}
	e.active[node] = false
	return true
}

func (e *fakeEngine) IsContinuousSignalActive(node flowapi.NodeID) bool {
	return e.active[node]
}

type fakeDevice struct {
	channels  map[string]any
	effects   []flowapi.Effect
	effectErr error
}

func (d *fakeDevice) Channel(name string) (any, bool) {
	v, ok := d.channels[name]
	return v, ok
}

func (d *fakeDevice) ApplyEffect(ctx context.Context, effect flowapi.Effect) error {
	d.effects = append(d.effects, effect)
	return d.effectErr
}

type publishedEvent struct {
	name    string
	payload map[string]any
}

type fakeEvents struct {
	published []publishedEvent
}

func (e *fakeEvents) Publish(ctx context.Context, name string, payload map[string]any) {
	e.published = append(e.published, publishedEvent{name: name, payload: payload})
}

func (e *fakeEvents) Subscribe(name string, priority int, fn flowapi.EventHandler) flowapi.EventSubscription {
	return fakeSubscription{}
}

type fakeSubscription struct{}

func (fakeSubscription) Close() {}

type pendingTimer struct {
	d  time.Duration
	fn func(ctx context.Context)
}

type pendingConfirm struct {
	node flowapi.NodeID
	fn   func(ctx context.Context, accepted bool)
}

// fakeScheduler records suspensions; tests fire them explicitly.
type fakeScheduler struct {
	timers   []pendingTimer
	confirms []pendingConfirm
}

func (s *fakeScheduler) After(d time.Duration, fn func(ctx context.Context)) (cancel func()) {
	s.timers = append(s.timers, pendingTimer{d: d, fn: fn})
	return func() {}
}

func (s *fakeScheduler) AwaitConfirmation(node flowapi.NodeID, fn func(ctx context.Context, accepted bool)) {
	s.confirms = append(s.confirms, pendingConfirm{node: node, fn: fn})
}

type fakeVariables struct {
	values map[string]any
	setErr error
}

func (v *fakeVariables) Set(ctx context.Context, name string, value any) error {
	if v.setErr != nil {
		return v.setErr
	}
	v.values[name] = value
	return nil
}

func (v *fakeVariables) Get(name string) (any, bool) {
	value, ok := v.values[name]
	return value, ok
}

var errEffectUnavailable = errors.New("effect unavailable")
