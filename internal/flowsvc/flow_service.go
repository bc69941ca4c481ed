// Package flowsvc is the signal propagation core: it parses authored flow
// documents into graphs, drives signals along edges, manages continuous
// signal sessions and reconciles auto-emitting nodes against device state.
package flowsvc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/relayflow/relay-agent/flowapi"
	"github.com/relayflow/relay-agent/internal/configsvc"
	"github.com/relayflow/relay-agent/internal/devicesvc"
	"github.com/relayflow/relay-agent/pkg/bus"
	"go.uber.org/zap"
)

type (
	EventBus          = bus.Bus[string, flowapi.Event]
	EventSubscription = bus.Subscription[string, flowapi.Event]
)

// Event names published by the core.
const (
	EventDeviceState      = "device.state"
	EventEffectError      = "flow.effect.error"
	EventConfirmRequested = "flow.confirm.requested"
)

type Service struct {
	log      *zap.Logger
	config   *configsvc.Service
	device   *devicesvc.Service
	flowPath string

	registry *NodeRegistry
	parser   *Parser
	state    *FlowState
	events   *EventBus
	sched    *Scheduler

	mu       sync.Mutex
	engine   *Engine
	autoEmit *AutoEmitter
	nodeSubs map[flowapi.NodeID][]*EventSubscription
}

func New(log *zap.Logger, config *configsvc.Service, flowPath string, device *devicesvc.Service, registry *NodeRegistry) *Service {
	state := NewState(log)
	return &Service{
		log:      log,
		config:   config,
		device:   device,
		flowPath: flowPath,
		registry: registry,
		parser:   NewParser(log, registry),
		state:    state,
		events:   bus.NewBus[string, flowapi.Event](log),
		sched:    NewScheduler(log),
		nodeSubs: make(map[flowapi.NodeID][]*EventSubscription),
	}
}

// Start blocks until ctx is cancelled. Startup fails when the initial flow
// document is structurally invalid; after startup the service keeps running
// the last valid graph when edits break the document.
func (s *Service) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-s.device.Ready():
	}
	select {
	case <-ctx.Done():
		return nil
	case <-s.config.Ready():
	}
	doc, err := configsvc.Register(s.config, s.flowPath, FlowDocument{}, s.onConfigChange)
	if err != nil {
		return fmt.Errorf("failed to register flow config: %w", err)
	}
	sub := s.device.SubscribeState(0, s.onDeviceState)
	defer sub.Close()

	if err := s.Initialize(doc); err != nil {
		return fmt.Errorf("failed to initialize flow: %w", err)
	}
	<-ctx.Done()
	s.Reset()
	return nil
}

func (s *Service) onConfigChange(doc FlowDocument, err error) {
	if err != nil {
		s.log.Error("failed to parse flow config", zap.Error(err))
		return
	}
	if err := s.Initialize(doc); err != nil {
		s.log.Error("failed to rebuild flow, keeping previous graph", zap.Error(err))
	}
}

func (s *Service) onDeviceState(ctx context.Context, addr devicesvc.Address, change devicesvc.StateChange) {
	s.EmitEvent(ctx, EventDeviceState, map[string]any{
		"channel": addr.String(),
		"value":   change.Value.Any(),
	})
	s.mu.Lock()
	autoEmit := s.autoEmit
	s.mu.Unlock()
	if autoEmit != nil {
		autoEmit.Reconcile(ctx)
	}
}

// Initialize parses the document, discards any previous engine and builds a
// new one with freshly created handlers. Structural errors abort without
// touching the running engine.
func (s *Service) Initialize(doc FlowDocument) error {
	graph, err := s.parser.Parse(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		if graph.Revision() == s.engine.Graph().Revision() {
			s.log.Debug("flow document unchanged", zap.Uint64("revision", graph.Revision()))
			return nil
		}
		s.resetLocked()
	}

	engine := NewEngine(s.log.Named("engine"), graph, s.sched)
	s.engine = engine
	for _, node := range graph.Nodes() {
		s.createHandlerLocked(node, node.Config)
	}
	s.rebuildAutoEmitLocked()
	s.log.Info("flow initialized",
		zap.Int("nodes", len(graph.Nodes())),
		zap.Int("edges", len(graph.Edges())),
		zap.Uint64("revision", graph.Revision()))
	return nil
}

// createHandlerLocked creates and registers a handler for one node. Unknown
// types and creation failures are configuration errors: the node simply does
// not propagate.
func (s *Service) createHandlerLocked(node *Node, config []byte) {
	nodeType, err := s.registry.Get(node.Type)
	if err != nil {
		s.log.Warn("unknown node type, node will not propagate",
			zap.Int64("nodeId", int64(node.ID)),
			zap.String("type", node.Type))
		return
	}
	graph := s.engine.Graph()
	provider := &handlerProvider{
		svc:    s,
		engine: s.engine,
		log:    s.log.Named("node").With(zap.Int64("nodeId", int64(node.ID))),
		info: flowapi.NodeGraphInfo{
			ID:          node.ID,
			Type:        node.Type,
			Config:      config,
			Upstreams:   graph.upstreamIDs(node.ID),
			Downstreams: graph.downstreamIDs(node.ID),
		},
	}
	handler, err := nodeType.CreateHandler(provider)
	if err != nil {
		s.log.Error("failed to create node handler",
			zap.Int64("nodeId", int64(node.ID)),
			zap.String("type", node.Type),
			zap.Error(err))
		return
	}
	s.engine.RegisterHandler(node.ID, handler)
}

func (s *Service) rebuildAutoEmitLocked() {
	var entries []AutoEmitEntry
	for _, node := range s.engine.Graph().Nodes() {
		handler, ok := s.engine.Handler(node.ID)
		if !ok {
			continue
		}
		emitting, ok := handler.(flowapi.AutoEmitting)
		if !ok {
			continue
		}
		spec, ok := emitting.AutoEmitSpec()
		if !ok {
			continue
		}
		entries = append(entries, AutoEmitEntry{
			Node:    node.ID,
			Channel: spec.Channel,
			Invert:  spec.Invert,
			Expr:    spec.Expr,
		})
	}
	s.autoEmit = NewAutoEmitter(s.log.Named("autoemit"), s.engine, entries, stateResolver{
		device: s.deviceAPI(),
		vars:   s.state,
	})
}

// Reconfigure re-executes one node with updated settings: its handler is
// re-registered without touching the graph model or any continuous-signal
// record.
func (s *Service) Reconfigure(id flowapi.NodeID, config []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return fmt.Errorf("flow not initialized")
	}
	node, ok := s.engine.Graph().Node(id)
	if !ok {
		return fmt.Errorf("unknown node: %d", id)
	}
	s.closeNodeSubsLocked(id)
	s.createHandlerLocked(node, config)
	s.rebuildAutoEmitLocked()
	return nil
}

// Reset tears the engine down completely: pending delays and confirmations
// are cancelled without firing, every handler is closed, all continuous
// records dropped. Safe to call from any state; fully quiesced on return.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Service) resetLocked() {
	for id := range s.nodeSubs {
		s.closeNodeSubsLocked(id)
	}
	if s.engine != nil {
		s.engine.Reset()
	} else {
		s.sched.Reset()
	}
	s.engine = nil
	s.autoEmit = nil
}

// EmitSignal constructs a pulse signal at the origin node and propagates it.
func (s *Service) EmitSignal(ctx context.Context, origin flowapi.NodeID, data map[string]any) {
	if e := s.currentEngine(); e != nil {
		e.EmitSignal(ctx, origin, data)
	}
}

func (s *Service) ToggleContinuousSignal(ctx context.Context, node flowapi.NodeID, data map[string]any, opts flowapi.ToggleOptions) bool {
	if e := s.currentEngine(); e != nil {
		return e.ToggleContinuousSignal(ctx, node, data, opts)
	}
	return false
}

func (s *Service) StopContinuousSignalIfSource(ctx context.Context, node flowapi.NodeID, source flowapi.Source, origin flowapi.NodeID) bool {
	if e := s.currentEngine(); e != nil {
		return e.StopContinuousSignalIfSource(ctx, node, source, origin)
	}
	return false
}

func (s *Service) IsContinuousSignalActive(node flowapi.NodeID) bool {
	if e := s.currentEngine(); e != nil {
		return e.IsContinuousSignalActive(node)
	}
	return false
}

func (s *Service) ActiveContinuousSignals() map[flowapi.NodeID]ContinuousRecord {
	if e := s.currentEngine(); e != nil {
		return e.ActiveContinuousSignals()
	}
	return map[flowapi.NodeID]ContinuousRecord{}
}

func (s *Service) Stats() Stats {
	if e := s.currentEngine(); e != nil {
		return e.Stats()
	}
	return Stats{}
}

func (s *Service) RegisterHandler(id flowapi.NodeID, h flowapi.Handler) {
	if e := s.currentEngine(); e != nil {
		e.RegisterHandler(id, h)
	}
}

func (s *Service) UnregisterHandler(id flowapi.NodeID) {
	if e := s.currentEngine(); e != nil {
		e.UnregisterHandler(id)
	}
}

// UnsubscribeNode removes the node's handler and closes every event
// subscription the node's handler opened.
func (s *Service) UnsubscribeNode(id flowapi.NodeID) {
	s.mu.Lock()
	s.closeNodeSubsLocked(id)
	engine := s.engine
	s.mu.Unlock()
	if engine != nil {
		engine.UnregisterHandler(id)
	}
}

// FireNode is the direct entry point for trigger nodes, used by run buttons,
// notification controls and scheduled shortcuts.
func (s *Service) FireNode(ctx context.Context, id flowapi.NodeID, data map[string]any) error {
	engine := s.currentEngine()
	if engine == nil {
		return fmt.Errorf("flow not initialized")
	}
	handler, ok := engine.Handler(id)
	if !ok {
		return fmt.Errorf("no handler registered for node %d", id)
	}
	firer, ok := handler.(flowapi.Firer)
	if !ok {
		return fmt.Errorf("node %d cannot be fired", id)
	}
	return firer.Fire(ctx, data)
}

func (s *Service) StopNode(ctx context.Context, id flowapi.NodeID) error {
	engine := s.currentEngine()
	if engine == nil {
		return fmt.Errorf("flow not initialized")
	}
	handler, ok := engine.Handler(id)
	if !ok {
		return fmt.Errorf("no handler registered for node %d", id)
	}
	firer, ok := handler.(flowapi.Firer)
	if !ok {
		return fmt.Errorf("node %d cannot be stopped", id)
	}
	return firer.Stop(ctx)
}

// ResolveConfirmation completes a pending confirm node decision.
func (s *Service) ResolveConfirmation(ctx context.Context, id flowapi.NodeID, accepted bool) bool {
	return s.sched.Resolve(ctx, id, accepted)
}

// EmitEvent publishes a cross-cutting notification on the flow event bus.
func (s *Service) EmitEvent(ctx context.Context, name string, payload map[string]any) {
	s.events.Publish(ctx, name, flowapi.Event{
		ID:      uuid.NewString(),
		Name:    name,
		Payload: payload,
	})
}

func (s *Service) SubscribeEvent(name string, priority int, fn flowapi.EventHandler) flowapi.EventSubscription {
	return s.events.Subscribe(name, priority, func(ctx context.Context, key string, ev flowapi.Event) {
		fn(ctx, ev)
	})
}

func (s *Service) Registry() *NodeRegistry {
	return s.registry
}

func (s *Service) Parser() *Parser {
	return s.parser
}

func (s *Service) State() *FlowState {
	return s.state
}

func (s *Service) currentEngine() *Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

func (s *Service) trackNodeSub(id flowapi.NodeID, sub *EventSubscription) {
	s.mu.Lock()
	s.nodeSubs[id] = append(s.nodeSubs[id], sub)
	s.mu.Unlock()
}

func (s *Service) closeNodeSubsLocked(id flowapi.NodeID) {
	for _, sub := range s.nodeSubs[id] {
		sub.Close()
	}
	delete(s.nodeSubs, id)
}

func (s *Service) deviceAPI() flowapi.Device {
	return deviceAdapter{device: s.device}
}

// stateResolver resolves flowdsl operands against live device state and
// flow variables.
type stateResolver struct {
	device flowapi.Device
	vars   flowapi.Variables
}

func (r stateResolver) Channel(name string) (any, bool) {
	return r.device.Channel(name)
}

func (r stateResolver) Variable(name string) (any, bool) {
	return r.vars.Get(name)
}

type deviceAdapter struct {
	device *devicesvc.Service
}

func (d deviceAdapter) Channel(name string) (any, bool) {
	if d.device == nil {
		return nil, false
	}
	v, ok := d.device.Channel(name)
	if !ok {
		return nil, false
	}
	return v.Any(), true
}

func (d deviceAdapter) ApplyEffect(ctx context.Context, effect flowapi.Effect) error {
	if d.device == nil {
		return fmt.Errorf("no device service")
	}
	return d.device.Apply(ctx, effect)
}
