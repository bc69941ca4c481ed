package flowsvc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/relayflow/relay-agent/flowapi"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Engine owns the handler registry and drives signal flow along graph
// edges. It is an explicit instance with no package-level state; tests run
// many engines independently.
type Engine struct {
	log   *zap.Logger
	graph *Graph
	sched *Scheduler

	handlers     *xsync.MapOf[flowapi.NodeID, flowapi.Handler]
	handlerCount *atomic.Int64

	active      *xsync.MapOf[flowapi.NodeID, ContinuousRecord]
	activeCount *atomic.Int64
}

// Stats are engine counters exposed to collaborators.
type Stats struct {
	RegisteredHandlers      int `json:"registeredHandlers"`
	ActiveContinuousSignals int `json:"activeContinuousSignals"`
}

func NewEngine(log *zap.Logger, graph *Graph, sched *Scheduler) *Engine {
	return &Engine{
		log:          log,
		graph:        graph,
		sched:        sched,
		handlers:     xsync.NewMapOf[flowapi.NodeID, flowapi.Handler](),
		handlerCount: atomic.NewInt64(0),
		active:       xsync.NewMapOf[flowapi.NodeID, ContinuousRecord](),
		activeCount:  atomic.NewInt64(0),
	}
}

func (e *Engine) Graph() *Graph {
	return e.graph
}

// RegisterHandler atomically replaces any previous handler for the node.
// The superseded handler is closed so live reconfiguration does not leak
// state. Continuous-signal records for the node are untouched.
func (e *Engine) RegisterHandler(id flowapi.NodeID, h flowapi.Handler) {
	prev, loaded := e.handlers.LoadAndStore(id, h)
	if loaded {
		if err := prev.Close(); err != nil {
			e.log.Warn("failed to close superseded handler", zap.Int64("nodeId", int64(id)), zap.Error(err))
		}
		return
	}
	e.handlerCount.Inc()
}

// UnregisterHandler removes the handler. It does not implicitly stop
// continuous signals owned by the node; an explicit stop is required. This
// separation lets configuration changes re-register without tearing down a
// running effect.
func (e *Engine) UnregisterHandler(id flowapi.NodeID) {
	prev, loaded := e.handlers.LoadAndDelete(id)
	if !loaded {
		return
	}
	e.handlerCount.Dec()
	if err := prev.Close(); err != nil {
		e.log.Warn("failed to close handler", zap.Int64("nodeId", int64(id)), zap.Error(err))
	}
}

func (e *Engine) Handler(id flowapi.NodeID) (flowapi.Handler, bool) {
	return e.handlers.Load(id)
}

func (e *Engine) Stats() Stats {
	return Stats{
		RegisteredHandlers:      int(e.handlerCount.Load()),
		ActiveContinuousSignals: int(e.activeCount.Load()),
	}
}

// EmitSignal constructs a pulse at the origin node and walks its outgoing
// edges.
func (e *Engine) EmitSignal(ctx context.Context, origin flowapi.NodeID, data map[string]any) {
	sig := flowapi.Signal{
		ID:     uuid.NewString(),
		Origin: origin,
		Kind:   flowapi.SignalPulse,
		Data:   data,
	}
	e.propagate(ctx, origin, sig)
}

// EmitFrom resumes propagation downstream of a node with an already-built
// signal. Delay and confirm continuations use it; the resumed walk is a
// fresh propagation pass with its own visited set.
func (e *Engine) EmitFrom(ctx context.Context, from flowapi.NodeID, sig flowapi.Signal) {
	e.propagate(ctx, from, sig)
}

type frontierItem struct {
	edge flowapi.Edge
	data map[string]any
}

// propagate walks edges breadth-first from the given node. Each handler is
// awaited before its outgoing edges are followed, and a per-pass visited set
// guarantees each node runs at most once per emission even on graphs with
// feedback edges. A failing or panicking handler counts as propagate-false
// for its own subtree only; sibling branches continue.
func (e *Engine) propagate(ctx context.Context, from flowapi.NodeID, sig flowapi.Signal) {
	visited := make(map[flowapi.NodeID]struct{})
	queue := make([]frontierItem, 0, len(e.graph.Outgoing(from)))
	for _, edge := range e.graph.Outgoing(from) {
		queue = append(queue, frontierItem{edge: edge, data: sig.Data})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if _, ok := visited[item.edge.To]; ok {
			// Revisit guard: a node already visited within this pass is
			// not re-invoked and the second arrival's data is dropped.
			continue
		}
		visited[item.edge.To] = struct{}{}

		handler, ok := e.handlers.Load(item.edge.To)
		if !ok {
			// Configuration error, not a crash: the path simply ends here.
			e.log.Debug("no handler registered, dropping signal",
				zap.Int64("nodeId", int64(item.edge.To)),
				zap.String("signal", sig.ID))
			continue
		}

		nodeSig := sig
		nodeSig.Via = item.edge
		nodeSig.Data = item.data
		decision, err := e.invoke(ctx, handler, nodeSig)
		if err != nil {
			e.log.Error("handler failed",
				zap.Int64("nodeId", int64(item.edge.To)),
				zap.String("signal", sig.ID),
				zap.Error(err))
			continue
		}
		if !decision.Propagate {
			continue
		}

		merged := mergeData(item.data, decision.Data)
		for _, edge := range e.graph.Outgoing(item.edge.To) {
			queue = append(queue, frontierItem{edge: edge, data: merged})
		}
	}
}

func (e *Engine) invoke(ctx context.Context, h flowapi.Handler, sig flowapi.Signal) (decision flowapi.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, sig)
}

// mergeData shallow merges handler output over incoming data, handler keys
// winning on conflict. The incoming map is never mutated: sibling branches
// must not observe each other's writes.
func mergeData(incoming, handler map[string]any) map[string]any {
	if len(handler) == 0 {
		return incoming
	}
	merged := make(map[string]any, len(incoming)+len(handler))
	for k, v := range incoming {
		merged[k] = v
	}
	for k, v := range handler {
		merged[k] = v
	}
	return merged
}

// Reset cancels pending delays and confirmations, quiesces in-flight
// continuations, closes every handler and clears all registries. It is safe
// to call from any state.
func (e *Engine) Reset() {
	if e.sched != nil {
		e.sched.Reset()
	}
	e.handlers.Range(func(id flowapi.NodeID, h flowapi.Handler) bool {
		if err := h.Close(); err != nil {
			e.log.Warn("failed to close handler on reset", zap.Int64("nodeId", int64(id)), zap.Error(err))
		}
		e.handlers.Delete(id)
		return true
	})
	e.active.Clear()
	e.handlerCount.Store(0)
	e.activeCount.Store(0)
}
