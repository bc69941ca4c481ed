package flowsvc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/relayflow/relay-agent/flowapi"
	"github.com/relayflow/relay-agent/flowapi/flowdsl"
	"go.uber.org/zap"
)

// ContinuousRecord tracks one active continuous session. At most one record
// exists per originating node id at a time.
type ContinuousRecord struct {
	Session   string         `json:"session"`
	Source    flowapi.Source `json:"source"`
	Origin    flowapi.NodeID `json:"origin"`
	StartedAt time.Time      `json:"startedAt"`
}

// ToggleContinuousSignal starts or stops the continuous signal originating
// at node. A start while one is active is idempotent: no duplicate record
// and no duplicate downstream start signal. A stop while inactive is a
// no-op. Returns whether a start was accepted.
func (e *Engine) ToggleContinuousSignal(ctx context.Context, node flowapi.NodeID, data map[string]any, opts flowapi.ToggleOptions) bool {
	opts = opts.Normalize(node)
	var started, stopped bool
	var stoppedRec ContinuousRecord
	// Compute serializes all transitions of one node's record, so
	// concurrent toggles never produce duplicate sessions.
	e.active.Compute(node, func(rec ContinuousRecord, loaded bool) (ContinuousRecord, bool) {
		switch {
		case opts.Force == flowapi.ForceStart || (opts.Force == flowapi.ForceNone && !loaded):
			if loaded {
				return rec, false
			}
			started = true
			return ContinuousRecord{
				Session:   uuid.NewString(),
				Source:    opts.Source,
				Origin:    opts.Origin,
				StartedAt: time.Now(),
			}, false
		default: // stop
			if !loaded {
				return rec, true
			}
			stopped = true
			stoppedRec = rec
			return rec, true
		}
	})
	switch {
	case started:
		e.activeCount.Inc()
		e.log.Debug("continuous signal started",
			zap.Int64("nodeId", int64(node)),
			zap.String("source", string(opts.Source)),
			zap.Int64("origin", int64(opts.Origin)))
		e.propagateContinuous(ctx, node, flowapi.SignalStateStart, data)
	case stopped:
		e.activeCount.Dec()
		e.log.Debug("continuous signal stopped",
			zap.Int64("nodeId", int64(node)),
			zap.String("session", stoppedRec.Session))
		e.propagateContinuous(ctx, node, flowapi.SignalStateStop, data)
	}
	return started
}

// StopContinuousSignalIfSource stops the node's continuous signal only when
// the active record's attribution matches. A mismatch is a silent no-op:
// an automatic condition becoming false must not stop a session the user
// started manually from the same node, and vice versa.
func (e *Engine) StopContinuousSignalIfSource(ctx context.Context, node flowapi.NodeID, source flowapi.Source, origin flowapi.NodeID) bool {
	stopped := false
	e.active.Compute(node, func(rec ContinuousRecord, loaded bool) (ContinuousRecord, bool) {
		if !loaded {
			return rec, true
		}
		if rec.Source != source || rec.Origin != origin {
			return rec, false
		}
		stopped = true
		return rec, true
	})
	if !stopped {
		return false
	}
	e.activeCount.Dec()
	e.log.Debug("continuous signal stopped by attribution",
		zap.Int64("nodeId", int64(node)),
		zap.String("source", string(source)))
	e.propagateContinuous(ctx, node, flowapi.SignalStateStop, nil)
	return true
}

func (e *Engine) IsContinuousSignalActive(node flowapi.NodeID) bool {
	_, ok := e.active.Load(node)
	return ok
}

// ActiveContinuousSignals returns a snapshot of the active records keyed by
// originating node id.
func (e *Engine) ActiveContinuousSignals() map[flowapi.NodeID]ContinuousRecord {
	out := make(map[flowapi.NodeID]ContinuousRecord)
	e.active.Range(func(id flowapi.NodeID, rec ContinuousRecord) bool {
		out[id] = rec
		return true
	})
	return out
}

func (e *Engine) propagateContinuous(ctx context.Context, node flowapi.NodeID, state flowapi.SignalState, data map[string]any) {
	sig := flowapi.Signal{
		ID:     uuid.NewString(),
		Origin: node,
		Kind:   flowapi.SignalContinuous,
		State:  state,
		Data:   data,
	}
	e.propagate(ctx, node, sig)
}

// AutoEmitEntry is one node whose continuous signal is driven by external
// state rather than an explicit trigger.
type AutoEmitEntry struct {
	Node    flowapi.NodeID
	Channel string
	Invert  bool
	Expr    *flowdsl.Expr
}

// AutoEmitter reconciles external state changes against current continuous
// activity for every auto-emitting node. Reconciliation is idempotent:
// duplicate notifications carrying the same value are no-ops.
type AutoEmitter struct {
	log     *zap.Logger
	engine  *Engine
	entries []AutoEmitEntry
	resolve flowdsl.Resolver
}

func NewAutoEmitter(log *zap.Logger, engine *Engine, entries []AutoEmitEntry, resolve flowdsl.Resolver) *AutoEmitter {
	return &AutoEmitter{
		log:     log,
		engine:  engine,
		entries: entries,
		resolve: resolve,
	}
}

// Reconcile re-evaluates every entry's condition. A condition becoming true
// starts an auto-attributed session; a condition becoming false stops only
// an auto-attributed session, never a manual one.
func (a *AutoEmitter) Reconcile(ctx context.Context) {
	for _, entry := range a.entries {
		met, err := a.conditionMet(entry)
		if err != nil {
			a.log.Warn("auto-emission condition failed",
				zap.Int64("nodeId", int64(entry.Node)),
				zap.Error(err))
			continue
		}
		active := a.engine.IsContinuousSignalActive(entry.Node)
		switch {
		case met && !active:
			a.engine.ToggleContinuousSignal(ctx, entry.Node, map[string]any{
				"channel": entry.Channel,
			}, flowapi.ToggleOptions{
				Force:  flowapi.ForceStart,
				Source: flowapi.SourceAuto,
				Origin: entry.Node,
			})
		case !met && active:
			a.engine.StopContinuousSignalIfSource(ctx, entry.Node, flowapi.SourceAuto, entry.Node)
		}
	}
}

func (a *AutoEmitter) conditionMet(entry AutoEmitEntry) (bool, error) {
	var met bool
	if entry.Expr != nil {
		var err error
		met, err = entry.Expr.Eval(a.resolve)
		if err != nil {
			return false, err
		}
	} else {
		v, _ := a.resolve.Channel(entry.Channel)
		met = flowdsl.Truthy(v)
	}
	if entry.Invert {
		met = !met
	}
	return met, nil
}
