package flowsvc

import (
	"context"
	"testing"

	"github.com/relayflow/relay-agent/flowapi"
	"github.com/relayflow/relay-agent/flowapi/flowdsl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestToggleStartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, chainDoc(1, 2))
	h := propagating(nil)
	e.RegisterHandler(2, h)

	started := e.ToggleContinuousSignal(ctx, 1, nil, flowapi.ToggleOptions{Force: flowapi.ForceStart})
	assert.True(t, started)
	started = e.ToggleContinuousSignal(ctx, 1, nil, flowapi.ToggleOptions{Force: flowapi.ForceStart})
	assert.False(t, started, "second start is a no-op")

	// Exactly one record and exactly one downstream start signal.
	assert.Equal(t, 1, e.Stats().ActiveContinuousSignals)
	require.Equal(t, 1, h.count())
	assert.Equal(t, flowapi.SignalContinuous, h.last().Kind)
	assert.Equal(t, flowapi.SignalStateStart, h.last().State)
}

func TestToggleFlipsState(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, chainDoc(1, 2))
	h := propagating(nil)
	e.RegisterHandler(2, h)

	assert.True(t, e.ToggleContinuousSignal(ctx, 1, nil, flowapi.ToggleOptions{}))
	assert.True(t, e.IsContinuousSignalActive(1))
	assert.False(t, e.ToggleContinuousSignal(ctx, 1, nil, flowapi.ToggleOptions{}))
	assert.False(t, e.IsContinuousSignalActive(1))

	require.Equal(t, 2, h.count())
	assert.Equal(t, flowapi.SignalStateStop, h.last().State)
}

func TestStopWhenInactiveIsNoOp(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, chainDoc(1, 2))
	h := propagating(nil)
	e.RegisterHandler(2, h)

	e.ToggleContinuousSignal(ctx, 1, nil, flowapi.ToggleOptions{Force: flowapi.ForceStop})
	assert.Equal(t, 0, h.count())
	assert.Equal(t, 0, e.Stats().ActiveContinuousSignals)
}

func TestAttributionProtectsManualSessions(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, chainDoc(1, 2))
	e.RegisterHandler(2, propagating(nil))

	e.ToggleContinuousSignal(ctx, 1, nil, flowapi.ToggleOptions{Force: flowapi.ForceStart, Source: flowapi.SourceManual})

	// An automatic stop must not cancel a manual session.
	stopped := e.StopContinuousSignalIfSource(ctx, 1, flowapi.SourceAuto, 1)
	assert.False(t, stopped)
	assert.True(t, e.IsContinuousSignalActive(1))

	stopped = e.StopContinuousSignalIfSource(ctx, 1, flowapi.SourceManual, 1)
	assert.True(t, stopped)
	assert.False(t, e.IsContinuousSignalActive(1))
}

func TestConditionalStopMatchesOrigin(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, chainDoc(1, 2))

	e.ToggleContinuousSignal(ctx, 1, nil, flowapi.ToggleOptions{
		Force:  flowapi.ForceStart,
		Source: flowapi.SourceAuto,
		Origin: 7,
	})

	assert.False(t, e.StopContinuousSignalIfSource(ctx, 1, flowapi.SourceAuto, 1))
	assert.True(t, e.StopContinuousSignalIfSource(ctx, 1, flowapi.SourceAuto, 7))
}

func TestActiveContinuousSignalsSnapshot(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, chainDoc(1, 2))

	e.ToggleContinuousSignal(ctx, 1, nil, flowapi.ToggleOptions{Force: flowapi.ForceStart})
	records := e.ActiveContinuousSignals()
	require.Len(t, records, 1)
	rec := records[1]
	assert.Equal(t, flowapi.SourceManual, rec.Source)
	assert.Equal(t, flowapi.NodeID(1), rec.Origin)
	assert.NotEmpty(t, rec.Session)
	assert.False(t, rec.StartedAt.IsZero())
}

type channelResolver map[string]any

func (r channelResolver) Channel(name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}

func (r channelResolver) Variable(name string) (any, bool) {
	return nil, false
}

func TestAutoEmissionReconciliation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, chainDoc(1, 2))
	h := propagating(nil)
	e.RegisterHandler(2, h)

	channels := channelResolver{"torch": false}
	emitter := NewAutoEmitter(zap.NewNop(), e, []AutoEmitEntry{{Node: 1, Channel: "torch"}}, channels)

	// true -> false -> true produces exactly start, stop, start.
	channels["torch"] = true
	emitter.Reconcile(ctx)
	emitter.Reconcile(ctx) // duplicate notification, same value: no-op
	channels["torch"] = false
	emitter.Reconcile(ctx)
	emitter.Reconcile(ctx)
	channels["torch"] = true
	emitter.Reconcile(ctx)

	require.Equal(t, 3, h.count())
	states := make([]flowapi.SignalState, 0, 3)
	for _, sig := range h.signals {
		states = append(states, sig.State)
	}
	assert.Equal(t, []flowapi.SignalState{
		flowapi.SignalStateStart,
		flowapi.SignalStateStop,
		flowapi.SignalStateStart,
	}, states)
}

func TestAutoEmissionInvert(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, chainDoc(1, 2))

	channels := channelResolver{"torch": false}
	emitter := NewAutoEmitter(zap.NewNop(), e, []AutoEmitEntry{{Node: 1, Channel: "torch", Invert: true}}, channels)

	emitter.Reconcile(ctx)
	assert.True(t, e.IsContinuousSignalActive(1))
	channels["torch"] = true
	emitter.Reconcile(ctx)
	assert.False(t, e.IsContinuousSignalActive(1))
}

func TestAutoEmissionNeverStopsManualSession(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, chainDoc(1, 2))

	// User starts the effect manually from the same node.
	e.ToggleContinuousSignal(ctx, 1, nil, flowapi.ToggleOptions{Force: flowapi.ForceStart, Source: flowapi.SourceManual})

	channels := channelResolver{"torch": false}
	emitter := NewAutoEmitter(zap.NewNop(), e, []AutoEmitEntry{{Node: 1, Channel: "torch"}}, channels)
	emitter.Reconcile(ctx)

	assert.True(t, e.IsContinuousSignalActive(1), "condition false must not stop a manual session")
}

func TestAutoEmissionWithExpression(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, chainDoc(1, 2))

	expr, err := flowdsl.ParseExpr("volume >= 3")
	require.NoError(t, err)
	channels := channelResolver{"volume": float64(1)}
	emitter := NewAutoEmitter(zap.NewNop(), e, []AutoEmitEntry{{Node: 1, Channel: "volume", Expr: &expr}}, channels)

	emitter.Reconcile(ctx)
	assert.False(t, e.IsContinuousSignalActive(1))
	channels["volume"] = float64(5)
	emitter.Reconcile(ctx)
	assert.True(t, e.IsContinuousSignalActive(1))
}
