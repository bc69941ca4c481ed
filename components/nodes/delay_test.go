package nodes

import (
	"context"
	"testing"
	"time"

	"github.com/relayflow/relay-agent/flowapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDelaySchedulesConfiguredDuration(t *testing.T) {
	p := newFakeProvider(30, `{"duration":"250ms"}`)
	h, err := DelayType{log: zap.NewNop()}.CreateHandler(p)
	require.NoError(t, err)

	sig := flowapi.Signal{ID: "sig-1", Data: map[string]any{"origin": "test"}}
	dec, err := h.Handle(context.Background(), sig)
	require.NoError(t, err)
	assert.False(t, dec.Propagate, "the calling pass must end at the delay")

	require.Len(t, p.sched.timers, 1)
	assert.Equal(t, 250*time.Millisecond, p.sched.timers[0].d)

	// Firing the timer resumes propagation downstream with the tag applied.
	p.sched.timers[0].fn(context.Background())
	require.Len(t, p.engine.emitFroms, 1)
	resumed := p.engine.emitFroms[0]
	assert.Equal(t, flowapi.NodeID(30), resumed.from)
	assert.Equal(t, "sig-1", resumed.sig.ID)
	assert.Equal(t, true, resumed.sig.Data["delayApplied"])
	assert.Equal(t, "test", resumed.sig.Data["origin"])

	// The original signal data must not be mutated.
	_, tagged := sig.Data["delayApplied"]
	assert.False(t, tagged)
}

func TestDelayConfigBeatsUpstream(t *testing.T) {
	p := newFakeProvider(31, `{"duration":"100ms"}`)
	h, err := DelayType{log: zap.NewNop()}.CreateHandler(p)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), flowapi.Signal{Data: map[string]any{"delayMs": float64(900)}})
	require.NoError(t, err)
	require.Len(t, p.sched.timers, 1)
	assert.Equal(t, 100*time.Millisecond, p.sched.timers[0].d)
}

func TestDelayUpstreamDelayMs(t *testing.T) {
	p := newFakeProvider(32, `{}`)
	h, err := DelayType{log: zap.NewNop()}.CreateHandler(p)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), flowapi.Signal{Data: map[string]any{"delayMs": float64(500)}})
	require.NoError(t, err)
	require.Len(t, p.sched.timers, 1)
	assert.Equal(t, 500*time.Millisecond, p.sched.timers[0].d)
}

func TestDelayVariableReferenceYieldsToUpstream(t *testing.T) {
	p := newFakeProvider(33, `{"duration":"$var.pause"}`)
	p.vars.values["pause"] = float64(750)
	h, err := DelayType{log: zap.NewNop()}.CreateHandler(p)
	require.NoError(t, err)

	// With delayMs present, the upstream value wins over the reference.
	_, err = h.Handle(context.Background(), flowapi.Signal{Data: map[string]any{"delayMs": float64(200)}})
	require.NoError(t, err)
	require.Len(t, p.sched.timers, 1)
	assert.Equal(t, 200*time.Millisecond, p.sched.timers[0].d)

	// Without delayMs, the reference resolves.
	_, err = h.Handle(context.Background(), flowapi.Signal{})
	require.NoError(t, err)
	require.Len(t, p.sched.timers, 2)
	assert.Equal(t, 750*time.Millisecond, p.sched.timers[1].d)
}

func TestDelayWithoutAnyDurationFails(t *testing.T) {
	p := newFakeProvider(34, `{}`)
	h, err := DelayType{log: zap.NewNop()}.CreateHandler(p)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), flowapi.Signal{})
	assert.Error(t, err)
	assert.Empty(t, p.sched.timers)
}
