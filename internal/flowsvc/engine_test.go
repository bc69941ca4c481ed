package flowsvc

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/relayflow/relay-agent/flowapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// buildGraph parses a document consisting of pass-through chain wiring.
func buildGraph(t *testing.T, doc FlowDocument) *Graph {
	t.Helper()
	graph, err := NewParser(zap.NewNop(), nil).Parse(doc)
	require.NoError(t, err)
	return graph
}

func chainDoc(ids ...flowapi.NodeID) FlowDocument {
	doc := FlowDocument{}
	for _, id := range ids {
		doc.Nodes = append(doc.Nodes, NodeDocument{ID: id, Type: "test"})
	}
	for i := 0; i+1 < len(ids); i++ {
		doc.Connections = append(doc.Connections, Connection{From: ids[i], To: ids[i+1]})
	}
	return doc
}

type recordingHandler struct {
	mu       sync.Mutex
	signals  []flowapi.Signal
	decision flowapi.Decision
	err      error
	closed   bool
}

func (h *recordingHandler) Handle(ctx context.Context, sig flowapi.Signal) (flowapi.Decision, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signals = append(h.signals, sig)
	return h.decision, h.err
}

func (h *recordingHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.signals)
}

func (h *recordingHandler) last() flowapi.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.signals[len(h.signals)-1]
}

func propagating(data map[string]any) *recordingHandler {
	return &recordingHandler{decision: flowapi.Decision{Propagate: true, Data: data}}
}

func newTestEngine(t *testing.T, doc FlowDocument) *Engine {
	t.Helper()
	return NewEngine(zap.NewNop(), buildGraph(t, doc), NewScheduler(zap.NewNop()))
}

func TestEmitSignalWalksChain(t *testing.T) {
	e := newTestEngine(t, chainDoc(1, 2, 3))
	h2 := propagating(map[string]any{"step": "two"})
	h3 := propagating(nil)
	e.RegisterHandler(2, h2)
	e.RegisterHandler(3, h3)

	e.EmitSignal(context.Background(), 1, map[string]any{"origin": "button"})

	require.Equal(t, 1, h2.count())
	require.Equal(t, 1, h3.count())
	// h3 sees h2's data merged over the emitted data.
	assert.Equal(t, "button", h3.last().Data["origin"])
	assert.Equal(t, "two", h3.last().Data["step"])
	assert.Equal(t, flowapi.NodeID(1), h3.last().Origin)
	assert.Equal(t, flowapi.Edge{From: 2, FromPort: "out", To: 3, ToPort: "in"}, h3.last().Via)
}

func TestHandlerDataWinsOnConflict(t *testing.T) {
	e := newTestEngine(t, chainDoc(1, 2, 3))
	e.RegisterHandler(2, propagating(map[string]any{"key": "handler"}))
	h3 := propagating(nil)
	e.RegisterHandler(3, h3)

	e.EmitSignal(context.Background(), 1, map[string]any{"key": "emitted"})

	assert.Equal(t, "handler", h3.last().Data["key"])
}

func TestRevisitGuardOnFeedbackEdge(t *testing.T) {
	doc := chainDoc(1, 2, 3)
	// Feedback edge: 3 -> 2.
	doc.Connections = append(doc.Connections, Connection{From: 3, To: 2})
	e := newTestEngine(t, doc)
	h2 := propagating(nil)
	h3 := propagating(nil)
	e.RegisterHandler(2, h2)
	e.RegisterHandler(3, h3)

	e.EmitSignal(context.Background(), 1, nil)

	// Each reachable node runs at most once per pulse.
	assert.Equal(t, 1, h2.count())
	assert.Equal(t, 1, h3.count())
}

func TestMissingHandlerEndsPath(t *testing.T) {
	e := newTestEngine(t, chainDoc(1, 2, 3))
	h3 := propagating(nil)
	e.RegisterHandler(3, h3)
	// Node 2 has no handler: the path does not propagate, no crash.
	e.EmitSignal(context.Background(), 1, nil)
	assert.Equal(t, 0, h3.count())
}

func TestFailingHandlerOnlyPrunesItsSubtree(t *testing.T) {
	doc := FlowDocument{
		Nodes: []NodeDocument{
			{ID: 1, Type: "test"},
			{ID: 2, Type: "test"},
			{ID: 3, Type: "test"},
			{ID: 4, Type: "test"},
		},
		Connections: []Connection{
			{From: 1, To: 2},
			{From: 1, To: 3},
			{From: 2, To: 4},
		},
	}
	e := newTestEngine(t, doc)
	e.RegisterHandler(2, &recordingHandler{err: errors.New("boom")})
	h3 := propagating(nil)
	h4 := propagating(nil)
	e.RegisterHandler(3, h3)
	e.RegisterHandler(4, h4)

	e.EmitSignal(context.Background(), 1, nil)

	assert.Equal(t, 1, h3.count(), "sibling branch continues")
	assert.Equal(t, 0, h4.count(), "failed handler's subtree is pruned")
}

func TestPanickingHandlerIsContained(t *testing.T) {
	e := newTestEngine(t, chainDoc(1, 2, 3))
	e.RegisterHandler(2, flowapi.HandlerFunc(func(ctx context.Context, sig flowapi.Signal) (flowapi.Decision, error) {
		panic("boom")
	}))
	h3 := propagating(nil)
	e.RegisterHandler(3, h3)

	assert.NotPanics(t, func() {
		e.EmitSignal(context.Background(), 1, nil)
	})
	assert.Equal(t, 0, h3.count())
}

func TestRegisterHandlerSupersedesAndCloses(t *testing.T) {
	e := newTestEngine(t, chainDoc(1, 2))
	old := propagating(nil)
	e.RegisterHandler(2, old)
	replacement := propagating(nil)
	e.RegisterHandler(2, replacement)

	assert.True(t, old.closed, "superseded handler is closed")
	assert.Equal(t, 1, e.Stats().RegisteredHandlers)

	e.EmitSignal(context.Background(), 1, nil)
	assert.Equal(t, 0, old.count())
	assert.Equal(t, 1, replacement.count())
}

func TestUnregisterHandlerKeepsContinuousState(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, chainDoc(1, 2))
	e.RegisterHandler(2, propagating(nil))
	e.ToggleContinuousSignal(ctx, 1, nil, flowapi.ToggleOptions{})
	require.True(t, e.IsContinuousSignalActive(1))

	e.UnregisterHandler(2)

	assert.True(t, e.IsContinuousSignalActive(1), "unregister must not stop continuous signals")
	assert.Equal(t, 0, e.Stats().RegisteredHandlers)
}

func TestResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, chainDoc(1, 2))
	h := propagating(nil)
	e.RegisterHandler(2, h)
	e.ToggleContinuousSignal(ctx, 1, nil, flowapi.ToggleOptions{})

	e.Reset()

	stats := e.Stats()
	assert.Equal(t, 0, stats.RegisteredHandlers)
	assert.Equal(t, 0, stats.ActiveContinuousSignals)
	assert.Empty(t, e.ActiveContinuousSignals())
	assert.True(t, h.closed)
}
