package devicesvc

import (
	"context"
	"sync"

	"github.com/relayflow/relay-agent/flowapi"
	"go.uber.org/zap"
)

// MemBackend is an in-memory backend used by tests and headless runs. It
// accepts every effect kind and lets callers push channel state directly.
type MemBackend struct {
	log   *zap.Logger
	seed  []SeedChannel
	ready chan struct{}

	mu      sync.Mutex
	pub     BackendPublisher
	values  map[string]Value
	effects []flowapi.Effect
}

func NewMemBackend(log *zap.Logger, seed []SeedChannel) *MemBackend {
	return &MemBackend{
		log:    log,
		seed:   seed,
		ready:  make(chan struct{}),
		values: make(map[string]Value),
	}
}

func (b *MemBackend) Start(ctx context.Context, pub BackendPublisher) error {
	b.mu.Lock()
	b.pub = pub
	b.mu.Unlock()
	close(b.ready)
	for _, c := range b.seed {
		b.Set(ctx, c.Channel, c.Value)
	}
	<-ctx.Done()
	return nil
}

func (b *MemBackend) Ready() <-chan struct{} {
	return b.ready
}

// Set pushes a channel value. Setting an unchanged value still produces a
// notification, matching real bridges that redeliver state.
func (b *MemBackend) Set(ctx context.Context, id string, value Value) {
	b.mu.Lock()
	b.values[id] = value
	pub := b.pub
	b.mu.Unlock()
	if pub == nil {
		return
	}
	pub(ctx, BackendEvent{Changes: []ChannelChange{{ID: id, Value: value}}})
}

func (b *MemBackend) Apply(ctx context.Context, effect flowapi.Effect) error {
	b.mu.Lock()
	b.effects = append(b.effects, effect)
	b.mu.Unlock()
	b.log.Debug("effect applied", zap.String("kind", effect.Kind))
	return nil
}

// Effects returns the effects applied so far.
func (b *MemBackend) Effects() []flowapi.Effect {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]flowapi.Effect, len(b.effects))
	copy(out, b.effects)
	return out
}
