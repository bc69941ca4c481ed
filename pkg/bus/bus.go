// Package bus is a generic keyed publish/subscribe channel with
// priority-ordered synchronous delivery. It is used for cross-cutting
// notifications that are not graph edges.
package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type key interface {
	comparable
}

type message interface {
	any
}

// Handler receives published messages. Handlers run synchronously on the
// publisher's goroutine; a panicking handler is recovered and logged and
// never breaks delivery to other subscribers.
type Handler[K key, M message] func(ctx context.Context, key K, msg M)

type Bus[K key, M message] struct {
	log *zap.Logger
	seq *atomic.Uint64

	keySubs *xsync.MapOf[K, *subscriberList[K, M]]
	allSubs *subscriberList[K, M]
}

func NewBus[K key, M message](logger *zap.Logger) *Bus[K, M] {
	return &Bus[K, M]{
		log:     logger,
		seq:     atomic.NewUint64(0),
		keySubs: xsync.NewMapOf[K, *subscriberList[K, M]](),
		allSubs: newSubscriberList[K, M](),
	}
}

// Subscription is an explicit handle owned by the subscriber. Closing it
// stops delivery; Close is idempotent.
type Subscription[K key, M message] struct {
	list   *subscriberList[K, M]
	seq    uint64
	closed atomic.Bool
}

func (s *Subscription[K, M]) Close() {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.list.remove(s.seq)
}

// Subscribe registers fn for messages published under key. Delivery order is
// ascending priority, then registration order within equal priorities.
func (b *Bus[K, M]) Subscribe(key K, priority int, fn Handler[K, M]) *Subscription[K, M] {
	list, _ := b.keySubs.LoadOrCompute(key, func() *subscriberList[K, M] {
		return newSubscriberList[K, M]()
	})
	return list.add(b.seq.Inc(), priority, fn)
}

// SubscribeAll registers fn for every key. Wildcard subscribers are ordered
// together with keyed subscribers by the same (priority, registration) rule.
func (b *Bus[K, M]) SubscribeAll(priority int, fn Handler[K, M]) *Subscription[K, M] {
	return b.allSubs.add(b.seq.Inc(), priority, fn)
}

// Publish delivers msg to all subscribers of key (plus wildcard subscribers)
// synchronously, in ascending (priority, registration) order.
func (b *Bus[K, M]) Publish(ctx context.Context, key K, msg M) {
	entries := b.allSubs.snapshot()
	if list, ok := b.keySubs.Load(key); ok {
		entries = append(entries, list.snapshot()...)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})
	for _, e := range entries {
		if e.sub.closed.Load() {
			continue
		}
		b.deliver(ctx, e, key, msg)
	}
}

func (b *Bus[K, M]) deliver(ctx context.Context, e entry[K, M], key K, msg M) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber panic", zap.String("panic", fmt.Sprintf("%v", r)))
		}
	}()
	e.fn(ctx, key, msg)
}

type entry[K key, M message] struct {
	seq      uint64
	priority int
	fn       Handler[K, M]
	sub      *Subscription[K, M]
}

type subscriberList[K key, M message] struct {
	mu      sync.RWMutex
	entries []entry[K, M]
}

func newSubscriberList[K key, M message]() *subscriberList[K, M] {
	return &subscriberList[K, M]{}
}

func (l *subscriberList[K, M]) add(seq uint64, priority int, fn Handler[K, M]) *Subscription[K, M] {
	sub := &Subscription[K, M]{list: l, seq: seq}
	l.mu.Lock()
	l.entries = append(l.entries, entry[K, M]{seq: seq, priority: priority, fn: fn, sub: sub})
	l.mu.Unlock()
	return sub
}

func (l *subscriberList[K, M]) remove(seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.seq == seq {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *subscriberList[K, M]) snapshot() []entry[K, M] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]entry[K, M], len(l.entries))
	copy(out, l.entries)
	return out
}
