// Package devicesvc owns the platform bridge boundary. Backends push named
// channel state changes into the service; the service journals every known
// channel, keeps live state, publishes changes on a keyed bus and routes
// effect requests back to backends.
package devicesvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/goccy/go-yaml"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/relayflow/relay-agent/flowapi"
	"github.com/relayflow/relay-agent/pkg/bus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Service struct {
	log     *zap.Logger
	db      *badger.DB
	options serviceOptions
	now     func() time.Time
	ready   chan struct{}

	state    *xsync.MapOf[Address, Value]
	stateBus *StateBus
}

type (
	// StateChange is published on the state bus for every backend
	// notification, including duplicates carrying an unchanged value.
	StateChange struct {
		Addr     Address
		Value    Value
		Previous *Value
	}
	StateBus          = bus.Bus[Address, StateChange]
	StateSubscription = bus.Subscription[Address, StateChange]
)

var defaultOptions = serviceOptions{
	backends: nil,
}

type serviceOptions struct {
	backends []namedBackend
}

type namedBackend struct {
	name    string
	backend Backend
}

type Option func(*serviceOptions)

// WithBackend registers a backend. Effects are routed to backends in
// registration order.
func WithBackend(name string, backend Backend) Option {
	return func(o *serviceOptions) {
		o.backends = append(o.backends, namedBackend{name: name, backend: backend})
	}
}

func New(db *badger.DB, log *zap.Logger, now func() time.Time, opts ...Option) *Service {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		db:       db,
		log:      log,
		options:  options,
		now:      now,
		ready:    make(chan struct{}),
		state:    xsync.NewMapOf[Address, Value](),
		stateBus: bus.NewBus[Address, StateChange](log),
	}
}

func (s *Service) Start(ctx context.Context) error {
	for _, b := range s.options.backends {
		b := b
		go func() {
			pub := func(ctx context.Context, event BackendEvent) {
				s.handleBackendEvent(ctx, b.name, event)
			}
			if err := b.backend.Start(ctx, pub); err != nil {
				s.log.Error("backend failed", zap.String("backend", b.name), zap.Error(err))
			}
		}()
	}
	for _, b := range s.options.backends {
		select {
		case <-ctx.Done():
			return nil
		case <-b.backend.Ready():
		}
	}
	close(s.ready)
	s.log.Info("Device service started")
	<-ctx.Done()
	return nil
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

func (s *Service) handleBackendEvent(ctx context.Context, backendID string, event BackendEvent) {
	for _, change := range event.Changes {
		addr := Address{Backend: backendID, ID: change.ID}
		if err := s.journalChange(addr, change.Value); err != nil {
			s.log.Error("failed to journal channel", zap.String("addr", addr.String()), zap.Error(err))
		}
		prev, loaded := s.state.LoadAndStore(addr, change.Value)
		sc := StateChange{Addr: addr, Value: change.Value}
		if loaded {
			sc.Previous = &prev
		}
		s.log.Debug("channel state",
			zap.String("addr", addr.String()),
			zap.String("value", change.Value.StringRepr()))
		s.stateBus.Publish(ctx, addr, sc)
	}
}

// SubscribeState registers fn for changes of every channel.
func (s *Service) SubscribeState(priority int, fn bus.Handler[Address, StateChange]) *StateSubscription {
	return s.stateBus.SubscribeAll(priority, fn)
}

// Channel resolves current state by name. A name with a backend prefix
// ("mem/torch") addresses one backend; a bare name matches any backend.
func (s *Service) Channel(name string) (Value, bool) {
	addr, err := ParseAddress(name)
	if err != nil {
		return Value{}, false
	}
	if addr.Backend != "" {
		return s.state.Load(addr)
	}
	var found Value
	ok := false
	s.state.Range(func(key Address, value Value) bool {
		if key.ID == addr.ID {
			found = value
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// Apply routes an effect to the first backend that supports it.
func (s *Service) Apply(ctx context.Context, effect flowapi.Effect) error {
	if len(s.options.backends) == 0 {
		return fmt.Errorf("no backends registered")
	}
	var errs error
	for _, b := range s.options.backends {
		err := b.backend.Apply(ctx, effect)
		if errors.Is(err, ErrUnsupportedEffect) {
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("backend %s: %w", b.name, err))
			continue
		}
		return nil
	}
	if errs != nil {
		return errs
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedEffect, effect.Kind)
}

// ChannelInfo is the journaled record of a channel: when it was first and
// last reported and the last value seen. It survives restarts.
type ChannelInfo struct {
	Address     Address   `json:"address"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	LastValue   Value     `json:"lastValue"`
}

func (s *Service) channelKey(addr Address) []byte {
	return []byte("device/channels/" + addr.String())
}

func (s *Service) journalChange(addr Address, value Value) error {
	now := s.now()
	return s.db.Update(func(txn *badger.Txn) error {
		key := s.channelKey(addr)
		var info ChannelInfo
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal channel info: %w", err)
			}
		}
		info.Address = addr
		if info.FirstSeenAt.IsZero() {
			info.FirstSeenAt = now
		}
		info.LastSeenAt = now
		info.LastValue = value
		b, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("failed to marshal channel info: %w", err)
		}
		return txn.Set(key, b)
	})
}

// ListChannels returns the journaled channel records.
func (s *Service) ListChannels() ([]ChannelInfo, error) {
	var channels []ChannelInfo
	err := s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte("device/channels/")
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				var info ChannelInfo
				if err := json.Unmarshal(val, &info); err != nil {
					return err
				}
				channels = append(channels, info)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}

// Address identifies a channel within a backend.
type Address struct {
	Backend string `yaml:"backend" json:"backend"`
	ID      string `yaml:"id" json:"id"`
}

func (a Address) String() string {
	if a.Backend == "" {
		return a.ID
	}
	return fmt.Sprintf("%s/%s", a.Backend, a.ID)
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Address) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(a.String())
}

func (a *Address) UnmarshalYAML(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var s string
	if err := yaml.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses "backend/id" or a bare channel id.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 1 {
		return Address{ID: parts[0]}, nil
	}
	if parts[0] == "" || parts[1] == "" {
		return Address{}, fmt.Errorf("invalid address: %s", s)
	}
	return Address{Backend: parts[0], ID: parts[1]}, nil
}

// SeedChannel is a channel preset loaded from the device seed file.
type SeedChannel struct {
	Channel string `yaml:"channel"`
	Value   Value  `yaml:"value"`
}

// ParseSeed decodes the YAML device seed document listing initial channel
// values for the in-memory backend.
func ParseSeed(data []byte) ([]SeedChannel, error) {
	var doc struct {
		Channels []SeedChannel `yaml:"channels"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse device seed: %w", err)
	}
	return doc.Channels, nil
}
