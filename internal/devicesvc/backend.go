package devicesvc

import (
	"context"
	"errors"

	"github.com/relayflow/relay-agent/flowapi"
)

// BackendPublisher is handed to a backend so it can push state changes into
// the service.
type BackendPublisher func(ctx context.Context, event BackendEvent)

// BackendEvent carries one or more channel state changes observed by a
// backend. Duplicate notifications of an unchanged value are allowed and
// forwarded; consumers must reconcile idempotently.
type BackendEvent struct {
	Changes []ChannelChange
}

type ChannelChange struct {
	ID    string
	Value Value
}

// ErrUnsupportedEffect is returned by a backend that does not implement the
// requested effect kind. The service then tries the next backend.
var ErrUnsupportedEffect = errors.New("unsupported effect")

// Backend is a platform bridge: it pushes named channel state changes
// (torch, volume keys, recognized voice phrases) and performs effects
// (notify, vibrate, torch, volume).
type Backend interface {
	Start(ctx context.Context, pub BackendPublisher) error
	Ready() <-chan struct{}
	Apply(ctx context.Context, effect flowapi.Effect) error
}
