package nodes

import (
	"context"

	"github.com/relayflow/relay-agent/flowapi"
	"go.uber.org/zap"
)

// EffectType is a pure side-effect node: it attempts an external effect and
// always propagates its incoming signal, tagged with an execution marker.
// Effect failures (hardware, permissions) never block propagation; they are
// reported on the flow event bus.
type EffectType struct {
	log         *zap.Logger
	kind        string
	displayName string
}

func (e EffectType) Descriptor() flowapi.NodeTypeDescriptor {
	return flowapi.NodeTypeDescriptor{
		DisplayName: e.displayName,

		UpstreamType:   flowapi.NodeLinkTypeMany,
		DownstreamType: flowapi.NodeLinkTypeMany,
	}
}

func (e EffectType) CreateHandler(p flowapi.HandlerProvider) (flowapi.Handler, error) {
	var args map[string]any
	if err := p.Unmarshal(&args); err != nil {
		return nil, err
	}
	return &EffectNode{
		log:    e.log.With(zap.Int64("nodeId", int64(p.Info().ID))),
		id:     p.Info().ID,
		kind:   e.kind,
		args:   args,
		device: p.Device(),
		events: p.Events(),
	}, nil
}

type EffectNode struct {
	log    *zap.Logger
	id     flowapi.NodeID
	kind   string
	args   map[string]any
	device flowapi.Device
	events flowapi.Events
}

func (e *EffectNode) Handle(ctx context.Context, sig flowapi.Signal) (flowapi.Decision, error) {
	// Stops carry no work for one-shot effects; they just pass through.
	if !sig.IsStop() {
		err := e.device.ApplyEffect(ctx, flowapi.Effect{Kind: e.kind, Args: e.args})
		if err != nil {
			e.log.Warn("effect failed", zap.String("kind", e.kind), zap.Error(err))
			e.events.Publish(ctx, "flow.effect.error", map[string]any{
				"nodeId": int64(e.id),
				"effect": e.kind,
				"error":  err.Error(),
			})
		}
	}
	return flowapi.Decision{Propagate: true, Data: map[string]any{"executed": e.kind}}, nil
}

func (e *EffectNode) Close() error {
	return nil
}
