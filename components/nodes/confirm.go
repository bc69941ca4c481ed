package nodes

import (
	"context"

	"github.com/relayflow/relay-agent/flowapi"
	"go.uber.org/zap"
)

// ConfirmType suspends propagation pending an external yes/no decision.
// Confirmation propagates with confirmed:true added; cancellation
// propagates nothing. autoConfirm bypasses the wait for headless runs.
type ConfirmType struct {
	log *zap.Logger
}

func (c ConfirmType) Descriptor() flowapi.NodeTypeDescriptor {
	return flowapi.NodeTypeDescriptor{
		DisplayName: "Confirm",
		Declaration: `confirm(autoConfirm:boolean=false)`,

		UpstreamType:   flowapi.NodeLinkTypeMany,
		DownstreamType: flowapi.NodeLinkTypeMany,
	}
}

type confirmConfig struct {
	AutoConfirm bool `json:"autoConfirm"`
}

func (c ConfirmType) CreateHandler(p flowapi.HandlerProvider) (flowapi.Handler, error) {
	var cfg confirmConfig
	if err := p.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &Confirm{
		log:    c.log.With(zap.Int64("nodeId", int64(p.Info().ID))),
		id:     p.Info().ID,
		cfg:    cfg,
		engine: p.Engine(),
		sched:  p.Scheduler(),
		events: p.Events(),
	}, nil
}

type Confirm struct {
	log    *zap.Logger
	id     flowapi.NodeID
	cfg    confirmConfig
	engine flowapi.Engine
	sched  flowapi.Scheduler
	events flowapi.Events
}

func (c *Confirm) Handle(ctx context.Context, sig flowapi.Signal) (flowapi.Decision, error) {
	if sig.IsStop() {
		// Stops pass through without asking.
		return flowapi.Decision{Propagate: true}, nil
	}
	if c.cfg.AutoConfirm {
		return flowapi.Decision{Propagate: true, Data: map[string]any{"confirmed": true}}, nil
	}
	pending := sig
	pending.Data = withKey(sig.Data, "confirmed", true)
	c.sched.AwaitConfirmation(c.id, func(ctx context.Context, accepted bool) {
		if !accepted {
			c.log.Debug("confirmation declined", zap.String("signal", pending.ID))
			return
		}
		c.engine.EmitFrom(ctx, c.id, pending)
	})
	c.events.Publish(ctx, "flow.confirm.requested", map[string]any{
		"nodeId": int64(c.id),
		"signal": sig.ID,
	})
	return flowapi.Decision{}, nil
}

func (c *Confirm) Close() error {
	return nil
}
