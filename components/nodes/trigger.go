package nodes

import (
	"context"
	"fmt"

	"github.com/relayflow/relay-agent/flowapi"
	"go.uber.org/zap"
)

// TriggerType is the only node type that originates signals outside the
// engine's own edge walk. Pulse mode fires one-shot signals; continuous
// mode starts and stops a persistent session.
type TriggerType struct {
	log *zap.Logger
}

func (t TriggerType) Descriptor() flowapi.NodeTypeDescriptor {
	return flowapi.NodeTypeDescriptor{
		DisplayName: "Trigger",
		Description: "Entry point fired by run buttons, notification controls and scheduled shortcuts",
		Declaration: `trigger(mode:string="pulse")`,

		UpstreamType:   flowapi.NodeLinkTypeNone,
		DownstreamType: flowapi.NodeLinkTypeMany,
	}
}

type triggerConfig struct {
	Mode string `json:"mode"`
}

const (
	triggerModePulse      = "pulse"
	triggerModeContinuous = "continuous"
)

func (t TriggerType) CreateHandler(p flowapi.HandlerProvider) (flowapi.Handler, error) {
	cfg := triggerConfig{Mode: triggerModePulse}
	if err := p.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Mode != triggerModePulse && cfg.Mode != triggerModeContinuous {
		return nil, fmt.Errorf("unknown trigger mode: %s", cfg.Mode)
	}
	return &Trigger{
		log:    t.log.With(zap.Int64("nodeId", int64(p.Info().ID))),
		id:     p.Info().ID,
		mode:   cfg.Mode,
		engine: p.Engine(),
	}, nil
}

type Trigger struct {
	log    *zap.Logger
	id     flowapi.NodeID
	mode   string
	engine flowapi.Engine
}

// Fire originates a signal from this node: a pulse, or the start of a
// manual continuous session.
func (t *Trigger) Fire(ctx context.Context, data map[string]any) error {
	switch t.mode {
	case triggerModeContinuous:
		t.engine.ToggleContinuousSignal(ctx, t.id, data, flowapi.ToggleOptions{
			Force:  flowapi.ForceStart,
			Source: flowapi.SourceManual,
			Origin: t.id,
		})
	default:
		t.engine.EmitSignal(ctx, t.id, data)
	}
	return nil
}

// Stop ends the node's continuous session regardless of attribution: an
// explicit user stop always wins.
func (t *Trigger) Stop(ctx context.Context) error {
	if t.mode != triggerModeContinuous {
		return fmt.Errorf("trigger %d is not continuous", t.id)
	}
	t.engine.ToggleContinuousSignal(ctx, t.id, nil, flowapi.ToggleOptions{
		Force:  flowapi.ForceStop,
		Source: flowapi.SourceManual,
		Origin: t.id,
	})
	return nil
}

// Triggers have no upstream edges; a signal arriving here is a wiring
// mistake and is dropped.
func (t *Trigger) Handle(ctx context.Context, sig flowapi.Signal) (flowapi.Decision, error) {
	t.log.Debug("trigger received an upstream signal, dropping", zap.String("signal", sig.ID))
	return flowapi.Decision{}, nil
}

func (t *Trigger) Close() error {
	return nil
}
