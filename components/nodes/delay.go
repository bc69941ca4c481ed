package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/relayflow/relay-agent/flowapi"
	"github.com/relayflow/relay-agent/flowapi/flowdsl"
	"go.uber.org/zap"
)

// DelayType schedules propagation of the incoming signal after a duration.
// Scheduling is fire-and-forget relative to the calling propagation pass;
// the continuation is cancelled by an engine reset.
type DelayType struct {
	log *zap.Logger
}

func (d DelayType) Descriptor() flowapi.NodeTypeDescriptor {
	return flowapi.NodeTypeDescriptor{
		DisplayName: "Delay",
		Declaration: `delay(duration:string="")`,

		UpstreamType:   flowapi.NodeLinkTypeMany,
		DownstreamType: flowapi.NodeLinkTypeMany,
	}
}

type delayConfig struct {
	// Duration is a flowdsl operand: "250ms", a number of milliseconds,
	// or a "$var.name" reference.
	Duration string `json:"duration"`
}

func (d DelayType) CreateHandler(p flowapi.HandlerProvider) (flowapi.Handler, error) {
	var cfg delayConfig
	if err := p.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	delay := &Delay{
		log:    d.log.With(zap.Int64("nodeId", int64(p.Info().ID))),
		id:     p.Info().ID,
		engine: p.Engine(),
		sched:  p.Scheduler(),
		vars:   p.Variables(),
		device: p.Device(),
	}
	if cfg.Duration != "" {
		operand, err := flowdsl.ParseOperand(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", cfg.Duration, err)
		}
		delay.operand = &operand
	}
	return delay, nil
}

type Delay struct {
	log     *zap.Logger
	id      flowapi.NodeID
	operand *flowdsl.Operand
	engine  flowapi.Engine
	sched   flowapi.Scheduler
	vars    flowapi.Variables
	device  flowapi.Device
}

func (d *Delay) Handle(ctx context.Context, sig flowapi.Signal) (flowapi.Decision, error) {
	duration, err := d.resolveDuration(sig)
	if err != nil {
		return flowapi.Decision{}, err
	}
	delayed := sig
	delayed.Data = withKey(sig.Data, "delayApplied", true)
	d.sched.After(duration, func(ctx context.Context) {
		d.engine.EmitFrom(ctx, d.id, delayed)
	})
	// The calling pass ends here; the continuation resumes downstream.
	return flowapi.Decision{}, nil
}

// resolveDuration applies the precedence: configured literal, then the
// upstream delayMs input, then a configured variable reference.
func (d *Delay) resolveDuration(sig flowapi.Signal) (time.Duration, error) {
	resolver := conditionResolver{device: d.device, vars: d.vars}
	if d.operand != nil && d.operand.Reference == nil {
		return d.operand.ResolveDuration(resolver)
	}
	if raw, ok := sig.Data["delayMs"]; ok {
		return flowdsl.DurationOf(raw)
	}
	if d.operand != nil {
		return d.operand.ResolveDuration(resolver)
	}
	return 0, fmt.Errorf("delay has no duration: configure one or provide delayMs upstream")
}

func (d *Delay) Close() error {
	return nil
}

func withKey(data map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out[key] = value
	return out
}
