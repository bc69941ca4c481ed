package nodes

import (
	"context"
	"fmt"

	"github.com/relayflow/relay-agent/flowapi"
	"github.com/relayflow/relay-agent/flowapi/flowdsl"
	"go.uber.org/zap"
)

// ConditionType evaluates a boolean predicate against current device state.
// The flashlight, volume and voice variants are presets sharing this
// implementation with distinct default channels.
type ConditionType struct {
	log            *zap.Logger
	defaultChannel string
}

func (c ConditionType) Descriptor() flowapi.NodeTypeDescriptor {
	name := "Condition"
	if c.defaultChannel != "" {
		name = fmt.Sprintf("Condition (%s)", c.defaultChannel)
	}
	return flowapi.NodeTypeDescriptor{
		DisplayName: name,
		Description: "Propagates start and pulse signals only while the predicate holds; stop signals always pass",
		Declaration: `condition(channel:string="", when:string="", invertSignal:boolean=false, autoEmitOnChange:boolean=false)`,

		UpstreamType:   flowapi.NodeLinkTypeMany,
		DownstreamType: flowapi.NodeLinkTypeMany,
	}
}

type conditionConfig struct {
	Channel          string `json:"channel"`
	When             string `json:"when"`
	InvertSignal     bool   `json:"invertSignal"`
	AutoEmitOnChange bool   `json:"autoEmitOnChange"`
}

func (c ConditionType) CreateHandler(p flowapi.HandlerProvider) (flowapi.Handler, error) {
	cfg := conditionConfig{Channel: c.defaultChannel}
	if err := p.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Channel == "" && cfg.When == "" {
		return nil, fmt.Errorf("condition requires a channel or a when expression")
	}
	cond := &Condition{
		log:      c.log.With(zap.Int64("nodeId", int64(p.Info().ID))),
		cfg:      cfg,
		device:   p.Device(),
		vars:     p.Variables(),
		autoEmit: cfg.AutoEmitOnChange,
	}
	if cfg.When != "" {
		expr, err := flowdsl.ParseExpr(cfg.When)
		if err != nil {
			return nil, fmt.Errorf("invalid when expression %q: %w", cfg.When, err)
		}
		cond.expr = &expr
	}
	return cond, nil
}

type Condition struct {
	log      *zap.Logger
	cfg      conditionConfig
	expr     *flowdsl.Expr
	device   flowapi.Device
	vars     flowapi.Variables
	autoEmit bool
}

func (c *Condition) Handle(ctx context.Context, sig flowapi.Signal) (flowapi.Decision, error) {
	if sig.IsStop() {
		// Stopping must never be blocked by the predicate.
		return flowapi.Decision{Propagate: true}, nil
	}
	met, observed, err := c.evaluate()
	if err != nil {
		return flowapi.Decision{}, err
	}
	if !met {
		return flowapi.Decision{}, nil
	}
	data := map[string]any{}
	if c.cfg.Channel != "" {
		data["channel"] = c.cfg.Channel
		data["observed"] = observed
	}
	return flowapi.Decision{Propagate: true, Data: data}, nil
}

func (c *Condition) evaluate() (met bool, observed any, err error) {
	resolver := conditionResolver{device: c.device, vars: c.vars}
	if c.cfg.Channel != "" {
		observed, _ = c.device.Channel(c.cfg.Channel)
	}
	if c.expr != nil {
		met, err = c.expr.Eval(resolver)
		if err != nil {
			return false, nil, err
		}
	} else {
		met = flowdsl.Truthy(observed)
	}
	if c.cfg.InvertSignal {
		met = !met
	}
	return met, observed, nil
}

// AutoEmitSpec exposes the condition for external-state reconciliation when
// the node is configured to auto-emit.
func (c *Condition) AutoEmitSpec() (flowapi.AutoEmitSpec, bool) {
	if !c.autoEmit {
		return flowapi.AutoEmitSpec{}, false
	}
	return flowapi.AutoEmitSpec{
		Channel: c.cfg.Channel,
		Invert:  c.cfg.InvertSignal,
		Expr:    c.expr,
	}, true
}

func (c *Condition) Close() error {
	return nil
}

type conditionResolver struct {
	device flowapi.Device
	vars   flowapi.Variables
}

func (r conditionResolver) Channel(name string) (any, bool) {
	return r.device.Channel(name)
}

func (r conditionResolver) Variable(name string) (any, bool) {
	return r.vars.Get(name)
}
