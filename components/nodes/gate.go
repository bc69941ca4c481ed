package nodes

import (
	"context"
	"fmt"
	"sync"

	"github.com/relayflow/relay-agent/flowapi"
	"github.com/relayflow/relay-agent/flowapi/flowdsl"
	"go.uber.org/zap"
)

// GateType applies a boolean operator over values accumulated from multiple
// input edges. The gate does not fire until every configured input has
// reported at least once, except the unary NOT which fires per input.
type GateType struct {
	log *zap.Logger
}

func (g GateType) Descriptor() flowapi.NodeTypeDescriptor {
	return flowapi.NodeTypeDescriptor{
		DisplayName: "Logic Gate",
		Declaration: `gate(gateType:string="AND", inputCount:number=2, invert:boolean=false, resetAfterEval:boolean=false)`,

		UpstreamType:   flowapi.NodeLinkTypeMany,
		DownstreamType: flowapi.NodeLinkTypeMany,
	}
}

type gateConfig struct {
	GateType       string `json:"gateType"`
	InputCount     int    `json:"inputCount"`
	Invert         bool   `json:"invert"`
	ResetAfterEval bool   `json:"resetAfterEval"`
}

const (
	gateMinInputs = 2
	gateMaxInputs = 8
)

func (g GateType) CreateHandler(p flowapi.HandlerProvider) (flowapi.Handler, error) {
	cfg := gateConfig{GateType: "AND", InputCount: gateMinInputs}
	if err := p.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	switch cfg.GateType {
	case "AND", "OR", "XOR", "NAND", "NOR", "XNOR":
		if cfg.InputCount < gateMinInputs || cfg.InputCount > gateMaxInputs {
			return nil, fmt.Errorf("gate input count must be between %d and %d, got %d", gateMinInputs, gateMaxInputs, cfg.InputCount)
		}
	case "NOT":
		cfg.InputCount = 1
	default:
		return nil, fmt.Errorf("unknown gate type: %s", cfg.GateType)
	}
	return &Gate{
		log:    g.log.With(zap.Int64("nodeId", int64(p.Info().ID))),
		cfg:    cfg,
		values: make(map[flowapi.Edge]bool),
	}, nil
}

type Gate struct {
	log *zap.Logger
	cfg gateConfig

	mu     sync.Mutex
	values map[flowapi.Edge]bool
}

func (g *Gate) Handle(ctx context.Context, sig flowapi.Signal) (flowapi.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if sig.IsStop() {
		// An explicit off on any input forces an immediate off-result,
		// bypassing quorum, and forwards the stop.
		g.values[sig.Via] = false
		if g.cfg.ResetAfterEval {
			g.values = make(map[flowapi.Edge]bool)
		}
		return flowapi.Decision{Propagate: true, Data: map[string]any{"gate": false}}, nil
	}

	// Values are keyed by the inbound edge so each input slot reports
	// independently. A bare pulse counts as true.
	value := true
	if v, ok := sig.Data["value"]; ok {
		value = flowdsl.Truthy(v)
	}
	g.values[sig.Via] = value

	if len(g.values) < g.cfg.InputCount {
		return flowapi.Decision{}, nil
	}

	inputs := make([]bool, 0, len(g.values))
	for _, v := range g.values {
		inputs = append(inputs, v)
	}
	result := applyGate(g.cfg.GateType, inputs)
	if g.cfg.Invert {
		result = !result
	}
	if g.cfg.ResetAfterEval {
		g.values = make(map[flowapi.Edge]bool)
	}
	if !result {
		return flowapi.Decision{}, nil
	}
	return flowapi.Decision{Propagate: true, Data: map[string]any{"gate": true}}, nil
}

func (g *Gate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values = make(map[flowapi.Edge]bool)
	return nil
}

func applyGate(gateType string, inputs []bool) bool {
	switch gateType {
	case "AND":
		for _, v := range inputs {
			if !v {
				return false
			}
		}
		return true
	case "OR":
		for _, v := range inputs {
			if v {
				return true
			}
		}
		return false
	case "XOR":
		return parity(inputs)
	case "NAND":
		return !applyGate("AND", inputs)
	case "NOR":
		return !applyGate("OR", inputs)
	case "XNOR":
		return !parity(inputs)
	case "NOT":
		return !inputs[0]
	default:
		return false
	}
}

// parity is the n-ary XOR: true when an odd number of inputs is true.
func parity(inputs []bool) bool {
	odd := false
	for _, v := range inputs {
		if v {
			odd = !odd
		}
	}
	return odd
}
