package flowsvc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/relayflow/relay-agent/flowapi"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// FlowDocument is the externally authored serialized graph.
type FlowDocument struct {
	Nodes       []NodeDocument `json:"nodes"`
	Connections []Connection   `json:"connections"`
}

type NodeDocument struct {
	ID       flowapi.NodeID  `json:"id"`
	Type     string          `json:"type"`
	Inputs   []string        `json:"inputs,omitempty"`
	Outputs  []string        `json:"outputs,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
	Position json.RawMessage `json:"position,omitempty"`
}

type Connection struct {
	From     flowapi.NodeID `json:"from"`
	FromPort string         `json:"fromPort,omitempty"`
	To       flowapi.NodeID `json:"to"`
	ToPort   string         `json:"toPort,omitempty"`
}

// Structural faults. All faults in a document are aggregated; any one of
// them aborts initialization.
var (
	ErrDuplicateNode = errors.New("duplicate node id")
	ErrUnknownNode   = errors.New("connection references unknown node")
	ErrUnknownPort   = errors.New("connection references undeclared port")
	ErrMissingType   = errors.New("node has no type tag")
)

const (
	defaultInputPort  = "in"
	defaultOutputPort = "out"
)

// Parser converts flow documents into graphs. Unknown node types are
// preserved as opaque nodes with default ports so that third-party types
// survive round-trips; they simply have no handler until a matching type is
// registered. Cycles are not rejected here: termination is a propagation
// concern handled by the engine's per-pass visited set.
type Parser struct {
	log   *zap.Logger
	types *NodeRegistry
}

func NewParser(log *zap.Logger, types *NodeRegistry) *Parser {
	return &Parser{log: log, types: types}
}

func (p *Parser) Parse(doc FlowDocument) (*Graph, error) {
	g := &Graph{
		nodes:    make(map[flowapi.NodeID]*Node, len(doc.Nodes)),
		outgoing: make(map[flowapi.NodeID][]flowapi.Edge),
		incoming: make(map[flowapi.NodeID][]flowapi.Edge),
	}
	var errs error

	for _, nd := range doc.Nodes {
		if nd.Type == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: node %d", ErrMissingType, nd.ID))
			continue
		}
		if _, ok := g.nodes[nd.ID]; ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: %d", ErrDuplicateNode, nd.ID))
			continue
		}
		node := &Node{
			ID:       nd.ID,
			Type:     nd.Type,
			Inputs:   nd.Inputs,
			Outputs:  nd.Outputs,
			Config:   nd.Config,
			Position: nd.Position,
		}
		p.applyDefaultPorts(node)
		g.nodes[nd.ID] = node
		g.order = append(g.order, nd.ID)
	}

	for _, conn := range doc.Connections {
		edge := flowapi.Edge{
			From:     conn.From,
			FromPort: conn.FromPort,
			To:       conn.To,
			ToPort:   conn.ToPort,
		}
		if edge.FromPort == "" {
			edge.FromPort = defaultOutputPort
		}
		if edge.ToPort == "" {
			edge.ToPort = defaultInputPort
		}
		from, ok := g.nodes[edge.From]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: %d -> %d (from)", ErrUnknownNode, edge.From, edge.To))
			continue
		}
		to, ok := g.nodes[edge.To]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: %d -> %d (to)", ErrUnknownNode, edge.From, edge.To))
			continue
		}
		if !from.hasOutput(edge.FromPort) {
			errs = multierr.Append(errs, fmt.Errorf("%w: node %d has no output %q", ErrUnknownPort, edge.From, edge.FromPort))
			continue
		}
		if !to.hasInput(edge.ToPort) {
			errs = multierr.Append(errs, fmt.Errorf("%w: node %d has no input %q", ErrUnknownPort, edge.To, edge.ToPort))
			continue
		}
		g.edges = append(g.edges, edge)
		g.outgoing[edge.From] = append(g.outgoing[edge.From], edge)
		g.incoming[edge.To] = append(g.incoming[edge.To], edge)
	}

	if errs != nil {
		return nil, errs
	}
	g.revision = documentRevision(doc)
	return g, nil
}

// applyDefaultPorts fills undeclared port sets from the registered type
// descriptor, or with the generic in/out pair for opaque types.
func (p *Parser) applyDefaultPorts(node *Node) {
	var desc flowapi.NodeTypeDescriptor
	known := false
	if p.types != nil {
		if t, err := p.types.Get(node.Type); err == nil {
			desc = t.Descriptor()
			known = true
		}
	}
	if node.Inputs == nil {
		switch {
		case known && desc.UpstreamType == flowapi.NodeLinkTypeNone:
			node.Inputs = []string{}
		case known && len(desc.InputPorts) > 0:
			node.Inputs = desc.InputPorts
		default:
			node.Inputs = []string{defaultInputPort}
		}
	}
	if node.Outputs == nil {
		switch {
		case known && desc.DownstreamType == flowapi.NodeLinkTypeNone:
			node.Outputs = []string{}
		case known && len(desc.OutputPorts) > 0:
			node.Outputs = desc.OutputPorts
		default:
			node.Outputs = []string{defaultOutputPort}
		}
	}
}

func documentRevision(doc FlowDocument) uint64 {
	b, err := json.Marshal(doc)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}
