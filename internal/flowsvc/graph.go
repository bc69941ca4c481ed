package flowsvc

import (
	"encoding/json"

	"github.com/relayflow/relay-agent/flowapi"
)

// Node is the static description of one graph node. The type tag is
// immutable after creation; the configuration record is owned by the node
// and replaced only through explicit reconfiguration.
type Node struct {
	ID      flowapi.NodeID  `json:"id"`
	Type    string          `json:"type"`
	Inputs  []string        `json:"inputs"`
	Outputs []string        `json:"outputs"`
	Config  json.RawMessage `json:"config,omitempty"`
	// Position and other authoring-surface fields, preserved opaquely so
	// documents round-trip unchanged.
	Position json.RawMessage `json:"position,omitempty"`
}

func (n *Node) hasInput(port string) bool {
	for _, p := range n.Inputs {
		if p == port {
			return true
		}
	}
	return false
}

func (n *Node) hasOutput(port string) bool {
	for _, p := range n.Outputs {
		if p == port {
			return true
		}
	}
	return false
}

// Graph is an immutable adjacency structure over stable node ids. It is
// owned by the engine instance built from it; replacing the graph means
// discarding and rebuilding the engine.
type Graph struct {
	nodes    map[flowapi.NodeID]*Node
	order    []flowapi.NodeID
	edges    []flowapi.Edge
	outgoing map[flowapi.NodeID][]flowapi.Edge
	incoming map[flowapi.NodeID][]flowapi.Edge
	revision uint64
}

func (g *Graph) Node(id flowapi.NodeID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns nodes in document order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

func (g *Graph) Edges() []flowapi.Edge {
	return g.edges
}

func (g *Graph) Outgoing(id flowapi.NodeID) []flowapi.Edge {
	return g.outgoing[id]
}

func (g *Graph) Incoming(id flowapi.NodeID) []flowapi.Edge {
	return g.incoming[id]
}

// Revision is a content hash of the source document, used to detect
// whether a config change actually altered the graph.
func (g *Graph) Revision() uint64 {
	return g.revision
}

func (g *Graph) upstreamIDs(id flowapi.NodeID) []flowapi.NodeID {
	edges := g.incoming[id]
	out := make([]flowapi.NodeID, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.From)
	}
	return out
}

func (g *Graph) downstreamIDs(id flowapi.NodeID) []flowapi.NodeID {
	edges := g.outgoing[id]
	out := make([]flowapi.NodeID, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.To)
	}
	return out
}
