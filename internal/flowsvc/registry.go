package flowsvc

import (
	"fmt"

	"github.com/relayflow/relay-agent/flowapi"
	"github.com/relayflow/relay-agent/flowapi/flowdsl"
	"github.com/relayflow/relay-agent/pkg/registry"
)

// NodeRegistry holds the node type definitions available to the parser and
// the flow service. It is external to the engine so that third-party types
// can be added without touching propagation.
type NodeRegistry struct {
	types *registry.Registry[flowapi.NodeType]
}

func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{
		types: registry.NewRegistry[flowapi.NodeType](),
	}
}

// MustRegisterNodeType registers a node type, validating its configuration
// declaration. Registration happens at startup; failures panic.
func (r *NodeRegistry) MustRegisterNodeType(typ string, node flowapi.NodeType) {
	desc := node.Descriptor()
	if desc.Declaration != "" {
		if _, err := flowdsl.ParseDeclaration(desc.Declaration); err != nil {
			panic(fmt.Sprintf("invalid declaration for node type %s: %v", typ, err))
		}
	}
	r.types.Register(typ, node)
}

func (r *NodeRegistry) Get(typ string) (flowapi.NodeType, error) {
	return r.types.Get(typ)
}

func (r *NodeRegistry) Has(typ string) bool {
	return r.types.Has(typ)
}

func (r *NodeRegistry) Types() []string {
	return r.types.IDs()
}

// DescribeNodeType returns a node type's descriptor with its declaration
// parsed, for authoring surfaces and the `nodes` CLI command.
type NodeTypeInfo struct {
	Type        string                     `json:"type"`
	DisplayName string                     `json:"displayName"`
	Description string                     `json:"description,omitempty"`
	Declaration *flowdsl.Declaration       `json:"declaration,omitempty"`
	Descriptor  flowapi.NodeTypeDescriptor `json:"-"`
}

func (r *NodeRegistry) Describe() ([]NodeTypeInfo, error) {
	infos := make([]NodeTypeInfo, 0)
	for _, typ := range r.types.IDs() {
		node, err := r.types.Get(typ)
		if err != nil {
			return nil, err
		}
		desc := node.Descriptor()
		info := NodeTypeInfo{
			Type:        typ,
			DisplayName: desc.DisplayName,
			Description: desc.Description,
			Descriptor:  desc,
		}
		if desc.Declaration != "" {
			decl, err := flowdsl.ParseDeclaration(desc.Declaration)
			if err != nil {
				return nil, fmt.Errorf("node type %s: %w", typ, err)
			}
			info.Declaration = &decl
		}
		infos = append(infos, info)
	}
	return infos, nil
}
