package nodes

import (
	"context"

	"github.com/relayflow/relay-agent/flowapi"
)

// PassthroughType forwards every signal unchanged. Useful as a fan-in or
// fan-out junction when a graph needs a named splice point.
type PassthroughType struct{}

func (PassthroughType) Descriptor() flowapi.NodeTypeDescriptor {
	return flowapi.NodeTypeDescriptor{
		DisplayName: "Passthrough",

		UpstreamType:   flowapi.NodeLinkTypeMany,
		DownstreamType: flowapi.NodeLinkTypeMany,
	}
}

func (PassthroughType) CreateHandler(p flowapi.HandlerProvider) (flowapi.Handler, error) {
	return passthroughNode{}, nil
}

type passthroughNode struct{}

func (passthroughNode) Handle(ctx context.Context, sig flowapi.Signal) (flowapi.Decision, error) {
	return flowapi.Decision{Propagate: true}, nil
}

func (passthroughNode) Close() error {
	return nil
}
