package nodes

import (
	"context"
	"fmt"

	"github.com/relayflow/relay-agent/flowapi"
	"go.uber.org/zap"
)

type SetVarType struct {
	log *zap.Logger
}

func (s SetVarType) Descriptor() flowapi.NodeTypeDescriptor {
	return flowapi.NodeTypeDescriptor{
		DisplayName: "Set Variable",
		Declaration: "setvar(name: string, value: any)",

		UpstreamType:   flowapi.NodeLinkTypeMany,
		DownstreamType: flowapi.NodeLinkTypeMany,
	}
}

func (s SetVarType) CreateHandler(p flowapi.HandlerProvider) (flowapi.Handler, error) {
	cfg := struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	}{}
	if err := p.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("setvar: name is required")
	}
	return &SetVarNode{
		log:   s.log.With(zap.Int64("nodeId", int64(p.Info().ID))),
		name:  cfg.Name,
		value: cfg.Value,
		vars:  p.Variables(),
	}, nil
}

type SetVarNode struct {
	log   *zap.Logger
	name  string
	value any
	vars  flowapi.Variables
}

func (s *SetVarNode) Handle(ctx context.Context, sig flowapi.Signal) (flowapi.Decision, error) {
	if err := s.vars.Set(ctx, s.name, s.value); err != nil {
		return flowapi.Decision{}, fmt.Errorf("setvar %q: %w", s.name, err)
	}
	return flowapi.Decision{Propagate: true, Data: map[string]any{"variable": s.name}}, nil
}

func (s *SetVarNode) Close() error {
	return nil
}
