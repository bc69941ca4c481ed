package flowsvc

import (
	"context"
	"encoding/json"

	"github.com/relayflow/relay-agent/flowapi"
	"go.uber.org/zap"
)

// handlerProvider is the runtime surface handed to a node handler at
// creation time.
type handlerProvider struct {
	svc    *Service
	engine *Engine
	info   flowapi.NodeGraphInfo
	log    *zap.Logger
}

func (p *handlerProvider) Info() flowapi.NodeGraphInfo {
	return p.info
}

func (p *handlerProvider) Unmarshal(to any) error {
	if len(p.info.Config) == 0 {
		return nil
	}
	return json.Unmarshal(p.info.Config, to)
}

func (p *handlerProvider) Log() *zap.Logger {
	return p.log
}

func (p *handlerProvider) Engine() flowapi.Engine {
	return p.engine
}

func (p *handlerProvider) Device() flowapi.Device {
	return p.svc.deviceAPI()
}

func (p *handlerProvider) Events() flowapi.Events {
	return &nodeEvents{svc: p.svc, node: p.info.ID}
}

func (p *handlerProvider) Scheduler() flowapi.Scheduler {
	return p.svc.sched
}

func (p *handlerProvider) Variables() flowapi.Variables {
	return p.svc.state
}

// nodeEvents tracks every subscription a node opens so UnsubscribeNode can
// close them all.
type nodeEvents struct {
	svc  *Service
	node flowapi.NodeID
}

func (e *nodeEvents) Publish(ctx context.Context, name string, payload map[string]any) {
	e.svc.EmitEvent(ctx, name, payload)
}

func (e *nodeEvents) Subscribe(name string, priority int, fn flowapi.EventHandler) flowapi.EventSubscription {
	sub := e.svc.events.Subscribe(name, priority, func(ctx context.Context, key string, ev flowapi.Event) {
		fn(ctx, ev)
	})
	e.svc.trackNodeSub(e.node, sub)
	return sub
}
