// Package nodes contains the built-in node types: triggers, conditions,
// logic gates, delays, confirmations and side-effect actions.
package nodes

import (
	"github.com/relayflow/relay-agent/internal/flowsvc"
	"go.uber.org/zap"
)

func Register(log *zap.Logger, reg *flowsvc.NodeRegistry) {
	reg.MustRegisterNodeType("trigger", TriggerType{log: log})
	reg.MustRegisterNodeType("condition", ConditionType{log: log})
	reg.MustRegisterNodeType("condition.flashlight", ConditionType{log: log, defaultChannel: "torch"})
	reg.MustRegisterNodeType("condition.volume", ConditionType{log: log, defaultChannel: "volume"})
	reg.MustRegisterNodeType("condition.voice", ConditionType{log: log, defaultChannel: "phrase"})
	reg.MustRegisterNodeType("gate", GateType{log: log})
	reg.MustRegisterNodeType("delay", DelayType{log: log})
	reg.MustRegisterNodeType("confirm", ConfirmType{log: log})
	reg.MustRegisterNodeType("notify", EffectType{log: log, kind: "notify", displayName: "Notification"})
	reg.MustRegisterNodeType("vibrate", EffectType{log: log, kind: "vibrate", displayName: "Vibration"})
	reg.MustRegisterNodeType("setVolume", EffectType{log: log, kind: "volume", displayName: "Set Volume"})
	reg.MustRegisterNodeType("setvar", SetVarType{log: log})
	reg.MustRegisterNodeType("passthrough", PassthroughType{})
}
