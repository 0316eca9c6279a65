package events

import "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/events"

// NoOpEventBus discards every event. It is the engine default.
type NoOpEventBus struct{}

func NewNoOpEventBus() events.Bus {
	return &NoOpEventBus{}
}

func (n *NoOpEventBus) Emit(events.Event) {}

var _ events.Bus = (*NoOpEventBus)(nil)
