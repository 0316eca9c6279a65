package transport

import (
	"context"
	"time"

	rfv1 "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/events"
	rflog "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/log"
)

// Publisher hands a finished StepResult to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, result *rfv1.StepResult) error
}

// EventPublisher emits a StepPublished event and logs the decision.
type EventPublisher struct {
	bus events.Bus
	log rflog.Logger
}

func NewEventPublisher(bus events.Bus, log rflog.Logger) *EventPublisher {
	return &EventPublisher{bus: bus, log: log.With("component", "Publisher")}
}

func (p *EventPublisher) Publish(_ context.Context, result *rfv1.StepResult) error {
	if result == nil {
		return nil
	}
	p.log.Infof("Step %s/%s request %s approved=%t (%d rules).",
		result.ProductCode, result.StepCode, result.RequestID, result.Approved, len(result.RuleResults))
	if p.bus != nil {
		p.bus.Emit(events.Event{
			Type:        events.StepPublished,
			Timestamp:   time.Now(),
			RequestID:   result.RequestID,
			ProductCode: result.ProductCode,
			StepCode:    result.StepCode,
			Payload:     map[string]interface{}{"approved": result.Approved, "rules": len(result.RuleResults)},
		})
	}
	return nil
}
