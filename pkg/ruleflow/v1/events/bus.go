package events

import "time"

// EventType represents the type of a ruleflow engine event.
type EventType string

const (
	StepStart      EventType = "StepStart"
	StepEnd        EventType = "StepEnd"
	RuleStart      EventType = "RuleStart"     // Rule admitted to a worker
	RuleAttempt    EventType = "RuleAttempt"   // Before each call into the variant body
	RuleCompleted  EventType = "RuleCompleted" // Final outcome published
	BreakerOpened  EventType = "BreakerOpened"
	BreakerDenied  EventType = "BreakerDenied"
	StepPublished  EventType = "StepPublished" // StepResult handed to a publisher
	CatalogLoaded  EventType = "CatalogLoaded"
	SecretAccessed EventType = "SecretAccessed"
)

// Event represents a significant occurrence within the engine or its adapters.
type Event struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id,omitempty"`
	ProductCode string    `json:"product_code,omitempty"`
	StepCode    string    `json:"step_code,omitempty"`
	RuleID      string    `json:"rule_id,omitempty"`
	RuleName    string    `json:"rule_name,omitempty"`
	// Payload carries event specific data. Secret values MUST NOT be placed here.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Bus publishes events. Emit must not block the scheduler.
type Bus interface {
	Emit(event Event)
}
