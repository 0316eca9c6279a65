package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gxo-labs/ruleflow/internal/execlog"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/events"
	rflog "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/log"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
)

const logWriteTimeout = 5 * time.Second

// ExecutionLogListener writes a row to the execution log for every
// RuleCompleted event. Store failures are logged and otherwise ignored.
type ExecutionLogListener struct {
	store execlog.Store
	log   rflog.Logger
}

func NewExecutionLogListener(store execlog.Store, log rflog.Logger) (*ExecutionLogListener, error) {
	if store == nil || log == nil {
		return nil, errNilDependency("ExecutionLogListener")
	}
	return &ExecutionLogListener{store: store, log: log.With("component", "ExecutionLogListener")}, nil
}

func (l *ExecutionLogListener) HandleEvent(ctx context.Context, event events.Event) {
	if event.Type != events.RuleCompleted {
		return
	}
	outcome, ok := event.Payload["outcome"].(rule.Outcome)
	if !ok {
		l.log.Warnf("RuleCompleted event for '%s' carries no outcome, skipping.", event.RuleName)
		return
	}
	rec := execlog.Record{
		RuleID:       event.RuleID,
		RuleName:     event.RuleName,
		RequestID:    event.RequestID,
		ProductCode:  event.ProductCode,
		StepCode:     event.StepCode,
		ExecutedAt:   event.Timestamp,
		Status:       string(outcome.Status),
		Fallback:     outcome.Fallback,
		InputData:    l.encode(event.Payload["input"]),
		OutputData:   l.encode(outcome.Value),
		ErrorMessage: outcome.ErrorMessage,
		DurationMs:   outcome.DurationMs,
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()
	if err := l.store.Log(writeCtx, rec); err != nil {
		l.log.Errorf("Failed to log execution of rule %s: %v", event.RuleName, err)
	}
}

func (l *ExecutionLogListener) encode(v interface{}) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		l.log.Warnf("Execution log value is not JSON serializable: %v", err)
		return ""
	}
	return string(raw)
}
