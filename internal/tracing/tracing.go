package tracing

import (
	"errors"

	"github.com/gxo-labs/ruleflow/internal/template"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Attribute keys set on engine spans.
const (
	AttrRequestID   = attribute.Key("ruleflow.request_id")
	AttrProductCode = attribute.Key("ruleflow.product_code")
	AttrStepCode    = attribute.Key("ruleflow.step_code")
	AttrRuleName    = attribute.Key("ruleflow.rule.name")
	AttrRuleType    = attribute.Key("ruleflow.rule.type")
	AttrRuleStatus  = attribute.Key("ruleflow.rule.status")
	AttrAttempts    = attribute.Key("ruleflow.rule.attempts")
	AttrFallback    = attribute.Key("ruleflow.rule.fallback")
	AttrApproved    = attribute.Key("ruleflow.step.approved")
)

// RecordErrorWithContext records err on span with keyword values masked and
// marks the span as failed.
func RecordErrorWithContext(span oteltrace.Span, err error, keywords map[string]struct{}) {
	if err == nil || span == nil || !span.IsRecording() {
		return
	}
	msg := template.RedactSecretsInString(err.Error(), keywords)
	span.RecordError(errors.New(msg))
	span.SetStatus(codes.Error, msg)
}
