package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gxo-labs/ruleflow/internal/breaker"
	"github.com/gxo-labs/ruleflow/internal/retry"
	"github.com/gxo-labs/ruleflow/internal/template"
	intTracing "github.com/gxo-labs/ruleflow/internal/tracing"

	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/events"
	rflog "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/log"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	rfstate "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"

	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const msgBreakerOpen = "circuit breaker open"

// runMeta identifies the invocation a rule runs in.
type runMeta struct {
	RequestID   string
	ProductCode string
	StepCode    string
}

func (m runMeta) event(t events.EventType, desc *rule.Descriptor) events.Event {
	ev := events.Event{
		Type:        t,
		Timestamp:   time.Now(),
		RequestID:   m.RequestID,
		ProductCode: m.ProductCode,
		StepCode:    m.StepCode,
	}
	if desc != nil {
		ev.RuleID = desc.ID
		ev.RuleName = desc.Name
	}
	return ev
}

// RuleRunner applies the per-rule policy stack: breaker gate, input
// validation, an overall timeout and bounded retries. It never publishes
// into the execution context; that is the scheduler's job.
type RuleRunner struct {
	engine      *Engine
	breakers    *breaker.Registry
	retryHelper *retry.Helper
	log         rflog.Logger
}

func newRuleRunner(e *Engine) *RuleRunner {
	return &RuleRunner{
		engine:      e,
		breakers:    e.breakers,
		retryHelper: e.retryHelper,
		log:         e.log,
	}
}

// Run executes one rule and always returns an outcome.
func (r *RuleRunner) Run(ctx context.Context, meta runMeta, desc *rule.Descriptor, variant rule.Variant, input rfstate.Reader) (outcome rule.Outcome) {
	start := time.Now()
	ruleLog := r.log.With("rule", desc.Name, "request_id", meta.RequestID)

	tracer := r.engine.tracerProvider.GetTracer(tracerName)
	ruleCtx, span := tracer.Start(ctx, "ruleflow.rule.execute", oteltrace.WithAttributes(
		intTracing.AttrRequestID.String(meta.RequestID),
		intTracing.AttrRuleName.String(desc.Name),
		intTracing.AttrRuleType.String(desc.Type),
	))
	defer span.End()

	outcome = rule.Outcome{RuleID: desc.ID, RuleName: desc.Name}
	defer func() {
		outcome.DurationMs = time.Since(start).Milliseconds()
		span.SetAttributes(
			intTracing.AttrRuleStatus.String(string(outcome.Status)),
			intTracing.AttrAttempts.Int(outcome.Attempts),
			intTracing.AttrFallback.Bool(outcome.Fallback),
		)
		if outcome.Succeeded() {
			span.SetStatus(codes.Ok, "")
		} else {
			intTracing.RecordErrorWithContext(span, errors.New(outcome.ErrorMessage), r.engine.redactedKeywords)
		}
	}()

	r.engine.eventBus.Emit(meta.event(events.RuleStart, desc))

	br := r.breakers.Get(desc.Name, breaker.Config{
		Threshold:    desc.CircuitBreakerThreshold,
		ResetTimeout: desc.CircuitBreakerResetTimeout,
	})
	if !br.Allow() {
		r.engine.countBreakerRejection(desc.Name)
		r.engine.eventBus.Emit(meta.event(events.BreakerDenied, desc))
		if !desc.FallbackEnabled {
			ruleLog.Warnf("Circuit breaker open for rule %s, no fallback configured.", desc.Name)
			outcome.Status = rule.StatusError
			outcome.ErrorMessage = msgBreakerOpen
			return outcome
		}
		ruleLog.Infof("Circuit breaker open for rule %s, using fallback.", desc.Name)
		return r.fallback(ruleCtx, desc, variant, input, outcome)
	}

	if err := variant.ValidateInput(input); err != nil {
		ruleLog.Warnf("Input validation failed for rule %s: %v", desc.Name, r.redact(err))
		outcome.Status = rule.StatusError
		outcome.ErrorMessage = r.redact(err).Error()
		return outcome
	}

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = r.engine.defaultRuleTimeout
	}
	attemptCtx := ruleCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ruleCtx, timeout)
		defer cancel()
	}

	var value interface{}
	attempts, err := r.retryHelper.Do(attemptCtx, retry.Config{
		Attempts:  desc.MaxRetries + 1,
		Delay:     desc.RetryDelay,
		Retryable: rferrors.IsRetryable,
		RuleName:  desc.Name,
		OnRetry: func(attempt int, _ error) {
			r.engine.countRetry(desc.Name)
		},
	}, func(opCtx context.Context, attempt int) error {
		ev := meta.event(events.RuleAttempt, desc)
		ev.Payload = map[string]interface{}{"attempt": attempt}
		r.engine.eventBus.Emit(ev)

		v, attemptErr := r.attempt(opCtx, desc, variant, input, attempt)
		if attemptErr == nil {
			value = v
		}
		return attemptErr
	})
	outcome.Attempts = attempts

	switch {
	case err == nil:
		outcome.Status = rule.StatusSuccess
		outcome.Value = value
		r.record(meta, desc, br, true, ruleLog)
	case ctx.Err() != nil:
		// Abandoned by the caller or the step deadline; breaker untouched.
		outcome.Status = rule.StatusTimeout
		outcome.ErrorMessage = fmt.Sprintf("execution abandoned: %v", ctx.Err())
	case attemptCtx.Err() != nil || rferrors.IsTimeout(err):
		outcome.Status = rule.StatusTimeout
		outcome.ErrorMessage = rferrors.NewTimeoutError(desc.Name, timeout.String()).Error()
		ruleLog.Warnf("Rule %s timed out after %v (%d attempts).", desc.Name, timeout, attempts)
		r.record(meta, desc, br, false, ruleLog)
	default:
		outcome.Status = rule.StatusError
		outcome.ErrorMessage = r.redact(causeOf(err)).Error()
		if partial, ok := rferrors.PartialValue(err); ok {
			outcome.Value = partial
		}
		ruleLog.Errorf("Rule %s failed after %d attempts: %v", desc.Name, attempts, r.redact(err))
		r.record(meta, desc, br, false, ruleLog)
	}
	return outcome
}

// attempt runs the variant body once in its own goroutine so that a body
// ignoring ctx cannot hold the worker past the deadline. A panic counts as
// a failed attempt.
func (r *RuleRunner) attempt(ctx context.Context, desc *rule.Descriptor, variant rule.Variant, input rfstate.Reader, attempt int) (interface{}, error) {
	type result struct {
		value interface{}
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("rule body panicked: %v", p)}
			}
		}()
		v, err := variant.Execute(ctx, input)
		done <- result{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.value, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(desc.Name, attempt, res.err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// classify keeps validation, configuration and partial-result failures
// terminal and marks everything else as a retryable execution error.
func classify(ruleName string, attempt int, err error) error {
	var valErr *rferrors.ValidationError
	var cfgErr *rferrors.ConfigError
	var partial *rferrors.PartialResultError
	if errors.As(err, &valErr) || errors.As(err, &cfgErr) || errors.As(err, &partial) || rferrors.IsTimeout(err) {
		return err
	}
	return rferrors.NewRuleExecutionError(ruleName, attempt, err)
}

func causeOf(err error) error {
	var execErr *rferrors.RuleExecutionError
	if errors.As(err, &execErr) && execErr.Cause != nil {
		return execErr.Cause
	}
	return err
}

func (r *RuleRunner) fallback(ctx context.Context, desc *rule.Descriptor, variant rule.Variant, input rfstate.Reader, outcome rule.Outcome) rule.Outcome {
	var value interface{} = map[string]interface{}{"isFallback": true}
	if provider, ok := variant.(rule.FallbackProvider); ok {
		v, err := safeFallback(ctx, provider, input)
		if err != nil {
			outcome.Status = rule.StatusError
			outcome.ErrorMessage = "fallback failed: " + r.redact(err).Error()
			return outcome
		}
		value = v
	}
	outcome.Status = rule.StatusSuccess
	outcome.Value = value
	outcome.Fallback = true
	return outcome
}

func safeFallback(ctx context.Context, provider rule.FallbackProvider, input rfstate.Reader) (v interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("fallback panicked: %v", p)
		}
	}()
	return provider.Fallback(ctx, input)
}

func (r *RuleRunner) record(meta runMeta, desc *rule.Descriptor, br *breaker.Breaker, success bool, ruleLog rflog.Logger) {
	if opened := br.Record(success); opened {
		ruleLog.Warnf("Circuit breaker opened for rule %s.", desc.Name)
		r.engine.eventBus.Emit(meta.event(events.BreakerOpened, desc))
	}
}

func (r *RuleRunner) redact(err error) error {
	return template.RedactSecretsInError(err, r.engine.redactedKeywords)
}
