package engine

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gxo-labs/ruleflow/internal/breaker"
	intEvents "github.com/gxo-labs/ruleflow/internal/events"
	intMetrics "github.com/gxo-labs/ruleflow/internal/metrics"
	"github.com/gxo-labs/ruleflow/internal/module"
	"github.com/gxo-labs/ruleflow/internal/retry"
	intSecrets "github.com/gxo-labs/ruleflow/internal/secrets"
	intState "github.com/gxo-labs/ruleflow/internal/state"
	"github.com/gxo-labs/ruleflow/internal/template"
	intTracing "github.com/gxo-labs/ruleflow/internal/tracing"

	rfv1 "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/events"
	rflog "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/log"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/metrics"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/secrets"
	rftracing "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/tracing"
)

const (
	tracerName = "ruleflow-engine"

	// RequestIDKey is the context key holding the request id of a step.
	RequestIDKey = "requestId"

	defaultStepTimeout = 30 * time.Second
)

// Engine is the ruleflow execution core. One Engine serves any number of
// concurrent ExecuteStep calls; all per-invocation state lives in a stepRun.
type Engine struct {
	catalog         rfv1.Catalog
	registry        rule.Registry
	secretsProvider secrets.Provider
	eventBus        events.Bus
	metricsProvider metrics.RegistryProvider
	tracerProvider  rftracing.TracerProvider
	log             rflog.Logger
	db              *sql.DB
	dbDialect       string
	httpClient      *http.Client

	breakers    *breaker.Registry
	retryHelper *retry.Helper
	runner      *RuleRunner

	workerPoolSize     int
	stepTimeout        time.Duration
	defaultRuleTimeout time.Duration
	dependencyMode     rfv1.DependencyMode
	redactedKeywords   map[string]struct{}

	stepCounter        *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	ruleCounter        *prometheus.CounterVec
	ruleDuration       *prometheus.HistogramVec
	retryCounter       *prometheus.CounterVec
	breakerRejections  *prometheus.CounterVec
	activeWorkersGauge prometheus.Gauge
}

var _ rfv1.EngineV1 = (*Engine)(nil)
var _ rule.Executor = (*Engine)(nil)

func NewEngine(log rflog.Logger, opts ...rfv1.EngineOption) (*Engine, error) {
	if log == nil {
		return nil, rferrors.NewConfigError("logger cannot be nil", nil)
	}

	e := &Engine{
		log:                log,
		workerPoolSize:     runtime.NumCPU(),
		stepTimeout:        defaultStepTimeout,
		defaultRuleTimeout: rule.DefaultTimeout,
		dependencyMode:     rfv1.DependencyLenient,
		redactedKeywords:   make(map[string]struct{}),
		breakers:           breaker.NewRegistry(),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, rferrors.NewConfigError(fmt.Sprintf("failed to apply engine option: %v", err), err)
		}
	}

	if e.registry == nil {
		e.log.Debugf("No rule registry provided, using the default registry.")
		e.registry = module.DefaultRegistry
	}
	if e.secretsProvider == nil {
		e.log.Debugf("No secrets provider provided, using default environment provider.")
		e.secretsProvider = intSecrets.NewEnvProvider()
	}
	if e.eventBus == nil {
		e.log.Debugf("No event bus provided, using default NoOp bus.")
		e.eventBus = intEvents.NewNoOpEventBus()
	}
	if e.metricsProvider == nil {
		e.log.Debugf("No metrics provider provided, using default Prometheus provider.")
		e.metricsProvider = intMetrics.NewPrometheusRegistryProvider()
	}
	if e.tracerProvider == nil {
		e.tracerProvider = intTracing.NewNoOpProvider()
	}
	if e.httpClient == nil {
		e.httpClient = &http.Client{}
	}
	if e.catalog == nil {
		e.log.Warnf("No catalog provided; ExecuteStep will fail until one is set.")
	}

	e.retryHelper = retry.NewHelper(e.log)
	e.retryHelper.SetRedactedKeywords(e.redactedKeywords)
	e.runner = newRuleRunner(e)

	if err := e.initMetrics(); err != nil {
		return nil, rferrors.NewConfigError("failed to register engine metrics", err)
	}
	return e, nil
}

func (e *Engine) initMetrics() error {
	reg := e.metricsProvider.Registry()
	if reg == nil {
		e.log.Errorf("Metrics provider returned a nil registry, cannot initialize metrics.")
		return nil
	}
	var err error
	if e.stepCounter, err = intMetrics.Register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ruleflow_steps_total", Help: "Workflow steps executed, by outcome."},
		[]string{"product", "step", "approved"},
	)); err != nil {
		return err
	}
	if e.stepDuration, err = intMetrics.Register(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "ruleflow_step_duration_seconds", Help: "Duration of workflow step executions in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"product", "step"},
	)); err != nil {
		return err
	}
	if e.ruleCounter, err = intMetrics.Register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ruleflow_rule_executions_total", Help: "Rule executions by final status."},
		[]string{"rule", "status"},
	)); err != nil {
		return err
	}
	if e.ruleDuration, err = intMetrics.Register(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "ruleflow_rule_duration_seconds", Help: "Duration of rule executions in seconds, retries included.", Buckets: prometheus.DefBuckets},
		[]string{"rule"},
	)); err != nil {
		return err
	}
	if e.retryCounter, err = intMetrics.Register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ruleflow_rule_retries_total", Help: "Retries scheduled after a failed attempt."},
		[]string{"rule"},
	)); err != nil {
		return err
	}
	if e.breakerRejections, err = intMetrics.Register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ruleflow_breaker_rejections_total", Help: "Executions denied by an open circuit breaker."},
		[]string{"rule"},
	)); err != nil {
		return err
	}
	if e.activeWorkersGauge, err = intMetrics.Register(reg, prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "ruleflow_engine_active_workers", Help: "Rule workers currently executing an attempt."},
	)); err != nil {
		return err
	}
	e.log.Debugf("Prometheus metrics initialized and registered.")
	return nil
}

func (e *Engine) countRetry(ruleName string) {
	if e.retryCounter != nil {
		e.retryCounter.WithLabelValues(ruleName).Inc()
	}
}

func (e *Engine) countBreakerRejection(ruleName string) {
	if e.breakerRejections != nil {
		e.breakerRejections.WithLabelValues(ruleName).Inc()
	}
}

// completeRule records metrics and emits RuleCompleted for an outcome that
// became part of a result. input is the context the rule observed.
func (e *Engine) completeRule(meta runMeta, desc *rule.Descriptor, outcome rule.Outcome, input map[string]interface{}) {
	if e.ruleCounter != nil {
		e.ruleCounter.WithLabelValues(desc.Name, string(outcome.Status)).Inc()
	}
	if e.ruleDuration != nil {
		e.ruleDuration.WithLabelValues(desc.Name).Observe(float64(outcome.DurationMs) / 1000)
	}
	ev := meta.event(events.RuleCompleted, desc)
	ev.Payload = map[string]interface{}{"outcome": outcome, "input": input}
	e.eventBus.Emit(ev)
}

// ExecuteStep resolves the active rules of a workflow step, runs them under
// the engine's policies and aggregates their outcomes.
func (e *Engine) ExecuteStep(ctx context.Context, productCode, stepCode string, input map[string]interface{}) (result *rfv1.StepResult) {
	start := time.Now()
	seed := make(map[string]interface{}, len(input)+1)
	for k, v := range input {
		seed[k] = v
	}
	requestID, _ := seed[RequestIDKey].(string)
	if requestID == "" {
		requestID = uuid.NewString()
		seed[RequestIDKey] = requestID
	}
	meta := runMeta{RequestID: requestID, ProductCode: productCode, StepCode: stepCode}
	stepLog := e.log.With("request_id", requestID, "product", productCode, "step", stepCode)

	tracer := e.tracerProvider.GetTracer(tracerName)
	ctx, span := tracer.Start(ctx, "ruleflow.ExecuteStep", oteltrace.WithAttributes(
		intTracing.AttrRequestID.String(requestID),
		intTracing.AttrProductCode.String(productCode),
		intTracing.AttrStepCode.String(stepCode),
	))
	defer span.End()

	result = &rfv1.StepResult{
		RequestID:   requestID,
		ProductCode: productCode,
		StepCode:    stepCode,
		RuleResults: []rule.Outcome{},
		Timestamp:   start,
	}

	defer func() {
		duration := time.Since(start)
		approved := fmt.Sprintf("%t", result.Approved)
		if e.stepCounter != nil {
			e.stepCounter.WithLabelValues(productCode, stepCode, approved).Inc()
		}
		if e.stepDuration != nil {
			e.stepDuration.WithLabelValues(productCode, stepCode).Observe(duration.Seconds())
		}
		span.SetAttributes(intTracing.AttrApproved.Bool(result.Approved))
		if result.ErrorMessage != "" {
			intTracing.RecordErrorWithContext(span, fmt.Errorf("%s", result.ErrorMessage), e.redactedKeywords)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		ev := meta.event(events.StepEnd, nil)
		ev.Payload = map[string]interface{}{
			"approved":      result.Approved,
			"rule_count":    len(result.RuleResults),
			"duration_ms":   duration.Milliseconds(),
			"error_message": result.ErrorMessage,
		}
		e.eventBus.Emit(ev)
		stepLog.Infof("Workflow step finished: approved=%t rules=%d duration=%v", result.Approved, len(result.RuleResults), duration)
	}()

	e.eventBus.Emit(meta.event(events.StepStart, nil))
	stepLog.Infof("Starting workflow step execution.")

	if e.catalog == nil {
		result.ErrorMessage = "no rule catalog configured"
		return result
	}
	descs, err := e.catalog.ListStepRules(ctx, productCode, stepCode)
	if err != nil {
		if rferrors.IsNotFound(err) {
			result.ErrorMessage = rfv1.StepNotFoundMessage
		} else {
			result.ErrorMessage = fmt.Sprintf("failed to load rules: %v", e.redact(err))
		}
		stepLog.Warnf("Cannot execute step: %v", err)
		return result
	}

	active := make([]*rule.Descriptor, 0, len(descs))
	inactive := make(map[string]struct{})
	for i := range descs {
		if descs[i].Active {
			active = append(active, &descs[i])
		} else {
			inactive[descs[i].Name] = struct{}{}
		}
	}
	if len(inactive) > 0 {
		stepLog.Debugf("Skipping %d inactive rules.", len(inactive))
	}

	dag, err := Resolve(active, inactive)
	if err != nil {
		stepLog.Errorf("Failed to resolve rule dependencies: %v", err)
		result.ErrorMessage = err.Error()
		return result
	}

	variants := make(map[string]rule.Variant, len(dag.Order))
	for _, node := range dag.Order {
		v, buildErr := e.buildVariant(*node.Desc)
		if buildErr != nil {
			stepLog.Errorf("Cannot build rule %s: %v", node.Name, buildErr)
			result.ErrorMessage = fmt.Sprintf("rule '%s': %v", node.Name, e.redact(buildErr))
			return result
		}
		variants[node.Name] = v
	}

	execCtx := intState.NewExecutionContext(seed)
	var shadowed []string
	for _, node := range dag.Order {
		if execCtx.Has(node.Name) {
			shadowed = append(shadowed, node.Name)
		}
	}
	if len(shadowed) > 0 {
		stepLog.Warnf("Input keys %s collide with rule names and were dropped.", strings.Join(shadowed, ", "))
		execCtx.Drop(shadowed...)
	}

	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	run := newStepRun(e, dag, variants, execCtx, meta, stepLog)
	outcomes, runErr := run.execute(stepCtx)

	aggregate(result, dag, outcomes)
	if runErr != nil {
		result.Approved = false
		result.ErrorMessage = runErr.Error()
	}
	return result
}

// ExecuteRule runs one rule outside of any workflow step. Composite
// variants call it for their sub-rules.
func (e *Engine) ExecuteRule(ctx context.Context, desc rule.Descriptor, input map[string]interface{}) rule.Outcome {
	requestID, _ := input[RequestIDKey].(string)
	meta := runMeta{RequestID: requestID}

	tracer := e.tracerProvider.GetTracer(tracerName)
	ctx, span := tracer.Start(ctx, "ruleflow.ExecuteRule", oteltrace.WithAttributes(
		intTracing.AttrRuleName.String(desc.Name),
		intTracing.AttrRuleType.String(desc.Type),
	))
	defer span.End()

	variant, err := e.buildVariant(desc)
	if err != nil {
		e.log.Errorf("Cannot build rule %s: %v", desc.Name, err)
		intTracing.RecordErrorWithContext(span, err, e.redactedKeywords)
		return rule.Outcome{
			RuleID:       desc.ID,
			RuleName:     desc.Name,
			Status:       rule.StatusError,
			ErrorMessage: e.redact(err).Error(),
		}
	}

	execCtx := intState.NewExecutionContext(input)
	outcome := e.runner.Run(ctx, meta, &desc, variant, execCtx)
	e.completeRule(meta, &desc, outcome, execCtx.GetAll())
	return outcome
}

func (e *Engine) buildVariant(desc rule.Descriptor) (rule.Variant, error) {
	factory, err := e.registry.Get(desc.Type)
	if err != nil {
		return nil, err
	}
	var lookup rule.Lookup
	if e.catalog != nil {
		lookup = e.catalog
	}
	return factory(desc, rule.Dependencies{
		Executor:   e,
		Lookup:     lookup,
		DB:         e.db,
		DBDialect:  e.dbDialect,
		HTTPClient: e.httpClient,
		Secrets:    e.secretsProvider,
		Events:     e.eventBus,
		Logger:     e.log.With("rule", desc.Name),
	})
}

func (e *Engine) redact(err error) error {
	return template.RedactSecretsInError(err, e.redactedKeywords)
}

// BreakerSnapshots exposes the state of every breaker the engine created.
func (e *Engine) BreakerSnapshots() map[string]breaker.Snapshot {
	return e.breakers.Snapshots()
}

func (e *Engine) MetricsRegistryProvider() metrics.RegistryProvider { return e.metricsProvider }
func (e *Engine) TracerProvider() rftracing.TracerProvider          { return e.tracerProvider }

func (e *Engine) SetCatalog(catalog rfv1.Catalog) error {
	if catalog == nil {
		return rferrors.NewConfigError("catalog cannot be nil", nil)
	}
	e.catalog = catalog
	return nil
}

func (e *Engine) SetRuleRegistry(registry rule.Registry) error {
	if registry == nil {
		return rferrors.NewConfigError("rule registry cannot be nil", nil)
	}
	e.registry = registry
	return nil
}

func (e *Engine) SetSecretsProvider(provider secrets.Provider) error {
	if provider == nil {
		return rferrors.NewConfigError("secrets provider cannot be nil", nil)
	}
	e.secretsProvider = provider
	return nil
}

func (e *Engine) SetEventBus(bus events.Bus) error {
	if bus == nil {
		return rferrors.NewConfigError("event bus cannot be nil", nil)
	}
	e.eventBus = bus
	return nil
}

func (e *Engine) SetMetricsRegistryProvider(provider metrics.RegistryProvider) error {
	if provider == nil {
		return rferrors.NewConfigError("metrics registry provider cannot be nil", nil)
	}
	e.metricsProvider = provider
	if e.runner != nil {
		return e.initMetrics()
	}
	return nil
}

func (e *Engine) SetTracerProvider(provider rftracing.TracerProvider) error {
	if provider == nil {
		return rferrors.NewConfigError("tracer provider cannot be nil", nil)
	}
	e.tracerProvider = provider
	return nil
}

func (e *Engine) SetDataSource(db *sql.DB, dialect string) error {
	if db == nil {
		return rferrors.NewConfigError("data source cannot be nil", nil)
	}
	switch dialect {
	case "postgres", "sqlite":
	default:
		return rferrors.NewConfigError(fmt.Sprintf("unsupported data source dialect '%s'", dialect), nil)
	}
	e.db = db
	e.dbDialect = dialect
	return nil
}

func (e *Engine) SetHTTPClient(client *http.Client) error {
	if client == nil {
		return rferrors.NewConfigError("http client cannot be nil", nil)
	}
	e.httpClient = client
	return nil
}

func (e *Engine) SetWorkerPoolSize(size int) error {
	if size <= 0 {
		return rferrors.NewConfigError("worker pool size must be positive", nil)
	}
	e.workerPoolSize = size
	return nil
}

func (e *Engine) SetStepTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return rferrors.NewConfigError("step timeout must be positive", nil)
	}
	e.stepTimeout = timeout
	return nil
}

func (e *Engine) SetDefaultRuleTimeout(timeout time.Duration) error {
	if timeout < 0 {
		return rferrors.NewConfigError("default rule timeout cannot be negative", nil)
	}
	e.defaultRuleTimeout = timeout
	return nil
}

func (e *Engine) SetDependencyMode(mode rfv1.DependencyMode) error {
	parsed, err := rfv1.ParseDependencyMode(string(mode))
	if err != nil {
		return err
	}
	e.dependencyMode = parsed
	return nil
}

func (e *Engine) SetRedactedKeywords(keywords []string) error {
	newMap := make(map[string]struct{})
	for _, k := range keywords {
		keyLower := strings.ToLower(strings.TrimSpace(k))
		if keyLower != "" {
			newMap[keyLower] = struct{}{}
		}
	}
	e.redactedKeywords = newMap
	if e.retryHelper != nil {
		e.retryHelper.SetRedactedKeywords(e.redactedKeywords)
	}
	return nil
}
