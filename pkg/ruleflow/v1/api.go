package v1

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"time"

	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/events"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/metrics"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/secrets"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/tracing"
)

// DependencyMode controls when a dependency counts as satisfied.
type DependencyMode string

const (
	// DependencyLenient lets a dependent run once every dependency has an
	// outcome, whatever its status.
	DependencyLenient DependencyMode = "lenient"
	// DependencyStrict short-circuits a dependent to ERROR when any of its
	// dependencies did not succeed.
	DependencyStrict DependencyMode = "strict"
)

// ParseDependencyMode accepts "lenient", "strict" or "" (lenient).
func ParseDependencyMode(s string) (DependencyMode, error) {
	switch DependencyMode(s) {
	case "", DependencyLenient:
		return DependencyLenient, nil
	case DependencyStrict:
		return DependencyStrict, nil
	default:
		return "", rferrors.NewConfigError("unknown dependency mode '"+s+"'", nil)
	}
}

// Catalog is the source of rule and workflow definitions the engine reads
// at the start of every step.
type Catalog interface {
	rule.Lookup
	// ListStepRules returns every rule of a workflow step, active or not, in
	// declared order. The engine skips inactive ones itself so that a
	// dependency on a deactivated rule is dropped rather than reported as
	// unknown. It returns a NotFoundError when the step is unknown.
	ListStepRules(ctx context.Context, productCode, stepCode string) ([]rule.Descriptor, error)
}

// EngineV1 is the public interface of the ruleflow execution engine.
type EngineV1 interface {
	// ExecuteStep runs every active rule of a workflow step and always
	// returns a StepResult; step level failures are reported in it.
	ExecuteStep(ctx context.Context, productCode, stepCode string, input map[string]interface{}) *StepResult
	// ExecuteRule runs one rule in isolation through the full policy stack.
	ExecuteRule(ctx context.Context, desc rule.Descriptor, input map[string]interface{}) rule.Outcome

	MetricsRegistryProvider() metrics.RegistryProvider
	TracerProvider() tracing.TracerProvider

	SetCatalog(catalog Catalog) error
	SetRuleRegistry(registry rule.Registry) error
	SetSecretsProvider(provider secrets.Provider) error
	SetEventBus(bus events.Bus) error
	SetMetricsRegistryProvider(provider metrics.RegistryProvider) error
	SetTracerProvider(provider tracing.TracerProvider) error
	SetDataSource(db *sql.DB, dialect string) error
	SetHTTPClient(client *http.Client) error
	SetWorkerPoolSize(size int) error
	SetStepTimeout(timeout time.Duration) error
	SetDefaultRuleTimeout(timeout time.Duration) error
	SetDependencyMode(mode DependencyMode) error
	SetRedactedKeywords(keywords []string) error
}

// EngineOption configures an engine at creation.
type EngineOption func(EngineV1) error

// StepNotFoundMessage is the ErrorMessage of a StepResult for an unknown
// product/step pair.
const StepNotFoundMessage = "workflow step not found"

// StepResult is the aggregated, terminal result of one workflow step.
type StepResult struct {
	RequestID    string         `json:"requestId"`
	ProductCode  string         `json:"productCode"`
	StepCode     string         `json:"stepCode"`
	Approved     bool           `json:"approved"`
	RuleResults  []rule.Outcome `json:"ruleResults"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Outcome returns the outcome recorded for ruleName, if any.
func (r *StepResult) Outcome(ruleName string) (rule.Outcome, bool) {
	for _, o := range r.RuleResults {
		if o.RuleName == ruleName {
			return o, true
		}
	}
	return rule.Outcome{}, false
}

func WithCatalog(catalog Catalog) EngineOption {
	return func(e EngineV1) error {
		if catalog == nil {
			return rferrors.NewConfigError("catalog cannot be nil", nil)
		}
		return e.SetCatalog(catalog)
	}
}

func WithRuleRegistry(registry rule.Registry) EngineOption {
	return func(e EngineV1) error {
		if registry == nil {
			return rferrors.NewConfigError("rule registry cannot be nil", nil)
		}
		return e.SetRuleRegistry(registry)
	}
}

func WithSecretsProvider(provider secrets.Provider) EngineOption {
	return func(e EngineV1) error {
		if provider == nil {
			return rferrors.NewConfigError("secrets provider cannot be nil", nil)
		}
		return e.SetSecretsProvider(provider)
	}
}

func WithEventBus(bus events.Bus) EngineOption {
	return func(e EngineV1) error {
		if bus == nil {
			return rferrors.NewConfigError("event bus cannot be nil", nil)
		}
		return e.SetEventBus(bus)
	}
}

func WithMetricsRegistryProvider(provider metrics.RegistryProvider) EngineOption {
	return func(e EngineV1) error {
		if provider == nil {
			return rferrors.NewConfigError("metrics registry provider cannot be nil", nil)
		}
		return e.SetMetricsRegistryProvider(provider)
	}
}

func WithTracerProvider(provider tracing.TracerProvider) EngineOption {
	return func(e EngineV1) error {
		if provider == nil {
			return rferrors.NewConfigError("tracer provider cannot be nil", nil)
		}
		return e.SetTracerProvider(provider)
	}
}

// WithDataSource hands the Database variant its connection. dialect is
// "postgres" or "sqlite".
func WithDataSource(db *sql.DB, dialect string) EngineOption {
	return func(e EngineV1) error {
		if db == nil {
			return rferrors.NewConfigError("data source cannot be nil", nil)
		}
		return e.SetDataSource(db, dialect)
	}
}

func WithHTTPClient(client *http.Client) EngineOption {
	return func(e EngineV1) error {
		if client == nil {
			return rferrors.NewConfigError("http client cannot be nil", nil)
		}
		return e.SetHTTPClient(client)
	}
}

// WithWorkerPoolSize sets the number of concurrent rule workers per step.
// Non-positive sizes fall back to runtime.NumCPU().
func WithWorkerPoolSize(size int) EngineOption {
	return func(e EngineV1) error {
		effectiveSize := size
		if effectiveSize <= 0 {
			effectiveSize = runtime.NumCPU()
		}
		return e.SetWorkerPoolSize(effectiveSize)
	}
}

// WithStepTimeout bounds a whole ExecuteStep call.
func WithStepTimeout(timeout time.Duration) EngineOption {
	return func(e EngineV1) error {
		if timeout <= 0 {
			return rferrors.NewConfigError("step timeout must be positive", nil)
		}
		return e.SetStepTimeout(timeout)
	}
}

// WithDefaultRuleTimeout applies to descriptors that declare no timeout.
func WithDefaultRuleTimeout(timeout time.Duration) EngineOption {
	return func(e EngineV1) error {
		if timeout < 0 {
			return rferrors.NewConfigError("default rule timeout cannot be negative", nil)
		}
		return e.SetDefaultRuleTimeout(timeout)
	}
}

func WithDependencyMode(mode DependencyMode) EngineOption {
	return func(e EngineV1) error {
		return e.SetDependencyMode(mode)
	}
}

// WithRedactedKeywords configures keywords whose values are masked in error
// messages, e.g. "password" or "token".
func WithRedactedKeywords(keywords []string) EngineOption {
	return func(e EngineV1) error {
		return e.SetRedactedKeywords(keywords)
	}
}
