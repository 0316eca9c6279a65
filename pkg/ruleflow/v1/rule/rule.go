// Package rule holds the types shared between the engine and the rule
// variants: descriptors, outcomes, the Variant contract and its registry.
package rule

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/events"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/log"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/secrets"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

// Default policy values applied when a descriptor leaves them unset.
const (
	DefaultBreakerThreshold    = 5
	DefaultBreakerResetTimeout = 60 * time.Second
	DefaultTimeout             = 30 * time.Second
)

// Variant kinds shipped with ruleflow.
const (
	KindScript                = "script"
	KindAPI                   = "api"
	KindDatabase              = "database"
	KindComposite             = "composite"
	KindCreditScoreCheck      = "credit_score_check"
	KindIncomeVerification    = "income_verification"
	KindDocumentValidation    = "document_validation"
	KindCreditCardLimit       = "credit_card_limit"
	KindCreditScoreBasedLimit = "credit_score_based_limit"
	KindLoanApproval          = "comprehensive_loan_approval"
)

// Descriptor is the static, validated metadata of one rule. The engine never
// mutates a descriptor during an execution.
type Descriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	// Script is the variant-specific body: an expression, an endpoint
	// template, a SQL statement, or a list of sub-rule ids.
	Script       string                 `json:"script,omitempty"`
	Params       map[string]interface{} `json:"params,omitempty"`
	RequiredKeys []string               `json:"requiredKeys,omitempty"`
	DependsOn    []string               `json:"dependsOn,omitempty"`

	Timeout                    time.Duration `json:"timeout"`
	MaxRetries                 int           `json:"maxRetries"`
	RetryDelay                 time.Duration `json:"retryDelay"`
	CircuitBreakerThreshold    int           `json:"circuitBreakerThreshold"`
	CircuitBreakerResetTimeout time.Duration `json:"circuitBreakerResetTimeout"`
	FallbackEnabled            bool          `json:"fallbackEnabled"`
	Active                     bool          `json:"active"`
}

// Status is the terminal state of one rule execution.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
	StatusTimeout Status = "TIMEOUT"
)

// Outcome is produced exactly once per rule per step invocation.
type Outcome struct {
	RuleID       string      `json:"ruleId,omitempty"`
	RuleName     string      `json:"ruleName"`
	Status       Status      `json:"status"`
	Value        interface{} `json:"value,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	DurationMs   int64       `json:"durationMs"`
	Attempts     int         `json:"attempts"`
	Fallback     bool        `json:"fallback,omitempty"`
}

// Succeeded reports whether the outcome has status SUCCESS.
func (o Outcome) Succeeded() bool { return o.Status == StatusSuccess }

// Variant is the executable form of a descriptor.
type Variant interface {
	// Execute runs the rule body once. Implementations must honour ctx
	// cancellation on blocking calls. A returned error makes the attempt a
	// failure; wrap permanent problems in a ValidationError to stop retries.
	Execute(ctx context.Context, input state.Reader) (interface{}, error)
	// ValidateInput is a pure predicate over the context checked before the
	// first attempt.
	ValidateInput(input state.Reader) error
	Kind() string
}

// FallbackProvider is implemented by variants that can produce a substitute
// value while their circuit breaker is open.
type FallbackProvider interface {
	Fallback(ctx context.Context, input state.Reader) (interface{}, error)
}

// Executor runs a single rule through the engine's full policy stack
// (breaker, validation, timeout, retries). Composite variants use it for
// their sub-rules.
type Executor interface {
	ExecuteRule(ctx context.Context, desc Descriptor, input map[string]interface{}) Outcome
}

// Lookup resolves rule descriptors by id.
type Lookup interface {
	GetRule(ctx context.Context, id string) (Descriptor, error)
}

// Dependencies are the explicit handles passed to every variant factory.
// Any field may be nil; a factory that needs a missing handle returns a
// ConfigError.
type Dependencies struct {
	Executor   Executor
	Lookup     Lookup
	DB         *sql.DB
	DBDialect  string
	HTTPClient *http.Client
	Secrets    secrets.Provider
	Events     events.Bus
	Logger     log.Logger
}

// Factory builds a Variant for desc. It is called once per descriptor and
// step invocation and must reject malformed descriptors with a ConfigError.
type Factory func(desc Descriptor, deps Dependencies) (Variant, error)

// Registry maps a rule type tag to its factory.
type Registry interface {
	// Get returns a VariantNotFoundError for an unknown kind.
	Get(kind string) (Factory, error)
	// Register fails on an empty kind, a nil factory or a duplicate.
	Register(kind string, factory Factory) error
	List() []string
}
