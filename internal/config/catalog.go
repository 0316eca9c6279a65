package config

import (
	"fmt"
	"time"

	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
)

// Catalog is the top-level structure of a ruleflow catalog YAML file.
type Catalog struct {
	SchemaVersion string          `yaml:"schemaVersion"`
	Rules         []RuleConfig    `yaml:"rules"`
	Products      []ProductConfig `yaml:"products,omitempty"`
	Policy        *PolicyConfig   `yaml:"policy,omitempty"`

	// FilePath is where the catalog was read from. It is not parsed.
	FilePath string `yaml:"-"`
}

// RuleConfig is the YAML form of a rule descriptor. Durations are Go
// duration strings.
type RuleConfig struct {
	ID             string                 `yaml:"id"`
	Name           string                 `yaml:"name"`
	Type           string                 `yaml:"type"`
	Description    string                 `yaml:"description,omitempty"`
	Script         string                 `yaml:"script,omitempty"`
	Params         map[string]interface{} `yaml:"params,omitempty"`
	RequiredKeys   []string               `yaml:"requiredKeys,omitempty"`
	DependsOn      []string               `yaml:"dependsOn,omitempty"`
	Timeout        string                 `yaml:"timeout,omitempty"`
	MaxRetries     int                    `yaml:"maxRetries,omitempty"`
	RetryDelay     string                 `yaml:"retryDelay,omitempty"`
	CircuitBreaker *BreakerConfig         `yaml:"circuitBreaker,omitempty"`
	Fallback       bool                   `yaml:"fallback,omitempty"`
	// Active defaults to true when omitted.
	Active *bool `yaml:"active,omitempty"`
}

type BreakerConfig struct {
	Threshold    int    `yaml:"threshold,omitempty"`
	ResetTimeout string `yaml:"resetTimeout,omitempty"`
}

// ProductConfig groups the ordered workflow steps of one loan product.
type ProductConfig struct {
	Code  string       `yaml:"code"`
	Name  string       `yaml:"name,omitempty"`
	Steps []StepConfig `yaml:"steps"`
}

// StepConfig lists rule ids in execution order. Automated steps with a cron
// expression are run by the trigger scheduler with Input as their context.
type StepConfig struct {
	Code      string                 `yaml:"code"`
	Name      string                 `yaml:"name,omitempty"`
	Rules     []string               `yaml:"rules"`
	Automated bool                   `yaml:"automated,omitempty"`
	Cron      string                 `yaml:"cron,omitempty"`
	Input     map[string]interface{} `yaml:"input,omitempty"`
}

// PolicyConfig overrides engine execution defaults from the catalog.
type PolicyConfig struct {
	StepTimeout        string `yaml:"stepTimeout,omitempty"`
	DefaultRuleTimeout string `yaml:"defaultRuleTimeout,omitempty"`
	DependencyMode     string `yaml:"dependencyMode,omitempty"`
}

// IsActive reports the rule's active flag, true when unset.
func (r *RuleConfig) IsActive() bool {
	return r.Active == nil || *r.Active
}

// Descriptor converts the YAML form into the engine's rule descriptor,
// applying the default breaker settings.
func (r *RuleConfig) Descriptor() (rule.Descriptor, error) {
	d := rule.Descriptor{
		ID:                         r.ID,
		Name:                       r.Name,
		Type:                       r.Type,
		Description:                r.Description,
		Script:                     r.Script,
		Params:                     r.Params,
		RequiredKeys:               r.RequiredKeys,
		DependsOn:                  r.DependsOn,
		MaxRetries:                 r.MaxRetries,
		CircuitBreakerThreshold:    rule.DefaultBreakerThreshold,
		CircuitBreakerResetTimeout: rule.DefaultBreakerResetTimeout,
		FallbackEnabled:            r.Fallback,
		Active:                     r.IsActive(),
	}
	var err error
	if d.Timeout, err = parseDuration(r.Timeout, "timeout"); err != nil {
		return d, err
	}
	if d.RetryDelay, err = parseDuration(r.RetryDelay, "retryDelay"); err != nil {
		return d, err
	}
	if cb := r.CircuitBreaker; cb != nil {
		if cb.Threshold > 0 {
			d.CircuitBreakerThreshold = cb.Threshold
		}
		if cb.ResetTimeout != "" {
			if d.CircuitBreakerResetTimeout, err = parseDuration(cb.ResetTimeout, "circuitBreaker.resetTimeout"); err != nil {
				return d, err
			}
		}
	}
	return d, nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid '%s': %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("'%s' cannot be negative", field)
	}
	return d, nil
}
