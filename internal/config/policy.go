package config

import (
	"time"

	rfv1 "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
)

// Default execution policy values.
const (
	DefaultStepTimeout = 30 * time.Second
)

// ExecutionPolicy holds the engine-wide execution limits.
type ExecutionPolicy struct {
	StepTimeout        time.Duration
	DefaultRuleTimeout time.Duration
	DependencyMode     rfv1.DependencyMode
}

// DefaultExecutionPolicy is 30s per step, 30s per rule and lenient
// dependencies.
func DefaultExecutionPolicy() ExecutionPolicy {
	return ExecutionPolicy{
		StepTimeout:        DefaultStepTimeout,
		DefaultRuleTimeout: rule.DefaultTimeout,
		DependencyMode:     rfv1.DependencyLenient,
	}
}

// ExecutionPolicy parses the catalog's overrides on top of the defaults.
func (p *PolicyConfig) ExecutionPolicy() (ExecutionPolicy, error) {
	policy := DefaultExecutionPolicy()
	if p == nil {
		return policy, nil
	}
	if p.StepTimeout != "" {
		d, err := parseDuration(p.StepTimeout, "stepTimeout")
		if err != nil {
			return policy, err
		}
		if d > 0 {
			policy.StepTimeout = d
		}
	}
	if p.DefaultRuleTimeout != "" {
		d, err := parseDuration(p.DefaultRuleTimeout, "defaultRuleTimeout")
		if err != nil {
			return policy, err
		}
		policy.DefaultRuleTimeout = d
	}
	mode, err := rfv1.ParseDependencyMode(p.DependencyMode)
	if err != nil {
		return policy, err
	}
	policy.DependencyMode = mode
	return policy, nil
}

// Options turns the policy into engine options.
func (p ExecutionPolicy) Options() []rfv1.EngineOption {
	return []rfv1.EngineOption{
		rfv1.WithStepTimeout(p.StepTimeout),
		rfv1.WithDefaultRuleTimeout(p.DefaultRuleTimeout),
		rfv1.WithDependencyMode(p.DependencyMode),
	}
}
