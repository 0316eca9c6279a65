package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// --- Ruleflow Error Types ---

// ConfigError represents an error encountered while loading or validating the
// rule catalog, a rule descriptor, or engine options. It is fatal and aborts
// a step before any rule runs.
type ConfigError struct {
	Message string
	Cause   error
}

func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}
func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}
func (e *ConfigError) Unwrap() error { return e.Cause }

// ValidationError indicates that input failed validation checks, e.g. a rule's
// required context keys are missing. It is terminal for the rule and never retried.
type ValidationError struct {
	Message string
	Cause   error
}

func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}
func (e *ValidationError) Unwrap() error { return e.Cause }

// RuleExecutionError wraps a failure returned (or panicked) by a rule body.
// It is the only retryable error kind.
type RuleExecutionError struct {
	RuleName string
	Attempt  int
	Cause    error
}

func NewRuleExecutionError(ruleName string, attempt int, cause error) *RuleExecutionError {
	return &RuleExecutionError{RuleName: ruleName, Attempt: attempt, Cause: cause}
}
func (e *RuleExecutionError) Error() string {
	if e.RuleName == "" {
		return fmt.Sprintf("rule execution failed: %v", e.Cause)
	}
	return fmt.Sprintf("rule '%s' execution failed: %v", e.RuleName, e.Cause)
}
func (e *RuleExecutionError) Unwrap() error { return e.Cause }

// TimeoutError reports that a rule exceeded its declared timeout. Terminal.
type TimeoutError struct {
	RuleName string
	Timeout  string
}

func NewTimeoutError(ruleName, timeout string) *TimeoutError {
	return &TimeoutError{RuleName: ruleName, Timeout: timeout}
}
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rule '%s' timed out after %s", e.RuleName, e.Timeout)
}
func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// CircuitOpenError reports that the circuit breaker for a rule denied execution.
type CircuitOpenError struct {
	RuleName string
}

func NewCircuitOpenError(ruleName string) *CircuitOpenError {
	return &CircuitOpenError{RuleName: ruleName}
}
func (e *CircuitOpenError) Error() string { return "circuit breaker open" }

// CyclicDependencyError is returned by the resolver when a rule is reached
// again while it is still on the recursion stack.
type CyclicDependencyError struct {
	RuleName string
}

func NewCyclicDependencyError(ruleName string) *CyclicDependencyError {
	return &CyclicDependencyError{RuleName: ruleName}
}
func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected at rule '%s'", e.RuleName)
}

// UnknownDependencyError is returned when a rule depends on a name that is not
// part of the rule list.
type UnknownDependencyError struct {
	RuleName string
	Missing  string
}

func NewUnknownDependencyError(ruleName, missing string) *UnknownDependencyError {
	return &UnknownDependencyError{RuleName: ruleName, Missing: missing}
}
func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("rule '%s' depends on unknown rule '%s'", e.RuleName, e.Missing)
}

// VariantNotFoundError indicates a descriptor references a rule type that has
// no registered factory.
type VariantNotFoundError struct {
	Kind string
}

func NewVariantNotFoundError(kind string) *VariantNotFoundError {
	return &VariantNotFoundError{Kind: kind}
}
func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("rule variant not registered: %s", e.Kind)
}

// NotFoundError is returned by catalogs when a rule, product or step is missing.
type NotFoundError struct {
	What string
	ID   string
}

func NewNotFoundError(what, id string) *NotFoundError {
	return &NotFoundError{What: what, ID: id}
}
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.What, e.ID)
}

// MultiError collects several independent errors, e.g. catalog validation findings.
type MultiError struct {
	Errors []error
}

func (e *MultiError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}
func (e *MultiError) Unwrap() []error { return e.Errors }

// PartialResultError is a terminal failure that still carries the value
// produced before the failure, e.g. the sub-results of a composite rule.
type PartialResultError struct {
	Value interface{}
	Cause error
}

func NewPartialResultError(value interface{}, cause error) *PartialResultError {
	return &PartialResultError{Value: value, Cause: cause}
}
func (e *PartialResultError) Error() string {
	if e.Cause == nil {
		return "partial result"
	}
	return e.Cause.Error()
}
func (e *PartialResultError) Unwrap() error { return e.Cause }

// PartialValue returns the value carried by a PartialResultError in err's chain.
func PartialValue(err error) (interface{}, bool) {
	var pr *PartialResultError
	if errors.As(err, &pr) {
		return pr.Value, true
	}
	return nil, false
}

// IsRetryable reports whether err represents a rule body failure that the
// retry policy may attempt again.
func IsRetryable(err error) bool {
	if err == nil || IsTimeout(err) {
		return false
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return false
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return false
	}
	var execErr *RuleExecutionError
	return errors.As(err, &execErr)
}

// IsTimeout reports whether err is a rule timeout.
func IsTimeout(err error) bool {
	var toErr *TimeoutError
	return errors.As(err, &toErr)
}

// IsConfig reports whether err is a configuration problem (including unknown
// variants and graph errors) that must abort a step before execution.
func IsConfig(err error) bool {
	var cfgErr *ConfigError
	var vnf *VariantNotFoundError
	var cyc *CyclicDependencyError
	var unk *UnknownDependencyError
	return errors.As(err, &cfgErr) || errors.As(err, &vnf) || errors.As(err, &cyc) || errors.As(err, &unk)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
