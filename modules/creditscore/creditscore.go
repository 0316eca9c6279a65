// Package creditscore implements the built-in "credit_score_check" rule.
package creditscore

import (
	"context"
	"fmt"

	"github.com/gxo-labs/ruleflow/internal/module"
	"github.com/gxo-labs/ruleflow/internal/paramutil"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

// Score thresholds.
const (
	MinimumScore   = 600
	GoodScore      = 700
	ExcellentScore = 800

	DefaultScoreKey = "creditScore"
	CustomerIDKey   = "customerId"
)

func init() {
	module.Register(rule.KindCreditScoreCheck, NewCreditScoreRule)
}

type CreditScoreRule struct {
	desc     rule.Descriptor
	scoreKey string
	minimum  float64
}

func NewCreditScoreRule(desc rule.Descriptor, deps rule.Dependencies) (rule.Variant, error) {
	scoreKey, err := paramutil.GetStringOr(desc.Params, "scoreKey", DefaultScoreKey)
	if err != nil {
		return nil, rferrors.NewConfigError(fmt.Sprintf("credit score rule '%s'", desc.Name), err)
	}
	minimum := MinimumScore
	if v, ok, err := paramutil.GetOptionalInt(desc.Params, "minimumScore"); err != nil {
		return nil, rferrors.NewConfigError(fmt.Sprintf("credit score rule '%s'", desc.Name), err)
	} else if ok {
		minimum = v
	}
	return &CreditScoreRule{desc: desc, scoreKey: scoreKey, minimum: float64(minimum)}, nil
}

func (c *CreditScoreRule) Kind() string { return rule.KindCreditScoreCheck }

func (c *CreditScoreRule) ValidateInput(input state.Reader) error {
	return paramutil.RequireKeys(input, append([]string{CustomerIDKey}, c.desc.RequiredKeys...)...)
}

// Execute categorizes the score found under the configured key. The value
// may also be the outcome of an upstream rule, holding either a number or
// a map with a "score" or "creditScore" field.
func (c *CreditScoreRule) Execute(_ context.Context, input state.Reader) (interface{}, error) {
	raw, ok := input.Get(c.scoreKey)
	if !ok || raw == nil {
		return nil, rferrors.NewValidationError("could not retrieve credit score", nil)
	}
	score, err := scoreOf(raw)
	if err != nil {
		return nil, rferrors.NewValidationError(fmt.Sprintf("credit score under '%s'", c.scoreKey), err)
	}
	return map[string]interface{}{
		"creditScore":     score,
		"scoreCategory":   Category(score),
		"meetsMinimum":    score >= c.minimum,
		"minimumRequired": c.minimum,
	}, nil
}

func (c *CreditScoreRule) Fallback(_ context.Context, _ state.Reader) (interface{}, error) {
	return map[string]interface{}{
		"creditScore":     0.0,
		"scoreCategory":   "UNKNOWN",
		"meetsMinimum":    false,
		"minimumRequired": c.minimum,
		"isFallback":      true,
	}, nil
}

// Category buckets a score into EXCELLENT, GOOD, FAIR or POOR.
func Category(score float64) string {
	switch {
	case score >= ExcellentScore:
		return "EXCELLENT"
	case score >= GoodScore:
		return "GOOD"
	case score >= MinimumScore:
		return "FAIR"
	default:
		return "POOR"
	}
}

func scoreOf(raw interface{}) (float64, error) {
	if o, ok := raw.(rule.Outcome); ok {
		if !o.Succeeded() {
			return 0, fmt.Errorf("upstream rule %s ended with %s", o.RuleName, o.Status)
		}
		raw = o.Value
	}
	if m, ok := raw.(map[string]interface{}); ok {
		for _, field := range []string{"score", DefaultScoreKey} {
			if v, found := m[field]; found {
				return paramutil.ToFloat(v)
			}
		}
		return 0, fmt.Errorf("no score field in %v", m)
	}
	return paramutil.ToFloat(raw)
}
