// Package scorelimit implements the built-in "credit_score_based_limit"
// rule: a yearly-income limit scaled by the credit score category.
package scorelimit

import (
	"context"

	"github.com/gxo-labs/ruleflow/internal/module"
	"github.com/gxo-labs/ruleflow/internal/paramutil"
	"github.com/gxo-labs/ruleflow/modules/creditscore"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

// Context keys read by the rule.
const (
	KeyCustomerID    = "customerId"
	KeyCreditScore   = "creditScore"
	KeyMonthlyIncome = "monthlyIncome"
)

// Multipliers maps a score category to its limit multiplier.
var Multipliers = map[string]float64{
	"EXCELLENT": 2.0,
	"GOOD":      1.5,
	"FAIR":      1.0,
	"POOR":      0.5,
}

func init() {
	module.Register(rule.KindCreditScoreBasedLimit, NewScoreLimitRule)
}

type ScoreLimitRule struct {
	desc rule.Descriptor
}

func NewScoreLimitRule(desc rule.Descriptor, _ rule.Dependencies) (rule.Variant, error) {
	return &ScoreLimitRule{desc: desc}, nil
}

func (r *ScoreLimitRule) Kind() string { return rule.KindCreditScoreBasedLimit }

func (r *ScoreLimitRule) ValidateInput(input state.Reader) error {
	keys := []string{KeyCustomerID, KeyCreditScore, KeyMonthlyIncome}
	return paramutil.RequireKeys(input, append(keys, r.desc.RequiredKeys...)...)
}

func (r *ScoreLimitRule) Execute(_ context.Context, input state.Reader) (interface{}, error) {
	score, err := paramutil.Float(input, KeyCreditScore)
	if err != nil {
		return nil, err
	}
	monthly, err := paramutil.Float(input, KeyMonthlyIncome)
	if err != nil {
		return nil, err
	}

	category := creditscore.Category(score)
	base := monthly * 12
	multiplier := Multipliers[category]
	return map[string]interface{}{
		"creditScore":   score,
		"scoreCategory": category,
		"monthlyIncome": monthly,
		"baseLimit":     base,
		"multiplier":    multiplier,
		"finalLimit":    base * multiplier,
	}, nil
}

func (r *ScoreLimitRule) Fallback(_ context.Context, _ state.Reader) (interface{}, error) {
	return map[string]interface{}{
		"creditScore":   0.0,
		"scoreCategory": "UNKNOWN",
		"monthlyIncome": 0.0,
		"baseLimit":     0.0,
		"multiplier":    Multipliers["POOR"],
		"finalLimit":    0.0,
		"isFallback":    true,
	}, nil
}
