// Package cardlimit implements the built-in "credit_card_limit" rule.
package cardlimit

import (
	"context"

	"github.com/gxo-labs/ruleflow/internal/module"
	"github.com/gxo-labs/ruleflow/internal/paramutil"
	"github.com/gxo-labs/ruleflow/modules/income"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

// IncomeMultiplier turns monthly income into the base limit.
const IncomeMultiplier = 3

// Context keys read by the rule.
const (
	KeyCustomerID     = "customerId"
	KeyMonthlyIncome  = "monthlyIncome"
	KeyCreditScore    = "creditScore"
	KeyEmploymentType = "employmentType"
	KeyLatePayments   = "latePayments"
)

func init() {
	module.Register(rule.KindCreditCardLimit, NewCardLimitRule)
}

type CardLimitRule struct {
	desc rule.Descriptor
}

func NewCardLimitRule(desc rule.Descriptor, _ rule.Dependencies) (rule.Variant, error) {
	return &CardLimitRule{desc: desc}, nil
}

func (r *CardLimitRule) Kind() string { return rule.KindCreditCardLimit }

func (r *CardLimitRule) ValidateInput(input state.Reader) error {
	keys := []string{KeyCustomerID, KeyMonthlyIncome, KeyCreditScore, KeyEmploymentType, KeyLatePayments}
	return paramutil.RequireKeys(input, append(keys, r.desc.RequiredKeys...)...)
}

// Execute scales three times the monthly income by the score, employment
// and payment history factors.
func (r *CardLimitRule) Execute(_ context.Context, input state.Reader) (interface{}, error) {
	monthly, err := paramutil.Float(input, KeyMonthlyIncome)
	if err != nil {
		return nil, err
	}
	score, err := paramutil.Float(input, KeyCreditScore)
	if err != nil {
		return nil, err
	}
	employment, err := paramutil.String(input, KeyEmploymentType)
	if err != nil {
		return nil, err
	}
	late, err := paramutil.Float(input, KeyLatePayments)
	if err != nil {
		return nil, err
	}

	base := monthly * IncomeMultiplier
	sf, ef, pf := ScoreFactor(score), EmploymentFactor(employment), PaymentHistoryFactor(late)
	return map[string]interface{}{
		"monthlyIncome":        monthly,
		"creditScore":          score,
		"employmentType":       employment,
		"latePayments":         late,
		"baseLimit":            base,
		"creditScoreFactor":    sf,
		"employmentFactor":     ef,
		"paymentHistoryFactor": pf,
		"finalLimit":           income.Round(base*sf*ef*pf, 2),
	}, nil
}

func (r *CardLimitRule) Fallback(_ context.Context, _ state.Reader) (interface{}, error) {
	return map[string]interface{}{
		"monthlyIncome":        0.0,
		"creditScore":          0.0,
		"employmentType":       "UNKNOWN",
		"latePayments":         0.0,
		"baseLimit":            0.0,
		"creditScoreFactor":    1.0,
		"employmentFactor":     1.0,
		"paymentHistoryFactor": 1.0,
		"finalLimit":           0.0,
		"isFallback":           true,
	}, nil
}

func ScoreFactor(score float64) float64 {
	switch {
	case score >= 750:
		return 1.5
	case score >= 650:
		return 1.2
	default:
		return 1.0
	}
}

// EmploymentFactor favors permanent contracts.
func EmploymentFactor(employmentType string) float64 {
	if employmentType == "PERMANENT" {
		return 1.3
	}
	return 1.0
}

func PaymentHistoryFactor(latePayments float64) float64 {
	switch {
	case latePayments <= 0:
		return 1.2
	case latePayments <= 2:
		return 1.0
	default:
		return 0.8
	}
}
