// Package income implements the built-in "income_verification" rule.
package income

import (
	"context"
	"fmt"
	"math"

	"github.com/gxo-labs/ruleflow/internal/module"
	"github.com/gxo-labs/ruleflow/internal/paramutil"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

const (
	// MinIncomeMultiplier is the share of monthly income that must cover
	// the loan payment.
	MinIncomeMultiplier = 0.3
	// MaxDebtToIncome is the highest acceptable debt-to-income ratio.
	MaxDebtToIncome = 0.43
)

// Context keys read by the rule.
const (
	KeyCustomerID     = "customerId"
	KeyMonthlyIncome  = "monthlyIncome"
	KeyLoanAmount     = "loanAmount"
	KeyLoanTermMonths = "loanTermMonths"
	KeyMonthlyDebt    = "monthlyDebtPayments"
)

func init() {
	module.Register(rule.KindIncomeVerification, NewIncomeRule)
}

type IncomeRule struct {
	desc rule.Descriptor
}

func NewIncomeRule(desc rule.Descriptor, _ rule.Dependencies) (rule.Variant, error) {
	return &IncomeRule{desc: desc}, nil
}

func (r *IncomeRule) Kind() string { return rule.KindIncomeVerification }

func (r *IncomeRule) ValidateInput(input state.Reader) error {
	keys := []string{KeyCustomerID, KeyMonthlyIncome, KeyLoanAmount, KeyLoanTermMonths}
	return paramutil.RequireKeys(input, append(keys, r.desc.RequiredKeys...)...)
}

func (r *IncomeRule) Execute(_ context.Context, input state.Reader) (interface{}, error) {
	income, err := paramutil.Float(input, KeyMonthlyIncome)
	if err != nil {
		return nil, err
	}
	amount, err := paramutil.Float(input, KeyLoanAmount)
	if err != nil {
		return nil, err
	}
	term, err := paramutil.Float(input, KeyLoanTermMonths)
	if err != nil {
		return nil, err
	}
	debt, err := paramutil.FloatOr(input, KeyMonthlyDebt, 0)
	if err != nil {
		return nil, err
	}
	a, err := Assess(income, amount, term, debt)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"approved":                a.MeetsMinimumIncome && a.MeetsDebtToIncomeRatio,
		"meetsMinimumIncome":      a.MeetsMinimumIncome,
		"meetsDebtToIncomeRatio":  a.MeetsDebtToIncomeRatio,
		"monthlyLoanPayment":      a.MonthlyLoanPayment,
		"totalMonthlyObligations": a.TotalMonthlyObligations,
		"debtToIncomeRatio":       a.DebtToIncomeRatio,
	}, nil
}

func (r *IncomeRule) Fallback(_ context.Context, _ state.Reader) (interface{}, error) {
	return map[string]interface{}{
		"approved":                true,
		"meetsMinimumIncome":      true,
		"meetsDebtToIncomeRatio":  true,
		"monthlyLoanPayment":      0.0,
		"totalMonthlyObligations": 0.0,
		"debtToIncomeRatio":       0.0,
		"isFallback":              true,
	}, nil
}

// Affordability is the payment load of a loan against a monthly income.
type Affordability struct {
	MonthlyLoanPayment      float64
	TotalMonthlyObligations float64
	DebtToIncomeRatio       float64
	MeetsMinimumIncome      bool
	MeetsDebtToIncomeRatio  bool
}

// Assess spreads amount evenly over termMonths and weighs the payment plus
// existing monthly debt against income.
func Assess(income, amount, termMonths, monthlyDebt float64) (Affordability, error) {
	if termMonths <= 0 {
		return Affordability{}, rferrors.NewValidationError(fmt.Sprintf("%s must be positive", KeyLoanTermMonths), nil)
	}
	if income <= 0 {
		return Affordability{}, rferrors.NewValidationError(fmt.Sprintf("%s must be positive", KeyMonthlyIncome), nil)
	}
	payment := Round(amount/termMonths, 2)
	obligations := payment + monthlyDebt
	dti := Round(obligations/income, 4)
	return Affordability{
		MonthlyLoanPayment:      payment,
		TotalMonthlyObligations: obligations,
		DebtToIncomeRatio:       dti,
		MeetsMinimumIncome:      income*MinIncomeMultiplier >= payment,
		MeetsDebtToIncomeRatio:  dti <= MaxDebtToIncome,
	}, nil
}

// Round rounds half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
