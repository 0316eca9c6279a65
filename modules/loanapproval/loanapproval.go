// Package loanapproval implements the built-in "comprehensive_loan_approval"
// rule, which combines the credit score, affordability, down payment and
// employment checks into one decision.
package loanapproval

import (
	"context"
	"fmt"

	"github.com/gxo-labs/ruleflow/internal/module"
	"github.com/gxo-labs/ruleflow/internal/paramutil"
	"github.com/gxo-labs/ruleflow/modules/creditscore"
	"github.com/gxo-labs/ruleflow/modules/income"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

// MinDownPayment is the lowest accepted share of the loan paid up front.
const MinDownPayment = 0.2

// Context keys read by the rule.
const (
	KeyCustomerID       = "customerId"
	KeyCreditScore      = "creditScore"
	KeyDownPayment      = "downPayment"
	KeyEmploymentStatus = "employmentStatus"
)

var stableEmployment = map[string]bool{"EMPLOYED": true, "SELF_EMPLOYED": true}

func init() {
	module.Register(rule.KindLoanApproval, NewLoanApprovalRule)
}

type LoanApprovalRule struct {
	desc rule.Descriptor
}

func NewLoanApprovalRule(desc rule.Descriptor, _ rule.Dependencies) (rule.Variant, error) {
	return &LoanApprovalRule{desc: desc}, nil
}

func (r *LoanApprovalRule) Kind() string { return rule.KindLoanApproval }

func (r *LoanApprovalRule) ValidateInput(input state.Reader) error {
	keys := []string{
		KeyCustomerID, KeyCreditScore, income.KeyMonthlyIncome, income.KeyLoanAmount,
		income.KeyLoanTermMonths, KeyDownPayment, KeyEmploymentStatus,
	}
	return paramutil.RequireKeys(input, append(keys, r.desc.RequiredKeys...)...)
}

func (r *LoanApprovalRule) Execute(_ context.Context, input state.Reader) (interface{}, error) {
	score, err := paramutil.Float(input, KeyCreditScore)
	if err != nil {
		return nil, err
	}
	monthly, err := paramutil.Float(input, income.KeyMonthlyIncome)
	if err != nil {
		return nil, err
	}
	amount, err := paramutil.Float(input, income.KeyLoanAmount)
	if err != nil {
		return nil, err
	}
	term, err := paramutil.Float(input, income.KeyLoanTermMonths)
	if err != nil {
		return nil, err
	}
	debt, err := paramutil.FloatOr(input, income.KeyMonthlyDebt, 0)
	if err != nil {
		return nil, err
	}
	down, err := paramutil.Float(input, KeyDownPayment)
	if err != nil {
		return nil, err
	}
	employment, err := paramutil.String(input, KeyEmploymentStatus)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, rferrors.NewValidationError(fmt.Sprintf("%s must be positive", income.KeyLoanAmount), nil)
	}

	a, err := income.Assess(monthly, amount, term, debt)
	if err != nil {
		return nil, err
	}
	downShare := income.Round(down/amount, 4)
	meetsScore := score >= creditscore.MinimumScore
	meetsDown := downShare >= MinDownPayment
	stable := stableEmployment[employment]
	approved := meetsScore && a.MeetsMinimumIncome && a.MeetsDebtToIncomeRatio && meetsDown && stable

	return map[string]interface{}{
		"approved":                    approved,
		"meetsCreditScore":            meetsScore,
		"meetsIncomeRequirements":     a.MeetsMinimumIncome,
		"meetsDebtToIncomeRatio":      a.MeetsDebtToIncomeRatio,
		"meetsDownPaymentRequirement": meetsDown,
		"hasStableEmployment":         stable,
		"monthlyLoanPayment":          a.MonthlyLoanPayment,
		"totalMonthlyObligations":     a.TotalMonthlyObligations,
		"debtToIncomeRatio":           a.DebtToIncomeRatio,
		"downPaymentPercentage":       downShare,
	}, nil
}

func (r *LoanApprovalRule) Fallback(_ context.Context, _ state.Reader) (interface{}, error) {
	return map[string]interface{}{
		"approved":                    false,
		"meetsCreditScore":            false,
		"meetsIncomeRequirements":     false,
		"meetsDebtToIncomeRatio":      false,
		"meetsDownPaymentRequirement": false,
		"hasStableEmployment":         false,
		"isFallback":                  true,
	}, nil
}
