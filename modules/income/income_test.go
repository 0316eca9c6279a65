package income_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxo-labs/ruleflow/modules/income"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

func newRule(t *testing.T) rule.Variant {
	t.Helper()
	v, err := income.NewIncomeRule(rule.Descriptor{Name: "income", Type: rule.KindIncomeVerification}, rule.Dependencies{})
	require.NoError(t, err)
	return v
}

func TestIncomeRule_Execute(t *testing.T) {
	tests := []struct {
		name  string
		input state.MapReader
		want  map[string]interface{}
	}{
		{
			name: "affordable",
			input: state.MapReader{
				"customerId": "c-1", "monthlyIncome": 5000, "loanAmount": 12000,
				"loanTermMonths": 12, "monthlyDebtPayments": 500,
			},
			want: map[string]interface{}{
				"approved":                true,
				"meetsMinimumIncome":      true,
				"meetsDebtToIncomeRatio":  true,
				"monthlyLoanPayment":      1000.0,
				"totalMonthlyObligations": 1500.0,
				"debtToIncomeRatio":       0.3,
			},
		},
		{
			name: "payment too high",
			input: state.MapReader{
				"customerId": "c-2", "monthlyIncome": 3000.0, "loanAmount": "36000", "loanTermMonths": 24,
			},
			want: map[string]interface{}{
				"approved":                false,
				"meetsMinimumIncome":      false,
				"meetsDebtToIncomeRatio":  false,
				"monthlyLoanPayment":      1500.0,
				"totalMonthlyObligations": 1500.0,
				"debtToIncomeRatio":       0.5,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := newRule(t).Execute(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestIncomeRule_Rounding(t *testing.T) {
	out, err := newRule(t).Execute(context.Background(), state.MapReader{
		"monthlyIncome": 7000, "loanAmount": 1000, "loanTermMonths": 3,
	})
	require.NoError(t, err)
	m := out.(map[string]interface{})
	assert.Equal(t, 333.33, m["monthlyLoanPayment"])
	assert.Equal(t, 0.0476, m["debtToIncomeRatio"])
}

func TestIncomeRule_ValidateInput(t *testing.T) {
	v := newRule(t)
	err := v.ValidateInput(state.MapReader{"customerId": "c-1", "monthlyIncome": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loanAmount")
	assert.Contains(t, err.Error(), "loanTermMonths")
}

func TestIncomeRule_RejectsZeroTerm(t *testing.T) {
	_, err := newRule(t).Execute(context.Background(), state.MapReader{
		"monthlyIncome": 5000, "loanAmount": 1000, "loanTermMonths": 0,
	})
	assert.ErrorContains(t, err, "loanTermMonths must be positive")
}

func TestIncomeRule_Fallback(t *testing.T) {
	out, err := newRule(t).(rule.FallbackProvider).Fallback(context.Background(), state.MapReader{})
	require.NoError(t, err)
	m := out.(map[string]interface{})
	assert.Equal(t, true, m["approved"])
	assert.Equal(t, true, m["isFallback"])
}

func TestAssess(t *testing.T) {
	a, err := income.Assess(4000, 24000, 24, 600)
	require.NoError(t, err)
	assert.Equal(t, income.Affordability{
		MonthlyLoanPayment:      1000,
		TotalMonthlyObligations: 1600,
		DebtToIncomeRatio:       0.4,
		MeetsMinimumIncome:      true,
		MeetsDebtToIncomeRatio:  true,
	}, a)

	_, err = income.Assess(0, 24000, 24, 0)
	assert.ErrorContains(t, err, "monthlyIncome must be positive")
}
