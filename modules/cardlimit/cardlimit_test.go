package cardlimit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxo-labs/ruleflow/modules/cardlimit"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

func newRule(t *testing.T) rule.Variant {
	t.Helper()
	v, err := cardlimit.NewCardLimitRule(rule.Descriptor{Name: "card-limit", Type: rule.KindCreditCardLimit}, rule.Dependencies{})
	require.NoError(t, err)
	return v
}

func TestCardLimitRule_Execute(t *testing.T) {
	tests := []struct {
		name      string
		input     state.MapReader
		factors   [3]float64
		wantLimit float64
	}{
		{
			name: "prime permanent customer",
			input: state.MapReader{
				"customerId": "c-1", "monthlyIncome": 5000, "creditScore": 760,
				"employmentType": "PERMANENT", "latePayments": 0,
			},
			factors:   [3]float64{1.5, 1.3, 1.2},
			wantLimit: 35100,
		},
		{
			name: "average contractor",
			input: state.MapReader{
				"customerId": "c-2", "monthlyIncome": 4000.0, "creditScore": 680,
				"employmentType": "CONTRACT", "latePayments": 2,
			},
			factors:   [3]float64{1.2, 1.0, 1.0},
			wantLimit: 14400,
		},
		{
			name: "frequent late payer",
			input: state.MapReader{
				"customerId": "c-3", "monthlyIncome": "2000", "creditScore": 600,
				"employmentType": "PERMANENT", "latePayments": 5,
			},
			factors:   [3]float64{1.0, 1.3, 0.8},
			wantLimit: 6240,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := newRule(t).Execute(context.Background(), tt.input)
			require.NoError(t, err)
			m := out.(map[string]interface{})
			assert.Equal(t, tt.factors[0], m["creditScoreFactor"])
			assert.Equal(t, tt.factors[1], m["employmentFactor"])
			assert.Equal(t, tt.factors[2], m["paymentHistoryFactor"])
			assert.Equal(t, tt.wantLimit, m["finalLimit"])
		})
	}
}

func TestCardLimitRule_ValidateInput(t *testing.T) {
	err := newRule(t).ValidateInput(state.MapReader{"customerId": "c-1", "monthlyIncome": 1000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creditScore")
	assert.Contains(t, err.Error(), "latePayments")
}

func TestCardLimitRule_Fallback(t *testing.T) {
	out, err := newRule(t).(rule.FallbackProvider).Fallback(context.Background(), state.MapReader{})
	require.NoError(t, err)
	m := out.(map[string]interface{})
	assert.Equal(t, "UNKNOWN", m["employmentType"])
	assert.Equal(t, 0.0, m["finalLimit"])
	assert.Equal(t, true, m["isFallback"])
}
