package scorelimit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxo-labs/ruleflow/modules/scorelimit"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

func newRule(t *testing.T) rule.Variant {
	t.Helper()
	v, err := scorelimit.NewScoreLimitRule(rule.Descriptor{Name: "score-limit", Type: rule.KindCreditScoreBasedLimit}, rule.Dependencies{})
	require.NoError(t, err)
	return v
}

func TestScoreLimitRule_Execute(t *testing.T) {
	tests := []struct {
		score          float64
		wantCategory   string
		wantMultiplier float64
		wantLimit      float64
	}{
		{score: 820, wantCategory: "EXCELLENT", wantMultiplier: 2.0, wantLimit: 72000},
		{score: 700, wantCategory: "GOOD", wantMultiplier: 1.5, wantLimit: 54000},
		{score: 650, wantCategory: "FAIR", wantMultiplier: 1.0, wantLimit: 36000},
		{score: 520, wantCategory: "POOR", wantMultiplier: 0.5, wantLimit: 18000},
	}
	for _, tt := range tests {
		t.Run(tt.wantCategory, func(t *testing.T) {
			out, err := newRule(t).Execute(context.Background(), state.MapReader{
				"customerId": "c-1", "creditScore": tt.score, "monthlyIncome": 3000,
			})
			require.NoError(t, err)
			assert.Equal(t, map[string]interface{}{
				"creditScore":   tt.score,
				"scoreCategory": tt.wantCategory,
				"monthlyIncome": 3000.0,
				"baseLimit":     36000.0,
				"multiplier":    tt.wantMultiplier,
				"finalLimit":    tt.wantLimit,
			}, out)
		})
	}
}

func TestScoreLimitRule_ValidateInput(t *testing.T) {
	err := newRule(t).ValidateInput(state.MapReader{"creditScore": 700})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "customerId")
	assert.Contains(t, err.Error(), "monthlyIncome")
}

func TestScoreLimitRule_Fallback(t *testing.T) {
	out, err := newRule(t).(rule.FallbackProvider).Fallback(context.Background(), state.MapReader{})
	require.NoError(t, err)
	m := out.(map[string]interface{})
	assert.Equal(t, "UNKNOWN", m["scoreCategory"])
	assert.Equal(t, 0.5, m["multiplier"])
	assert.Equal(t, true, m["isFallback"])
}
