package script_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxo-labs/ruleflow/modules/script"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

func newScript(t *testing.T, expr string, required, deps []string) rule.Variant {
	t.Helper()
	v, err := script.NewScriptRule(rule.Descriptor{
		Name:         "s",
		Type:         rule.KindScript,
		Script:       expr,
		RequiredKeys: required,
		DependsOn:    deps,
	}, rule.Dependencies{})
	require.NoError(t, err)
	return v
}

func TestScriptRule_EvaluatesAgainstContext(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		required []string
		deps     []string
		input    state.MapReader
		want     interface{}
	}{
		{"bool", "creditScore >= 600", []string{"creditScore"}, nil, state.MapReader{"creditScore": 710}, true},
		{"arithmetic", "loanAmount / 12.0", []string{"loanAmount"}, nil, state.MapReader{"loanAmount": 24000.0}, 2000.0},
		{"ctx map", "ctx['customer-id'] == 'c1'", nil, nil, state.MapReader{"customer-id": "c1"}, true},
		{"has", "has(ctx.optional)", nil, nil, state.MapReader{}, false},
		{"dependency outcome", "score.status == 'SUCCESS' && score.value > 700", nil, []string{"score"},
			state.MapReader{"score": rule.Outcome{Status: rule.StatusSuccess, Value: 750}}, true},
		{"map result", "{'approved': amount < 1000}", []string{"amount"}, nil, state.MapReader{"amount": 10},
			map[string]interface{}{"approved": true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := newScript(t, tc.expr, tc.required, tc.deps)
			require.NoError(t, v.ValidateInput(tc.input))
			got, err := v.Execute(context.Background(), tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestScriptRule_EvaluationErrorCarriesMessage(t *testing.T) {
	v := newScript(t, "1 / divisor", []string{"divisor"}, nil)
	_, err := v.Execute(context.Background(), state.MapReader{"divisor": 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero")
}

func TestScriptRule_CompileErrorIsConfigError(t *testing.T) {
	_, err := script.NewScriptRule(rule.Descriptor{Name: "bad", Script: "1 +"}, rule.Dependencies{})
	require.Error(t, err)
	assert.True(t, rferrors.IsConfig(err))

	_, err = script.NewScriptRule(rule.Descriptor{Name: "empty", Script: "  "}, rule.Dependencies{})
	assert.True(t, rferrors.IsConfig(err))
}

func TestScriptRule_ValidateInputRequiresKeys(t *testing.T) {
	v := newScript(t, "true", []string{"customerId", "monthlyIncome"}, nil)
	err := v.ValidateInput(state.MapReader{"customerId": "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monthlyIncome")
	assert.False(t, rferrors.IsRetryable(err))
}

func TestScriptRule_ReservedAndInvalidNamesStayInCtx(t *testing.T) {
	v := newScript(t, "ctx['in'] + ctx['a.b']", []string{"in", "a.b"}, nil)
	got, err := v.Execute(context.Background(), state.MapReader{"in": 1, "a.b": 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, got)
}
