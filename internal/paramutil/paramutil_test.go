package paramutil_test

import (
	"encoding/json"
	"testing"

	"github.com/gxo-labs/ruleflow/internal/paramutil"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFloat(t *testing.T) {
	cases := []struct {
		in   interface{}
		want float64
		ok   bool
	}{
		{712, 712, true},
		{int64(5), 5, true},
		{3.5, 3.5, true},
		{json.Number("1200.25"), 1200.25, true},
		{" 640 ", 640, true},
		{[]byte("7"), 7, true},
		{"abc", 0, false},
		{true, 0, false},
	}
	for _, tc := range cases {
		got, err := paramutil.ToFloat(tc.in)
		if !tc.ok {
			assert.Error(t, err, "%v", tc.in)
			continue
		}
		require.NoError(t, err, "%v", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestParams(t *testing.T) {
	params := map[string]interface{}{
		"method":  "GET",
		"retries": 3.0,
		"half":    1.5,
		"flag":    true,
		"headers": map[string]interface{}{"X-Api": "v1", "X-Num": 2},
		"bad":     42,
	}

	s, err := paramutil.GetStringOr(params, "method", "POST")
	require.NoError(t, err)
	assert.Equal(t, "GET", s)
	s, err = paramutil.GetStringOr(params, "absent", "POST")
	require.NoError(t, err)
	assert.Equal(t, "POST", s)
	_, _, err = paramutil.GetOptionalString(params, "bad")
	assert.True(t, rferrors.IsConfig(err))

	n, ok, err := paramutil.GetOptionalInt(params, "retries")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	_, _, err = paramutil.GetOptionalInt(params, "half")
	assert.Error(t, err)

	b, ok, err := paramutil.GetOptionalBool(params, "flag")
	require.NoError(t, err)
	assert.True(t, ok && b)

	h, ok, err := paramutil.GetOptionalStringMap(params, "headers")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]string{"X-Api": "v1", "X-Num": "2"}, h)
}

func TestContextReaders(t *testing.T) {
	in := state.MapReader{"monthlyIncome": "5000", "customerId": "C1"}

	f, err := paramutil.Float(in, "monthlyIncome")
	require.NoError(t, err)
	assert.Equal(t, 5000.0, f)

	_, err = paramutil.Float(in, "loanAmount")
	var valErr *rferrors.ValidationError
	assert.ErrorAs(t, err, &valErr)

	f, err = paramutil.FloatOr(in, "monthlyDebtPayments", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, f)

	err = paramutil.RequireKeys(in, "customerId", "loanAmount", "loanTermMonths")
	assert.EqualError(t, err, "validation error: missing required context keys: loanAmount, loanTermMonths")
}

func TestContextStrings(t *testing.T) {
	in := state.MapReader{
		"employmentType": "PERMANENT",
		"latePayments":   2,
		"documents":      []interface{}{"ID_CARD", "BANK_STATEMENT"},
		"mixed":          []interface{}{"ID_CARD", 7},
	}

	s, err := paramutil.String(in, "employmentType")
	require.NoError(t, err)
	assert.Equal(t, "PERMANENT", s)

	_, err = paramutil.String(in, "latePayments")
	assert.ErrorContains(t, err, "must be a string")

	docs, err := paramutil.Strings(in, "documents")
	require.NoError(t, err)
	assert.Equal(t, []string{"ID_CARD", "BANK_STATEMENT"}, docs)

	_, err = paramutil.Strings(in, "mixed")
	assert.ErrorContains(t, err, "item 1 must be a string")

	_, err = paramutil.Strings(in, "absent")
	var valErr *rferrors.ValidationError
	assert.ErrorAs(t, err, &valErr)
}
