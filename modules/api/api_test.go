package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intSecrets "github.com/gxo-labs/ruleflow/internal/secrets"
	"github.com/gxo-labs/ruleflow/modules/api"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

func newAPIRule(t *testing.T, endpoint string, params map[string]interface{}) rule.Variant {
	t.Helper()
	v, err := api.NewAPIRule(rule.Descriptor{Name: "bureau", Type: rule.KindAPI, Script: endpoint, Params: params}, rule.Dependencies{
		HTTPClient: &http.Client{},
		Secrets:    intSecrets.NewEnvProviderWithPrefix("RFTEST_"),
	})
	require.NoError(t, err)
	return v
}

func TestAPIRule_PostsBodyAndDecodesResponse(t *testing.T) {
	var gotBody map[string]interface{}
	var gotHeader, gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-Tenant")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score": 720}`))
	}))
	defer srv.Close()

	v := newAPIRule(t, srv.URL+"/scores/{{ .customerId }}", nil)
	input := state.MapReader{
		"customerId": "c-9",
		"body":       map[string]interface{}{"ssn": "xxx"},
		"headers":    map[string]interface{}{"X-Tenant": "acme"},
	}
	require.NoError(t, v.ValidateInput(input))
	out, err := v.Execute(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"score": 720.0}, out)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/scores/c-9", gotPath)
	assert.Equal(t, "acme", gotHeader)
	assert.Equal(t, map[string]interface{}{"ssn": "xxx"}, gotBody)
}

func TestAPIRule_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bureau overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	v := newAPIRule(t, srv.URL, nil)
	_, err := v.Execute(context.Background(), state.MapReader{"body": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "bureau overloaded")
}

func TestAPIRule_TransportFailureIsError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	v := newAPIRule(t, url, nil)
	_, err := v.Execute(context.Background(), state.MapReader{"body": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestAPIRule_ValidateInputRequiresBodyUnlessGet(t *testing.T) {
	post := newAPIRule(t, "http://example.invalid", nil)
	err := post.ValidateInput(state.MapReader{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "body")

	get := newAPIRule(t, "http://example.invalid", map[string]interface{}{"method": "get"})
	assert.NoError(t, get.ValidateInput(state.MapReader{}))
}

func TestAPIRule_SecretsAreRedactedFromValue(t *testing.T) {
	t.Setenv("RFTEST_BUREAU_TOKEN", "s3cr3t-token")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"echo": "` + r.Header.Get("Authorization") + `"}`))
	}))
	defer srv.Close()

	v := newAPIRule(t, srv.URL, map[string]interface{}{
		"headers": map[string]interface{}{"Authorization": `Bearer {{ secret "bureau_token" }}`},
	})
	out, err := v.Execute(context.Background(), state.MapReader{"body": nil})
	require.NoError(t, err)
	encoded, _ := json.Marshal(out)
	assert.NotContains(t, string(encoded), "s3cr3t-token")
}

func TestAPIRule_PlainTextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("APPROVED"))
	}))
	defer srv.Close()

	out, err := newAPIRule(t, srv.URL, map[string]interface{}{"method": "GET"}).Execute(context.Background(), state.MapReader{})
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", out)
}

func TestNewAPIRule_RejectsBadDescriptors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		params map[string]interface{}
	}{
		{"empty endpoint", "", nil},
		{"bad template", "http://x/{{ .a ", nil},
		{"bad method", "http://x", map[string]interface{}{"method": "TRACE"}},
		{"bad headers", "http://x", map[string]interface{}{"headers": "nope"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := api.NewAPIRule(rule.Descriptor{Name: "r", Script: tc.script, Params: tc.params}, rule.Dependencies{})
			require.Error(t, err)
			assert.True(t, rferrors.IsConfig(err), "got %v", err)
		})
	}
}
