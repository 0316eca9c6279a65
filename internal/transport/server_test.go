package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxo-labs/ruleflow/internal/catalog"
	"github.com/gxo-labs/ruleflow/internal/config"
	"github.com/gxo-labs/ruleflow/internal/engine"
	"github.com/gxo-labs/ruleflow/internal/execlog"
	"github.com/gxo-labs/ruleflow/internal/logger"
	"github.com/gxo-labs/ruleflow/internal/module"
	"github.com/gxo-labs/ruleflow/internal/transport"
	"github.com/gxo-labs/ruleflow/modules/script"
	rfv1 "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/events"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
)

const catalogYAML = `
schemaVersion: "1.0.0"
rules:
  - {id: r-amount, name: amountOk, type: script, script: "loanAmount <= 50000.0", requiredKeys: [loanAmount]}
  - {id: r-term, name: termOk, type: script, script: "loanTermMonths <= 60.0", requiredKeys: [loanTermMonths]}
  - {id: r-both, name: both, type: script, script: "amountOk.value && termOk.value", dependsOn: [amountOk, termOk]}
products:
  - code: PL
    steps:
      - {code: CHECK, rules: [r-amount, r-term, r-both]}
`

type capturePublisher struct{ results []*rfv1.StepResult }

func (c *capturePublisher) Publish(_ context.Context, r *rfv1.StepResult) error {
	c.results = append(c.results, r)
	return nil
}

type fixedStore struct{ recs []execlog.Record }

func (f *fixedStore) Log(context.Context, execlog.Record) error { return nil }
func (f *fixedStore) Recent(_ context.Context, limit int) ([]execlog.Record, error) {
	if limit < len(f.recs) {
		return f.recs[:limit], nil
	}
	return f.recs, nil
}

type testServer struct {
	*httptest.Server
	publisher *capturePublisher
	catalog   *catalog.MemoryCatalog
}

func newTestServer(t *testing.T, opts ...transport.ServerOption) *testServer {
	t.Helper()
	log := logger.NewNopLogger()
	c, err := config.LoadCatalog([]byte(catalogYAML), "test.yaml", nil)
	require.NoError(t, err)
	cat, err := catalog.New(c, nil, log)
	require.NoError(t, err)

	registry := module.NewStaticRegistry()
	require.NoError(t, registry.Register(rule.KindScript, script.NewScriptRule))
	eng, err := engine.NewEngine(log, rfv1.WithCatalog(cat), rfv1.WithRuleRegistry(registry))
	require.NoError(t, err)

	pub := &capturePublisher{}
	opts = append(opts, transport.WithMetrics(eng.MetricsRegistryProvider().Registry()))
	srv, err := transport.NewServer(eng, cat, pub, log, opts...)
	require.NoError(t, err)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, publisher: pub, catalog: cat}
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestExecuteStep(t *testing.T) {
	ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/workflows/PL/steps/CHECK/execute", `{"loanAmount": 20000, "loanTermMonths": 36, "requestId": "req-1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result rfv1.StepResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Approved)
	assert.Equal(t, "req-1", result.RequestID)
	require.Len(t, result.RuleResults, 3)
	assert.Equal(t, "both", result.RuleResults[2].RuleName)
	assert.Equal(t, true, result.RuleResults[2].Value)

	require.Len(t, ts.publisher.results, 1)
	assert.Equal(t, "CHECK", ts.publisher.results[0].StepCode)
}

func TestExecuteStep_Errors(t *testing.T) {
	ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/workflows/PL/steps/NOPE/execute", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = post(t, ts.URL+"/api/v1/workflows/PL/steps/CHECK/execute", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExecuteStep_RequestIDHeader(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/workflows/PL/steps/CHECK/execute", bytes.NewBufferString(`{"loanAmount": 1, "loanTermMonths": 1}`))
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "from-header")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var result rfv1.StepResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "from-header", result.RequestID)
}

func TestRuleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/rules/r-amount/test", `{"loanAmount": 90000}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var outcome rule.Outcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))
	assert.Equal(t, rule.StatusSuccess, outcome.Status)
	assert.Equal(t, false, outcome.Value)

	resp = post(t, ts.URL+"/api/v1/rules/ghost/test", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = post(t, ts.URL+"/api/v1/rules/r-term/deactivate", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d, err := ts.catalog.GetRule(context.Background(), "r-term")
	require.NoError(t, err)
	assert.False(t, d.Active)

	resp = post(t, ts.URL+"/api/v1/rules/r-term/activate", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d, _ = ts.catalog.GetRule(context.Background(), "r-term")
	assert.True(t, d.Active)

	resp = post(t, ts.URL+"/api/v1/rules/ghost/activate", ``)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecutionsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/executions")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	store := &fixedStore{recs: []execlog.Record{{RuleName: "a"}, {RuleName: "b"}, {RuleName: "c"}}}
	ts = newTestServer(t, transport.WithExecutionLog(store))

	resp, err = http.Get(ts.URL + "/api/v1/executions?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	var recs []execlog.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
	assert.Len(t, recs, 2)

	bad, err := http.Get(ts.URL + "/api/v1/executions?limit=zero")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	post(t, ts.URL+"/api/v1/workflows/PL/steps/CHECK/execute", `{"loanAmount": 1, "loanTermMonths": 1}`)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	assert.Contains(t, buf.String(), "ruleflow_steps_total")
}

func TestEventPublisher(t *testing.T) {
	bus := &recordingBus{}
	pub := transport.NewEventPublisher(bus, logger.NewNopLogger())
	require.NoError(t, pub.Publish(context.Background(), &rfv1.StepResult{RequestID: "r", ProductCode: "PL", StepCode: "S", Approved: true}))
	require.Len(t, bus.events, 1)
	assert.Equal(t, events.StepPublished, bus.events[0].Type)
	assert.Equal(t, true, bus.events[0].Payload["approved"])
}

type recordingBus struct{ events []events.Event }

func (b *recordingBus) Emit(e events.Event) { b.events = append(b.events, e) }
