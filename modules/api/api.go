// Package api implements the "api" rule variant, which calls an HTTP
// endpoint and returns the decoded response body.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/propagation"

	"github.com/gxo-labs/ruleflow/internal/module"
	"github.com/gxo-labs/ruleflow/internal/paramutil"
	"github.com/gxo-labs/ruleflow/internal/secrets"
	"github.com/gxo-labs/ruleflow/internal/template"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

const (
	// BodyKey and HeadersKey are the context keys the request is built from.
	BodyKey    = "body"
	HeadersKey = "headers"

	defaultMaxResponseBytes = 1 << 20
	errorBodyPreview        = 256
)

var allowedMethods = map[string]struct{}{
	http.MethodGet: {}, http.MethodPost: {}, http.MethodPut: {}, http.MethodPatch: {}, http.MethodDelete: {},
}

func init() {
	module.Register(rule.KindAPI, NewAPIRule)
}

// APIRule renders desc.Script as the endpoint URL. Params:
//
//	method            HTTP method, POST when unset
//	headers           map of header templates, applied after the context
//	                  headers, which are sent verbatim
//	maxResponseBytes  response size limit, 1 MiB when unset
type APIRule struct {
	desc       rule.Descriptor
	client     *http.Client
	renderer   *template.Renderer
	method     string
	headers    map[string]string
	maxBody    int64
	propagator propagation.TextMapPropagator
}

func NewAPIRule(desc rule.Descriptor, deps rule.Dependencies) (rule.Variant, error) {
	endpoint := strings.TrimSpace(desc.Script)
	if endpoint == "" {
		return nil, rferrors.NewConfigError(fmt.Sprintf("api rule '%s': endpoint is not specified", desc.Name), nil)
	}
	renderer := template.NewRenderer(deps.Secrets, deps.Events)
	if err := renderer.Check(endpoint); err != nil {
		return nil, err
	}

	method, err := paramutil.GetStringOr(desc.Params, "method", http.MethodPost)
	if err != nil {
		return nil, err
	}
	method = strings.ToUpper(method)
	if _, ok := allowedMethods[method]; !ok {
		return nil, rferrors.NewConfigError(fmt.Sprintf("api rule '%s': unsupported method '%s'", desc.Name, method), nil)
	}

	headers, _, err := paramutil.GetOptionalStringMap(desc.Params, "headers")
	if err != nil {
		return nil, err
	}
	for name, value := range headers {
		if err := renderer.Check(value); err != nil {
			return nil, rferrors.NewConfigError(fmt.Sprintf("api rule '%s': header '%s'", desc.Name, name), err)
		}
	}

	maxBody := int64(defaultMaxResponseBytes)
	if n, ok, err := paramutil.GetOptionalInt(desc.Params, "maxResponseBytes"); err != nil {
		return nil, err
	} else if ok && n > 0 {
		maxBody = int64(n)
	}

	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &APIRule{
		desc:       desc,
		client:     client,
		renderer:   renderer,
		method:     method,
		headers:    headers,
		maxBody:    maxBody,
		propagator: propagation.TraceContext{},
	}, nil
}

func (a *APIRule) Kind() string { return rule.KindAPI }

// ValidateInput requires a body unless the request is a GET.
func (a *APIRule) ValidateInput(input state.Reader) error {
	if err := paramutil.RequireKeys(input, a.desc.RequiredKeys...); err != nil {
		return err
	}
	if a.method != http.MethodGet && !input.Has(BodyKey) {
		return rferrors.NewValidationError(fmt.Sprintf("missing required context keys: %s", BodyKey), nil)
	}
	return nil
}

func (a *APIRule) Execute(ctx context.Context, input state.Reader) (interface{}, error) {
	tracker := secrets.NewSecretTracker()
	data := input.GetAll()

	url, err := a.renderer.Render(ctx, strings.TrimSpace(a.desc.Script), data, tracker)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if a.method != http.MethodGet {
		payload, err := json.Marshal(data[BodyKey])
		if err != nil {
			return nil, rferrors.NewValidationError("request body is not JSON serializable", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, a.method, url, body)
	if err != nil {
		return nil, rferrors.NewValidationError(scrub(tracker, "invalid request: "+err.Error()), nil)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if raw, ok := data[HeadersKey]; ok && raw != nil {
		ctxHeaders, err := paramutil.ToStringMap(raw)
		if err != nil {
			return nil, rferrors.NewValidationError("context headers must be a map", err)
		}
		for name, value := range ctxHeaders {
			req.Header.Set(name, value)
		}
	}
	if err := a.applyHeaders(ctx, req, a.headers, data, tracker); err != nil {
		return nil, err
	}
	a.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.New(scrub(tracker, "request failed: "+err.Error()))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(raw)) > a.maxBody {
		return nil, fmt.Errorf("response exceeds %d bytes", a.maxBody)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		preview := string(raw)
		if len(preview) > errorBodyPreview {
			preview = preview[:errorBodyPreview] + "..."
		}
		return nil, errors.New(scrub(tracker, fmt.Sprintf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(preview))))
	}

	value := decodeBody(raw)
	redacted, _ := template.RedactTrackedSecrets(value, tracker)
	return redacted, nil
}

func (a *APIRule) applyHeaders(ctx context.Context, req *http.Request, headers map[string]string, data map[string]interface{}, tracker *secrets.SecretTracker) error {
	for name, tmpl := range headers {
		value, err := a.renderer.Render(ctx, tmpl, data, tracker)
		if err != nil {
			return err
		}
		req.Header.Set(name, value)
	}
	return nil
}

// decodeBody returns JSON documents decoded and anything else as a string.
// An empty body yields nil.
func decodeBody(raw []byte) interface{} {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err == nil {
		return v
	}
	return string(raw)
}

func scrub(tracker *secrets.SecretTracker, msg string) string {
	return tracker.Scrub(msg, template.RedactedSecretValue)
}
