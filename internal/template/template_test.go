package template_test

import (
	"context"
	"testing"

	"github.com/gxo-labs/ruleflow/internal/events"
	"github.com/gxo-labs/ruleflow/internal/secrets"
	"github.com/gxo-labs/ruleflow/internal/template"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSecrets map[string]string

func (s staticSecrets) GetSecret(_ context.Context, key string) (string, bool, error) {
	v, ok := s[key]
	return v, ok, nil
}

func TestRenderEndpoint(t *testing.T) {
	r := template.NewRenderer(nil, events.NewNoOpEventBus())
	data := map[string]interface{}{"customerId": "C 42", "applicant": map[string]interface{}{"id": 7}}

	out, err := r.Render(context.Background(), "https://bureau/score/{{ urlquery .customerId }}?a={{ .applicant.id }}", data, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://bureau/score/C+42?a=7", out)

	out, err = r.Render(context.Background(), "no template here", data, nil)
	require.NoError(t, err)
	assert.Equal(t, "no template here", out)
}

func TestRenderMissingKeyIsValidationError(t *testing.T) {
	r := template.NewRenderer(nil, nil)
	_, err := r.Render(context.Background(), "{{ .missing }}", map[string]interface{}{}, nil)
	var valErr *rferrors.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestRenderParseErrorIsConfigError(t *testing.T) {
	r := template.NewRenderer(nil, nil)
	_, err := r.Render(context.Background(), "{{ .broken ", nil, nil)
	assert.True(t, rferrors.IsConfig(err))
	assert.True(t, rferrors.IsConfig(r.Check("{{ if }}")))
}

func TestRenderSecretIsTracked(t *testing.T) {
	r := template.NewRenderer(staticSecrets{"token": "s3cr3t"}, nil)
	tracker := secrets.NewSecretTracker()

	out, err := r.Render(context.Background(), "Bearer {{ secret \"token\" }}", nil, tracker)
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cr3t", out)
	assert.True(t, tracker.IsTracked("s3cr3t"))

	_, err = r.Render(context.Background(), "{{ secret \"nope\" }}", nil, tracker)
	assert.ErrorContains(t, err, "secret 'nope' not found")
}

func TestVariables(t *testing.T) {
	r := template.NewRenderer(nil, nil)
	vars, err := r.Variables("{{ .b.x }}/{{ if .a }}{{ .c }}{{ end }}/{{ env \"HOME\" }}")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, vars)
}
