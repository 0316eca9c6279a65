package composite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxo-labs/ruleflow/internal/engine"
	"github.com/gxo-labs/ruleflow/internal/logger"
	"github.com/gxo-labs/ruleflow/internal/module"
	"github.com/gxo-labs/ruleflow/modules/composite"
	"github.com/gxo-labs/ruleflow/modules/script"
	rfv1 "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

type mapLookup map[string]rule.Descriptor

func (m mapLookup) GetRule(_ context.Context, id string) (rule.Descriptor, error) {
	d, ok := m[id]
	if !ok {
		return rule.Descriptor{}, rferrors.NewNotFoundError("rule", id)
	}
	return d, nil
}

// scriptedExecutor returns canned outcomes and records which rules ran.
type scriptedExecutor struct {
	outcomes map[string]rule.Outcome
	calls    []string
}

func (s *scriptedExecutor) ExecuteRule(_ context.Context, desc rule.Descriptor, _ map[string]interface{}) rule.Outcome {
	s.calls = append(s.calls, desc.ID)
	o, ok := s.outcomes[desc.ID]
	if !ok {
		o = rule.Outcome{Status: rule.StatusSuccess}
	}
	o.RuleID = desc.ID
	o.RuleName = desc.Name
	return o
}

func subRules(ids ...string) mapLookup {
	m := mapLookup{}
	for _, id := range ids {
		m[id] = rule.Descriptor{ID: id, Name: "sub-" + id, Type: rule.KindScript, Active: true}
	}
	return m
}

func TestParseIDs(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3"}, composite.ParseIDs(" 1, 2;3 ;"))
	assert.Empty(t, composite.ParseIDs(" ; , "))
}

func TestCompositeRule_StopsAtFirstError(t *testing.T) {
	exec := &scriptedExecutor{outcomes: map[string]rule.Outcome{
		"2": {Status: rule.StatusError, ErrorMessage: "boom"},
	}}
	v, err := composite.NewCompositeRule(
		rule.Descriptor{ID: "c", Name: "bundle", Script: "1,2,3"},
		rule.Dependencies{Executor: exec, Lookup: subRules("1", "2", "3")},
	)
	require.NoError(t, err)

	out, err := v.Execute(context.Background(), state.MapReader{})
	assert.Nil(t, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"1", "2"}, exec.calls)

	partial, ok := rferrors.PartialValue(err)
	require.True(t, ok)
	results := partial.([]rule.Outcome)
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].RuleID)
	assert.Equal(t, rule.StatusError, results[1].Status)
}

func TestCompositeRule_CollectsAllResults(t *testing.T) {
	exec := &scriptedExecutor{outcomes: map[string]rule.Outcome{
		"b": {Status: rule.StatusTimeout},
	}}
	v, err := composite.NewCompositeRule(
		rule.Descriptor{ID: "c", Name: "bundle", Script: "a;b"},
		rule.Dependencies{Executor: exec, Lookup: subRules("a", "b")},
	)
	require.NoError(t, err)

	out, err := v.Execute(context.Background(), state.MapReader{})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestCompositeRule_MissingSubRule(t *testing.T) {
	exec := &scriptedExecutor{}
	v, err := composite.NewCompositeRule(
		rule.Descriptor{ID: "c", Name: "bundle", Script: "a,ghost"},
		rule.Dependencies{Executor: exec, Lookup: subRules("a")},
	)
	require.NoError(t, err)

	_, err = v.Execute(context.Background(), state.MapReader{})
	require.Error(t, err)
	assert.Equal(t, "sub-rule not found: ghost", err.Error())
	partial, _ := rferrors.PartialValue(err)
	assert.Len(t, partial, 1)
}

func TestNewCompositeRule_RejectsBadDescriptors(t *testing.T) {
	deps := rule.Dependencies{Executor: &scriptedExecutor{}, Lookup: subRules("a")}
	tests := []struct {
		name string
		desc rule.Descriptor
		deps rule.Dependencies
	}{
		{"empty list", rule.Descriptor{Name: "c", Script: " , "}, deps},
		{"self reference", rule.Descriptor{ID: "c", Name: "c", Script: "a,c"}, deps},
		{"no executor", rule.Descriptor{Name: "c", Script: "a"}, rule.Dependencies{Lookup: subRules("a")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := composite.NewCompositeRule(tt.desc, tt.deps)
			assert.True(t, rferrors.IsConfig(err))
		})
	}
}

// The composite goes through the real engine: sub-rule 2 divides by zero,
// so 3 never runs and the composite value holds the first two results.
func TestCompositeRule_ThroughEngine(t *testing.T) {
	registry := module.NewStaticRegistry()
	require.NoError(t, registry.Register(rule.KindScript, script.NewScriptRule))
	require.NoError(t, registry.Register(rule.KindComposite, composite.NewCompositeRule))

	keys := []string{"amount", "zero"}
	lookup := mapLookup{
		"1": {ID: "1", Name: "plus-one", Type: rule.KindScript, Script: "amount + 1", RequiredKeys: keys, Active: true},
		"2": {ID: "2", Name: "divide", Type: rule.KindScript, Script: "amount / zero", RequiredKeys: keys, Active: true},
		"3": {ID: "3", Name: "echo", Type: rule.KindScript, Script: "amount", RequiredKeys: keys, Active: true},
	}
	eng, err := engine.NewEngine(logger.NewNopLogger(),
		rfv1.WithRuleRegistry(registry),
		rfv1.WithCatalog(stepless{lookup}),
	)
	require.NoError(t, err)

	outcome := eng.ExecuteRule(context.Background(),
		rule.Descriptor{ID: "c", Name: "bundle", Type: rule.KindComposite, Script: "1,2,3", Active: true},
		map[string]interface{}{"amount": 10, "zero": 0},
	)

	require.Equal(t, rule.StatusError, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
	results, ok := outcome.Value.([]rule.Outcome)
	require.True(t, ok)
	require.Len(t, results, 2)
	assert.Equal(t, int64(11), results[0].Value)
	assert.Equal(t, rule.StatusError, results[1].Status)
	assert.Contains(t, results[1].ErrorMessage, "zero")
}

type stepless struct{ mapLookup }

func (stepless) ListStepRules(context.Context, string, string) ([]rule.Descriptor, error) {
	return nil, rferrors.NewNotFoundError("step", "")
}
