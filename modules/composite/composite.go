// Package composite implements the "composite" rule variant, which runs a
// list of other rules one after another through the engine.
package composite

import (
	"context"
	"fmt"
	"strings"

	"github.com/gxo-labs/ruleflow/internal/module"
	"github.com/gxo-labs/ruleflow/internal/paramutil"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

func init() {
	module.Register(rule.KindComposite, NewCompositeRule)
}

type chainKey struct{}

// CompositeRule executes its sub-rules sequentially with the full policy
// stack of the engine. The first sub-rule ending in ERROR stops the chain;
// the error carries the sub-results gathered so far, failing one included.
type CompositeRule struct {
	desc     rule.Descriptor
	ids      []string
	executor rule.Executor
	lookup   rule.Lookup
}

func NewCompositeRule(desc rule.Descriptor, deps rule.Dependencies) (rule.Variant, error) {
	ids := ParseIDs(desc.Script)
	if len(ids) == 0 {
		return nil, rferrors.NewConfigError(fmt.Sprintf("composite rule '%s' lists no sub-rules", desc.Name), nil)
	}
	if deps.Executor == nil || deps.Lookup == nil {
		return nil, rferrors.NewConfigError(fmt.Sprintf("composite rule '%s' requires an executor and a rule lookup", desc.Name), nil)
	}
	for _, id := range ids {
		if desc.ID != "" && id == desc.ID {
			return nil, rferrors.NewConfigError(fmt.Sprintf("composite rule '%s' references itself", desc.Name), nil)
		}
	}
	return &CompositeRule{desc: desc, ids: ids, executor: deps.Executor, lookup: deps.Lookup}, nil
}

// ParseIDs splits a sub-rule list on commas or semicolons.
func ParseIDs(script string) []string {
	fields := strings.FieldsFunc(script, func(r rune) bool { return r == ',' || r == ';' })
	ids := make([]string, 0, len(fields))
	for _, f := range fields {
		if id := strings.TrimSpace(f); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *CompositeRule) Kind() string { return rule.KindComposite }

// SubRuleIDs returns the sub-rule ids in execution order.
func (c *CompositeRule) SubRuleIDs() []string {
	return append([]string(nil), c.ids...)
}

func (c *CompositeRule) ValidateInput(input state.Reader) error {
	return paramutil.RequireKeys(input, c.desc.RequiredKeys...)
}

func (c *CompositeRule) Execute(ctx context.Context, input state.Reader) (interface{}, error) {
	chain, _ := ctx.Value(chainKey{}).([]string)
	if c.desc.ID != "" {
		for _, seen := range chain {
			if seen == c.desc.ID {
				return nil, rferrors.NewConfigError(fmt.Sprintf("composite cycle through rule '%s'", c.desc.ID), nil)
			}
		}
		chain = append(append([]string(nil), chain...), c.desc.ID)
		ctx = context.WithValue(ctx, chainKey{}, chain)
	}

	snapshot := input.GetAll()
	results := make([]rule.Outcome, 0, len(c.ids))
	for _, id := range c.ids {
		sub, err := c.lookup.GetRule(ctx, id)
		if err != nil {
			return nil, rferrors.NewPartialResultError(results, fmt.Errorf("sub-rule not found: %s", id))
		}
		outcome := c.executor.ExecuteRule(ctx, sub, snapshot)
		results = append(results, outcome)
		if outcome.Status == rule.StatusError {
			return nil, rferrors.NewPartialResultError(results,
				fmt.Errorf("sub-rule %s failed: %s", sub.Name, outcome.ErrorMessage))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return results, nil
}
