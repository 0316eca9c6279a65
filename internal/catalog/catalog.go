// Package catalog serves rule and workflow definitions to the engine from
// an in-memory snapshot that can be swapped atomically on reload.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gxo-labs/ruleflow/internal/config"
	rfv1 "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/events"
	rflog "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/log"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
)

// Step describes one workflow step of a product.
type Step struct {
	ProductCode string
	StepCode    string
	Name        string
	RuleIDs     []string
	Automated   bool
	Cron        string
	Input       map[string]interface{}
}

// Key is the step's "product/step" identifier.
func (s Step) Key() string { return stepKey(s.ProductCode, s.StepCode) }

func stepKey(product, step string) string { return product + "/" + step }

type snapshot struct {
	rules  map[string]rule.Descriptor
	ids    []string
	steps  map[string]Step
	order  []string
	policy config.ExecutionPolicy
}

// MemoryCatalog implements the engine's Catalog. Readers always see one
// complete snapshot; Swap replaces it in a single atomic store. Runtime
// activation changes made with SetActive survive reloads.
type MemoryCatalog struct {
	current atomic.Pointer[snapshot]

	mu        sync.RWMutex
	overrides map[string]bool

	bus events.Bus
	log rflog.Logger
}

var _ rfv1.Catalog = (*MemoryCatalog)(nil)

// New builds a catalog from a loaded config. bus may be nil.
func New(c *config.Catalog, bus events.Bus, log rflog.Logger) (*MemoryCatalog, error) {
	if log == nil {
		return nil, rferrors.NewConfigError("catalog requires a non-nil logger", nil)
	}
	m := &MemoryCatalog{
		overrides: make(map[string]bool),
		bus:       bus,
		log:       log.With("component", "Catalog"),
	}
	if err := m.Swap(c); err != nil {
		return nil, err
	}
	return m, nil
}

// Swap installs c as the current snapshot. On error the previous snapshot
// stays in place.
func (m *MemoryCatalog) Swap(c *config.Catalog) error {
	if c == nil {
		return rferrors.NewConfigError("catalog cannot be nil", nil)
	}
	snap := &snapshot{
		rules: make(map[string]rule.Descriptor, len(c.Rules)),
		steps: make(map[string]Step),
	}
	for i := range c.Rules {
		d, err := c.Rules[i].Descriptor()
		if err != nil {
			return rferrors.NewConfigError(fmt.Sprintf("rule '%s'", c.Rules[i].Name), err)
		}
		snap.rules[d.ID] = d
		snap.ids = append(snap.ids, d.ID)
	}
	for _, p := range c.Products {
		for _, s := range p.Steps {
			step := Step{
				ProductCode: p.Code,
				StepCode:    s.Code,
				Name:        s.Name,
				RuleIDs:     append([]string(nil), s.Rules...),
				Automated:   s.Automated,
				Cron:        s.Cron,
				Input:       s.Input,
			}
			snap.steps[step.Key()] = step
			snap.order = append(snap.order, step.Key())
		}
	}
	policy, err := c.Policy.ExecutionPolicy()
	if err != nil {
		return rferrors.NewConfigError("catalog policy", err)
	}
	snap.policy = policy

	m.current.Store(snap)
	m.log.Infof("Catalog loaded: %d rules, %d workflow steps.", len(snap.rules), len(snap.steps))
	if m.bus != nil {
		m.bus.Emit(events.Event{
			Type:      events.CatalogLoaded,
			Timestamp: time.Now(),
			Payload:   map[string]interface{}{"rules": len(snap.rules), "steps": len(snap.steps), "path": c.FilePath},
		})
	}
	return nil
}

func (m *MemoryCatalog) withOverride(d rule.Descriptor) rule.Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if active, ok := m.overrides[d.ID]; ok {
		d.Active = active
	}
	return d
}

// ListStepRules returns every rule of the step in listed order, inactive
// ones included.
func (m *MemoryCatalog) ListStepRules(_ context.Context, productCode, stepCode string) ([]rule.Descriptor, error) {
	snap := m.current.Load()
	step, ok := snap.steps[stepKey(productCode, stepCode)]
	if !ok {
		return nil, rferrors.NewNotFoundError("workflow step", stepKey(productCode, stepCode))
	}
	out := make([]rule.Descriptor, 0, len(step.RuleIDs))
	for _, id := range step.RuleIDs {
		d, ok := snap.rules[id]
		if !ok {
			return nil, rferrors.NewConfigError(fmt.Sprintf("step '%s' references unknown rule id '%s'", step.Key(), id), nil)
		}
		out = append(out, m.withOverride(d))
	}
	return out, nil
}

// ListActiveRules is ListStepRules without the inactive rules.
func (m *MemoryCatalog) ListActiveRules(ctx context.Context, productCode, stepCode string) ([]rule.Descriptor, error) {
	all, err := m.ListStepRules(ctx, productCode, stepCode)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, d := range all {
		if d.Active {
			active = append(active, d)
		}
	}
	return active, nil
}

func (m *MemoryCatalog) GetRule(_ context.Context, id string) (rule.Descriptor, error) {
	d, ok := m.current.Load().rules[id]
	if !ok {
		return rule.Descriptor{}, rferrors.NewNotFoundError("rule", id)
	}
	return m.withOverride(d), nil
}

// SetActive activates or deactivates a rule until the process exits.
func (m *MemoryCatalog) SetActive(id string, active bool) error {
	if _, ok := m.current.Load().rules[id]; !ok {
		return rferrors.NewNotFoundError("rule", id)
	}
	m.mu.Lock()
	m.overrides[id] = active
	m.mu.Unlock()
	m.log.Infof("Rule %s set active=%t.", id, active)
	return nil
}

// Rules returns every rule in catalog order.
func (m *MemoryCatalog) Rules() []rule.Descriptor {
	snap := m.current.Load()
	out := make([]rule.Descriptor, 0, len(snap.ids))
	for _, id := range snap.ids {
		out = append(out, m.withOverride(snap.rules[id]))
	}
	return out
}

// Steps returns every workflow step in catalog order.
func (m *MemoryCatalog) Steps() []Step {
	snap := m.current.Load()
	out := make([]Step, 0, len(snap.order))
	for _, k := range snap.order {
		out = append(out, snap.steps[k])
	}
	return out
}

// Step looks up a single workflow step.
func (m *MemoryCatalog) Step(productCode, stepCode string) (Step, bool) {
	s, ok := m.current.Load().steps[stepKey(productCode, stepCode)]
	return s, ok
}

// Policy is the execution policy declared by the current catalog.
func (m *MemoryCatalog) Policy() config.ExecutionPolicy {
	return m.current.Load().policy
}

// AutomatedSteps returns the steps the cron trigger should schedule, sorted
// by key.
func (m *MemoryCatalog) AutomatedSteps() []Step {
	var out []Step
	for _, s := range m.Steps() {
		if s.Automated && s.Cron != "" {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
