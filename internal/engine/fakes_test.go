package engine_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gxo-labs/ruleflow/internal/module"
	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/events"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	rfstate "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

const fakeKind = "fake"

// fakeBody scripts the behaviour of one rule by name.
type fakeBody struct {
	exec     func(ctx context.Context, input rfstate.Reader) (interface{}, error)
	validate func(input rfstate.Reader) error
	fallback func(ctx context.Context, input rfstate.Reader) (interface{}, error)
	calls    atomic.Int32
}

type fakeVariant struct {
	body *fakeBody
}

func (v *fakeVariant) Execute(ctx context.Context, input rfstate.Reader) (interface{}, error) {
	v.body.calls.Add(1)
	if v.body.exec == nil {
		return "ok", nil
	}
	return v.body.exec(ctx, input)
}

func (v *fakeVariant) ValidateInput(input rfstate.Reader) error {
	if v.body.validate == nil {
		return nil
	}
	return v.body.validate(input)
}

func (v *fakeVariant) Kind() string { return fakeKind }

type fakeVariantWithFallback struct {
	fakeVariant
}

func (v *fakeVariantWithFallback) Fallback(ctx context.Context, input rfstate.Reader) (interface{}, error) {
	return v.body.fallback(ctx, input)
}

// fakeBodies is a name-keyed set of bodies backing the "fake" kind.
type fakeBodies struct {
	mu     sync.Mutex
	bodies map[string]*fakeBody
}

func newFakeBodies() *fakeBodies {
	return &fakeBodies{bodies: make(map[string]*fakeBody)}
}

func (f *fakeBodies) set(name string, b *fakeBody) *fakeBody {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[name] = b
	return b
}

func (f *fakeBodies) get(name string) *fakeBody {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bodies[name]
	if !ok {
		b = &fakeBody{}
		f.bodies[name] = b
	}
	return b
}

func (f *fakeBodies) registry() *module.StaticRegistry {
	reg := module.NewStaticRegistry()
	_ = reg.Register(fakeKind, func(desc rule.Descriptor, _ rule.Dependencies) (rule.Variant, error) {
		body := f.get(desc.Name)
		if body.fallback != nil {
			return &fakeVariantWithFallback{fakeVariant{body: body}}, nil
		}
		return &fakeVariant{body: body}, nil
	})
	_ = reg.Register("broken", func(desc rule.Descriptor, _ rule.Dependencies) (rule.Variant, error) {
		return nil, rferrors.NewConfigError("broken rule '"+desc.Name+"'", nil)
	})
	return reg
}

// fakeCatalog serves fixed steps keyed by "product/step".
type fakeCatalog struct {
	steps map[string][]rule.Descriptor
}

func (c *fakeCatalog) ListStepRules(_ context.Context, productCode, stepCode string) ([]rule.Descriptor, error) {
	descs, ok := c.steps[productCode+"/"+stepCode]
	if !ok {
		return nil, rferrors.NewNotFoundError("workflow step", productCode+"/"+stepCode)
	}
	out := make([]rule.Descriptor, len(descs))
	copy(out, descs)
	return out, nil
}

func (c *fakeCatalog) GetRule(_ context.Context, id string) (rule.Descriptor, error) {
	for _, descs := range c.steps {
		for _, d := range descs {
			if d.ID == id {
				return d, nil
			}
		}
	}
	return rule.Descriptor{}, rferrors.NewNotFoundError("rule", id)
}

// recordingBus keeps every emitted event.
type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Emit(ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) ofType(t events.EventType) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func fakeRule(name string, deps ...string) rule.Descriptor {
	return rule.Descriptor{
		ID:        "id-" + name,
		Name:      name,
		Type:      fakeKind,
		DependsOn: deps,
		Active:    true,
	}
}
