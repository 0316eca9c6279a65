// Package module holds the registry that maps rule type tags to variant
// factories.
package module

import (
	"fmt"
	"sort"
	"sync"

	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
)

// StaticRegistry is a concurrency-safe rule.Registry.
type StaticRegistry struct {
	factories map[string]rule.Factory
	mu        sync.RWMutex
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{factories: make(map[string]rule.Factory)}
}

func (r *StaticRegistry) Register(kind string, factory rule.Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if kind == "" {
		return rferrors.NewConfigError("variant registration error: kind cannot be empty", nil)
	}
	if factory == nil {
		return rferrors.NewConfigError(fmt.Sprintf("variant registration error for '%s': factory cannot be nil", kind), nil)
	}
	if _, exists := r.factories[kind]; exists {
		return rferrors.NewConfigError(fmt.Sprintf("variant registration error: duplicate kind '%s'", kind), nil)
	}
	r.factories[kind] = factory
	return nil
}

func (r *StaticRegistry) Get(kind string) (rule.Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, exists := r.factories[kind]
	if !exists {
		return nil, rferrors.NewVariantNotFoundError(kind)
	}
	return factory, nil
}

// List returns the registered kinds in sorted order.
func (r *StaticRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Has reports whether kind is registered.
func (r *StaticRegistry) Has(kind string) bool {
	_, err := r.Get(kind)
	return err == nil
}

var globalRegistry = NewStaticRegistry()

var _ rule.Registry = (*StaticRegistry)(nil)

// Register adds a factory to the process-wide registry. Variant packages
// call it from init; a failure is a programming error and panics.
func Register(kind string, factory rule.Factory) {
	if err := globalRegistry.Register(kind, factory); err != nil {
		panic(fmt.Errorf("failed to register rule variant '%s' globally: %w", kind, err))
	}
}

// DefaultRegistry is the registry populated by Register.
var DefaultRegistry rule.Registry = globalRegistry
