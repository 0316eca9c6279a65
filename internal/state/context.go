// Package state holds the per-invocation execution context shared by the
// rules of one workflow step.
package state

import (
	"fmt"
	"sync"

	"github.com/gxo-labs/ruleflow/internal/util"
	rfstate "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/state"
)

// ExecutionContext is a string-keyed map with concurrent reads and
// serialized, write-once publication. Seed values are copied in on creation;
// published values are stored as given and must not be mutated afterwards.
type ExecutionContext struct {
	mu   sync.RWMutex
	data map[string]interface{}
}

// NewExecutionContext deep-copies seed so later changes by the caller are
// not observed by rules.
func NewExecutionContext(seed map[string]interface{}) *ExecutionContext {
	data := util.DeepCopyMap(seed)
	if data == nil {
		data = make(map[string]interface{})
	}
	return &ExecutionContext{data: data}
}

func (c *ExecutionContext) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *ExecutionContext) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *ExecutionContext) GetAll() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// Publish stores value under key. A key can be written only once; a second
// write returns an error wrapping rfstate.ErrKeyAlreadyWritten.
func (c *ExecutionContext) Publish(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.data[key]; exists {
		return fmt.Errorf("%w: %s", rfstate.ErrKeyAlreadyWritten, key)
	}
	c.data[key] = value
	return nil
}

// Drop removes seed keys before execution starts. It is used to keep caller
// input from shadowing keys that rules will publish.
func (c *ExecutionContext) Drop(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
}

var _ rfstate.Reader = (*ExecutionContext)(nil)
