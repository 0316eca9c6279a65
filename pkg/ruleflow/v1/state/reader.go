package state

import "errors"

// ErrKeyAlreadyWritten is returned when a second write targets a key of the
// execution context. Every key has exactly one writer per step invocation.
var ErrKeyAlreadyWritten = errors.New("execution context key already written")

// Reader is the read-only view of a step's execution context that rule
// variants receive. Implementations must be safe for concurrent reads.
//
// Values returned by Get and GetAll are shared with other readers and MUST be
// treated as immutable.
type Reader interface {
	// Get returns the value stored under key and whether it exists.
	Get(key string) (interface{}, bool)
	// Has reports whether key exists.
	Has(key string) bool
	// GetAll returns a shallow snapshot of the whole context.
	GetAll() map[string]interface{}
}

// MapReader adapts a plain map to Reader. It does no locking and is meant for
// inputs that are never mutated after construction (tests, ad-hoc execution).
type MapReader map[string]interface{}

func (m MapReader) Get(key string) (interface{}, bool) {
	v, ok := m[key]
	return v, ok
}

func (m MapReader) Has(key string) bool {
	_, ok := m[key]
	return ok
}

func (m MapReader) GetAll() map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
