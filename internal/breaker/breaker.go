// Package breaker implements the per-rule circuit breaker. Breaker state is
// process wide and survives across step invocations.
package breaker

import (
	"sync"
	"time"
)

const (
	DefaultThreshold    = 5
	DefaultResetTimeout = 60 * time.Second
)

// State is the observable breaker state. Half-open is not represented: once
// the reset timeout has elapsed the next Allow re-arms the breaker as Closed.
type State string

const (
	Closed State = "closed"
	Open   State = "open"
)

// Config holds the thresholds of one breaker. Zero values mean defaults.
type Config struct {
	Threshold    int
	ResetTimeout time.Duration
}

func (c Config) normalized() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	return c
}

// Breaker counts consecutive failures of one rule.
type Breaker struct {
	mu          sync.Mutex
	cfg         Config
	failures    int
	lastFailure time.Time
	open        bool
	now         func() time.Time
}

// New returns a closed breaker.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.normalized(), now: time.Now}
}

// Allow reports whether an attempt may run. An open breaker whose reset
// timeout has elapsed is re-armed: it allows this attempt and the failure
// count is left one short of the threshold, so a failing trial reopens it.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		b.open = false
		b.failures = b.cfg.Threshold - 1
		return true
	}
	return false
}

// Record registers the final result of an attempt and reports whether this
// call opened the breaker.
func (b *Breaker) Record(success bool) (opened bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.failures = 0
		b.open = false
		return false
	}
	b.failures++
	b.lastFailure = b.now()
	if !b.open && b.failures >= b.cfg.Threshold {
		b.open = true
		return true
	}
	return false
}

// Reconfigure applies new thresholds, e.g. after a catalog reload. Counts
// are kept.
func (b *Breaker) Reconfigure(cfg Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg.normalized()
}

// Snapshot is a point-in-time copy of a breaker's counters.
type Snapshot struct {
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"lastFailure,omitempty"`
	Threshold   int       `json:"threshold"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{State: Closed, Failures: b.failures, LastFailure: b.lastFailure, Threshold: b.cfg.Threshold}
	if b.open {
		s.State = Open
	}
	return s
}

// Registry owns one breaker per rule name. Lookups never share a lock
// between rules.
type Registry struct {
	breakers sync.Map
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{now: time.Now}
}

// NewRegistryWithClock is for tests that need to move time.
func NewRegistryWithClock(now func() time.Time) *Registry {
	return &Registry{now: now}
}

// Get returns the breaker for name, creating it with cfg on first use. An
// existing breaker is reconfigured when cfg differs.
func (r *Registry) Get(name string, cfg Config) *Breaker {
	cfg = cfg.normalized()
	if existing, ok := r.breakers.Load(name); ok {
		b := existing.(*Breaker)
		b.mu.Lock()
		changed := b.cfg != cfg
		b.mu.Unlock()
		if changed {
			b.Reconfigure(cfg)
		}
		return b
	}
	b := New(cfg)
	b.now = r.now
	actual, _ := r.breakers.LoadOrStore(name, b)
	return actual.(*Breaker)
}

// Snapshots returns the state of every breaker created so far.
func (r *Registry) Snapshots() map[string]Snapshot {
	out := make(map[string]Snapshot)
	r.breakers.Range(func(key, value any) bool {
		out[key.(string)] = value.(*Breaker).Snapshot()
		return true
	})
	return out
}
