package breaker_test

import (
	"sync"
	"testing"
	"time"

	"github.com/gxo-labs/ruleflow/internal/breaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBreakerOpensAtThresholdAndReArms(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	reg := breaker.NewRegistryWithClock(clock.Now)
	b := reg.Get("creditCheck", breaker.Config{Threshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		require.True(t, b.Allow())
		assert.False(t, b.Record(false))
	}
	require.True(t, b.Allow())
	assert.True(t, b.Record(false), "third failure opens the breaker")

	assert.False(t, b.Allow())
	clock.Advance(59 * time.Second)
	assert.False(t, b.Allow())

	clock.Advance(time.Second)
	assert.True(t, b.Allow(), "reset timeout elapsed")
	assert.Equal(t, breaker.Closed, b.Snapshot().State)

	assert.True(t, b.Record(false), "a failing trial reopens immediately")
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResets(t *testing.T) {
	b := breaker.New(breaker.Config{Threshold: 2})
	b.Record(false)
	b.Record(true)
	assert.Equal(t, 0, b.Snapshot().Failures)

	assert.False(t, b.Record(false))
	assert.True(t, b.Record(false))
	assert.Equal(t, breaker.Open, b.Snapshot().State)
}

func TestTrialSuccessClosesFully(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	reg := breaker.NewRegistryWithClock(clock.Now)
	b := reg.Get("r", breaker.Config{Threshold: 2, ResetTimeout: time.Second})
	b.Record(false)
	b.Record(false)
	clock.Advance(time.Second)

	require.True(t, b.Allow())
	b.Record(true)
	assert.False(t, b.Record(false), "one failure after a clean trial does not reopen")
	assert.True(t, b.Allow())
}

func TestDefaults(t *testing.T) {
	b := breaker.New(breaker.Config{})
	s := b.Snapshot()
	assert.Equal(t, breaker.DefaultThreshold, s.Threshold)
	for i := 0; i < breaker.DefaultThreshold-1; i++ {
		assert.False(t, b.Record(false))
	}
	assert.True(t, b.Record(false))
}

func TestRegistryIsPerName(t *testing.T) {
	reg := breaker.NewRegistry()
	a := reg.Get("a", breaker.Config{Threshold: 1})
	assert.Same(t, a, reg.Get("a", breaker.Config{Threshold: 1}))

	a.Record(false)
	assert.False(t, a.Allow())
	assert.True(t, reg.Get("b", breaker.Config{Threshold: 1}).Allow())

	snaps := reg.Snapshots()
	assert.Equal(t, breaker.Open, snaps["a"].State)
	assert.Equal(t, breaker.Closed, snaps["b"].State)
}

func TestRegistryReconfigures(t *testing.T) {
	reg := breaker.NewRegistry()
	b := reg.Get("a", breaker.Config{Threshold: 5})
	b.Record(false)
	reg.Get("a", breaker.Config{Threshold: 2})
	assert.True(t, b.Record(false))
}
