package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/events"
	rflog "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/log"
)

const defaultBufferSize = 256

// Handler consumes events delivered by a ChannelEventBus.
type Handler interface {
	HandleEvent(ctx context.Context, event events.Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event events.Event)

func (f HandlerFunc) HandleEvent(ctx context.Context, event events.Event) { f(ctx, event) }

// ChannelEventBus is an in-process bus backed by a buffered channel. Emit
// never blocks; when the buffer is full the event is dropped and counted.
// Run delivers buffered events to the subscribed handlers, one at a time.
type ChannelEventBus struct {
	channel  chan events.Event
	log      rflog.Logger
	mu       sync.RWMutex
	handlers []Handler
	dropped  atomic.Int64
	closeMu  sync.RWMutex
	closed   bool
}

// NewChannelEventBus panics on a nil logger. Non-positive sizes use a default.
func NewChannelEventBus(bufferSize int, log rflog.Logger) *ChannelEventBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if log == nil {
		panic("ChannelEventBus requires a non-nil logger")
	}
	return &ChannelEventBus{
		channel: make(chan events.Event, bufferSize),
		log:     log.With("component", "ChannelEventBus"),
	}
}

// Subscribe adds h to the handlers invoked by Run.
func (c *ChannelEventBus) Subscribe(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *ChannelEventBus) Emit(event events.Event) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.channel <- event:
	default:
		c.dropped.Add(1)
		c.log.Warnf("Event channel buffer full, dropping event type '%s'", event.Type)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (c *ChannelEventBus) Dropped() int64 {
	return c.dropped.Load()
}

// Run dispatches events until ctx is done or the bus is closed. After Close
// it drains what is still buffered before returning.
func (c *ChannelEventBus) Run(ctx context.Context) {
	for {
		select {
		case event, ok := <-c.channel:
			if !ok {
				return
			}
			c.dispatch(ctx, event)
		case <-ctx.Done():
			c.log.Debugf("Context cancelled, stopping event dispatch.")
			return
		}
	}
}

func (c *ChannelEventBus) dispatch(ctx context.Context, event events.Event) {
	c.mu.RLock()
	handlers := c.handlers
	c.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Errorf("Event handler panicked on '%s': %v", event.Type, r)
				}
			}()
			h.HandleEvent(ctx, event)
		}()
	}
}

// Close stops accepting events and lets Run drain the buffer and exit.
// Emit after Close is a no-op.
func (c *ChannelEventBus) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.channel)
	}
}

var _ events.Bus = (*ChannelEventBus)(nil)
