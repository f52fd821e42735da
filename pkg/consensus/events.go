package consensus

import (
	"sync"

	"go.uber.org/zap"

	"compute_consensus/pkg/data"
)

const defaultEventBuffer = 1024

// eventBus carries typed consensus events to the external consumer. Publishing
// never blocks the core; if the consumer falls behind, events are dropped and
// counted.
type eventBus struct {
	ch      chan data.Event
	logger  *zap.Logger
	mu      sync.Mutex
	dropped uint64
	closed  bool
}

func newEventBus(size int, logger *zap.Logger) *eventBus {
	if size <= 0 {
		size = defaultEventBuffer
	}
	return &eventBus{
		ch:     make(chan data.Event, size),
		logger: logger,
	}
}

// Publish enqueues an event without blocking
func (b *eventBus) Publish(evt data.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	select {
	case b.ch <- evt:
	default:
		b.dropped++
		b.logger.Warn("Event buffer full, dropping event",
			zap.String("type", string(evt.Type)),
			zap.Uint64("dropped", b.dropped))
	}
}

// Events returns the outbound event channel
func (b *eventBus) Events() <-chan data.Event {
	return b.ch
}

// Dropped returns the number of events discarded due to backpressure
func (b *eventBus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close stops the bus; subsequent publishes are discarded
func (b *eventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}
