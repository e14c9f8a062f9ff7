package stream

import (
	"sync"

	"github.com/scorepipe/scorepipe/internal/domain/model"
	"github.com/scorepipe/scorepipe/pkg/metrics"
)

// Default broadcaster configuration constants.
const (
	defaultSubscriberBuffer = 1024
)

// Broadcaster fans processed events out to registered subscribers. Delivery is
// best-effort per subscriber: a subscriber that cannot keep up has events
// dropped from its own buffer without stalling the workers or the other
// subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan model.DecodedEvent
	buffer      int
	closed      bool
}

// BroadcasterOption applies a configuration option to the Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithSubscriberBuffer sets the per-subscriber channel buffer size.
func WithSubscriberBuffer(n int) BroadcasterOption {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster(opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		subscribers: make(map[string]chan model.DecodedEvent),
		buffer:      defaultSubscriberBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a named subscriber and returns its event channel plus a
// cancel function. Cancel is idempotent; after cancel the channel is closed.
func (b *Broadcaster) Subscribe(name string) (<-chan model.DecodedEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.DecodedEvent, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subscribers[name] = ch
	metrics.UpdateBroadcastSubscribers(len(b.subscribers))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if existing, ok := b.subscribers[name]; ok && existing == ch {
				delete(b.subscribers, name)
				close(ch)
				metrics.UpdateBroadcastSubscribers(len(b.subscribers))
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking. Full
// subscriber buffers drop the event for that subscriber only.
func (b *Broadcaster) Publish(e model.DecodedEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for name, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			metrics.RecordBroadcastDrop(name)
		}
	}
	metrics.RecordBroadcastPublished()
}

// SubscriberCount returns the number of registered subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for name, ch := range b.subscribers {
		delete(b.subscribers, name)
		close(ch)
	}
	metrics.UpdateBroadcastSubscribers(0)
}
