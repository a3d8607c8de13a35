package events

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
)

// PatternAll subscribes to every event.
const PatternAll = "**"

// Bus defines the interface for event publishing.
type Bus interface {
	// Publish sends an event to all subscribers whose pattern matches
	// the event type. Non-blocking: a subscriber with a full buffer
	// misses the event and the drop counter increments.
	Publish(event Event)
	// Subscribe returns a channel that receives events whose type
	// matches the glob-like pattern, e.g. "task.*" or "guardian.**".
	Subscribe(pattern string) <-chan Event
	// Unsubscribe removes a subscription channel.
	Unsubscribe(pattern string, ch <-chan Event)
	// Close shuts down the bus and all subscriptions.
	Close()
}

// MemoryBus is an in-process implementation of Bus.
type MemoryBus struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
	bufferSize  int
	dropped     atomic.Int64
	logger      *slog.Logger
	closed      bool
}

// BusOption configures a MemoryBus.
type BusOption func(*MemoryBus)

// WithBufferSize sets the channel buffer size for subscribers.
func WithBufferSize(size int) BusOption {
	return func(b *MemoryBus) {
		b.bufferSize = size
	}
}

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *MemoryBus) {
		b.logger = logger
	}
}

// NewMemoryBus creates a new in-process bus.
func NewMemoryBus(opts ...BusOption) *MemoryBus {
	b := &MemoryBus{
		subscribers: make(map[string][]chan Event),
		bufferSize:  256,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends an event to all matching subscribers.
// Non-blocking: subscribers with full buffers are skipped and counted.
func (b *MemoryBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for pattern, subs := range b.subscribers {
		if !MatchTopic(pattern, event.Type) {
			continue
		}
		for _, ch := range subs {
			select {
			case ch <- event:
			default:
				n := b.dropped.Add(1)
				b.logger.Warn("event dropped: subscriber buffer full",
					"event_type", event.Type, "pattern", pattern, "total_dropped", n)
			}
		}
	}
}

// Subscribe returns a channel receiving events matching pattern.
func (b *MemoryBus) Subscribe(pattern string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, b.bufferSize)
	b.subscribers[pattern] = append(b.subscribers[pattern], ch)
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (b *MemoryBus) Unsubscribe(pattern string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[pattern]
	for i, sub := range subs {
		if sub == ch {
			b.subscribers[pattern] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}

	if len(b.subscribers[pattern]) == 0 {
		delete(b.subscribers, pattern)
	}
}

// Close shuts down the bus and closes all subscription channels.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for pattern, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, pattern)
	}
}

// Dropped returns the number of events dropped due to full buffers.
func (b *MemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of subscribers for a pattern.
func (b *MemoryBus) SubscriberCount(pattern string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[pattern])
}

// MatchTopic reports whether a dot-namespaced topic matches a glob-like
// pattern. "task.*" matches one segment ("task.completed"), "guardian.**"
// matches any depth ("guardian.intervention.started").
func MatchTopic(pattern, topic string) bool {
	if pattern == PatternAll {
		return true
	}
	ok, err := doublestar.Match(
		strings.ReplaceAll(pattern, ".", "/"),
		strings.ReplaceAll(topic, ".", "/"),
	)
	if err != nil {
		return false
	}
	return ok
}

// ValidPattern reports whether a subscription pattern is well-formed.
func ValidPattern(pattern string) bool {
	return doublestar.ValidatePattern(strings.ReplaceAll(pattern, ".", "/"))
}
