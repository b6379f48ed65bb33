package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EventKind names the slice of state a notification refers to.
type EventKind string

const (
	KindConversation EventKind = "conversation"
	KindContacts     EventKind = "contacts"
	KindMoments      EventKind = "moments"
	KindDiary        EventKind = "diary"
	KindMemory       EventKind = "memory"
	KindStatus       EventKind = "status"
)

// Event is a state-changed notification for the UI collaborator.
// CharacterID is set for per-character kinds and empty for global ones.
type Event struct {
	Kind        EventKind
	CharacterID string
}

const publishTimeout = 100 * time.Millisecond

// Bus fans state-change notifications out to the UI layer. Publishing
// never blocks the core for long: a full buffer drops the event after
// a short timeout and counts the drop. A dropped notification only
// costs a re-render, never data.
type Bus struct {
	events  chan Event
	closed  bool
	dropped atomic.Uint64
	mu      sync.RWMutex
}

// New creates a bus with a bounded buffer.
func New() *Bus {
	return &Bus{events: make(chan Event, 100)}
}

// Publish enqueues a notification.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.events <- evt:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.events <- evt:
		case <-timer.C:
			b.dropped.Add(1)
		}
	}
}

// Next blocks for the next notification; ok is false once the bus is
// closed or ctx is done.
func (b *Bus) Next(ctx context.Context) (Event, bool) {
	select {
	case evt, ok := <-b.events:
		if !ok {
			return Event{}, false
		}
		return evt, true
	case <-ctx.Done():
		return Event{}, false
	}
}

// Close shuts the bus down. Later publishes are silently ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.events)
}

// Dropped reports how many notifications were discarded under
// backpressure.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
