package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishThenNext(t *testing.T) {
	b := New()
	defer b.Close()

	b.Publish(Event{Kind: KindConversation, CharacterID: "char_a"})
	b.Publish(Event{Kind: KindMoments})

	evt, ok := b.Next(context.Background())
	if !ok || evt.Kind != KindConversation || evt.CharacterID != "char_a" {
		t.Fatalf("first event = %+v ok=%v", evt, ok)
	}
	evt, ok = b.Next(context.Background())
	if !ok || evt.Kind != KindMoments || evt.CharacterID != "" {
		t.Fatalf("second event = %+v ok=%v", evt, ok)
	}
}

func TestNextHonorsContext(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, ok := b.Next(ctx); ok {
		t.Fatal("Next returned an event from an empty bus")
	}
}

func TestCloseDrainsAndStops(t *testing.T) {
	b := New()
	b.Publish(Event{Kind: KindDiary})
	b.Close()

	// Buffered events survive the close.
	evt, ok := b.Next(context.Background())
	if !ok || evt.Kind != KindDiary {
		t.Fatalf("buffered event lost: %+v ok=%v", evt, ok)
	}
	if _, ok := b.Next(context.Background()); ok {
		t.Fatal("Next reported an event after drain on a closed bus")
	}
}

func TestPublishAfterCloseIsIgnored(t *testing.T) {
	b := New()
	b.Close()

	b.Publish(Event{Kind: KindStatus})
	if _, ok := b.Next(context.Background()); ok {
		t.Fatal("publish after close enqueued an event")
	}
	// Close is idempotent.
	b.Close()
}

func TestFullBufferDropsAndCounts(t *testing.T) {
	b := New()
	defer b.Close()

	for i := 0; i < 101; i++ {
		b.Publish(Event{Kind: KindMemory})
	}
	if got := b.Dropped(); got != 1 {
		t.Errorf("dropped = %d", got)
	}
}
