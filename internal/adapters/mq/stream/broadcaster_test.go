package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/scorepipe/scorepipe/internal/domain/model"
)

func TestBroadcaster_EveryEventOncePerSubscriber(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	chA, cancelA := b.Subscribe("a")
	chB, cancelB := b.Subscribe("b")
	defer cancelA()
	defer cancelB()

	const events = 50
	for i := 0; i < events; i++ {
		b.Publish(model.DecodedEvent{ID: fmt.Sprintf("e%d", i), Type: model.EventPoint})
	}

	for name, ch := range map[string]<-chan model.DecodedEvent{"a": chA, "b": chB} {
		seen := map[string]int{}
		for i := 0; i < events; i++ {
			select {
			case e := <-ch:
				seen[e.ID]++
			case <-time.After(time.Second):
				t.Fatalf("subscriber %s: timed out waiting for event %d", name, i)
			}
		}
		for id, n := range seen {
			if n != 1 {
				t.Errorf("subscriber %s: event %s delivered %d times", name, id, n)
			}
		}
		if len(seen) != events {
			t.Errorf("subscriber %s: got %d distinct events, want %d", name, len(seen), events)
		}
	}
}

func TestBroadcaster_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	b := NewBroadcaster(WithSubscriberBuffer(1))
	defer b.Close()

	slow, cancel := b.Subscribe("slow")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(model.DecodedEvent{ID: fmt.Sprintf("e%d", i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// Exactly one event fits the buffer; the rest were dropped.
	select {
	case e := <-slow:
		if e.ID != "e0" {
			t.Errorf("expected first event retained, got %s", e.ID)
		}
	default:
		t.Fatal("expected one buffered event")
	}
	select {
	case e := <-slow:
		t.Errorf("expected no further events, got %s", e.ID)
	default:
	}
}

func TestBroadcaster_Cancel(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, cancel := b.Subscribe("s")
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.SubscriberCount())
	}

	cancel()
	cancel() // idempotent

	if b.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after cancel, got %d", b.SubscriberCount())
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after cancel")
	}
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()
	ch, _ := b.Subscribe("s")

	b.Close()
	b.Close() // idempotent

	if _, ok := <-ch; ok {
		t.Error("expected channel closed after broadcaster close")
	}

	// Publishing after close is a no-op.
	b.Publish(model.DecodedEvent{ID: "late"})

	// Subscribing after close yields an already-closed channel.
	late, cancel := b.Subscribe("late")
	defer cancel()
	if _, ok := <-late; ok {
		t.Error("expected closed channel for post-close subscribe")
	}
}
