package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()

	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: "task.completed"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != "task.completed" {
				t.Fatalf("subscriber %d: got type %q, want task.completed", i, e.Type)
			}
			if e.Time.IsZero() {
				t.Fatalf("subscriber %d: Time not stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event", i)
		}
	}
}

func TestSubscribeToFiltersTypes(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.SubscribeTo(4, "task.failed")
	defer unsub()

	b.Publish(Event{Type: "task.completed"})
	b.Publish(Event{Type: "task.failed"})

	select {
	case e := <-ch:
		if e.Type != "task.failed" {
			t.Fatalf("got type %q, want task.failed", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event %q", e.Type)
	default:
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	b.Publish(Event{Type: "a"})

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
}
