package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Emit(KindSessionConnected, "test")

	select {
	case evt := <-ch:
		if evt.Kind != KindSessionConnected {
			t.Errorf("got kind %q, want %q", evt.Kind, KindSessionConnected)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Emit(KindSessionConnected, nil)
	b.Emit(KindMessageStored, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageStored {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMessageStored)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the session event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("message.", 1)
	defer unsub()

	b.Emit(KindMessageStored, 1)
	b.Emit(KindMessageStored, 2)

	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 1)
	unsub()

	b.Emit(KindMessageStored, nil)

	select {
	case evt := <-ch:
		t.Errorf("event delivered after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
