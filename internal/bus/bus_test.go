package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Publish(Event{Kind: "session.status_changed", At: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "session.status_changed" {
			t.Errorf("got kind %q, want session.status_changed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("push.", 10)
	defer unsub()

	b.Publish(Event{Kind: "session.status_changed"})
	b.Publish(Event{Kind: "push.receiveMessage"})

	select {
	case evt := <-ch:
		if evt.Kind != "push.receiveMessage" {
			t.Errorf("got kind %q, want push.receiveMessage", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the session event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	b.Publish(Event{Kind: "session.status_changed"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}

func TestScopeReleasesAllSubscriptions(t *testing.T) {
	b := New()
	scope := NewScope()
	ch1 := scope.Subscribe(b, "push.", 10)
	ch2 := scope.Subscribe(b, "typing.", 10)

	scope.Release()

	b.Publish(Event{Kind: "push.receiveMessage"})
	b.Publish(Event{Kind: "typing.changed"})

	select {
	case evt := <-ch1:
		t.Errorf("received event after scope release: %v", evt)
	case evt := <-ch2:
		t.Errorf("received event after scope release: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestScopeReleaseIdempotent(t *testing.T) {
	b := New()
	scope := NewScope()
	calls := 0
	scope.OnRelease(func() { calls++ })
	_ = scope.Subscribe(b, "push.", 1)

	scope.Release()
	scope.Release()

	if calls != 1 {
		t.Errorf("cleanup ran %d times, want 1", calls)
	}
	if !scope.Released() {
		t.Error("scope not marked released")
	}
}

func TestScopeSubscribeAfterRelease(t *testing.T) {
	b := New()
	scope := NewScope()
	scope.Release()

	ch := scope.Subscribe(b, "push.", 1)
	b.Publish(Event{Kind: "push.receiveMessage"})

	select {
	case evt := <-ch:
		t.Errorf("late subscription received event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: subscription was cancelled immediately.
	}
}
