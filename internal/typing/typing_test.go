package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/mvilaca/parley/internal/bus"
	"go.uber.org/zap"
)

type mockEmitter struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockEmitter) Emit(event string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, event)
	return nil
}

func (m *mockEmitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func TestNotifyThrottlesBurst(t *testing.T) {
	mock := &mockEmitter{}
	tr := NewTracker(mock, nil, zap.NewNop(), WithThrottle(100*time.Millisecond))

	for i := 0; i < 5; i++ {
		tr.Notify("c1", "u1")
	}
	if got := mock.count(); got != 1 {
		t.Errorf("burst emitted %d typing events, want 1", got)
	}

	time.Sleep(150 * time.Millisecond)
	tr.Notify("c1", "u1")
	if got := mock.count(); got != 2 {
		t.Errorf("after throttle window emitted %d events, want 2", got)
	}
}

func TestNotifyThrottlePerConversation(t *testing.T) {
	mock := &mockEmitter{}
	tr := NewTracker(mock, nil, zap.NewNop(), WithThrottle(time.Minute))

	tr.Notify("c1", "u1")
	tr.Notify("c2", "u1")
	if got := mock.count(); got != 2 {
		t.Errorf("distinct conversations emitted %d events, want 2", got)
	}
}

func TestObserveDecays(t *testing.T) {
	tr := NewTracker(&mockEmitter{}, nil, zap.NewNop(), WithDecay(80*time.Millisecond))

	tr.Observe("c1", "u2")
	if who, ok := tr.Typist("c1"); !ok || who != "u2" {
		t.Fatalf("typist = (%q, %v), want (u2, true)", who, ok)
	}

	time.Sleep(150 * time.Millisecond)
	if _, ok := tr.Typist("c1"); ok {
		t.Error("indicator still lit after decay")
	}
}

func TestObserveExtendsTimer(t *testing.T) {
	tr := NewTracker(&mockEmitter{}, nil, zap.NewNop(), WithDecay(120*time.Millisecond))

	// Signal at t, again at t+60ms: the clear moves to t+180ms, not t+120ms.
	tr.Observe("c1", "u2")
	time.Sleep(60 * time.Millisecond)
	tr.Observe("c1", "u2")

	time.Sleep(90 * time.Millisecond) // t+150ms: original deadline passed
	if _, ok := tr.Typist("c1"); !ok {
		t.Fatal("indicator cleared at the original deadline despite extension")
	}

	time.Sleep(100 * time.Millisecond) // t+250ms: extended deadline passed
	if _, ok := tr.Typist("c1"); ok {
		t.Error("indicator still lit after extended decay")
	}
}

func TestObserveReplacesTypist(t *testing.T) {
	tr := NewTracker(&mockEmitter{}, nil, zap.NewNop(), WithDecay(200*time.Millisecond))

	tr.Observe("c1", "u2")
	tr.Observe("c1", "u3")
	if who, _ := tr.Typist("c1"); who != "u3" {
		t.Errorf("typist = %q, want u3", who)
	}
}

func TestObservePublishesChanges(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("typing.changed", 10)
	defer unsub()

	tr := NewTracker(&mockEmitter{}, b, zap.NewNop(), WithDecay(50*time.Millisecond))
	tr.Observe("c1", "u2")

	// One change for the set, one for the decay clear.
	for i := 0; i < 2; i++ {
		select {
		case evt := <-ch:
			if evt.Payload.(string) != "c1" {
				t.Errorf("payload = %v", evt.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing typing.changed event %d", i+1)
		}
	}
}

func TestReset(t *testing.T) {
	tr := NewTracker(&mockEmitter{}, nil, zap.NewNop(), WithDecay(time.Minute))
	tr.Observe("c1", "u2")
	tr.Reset()
	if _, ok := tr.Typist("c1"); ok {
		t.Error("typist survived Reset")
	}
}
