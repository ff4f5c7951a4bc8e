package bus

import (
	"strings"
	"sync"
)

// Bus fans events out to in-process subscribers. Delivery matches on a
// prefix of the event kind and never blocks the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*sub
	next int
}

type sub struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*sub)}
}

// Publish delivers evt to every subscriber whose prefix matches
// evt.Kind. A subscriber with a full buffer misses the event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(evt.Kind, s.prefix) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
		}
	}
}

// Subscribe registers interest in every kind starting with prefix, so
// "push." matches push.receiveMessage and friends. Events arrive on the
// returned channel, buffered to bufSize; the second return value
// removes the subscription. The channel is never closed.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &sub{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
