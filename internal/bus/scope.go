package bus

import "sync"

// Scope bundles bus subscriptions so they can be released together.
// Entering a conversation hands out a Scope; releasing it deregisters
// every listener the conversation registered, regardless of how
// navigation away was triggered. Release is idempotent.
type Scope struct {
	mu       sync.Mutex
	cancels  []func()
	released bool
}

// NewScope creates an empty subscription scope.
func NewScope() *Scope {
	return &Scope{}
}

// Subscribe registers a namespace subscription on b owned by this scope.
// If the scope is already released the subscription is cancelled
// immediately and a drained channel is returned.
func (s *Scope) Subscribe(b *Bus, namespace string, bufSize int) <-chan Event {
	ch, cancel := b.Subscribe(namespace, bufSize)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		cancel()
		return ch
	}
	s.cancels = append(s.cancels, cancel)
	return ch
}

// OnRelease registers an extra cleanup function run when the scope is released.
func (s *Scope) OnRelease(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		fn()
		return
	}
	s.cancels = append(s.cancels, fn)
}

// Release deregisters everything owned by the scope.
func (s *Scope) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Released reports whether the scope has been released.
func (s *Scope) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
