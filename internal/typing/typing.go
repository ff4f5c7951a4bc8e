package typing

import (
	"sync"
	"time"

	"github.com/mvilaca/parley/internal/bus"
	"go.uber.org/zap"
)

const (
	// DefaultDecay is how long a remote typing indicator stays lit after
	// the last signal.
	DefaultDecay = 2 * time.Second
	// DefaultThrottle caps outbound typing emits to one per burst. It
	// must stay below the decay so a continuous burst never flickers on
	// the remote side.
	DefaultThrottle = time.Second
)

// Emitter is the outbound half of the transport the tracker needs.
type Emitter interface {
	Emit(event string, payload any) error
}

type typingSignal struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
}

type entry struct {
	senderID string
	timer    *time.Timer
	expiry   time.Time
}

// Tracker debounces local typing into outbound signals and decays
// remote typing state. At most one remote typist is tracked per
// conversation; a fresh signal from the same sender extends the decay
// timer rather than stacking a second one.
type Tracker struct {
	emitter  Emitter
	bus      *bus.Bus
	logger   *zap.Logger
	decay    time.Duration
	throttle time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastEmit map[string]time.Time // conversation id -> last outbound emit
	remote   map[string]*entry    // conversation id -> active typist
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithDecay overrides the indicator decay (tests).
func WithDecay(d time.Duration) Option {
	return func(t *Tracker) { t.decay = d }
}

// WithThrottle overrides the outbound throttle (tests).
func WithThrottle(d time.Duration) Option {
	return func(t *Tracker) { t.throttle = d }
}

// NewTracker creates a typing tracker.
func NewTracker(emitter Emitter, b *bus.Bus, logger *zap.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		emitter:  emitter,
		bus:      b,
		logger:   logger,
		decay:    DefaultDecay,
		throttle: DefaultThrottle,
		now:      time.Now,
		lastEmit: make(map[string]time.Time),
		remote:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Notify reports a local keystroke in the given conversation. Emits at
// most one typing event per throttle window; the server does no
// throttling of its own.
func (t *Tracker) Notify(conversationID, senderID string) {
	t.mu.Lock()
	now := t.now()
	if last, ok := t.lastEmit[conversationID]; ok && now.Sub(last) < t.throttle {
		t.mu.Unlock()
		return
	}
	t.lastEmit[conversationID] = now
	t.mu.Unlock()

	if err := t.emitter.Emit("typing", typingSignal{ConversationID: conversationID, SenderID: senderID}); err != nil {
		t.logger.Warn("typing emit failed", zap.Error(err))
	}
}

// Observe records an inbound typing signal. The indicator for that
// sender clears decay after the most recent signal: a repeat signal
// resets the timer, it never runs two timers for the same pair.
func (t *Tracker) Observe(conversationID, senderID string) {
	t.mu.Lock()
	now := t.now()
	if e, ok := t.remote[conversationID]; ok && e.senderID == senderID {
		e.timer.Stop()
		e.expiry = now.Add(t.decay)
		e.timer.Reset(t.decay)
		t.mu.Unlock()
		return
	}
	if e, ok := t.remote[conversationID]; ok {
		// A different sender replaces the current typist.
		e.timer.Stop()
	}
	e := &entry{senderID: senderID, expiry: now.Add(t.decay)}
	e.timer = time.AfterFunc(t.decay, func() { t.expire(conversationID, e) })
	t.remote[conversationID] = e
	t.mu.Unlock()

	t.publishChange(conversationID)
}

func (t *Tracker) expire(conversationID string, e *entry) {
	t.mu.Lock()
	current, ok := t.remote[conversationID]
	if !ok || current != e {
		t.mu.Unlock()
		return
	}
	// Reset may have raced the firing timer; honor the extension.
	if t.now().Before(current.expiry) {
		t.mu.Unlock()
		return
	}
	delete(t.remote, conversationID)
	t.mu.Unlock()

	t.publishChange(conversationID)
}

// Typist returns the sender currently typing in the conversation.
func (t *Tracker) Typist(conversationID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.remote[conversationID]
	if !ok {
		return "", false
	}
	return e.senderID, true
}

// Reset clears outbound throttle and remote state (logout).
func (t *Tracker) Reset() {
	t.mu.Lock()
	for _, e := range t.remote {
		e.timer.Stop()
	}
	t.remote = make(map[string]*entry)
	t.lastEmit = make(map[string]time.Time)
	t.mu.Unlock()
}

func (t *Tracker) publishChange(conversationID string) {
	if t.bus != nil {
		t.bus.Publish(bus.Event{Kind: "typing.changed", At: time.Now(), Payload: conversationID})
	}
}
