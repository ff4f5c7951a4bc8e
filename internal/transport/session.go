package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mvilaca/parley/internal/bus"
	"github.com/mvilaca/parley/internal/session"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned for emits before Connect or after Close.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrAckTimeout means no acknowledgment arrived before the deadline.
	// The outcome of the emit is unknown: the server may or may not have
	// processed it.
	ErrAckTimeout = errors.New("transport: no acknowledgment before deadline")
	// ErrConnClosed means the connection dropped while an acknowledgment
	// was pending. Like ErrAckTimeout, the outcome is unknown.
	ErrConnClosed = errors.New("transport: connection closed")
)

// Indeterminate reports whether err means the emit's outcome is unknown.
// Callers must treat such failures as retryable, never as success and
// never as a confirmed rejection.
func Indeterminate(err error) bool {
	return errors.Is(err, ErrAckTimeout) || errors.Is(err, ErrConnClosed)
}

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 15 * time.Second
)

// Session owns the single persistent websocket connection for a login.
// It is established once at login (Connect with the bearer token),
// shared by all conversations, and torn down at logout. Inbound named
// events are published on the bus under the "push." namespace; consumers
// subscribe there rather than registering callbacks on the session.
type Session struct {
	wsURL      string
	ackTimeout time.Duration
	bus        *bus.Bus
	machine    *session.Machine
	logger     *zap.Logger
	dialer     *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{} // closed when the current connection drops
	token   string
	pending map[string]chan Envelope
	closed  bool

	writeMu sync.Mutex
}

// New creates a transport session for the given websocket URL.
func New(wsURL string, ackTimeout time.Duration, b *bus.Bus, machine *session.Machine, logger *zap.Logger) *Session {
	return &Session{
		wsURL:      wsURL,
		ackTimeout: ackTimeout,
		bus:        b,
		machine:    machine,
		logger:     logger,
		dialer:     websocket.DefaultDialer,
		pending:    make(map[string]chan Envelope),
	}
}

// Connect establishes the connection, authenticating with the bearer
// token. Exactly one connection exists per login; calling Connect while
// connected is an error.
func (s *Session) Connect(ctx context.Context, token string) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return fmt.Errorf("transport: already connected")
	}
	s.closed = false
	s.token = token
	s.mu.Unlock()

	_ = s.machine.Transition(session.Connecting)

	conn, err := s.dial(ctx, token)
	if err != nil {
		_ = s.machine.Transition(session.Closed)
		return fmt.Errorf("connect: %w", err)
	}

	s.adopt(conn)
	return nil
}

func (s *Session) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	u, err := url.Parse(s.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// adopt installs a freshly dialed connection and starts its read loop.
func (s *Session) adopt(conn *websocket.Conn) {
	done := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.done = done
	s.mu.Unlock()

	_ = s.machine.Transition(session.Open)
	s.logger.Info("transport connected")

	go s.readLoop(conn, done)
}

// Close tears the connection down at logout. Pending acknowledgments are
// failed as indeterminate.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	done := s.done
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
	if done != nil {
		s.closeDone(done)
	}
	_ = s.machine.Transition(session.Closed)
	s.logger.Info("transport closed")
}

func (s *Session) closeDone(done chan struct{}) {
	select {
	case <-done:
		// Already closed by the read loop.
	default:
		close(done)
	}
}

// Emit sends a named event without awaiting a reply.
func (s *Session) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	return s.write(Envelope{Event: event, Data: data})
}

// EmitWithAck sends a named event and waits for its one-time structured
// acknowledgment. A missing ack within the timeout, or a connection drop
// while waiting, yields an indeterminate error (see Indeterminate); it
// never resolves to silent success.
func (s *Session) EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event, err)
	}

	id := uuid.NewString()
	ch := make(chan Envelope, 1)

	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", event, ErrNotConnected)
	}
	done := s.done
	s.pending[id] = ch
	s.mu.Unlock()

	if err := s.write(Envelope{Event: event, ID: id, Data: data}); err != nil {
		s.dropPending(id)
		return nil, err
	}

	timer := time.NewTimer(s.ackTimeout)
	defer timer.Stop()

	select {
	case env := <-ch:
		return env.Data, nil
	case <-timer.C:
		s.dropPending(id)
		return nil, fmt.Errorf("%s: %w", event, ErrAckTimeout)
	case <-done:
		s.dropPending(id)
		return nil, fmt.Errorf("%s: %w", event, ErrConnClosed)
	case <-ctx.Done():
		s.dropPending(id)
		return nil, ctx.Err()
	}
}

func (s *Session) dropPending(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Session) write(env Envelope) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%s: %w", env.Event, ErrNotConnected)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write %s: %w", env.Event, err)
	}
	return nil
}

func (s *Session) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			s.handleDrop(conn, done, err)
			return
		}
		s.dispatch(env)
	}
}

func (s *Session) dispatch(env Envelope) {
	if env.ReplyTo != "" {
		s.mu.Lock()
		ch, ok := s.pending[env.ReplyTo]
		if ok {
			delete(s.pending, env.ReplyTo)
		}
		s.mu.Unlock()
		if ok {
			ch <- env
		}
		return
	}

	s.bus.Publish(bus.Event{
		Kind:    "push." + env.Event,
		At:      time.Now(),
		Payload: env.Data,
	})
}

func (s *Session) handleDrop(conn *websocket.Conn, done chan struct{}, err error) {
	s.mu.Lock()
	if s.conn != conn {
		// A newer connection already replaced this one.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	closed := s.closed
	s.mu.Unlock()

	s.closeDone(done)
	_ = conn.Close()

	if closed {
		return
	}

	s.logger.Warn("transport connection dropped", zap.Error(err))
	_ = s.machine.Transition(session.Connecting)
	go s.reconnectLoop()
}

func (s *Session) reconnectLoop() {
	backoff := initialBackoff
	for {
		s.mu.Lock()
		closed := s.closed
		token := s.token
		s.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := s.dial(ctx, token)
		cancel()
		if err == nil {
			s.adopt(conn)
			s.bus.Publish(bus.Event{Kind: "session.reconnected", At: time.Now()})
			return
		}

		s.logger.Warn("reconnect attempt failed", zap.Error(err), zap.Duration("backoff", backoff))
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
