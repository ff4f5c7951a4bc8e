package session

import "sync"

// User identifies the authenticated account.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Session holds the authenticated identity for the lifetime of a login.
// It is created empty at startup, begun once at login and ended at
// logout; the single transport connection is scoped to it. Callers
// receive it by injection, never as ambient global state.
type Session struct {
	mu      sync.RWMutex
	user    User
	token   string
	machine *Machine
}

// New creates an unauthenticated session around the connectivity machine.
func New(machine *Machine) *Session {
	return &Session{machine: machine}
}

// Begin records the authenticated user and bearer token.
func (s *Session) Begin(user User, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	s.token = token
}

// End clears the identity at logout.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = User{}
	s.token = ""
}

// User returns the authenticated user (zero value when logged out).
func (s *Session) User() User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Token returns the bearer token for the current login.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Active reports whether a login is in effect.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// Status returns the current connectivity status.
func (s *Session) Status() Status {
	return s.machine.Current()
}
