package convo

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mvilaca/parley/internal/bus"
	"github.com/mvilaca/parley/internal/session"
	"go.uber.org/zap"
)

// Emitter is the outbound half of the transport the store needs.
type Emitter interface {
	Emit(event string, payload any) error
	EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error)
}

// TypingObserver receives inbound typing signals routed by the store,
// which knows which conversation a room-scoped signal belongs to.
type TypingObserver interface {
	Observe(conversationID, senderID string)
}

type joinPayload struct {
	ConversationID string `json:"conversationId"`
}

type fetchPayload struct {
	ConversationID string `json:"conversationId"`
}

type groupUpdate struct {
	GroupID     string   `json:"groupId"`
	Message     *Message `json:"message"`
	UnreadCount int      `json:"unreadCount"`
}

type typingPush struct {
	SenderID string `json:"senderId"`
}

// Store owns local conversation state: the active conversation's
// message log and the summary list. It reconciles the one-shot history
// fetch with the live push stream into an ordered, de-duplicated log,
// and keeps summaries (last message, unread count) current from
// newGroupMessage pushes and from receiveMessage pushes addressed to
// conversations that are not open.
type Store struct {
	emitter Emitter
	bus     *bus.Bus
	sess    *session.Session
	typing  TypingObserver
	logger  *zap.Logger
	cancel  context.CancelFunc

	mu     sync.Mutex
	list   []Conversation
	byID   map[string]int
	active *activeConversation
	gen    uint64
}

// activeConversation is the state of the conversation currently open.
type activeConversation struct {
	id       string
	gen      uint64
	state    State
	receiver Participant
	log      []Message
	seen     map[string]struct{}
	buffered []Message
	scope    *bus.Scope
}

// NewStore creates a conversation store. The typing observer may be nil.
func NewStore(emitter Emitter, b *bus.Bus, sess *session.Session, typing TypingObserver, logger *zap.Logger) *Store {
	return &Store{
		emitter: emitter,
		bus:     b,
		sess:    sess,
		typing:  typing,
		logger:  logger,
		byID:    make(map[string]int),
	}
}

// Start subscribes to message pushes, list-level pushes and reconnect
// notifications for the lifetime of the store. The server keeps pushing
// receiveMessage for every room the session ever joined, so the
// subscription cannot be tied to the active conversation: with nothing
// open the pushes still feed the summary list.
func (s *Store) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	msgCh, unsubMsg := s.bus.Subscribe("push.receiveMessage", 256)
	groupCh, unsubGroup := s.bus.Subscribe("push.newGroupMessage", 256)
	reconnCh, unsubReconn := s.bus.Subscribe("session.reconnected", 16)

	go func() {
		defer unsubMsg()
		defer unsubGroup()
		defer unsubReconn()
		for {
			select {
			case evt := <-msgCh:
				s.handleMessagePush(evt)
			case evt := <-groupCh:
				s.handleGroupMessage(evt)
			case <-reconnCh:
				s.handleReconnected(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops background consumption and leaves any active conversation.
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	s.releaseActiveLocked()
	s.mu.Unlock()
}

// Handle scopes an entered conversation. Leave releases every listener
// the enter registered; results arriving afterwards are discarded.
type Handle struct {
	store *Store
	ac    *activeConversation
}

// ID returns the conversation id the handle is scoped to.
func (h *Handle) ID() string { return h.ac.id }

// Leave deregisters the conversation's listeners and unloads its log.
func (h *Handle) Leave() {
	h.store.leave(h.ac)
}

// Enter opens a conversation: joins its server-side update scope, kicks
// off the one-shot history fetch, and starts accepting pushes
// immediately, not gated on the fetch completing. A second Enter for
// the same id while a cycle is in flight returns the existing handle
// without re-joining or re-fetching.
func (s *Store) Enter(ctx context.Context, conv Conversation) *Handle {
	s.mu.Lock()
	if ac := s.active; ac != nil && ac.id == conv.ID {
		s.mu.Unlock()
		return &Handle{store: s, ac: ac}
	}
	s.releaseActiveLocked()

	s.gen++
	ac := &activeConversation{
		id:       conv.ID,
		gen:      s.gen,
		state:    StateLoading,
		receiver: conv.Peer(s.sess.User().ID),
		seen:     make(map[string]struct{}),
		scope:    bus.NewScope(),
	}
	s.active = ac
	s.setUnreadLocked(conv.ID, 0)

	quit := make(chan struct{})
	ac.scope.OnRelease(func() { close(quit) })
	typingCh := ac.scope.Subscribe(s.bus, "push.userTyping", 64)
	s.mu.Unlock()

	go s.consume(ac, typingCh, quit)

	// Join is idempotent server-side; failure here is not fatal because
	// the fetch resolves the log (possibly empty) either way.
	if err := s.emitter.Emit("joinConversation", joinPayload{ConversationID: conv.ID}); err != nil {
		s.logger.Warn("join failed", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	go s.fetch(ctx, ac)

	s.publishUpdated(conv.ID)
	return &Handle{store: s, ac: ac}
}

func (s *Store) leave(ac *activeConversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != ac {
		return
	}
	s.releaseActiveLocked()
}

// releaseActiveLocked releases the active conversation's scope. The
// consume goroutine exits via the scope's quit cleanup.
func (s *Store) releaseActiveLocked() {
	if s.active == nil {
		return
	}
	s.active.scope.Release()
	s.active = nil
}

func (s *Store) consume(ac *activeConversation, typingCh <-chan bus.Event, quit chan struct{}) {
	for {
		select {
		case evt := <-typingCh:
			s.handleTypingPush(ac, evt)
		case <-quit:
			return
		}
	}
}

func (s *Store) fetch(ctx context.Context, ac *activeConversation) {
	data, err := s.emitter.EmitWithAck(ctx, "fetchMessages", fetchPayload{ConversationID: ac.id})

	var history []Message
	if err != nil {
		// A failed fetch resolves to an empty log rather than leaving
		// the conversation loading forever.
		s.logger.Warn("history fetch failed", zap.String("conversation_id", ac.id), zap.Error(err))
	} else if len(data) > 0 {
		if uerr := json.Unmarshal(data, &history); uerr != nil {
			s.logger.Warn("malformed history payload", zap.String("conversation_id", ac.id), zap.Error(uerr))
			history = nil
		}
	}
	s.completeFetch(ac, history)
}

// completeFetch splices the fetch result under the buffered pushes:
// fetched history in returned order first, then pushes in arrival
// order, dropping any push whose id already appears in the history.
func (s *Store) completeFetch(ac *activeConversation, history []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != ac || ac.state != StateLoading {
		// Navigated away, or a stale cycle; drop the late result.
		return
	}

	// A send issued before the history resolved may already have an
	// optimistic entry in the log; carry those over the splice.
	var pending []Message
	for _, m := range ac.log {
		if m.localKey != "" {
			pending = append(pending, m)
		}
	}

	log := make([]Message, 0, len(history)+len(ac.buffered)+len(pending))
	for _, m := range history {
		if m.ID != "" {
			if _, dup := ac.seen[m.ID]; dup {
				continue
			}
			ac.seen[m.ID] = struct{}{}
		}
		log = append(log, m)
	}
	ac.log = log
	ac.state = StateReady

	buffered := ac.buffered
	ac.buffered = nil
	for _, m := range buffered {
		s.appendLocked(ac, m)
	}
	ac.log = append(ac.log, pending...)

	s.publishUpdated(ac.id)
}

// handleMessagePush routes a receiveMessage push. Pushes for the open
// conversation feed its log (buffered while the history fetch is in
// flight); pushes for any other conversation only refresh its summary
// and unread count.
func (s *Store) handleMessagePush(evt bus.Event) {
	raw, ok := evt.Payload.(json.RawMessage)
	if !ok {
		return
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warn("malformed message push", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ac := s.active
	if ac == nil || (msg.ConversationID != "" && msg.ConversationID != ac.id) {
		if msg.ConversationID != "" {
			s.updateSummaryLocked(msg.ConversationID, &msg, true)
		}
		return
	}

	if ac.state == StateLoading {
		ac.buffered = append(ac.buffered, msg)
		return
	}
	if s.appendLocked(ac, msg) {
		s.publishUpdated(ac.id)
	}
}

// appendLocked appends a message to the active log, deduplicated by
// identifier. Returns false for a duplicate.
func (s *Store) appendLocked(ac *activeConversation, msg Message) bool {
	if msg.ID != "" {
		if _, dup := ac.seen[msg.ID]; dup {
			return false
		}
		ac.seen[msg.ID] = struct{}{}
	}
	ac.log = append(ac.log, msg)
	s.updateSummaryLocked(ac.id, &msg, false)
	return true
}

func (s *Store) handleTypingPush(ac *activeConversation, evt bus.Event) {
	if s.typing == nil {
		return
	}
	raw, ok := evt.Payload.(json.RawMessage)
	if !ok {
		return
	}
	var p typingPush
	if err := json.Unmarshal(raw, &p); err != nil || p.SenderID == "" {
		return
	}
	// userTyping is room-scoped, so it belongs to this conversation.
	s.typing.Observe(ac.id, p.SenderID)
}

func (s *Store) handleGroupMessage(evt bus.Event) {
	raw, ok := evt.Payload.(json.RawMessage)
	if !ok {
		return
	}
	var upd groupUpdate
	if err := json.Unmarshal(raw, &upd); err != nil || upd.GroupID == "" {
		return
	}

	s.mu.Lock()
	active := s.active != nil && s.active.id == upd.GroupID
	s.updateSummaryLocked(upd.GroupID, upd.Message, !active)
	s.mu.Unlock()
}

// updateSummaryLocked refreshes a conversation's list entry. Unread
// counts accumulate one per message while the conversation is not the
// active one, and reset to zero on enter.
func (s *Store) updateSummaryLocked(convID string, msg *Message, incrementUnread bool) {
	idx, ok := s.byID[convID]
	if !ok {
		return
	}
	if msg != nil {
		m := *msg
		s.list[idx].LastMessage = &m
	}
	if incrementUnread {
		s.list[idx].UnreadCount++
	}
	s.bus.Publish(bus.Event{Kind: "convo.list_updated", At: time.Now()})
}

func (s *Store) setUnreadLocked(convID string, n int) {
	if idx, ok := s.byID[convID]; ok {
		s.list[idx].UnreadCount = n
		s.bus.Publish(bus.Event{Kind: "convo.list_updated", At: time.Now()})
	}
}

// handleReconnected re-joins the active conversation's update scope and
// backfills any messages missed while disconnected.
func (s *Store) handleReconnected(ctx context.Context) {
	s.mu.Lock()
	ac := s.active
	s.mu.Unlock()
	if ac == nil {
		return
	}

	if err := s.emitter.Emit("joinConversation", joinPayload{ConversationID: ac.id}); err != nil {
		s.logger.Warn("rejoin failed", zap.String("conversation_id", ac.id), zap.Error(err))
		return
	}

	data, err := s.emitter.EmitWithAck(ctx, "fetchMessages", fetchPayload{ConversationID: ac.id})
	if err != nil {
		s.logger.Warn("backfill fetch failed", zap.String("conversation_id", ac.id), zap.Error(err))
		return
	}
	var history []Message
	if err := json.Unmarshal(data, &history); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != ac || ac.state != StateReady {
		return
	}
	appended := false
	for _, m := range history {
		if s.appendLocked(ac, m) {
			appended = true
		}
	}
	if appended {
		s.publishUpdated(ac.id)
	}
}

// SetConversations replaces the summary list (one page from the HTTP
// listing).
func (s *Store) SetConversations(list []Conversation) {
	s.mu.Lock()
	s.list = make([]Conversation, len(list))
	copy(s.list, list)
	s.byID = make(map[string]int, len(list))
	for i, c := range s.list {
		s.byID[c.ID] = i
	}
	s.mu.Unlock()
	s.bus.Publish(bus.Event{Kind: "convo.list_updated", At: time.Now()})
}

// Conversations returns a snapshot of the summary list.
func (s *Store) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, len(s.list))
	copy(out, s.list)
	return out
}

// Conversation returns the summary for the given id.
func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byID[id]; ok {
		return s.list[idx], true
	}
	return Conversation{}, false
}

// Messages returns a snapshot of the active conversation's log.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	out := make([]Message, len(s.active.log))
	copy(out, s.active.log)
	return out
}

// ActiveID returns the id of the active conversation, or "".
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.id
}

// ActiveState returns the load state of the active conversation.
// StateUnloaded means no conversation is open; StateReady with an
// empty log means "zero messages yet".
func (s *Store) ActiveState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return StateUnloaded
	}
	return s.active.state
}

// ParticipantName resolves a sender id to a display name using the
// conversation's participant list.
func (s *Store) ParticipantName(convID, senderID string) string {
	if c, ok := s.Conversation(convID); ok {
		return c.ParticipantName(senderID)
	}
	return senderID
}

func (s *Store) publishUpdated(convID string) {
	s.bus.Publish(bus.Event{Kind: "convo.updated", At: time.Now(), Payload: convID})
}
