package devserver

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mvilaca/parley/internal/attach"
	"github.com/mvilaca/parley/internal/convo"
	"github.com/mvilaca/parley/internal/session"
)

// ErrUnauthorized is returned for bad credentials or unknown tokens.
var ErrUnauthorized = errors.New("unauthorized")

type account struct {
	user     session.User
	password string
}

type storedFile struct {
	mediaType string
	data      []byte
}

// World is the in-memory state behind the development server: accounts,
// issued tokens, conversations, message logs, per-user unread counters
// and uploaded attachment blobs. Everything is lost on restart, which
// is the point.
type World struct {
	mu       sync.Mutex
	accounts map[string]account // by email
	tokens   map[string]string  // token -> user id
	convs    []convo.Conversation
	logs     map[string][]convo.Message
	unread   map[string]map[string]int // user id -> conversation id -> count
	files    map[string]storedFile
}

// NewWorld creates an empty world.
func NewWorld() *World {
	return &World{
		accounts: make(map[string]account),
		tokens:   make(map[string]string),
		logs:     make(map[string][]convo.Message),
		unread:   make(map[string]map[string]int),
		files:    make(map[string]storedFile),
	}
}

// Seed populates the world with demo accounts (password "demo" for all)
// and a conversation between each pair.
func (w *World) Seed() {
	users := []session.User{
		{ID: "u-ana", Name: "Ana", Email: "ana@example.com"},
		{ID: "u-bruno", Name: "Bruno", Email: "bruno@example.com"},
		{ID: "u-carla", Name: "Carla", Email: "carla@example.com"},
	}
	for _, u := range users {
		w.AddAccount(u, "demo")
	}
	for i := 0; i < len(users); i++ {
		for j := i + 1; j < len(users); j++ {
			w.AddConversation(users[i], users[j])
		}
	}
}

// AddAccount registers a login.
func (w *World) AddAccount(u session.User, password string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts[strings.ToLower(u.Email)] = account{user: u, password: password}
}

// AddConversation creates a thread between two users and returns its id.
func (w *World) AddConversation(a, b session.User) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := fmt.Sprintf("c-%s-%s", a.ID, b.ID)
	w.convs = append(w.convs, convo.Conversation{
		ID: id,
		Participants: []convo.Participant{
			{ID: a.ID, Name: a.Name},
			{ID: b.ID, Name: b.Name},
		},
	})
	return id
}

// EnsureConversation returns the thread between two users, creating it
// when no first message has passed between them yet.
func (w *World) EnsureConversation(senderID, receiverID string) (convo.Conversation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if senderID == receiverID {
		return convo.Conversation{}, errors.New("cannot start a conversation with yourself")
	}
	for _, c := range w.convs {
		if len(c.Participants) == 2 && hasParticipant(c, senderID) && hasParticipant(c, receiverID) {
			return c, nil
		}
	}

	sender, ok := w.userByIDLocked(senderID)
	if !ok {
		return convo.Conversation{}, errors.New("no such user")
	}
	receiver, ok := w.userByIDLocked(receiverID)
	if !ok {
		return convo.Conversation{}, errors.New("no such user")
	}

	c := convo.Conversation{
		ID: fmt.Sprintf("c-%s-%s", sender.ID, receiver.ID),
		Participants: []convo.Participant{
			{ID: sender.ID, Name: sender.Name},
			{ID: receiver.ID, Name: receiver.Name},
		},
	}
	w.convs = append(w.convs, c)
	return c, nil
}

func hasParticipant(c convo.Conversation, userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

func (w *World) userByIDLocked(id string) (session.User, bool) {
	for _, acct := range w.accounts {
		if acct.user.ID == id {
			return acct.user, true
		}
	}
	return session.User{}, false
}

// Login checks credentials and issues a fresh bearer token.
func (w *World) Login(email, password string) (string, session.User, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	acct, ok := w.accounts[strings.ToLower(email)]
	if !ok || acct.password != password {
		return "", session.User{}, ErrUnauthorized
	}
	token := uuid.NewString()
	w.tokens[token] = acct.user.ID
	return token, acct.user, nil
}

// UserForToken resolves a bearer token to its user.
func (w *World) UserForToken(token string) (session.User, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.tokens[token]
	if !ok {
		return session.User{}, ErrUnauthorized
	}
	for _, acct := range w.accounts {
		if acct.user.ID == id {
			return acct.user, nil
		}
	}
	return session.User{}, ErrUnauthorized
}

// ConversationsFor returns one page of the user's conversation
// summaries, with that user's unread counters filled in.
func (w *World) ConversationsFor(userID string, page, limit int) ([]convo.Conversation, int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var mine []convo.Conversation
	for _, c := range w.convs {
		for _, p := range c.Participants {
			if p.ID == userID {
				cc := c
				cc.UnreadCount = w.unread[userID][c.ID]
				if log := w.logs[c.ID]; len(log) > 0 {
					last := log[len(log)-1]
					cc.LastMessage = &last
				}
				mine = append(mine, cc)
				break
			}
		}
	}

	total := len(mine)
	pages := (total + limit - 1) / limit
	start := (page - 1) * limit
	if start >= total {
		return nil, total, pages
	}
	end := start + limit
	if end > total {
		end = total
	}
	out := make([]convo.Conversation, end-start)
	copy(out, mine[start:end])
	return out, total, pages
}

// Conversation returns the thread with the given id.
func (w *World) Conversation(id string) (convo.Conversation, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.convs {
		if c.ID == id {
			return c, true
		}
	}
	return convo.Conversation{}, false
}

// History returns the full log of a conversation.
func (w *World) History(convID string) []convo.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	log := w.logs[convID]
	out := make([]convo.Message, len(log))
	copy(out, log)
	return out
}

// Append stores a new message: attachment payloads are decoded into
// blobs addressable under /api/v1/files/, the message gets a server
// identifier, and unread counters bump for every participant except
// the sender.
func (w *World) Append(convID, senderID, receiverID, text string, files []attach.Prepared) (convo.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var attachments []convo.Attachment
	for _, f := range files {
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			return convo.Message{}, fmt.Errorf("decode attachment %s: %w", f.Name, err)
		}
		id := uuid.NewString()
		w.files[id] = storedFile{mediaType: f.MediaType, data: data}
		attachments = append(attachments, convo.Attachment{
			Kind: attach.Classify(f.MediaType),
			Name: f.Name,
			URL:  "/api/v1/files/" + id,
		})
	}

	msg := convo.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Text:           text,
		Attachments:    attachments,
	}
	w.logs[convID] = append(w.logs[convID], msg)

	for _, c := range w.convs {
		if c.ID != convID {
			continue
		}
		for _, p := range c.Participants {
			if p.ID == senderID {
				continue
			}
			if w.unread[p.ID] == nil {
				w.unread[p.ID] = make(map[string]int)
			}
			w.unread[p.ID][convID]++
		}
	}
	return msg, nil
}

// Unread returns a user's unread counter for a conversation.
func (w *World) Unread(userID, convID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unread[userID][convID]
}

// ClearUnread zeroes a user's unread counter for a conversation; the
// server does this when the user joins the thread.
func (w *World) ClearUnread(userID, convID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if m := w.unread[userID]; m != nil {
		delete(m, convID)
	}
}

// File returns an uploaded attachment blob and its media type.
func (w *World) File(id string) (string, []byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.files[id]
	return f.mediaType, f.data, ok
}
