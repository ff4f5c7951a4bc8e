package devserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mvilaca/parley/internal/session"
	"github.com/mvilaca/parley/internal/transport"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hub tracks connected clients and the conversation rooms they joined.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	rooms   map[string]map[*client]bool
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]bool),
		rooms:   make(map[string]map[*client]bool),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for convID, room := range h.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, convID)
		}
	}
	close(c.send)
}

func (h *Hub) join(convID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[convID] == nil {
		h.rooms[convID] = make(map[*client]bool)
	}
	h.rooms[convID][c] = true
}

// usersInRoom returns the ids of users with at least one connection in
// the conversation room.
func (h *Hub) usersInRoom(convID string) map[string]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]bool, len(h.rooms[convID]))
	for c := range h.rooms[convID] {
		out[c.user.ID] = true
	}
	return out
}

func (h *Hub) inRoom(convID string, c *client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[convID][c]
}

// broadcastRoom sends an event to every client in a conversation room.
// When except is non-nil that client is skipped.
func (h *Hub) broadcastRoom(convID string, except *client, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("marshal broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	frame, _ := json.Marshal(transport.Envelope{Event: event, Data: payload})

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[convID] {
		if c == except {
			continue
		}
		c.enqueue(frame)
	}
}

// notifyOutsideRoom sends an event to every connection of the given
// users that has NOT joined the conversation room. This is how the
// list-level newGroupMessage push reaches users looking elsewhere.
func (h *Hub) notifyOutsideRoom(convID string, userIDs map[string]bool, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	frame, _ := json.Marshal(transport.Envelope{Event: event, Data: payload})

	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[convID]
	for c := range h.clients {
		if !userIDs[c.user.ID] || room[c] {
			continue
		}
		c.enqueue(frame)
	}
}

// client is one websocket connection for an authenticated user.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	user session.User
	send chan []byte
}

func newClient(h *Hub, conn *websocket.Conn, user session.User) *client {
	return &client{hub: h, conn: conn, user: user, send: make(chan []byte, 256)}
}

// enqueue hands a frame to the write pump, dropping slow consumers.
func (c *client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		_ = c.conn.Close()
	}
}

// reply sends an acknowledgment envelope for the given emit id.
func (c *client) reply(replyTo string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	frame, _ := json.Marshal(transport.Envelope{Event: transport.AckEvent, ReplyTo: replyTo, Data: payload})
	c.enqueue(frame)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
