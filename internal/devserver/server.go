package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mvilaca/parley/internal/attach"
	"github.com/mvilaca/parley/internal/convo"
	"github.com/mvilaca/parley/internal/session"
	"github.com/mvilaca/parley/internal/transport"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true }, // dev only
}

// Server is the development backend: the HTTP API plus the websocket
// event endpoint, backed by an in-memory world. It exists so the client
// can be exercised end to end without the real service.
type Server struct {
	world  *World
	hub    *Hub
	logger *zap.Logger
	router *gin.Engine
	http   *http.Server
}

// New creates a development server listening on addr.
func New(addr string, world *World, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		world:  world,
		hub:    NewHub(logger),
		logger: logger,
		router: router,
		http: &http.Server{
			Addr:    addr,
			Handler: router,
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api/v1")
	{
		api.POST("/login", s.handleLogin)
		api.GET("/conversations", s.requireAuth, s.handleConversations)
		api.GET("/files/:id", s.handleFile)
	}
	s.router.GET("/ws", s.handleWebsocket)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("dev server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	token, user, err := s.world.Login(req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func (s *Server) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	user, err := s.world.UserForToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Set("user", user)
	c.Next()
}

func (s *Server) handleConversations(c *gin.Context) {
	user := c.MustGet("user").(session.User)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	convs, total, pages := s.world.ConversationsFor(user.ID, page, limit)
	if convs == nil {
		convs = []convo.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{
		"conversations": convs,
		"totalCount":    total,
		"totalPages":    pages,
	})
}

func (s *Server) handleFile(c *gin.Context) {
	mediaType, data, ok := s.world.File(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such file"})
		return
	}
	c.Data(http.StatusOK, mediaType, data)
}

func (s *Server) handleWebsocket(c *gin.Context) {
	token := c.Query("token")
	user, err := s.world.UserForToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	cl := newClient(s.hub, conn, user)
	s.hub.register(cl)
	s.logger.Info("client connected", zap.String("user_id", user.ID))

	go cl.writePump()
	s.readLoop(cl)
}

func (s *Server) readLoop(cl *client) {
	defer func() {
		s.hub.unregister(cl)
		_ = cl.conn.Close()
		s.logger.Info("client disconnected", zap.String("user_id", cl.user.ID))
	}()
	cl.conn.SetReadLimit(64 << 20)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		var env transport.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			s.logger.Warn("malformed frame", zap.Error(err))
			continue
		}
		s.dispatch(cl, env)
	}
}

func (s *Server) dispatch(cl *client, env transport.Envelope) {
	switch env.Event {
	case "joinConversation":
		s.handleJoin(cl, env)
	case "fetchMessages":
		s.handleFetch(cl, env)
	case "sendMessage":
		s.handleSend(cl, env)
	case "typing":
		s.handleTyping(cl, env)
	default:
		s.logger.Warn("unknown event", zap.String("event", env.Event))
	}
}

type roomPayload struct {
	ConversationID string `json:"conversationId"`
}

func (s *Server) handleJoin(cl *client, env transport.Envelope) {
	var p roomPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == "" {
		return
	}
	if _, ok := s.world.Conversation(p.ConversationID); !ok {
		return
	}
	s.hub.join(p.ConversationID, cl)
	s.world.ClearUnread(cl.user.ID, p.ConversationID)
}

func (s *Server) handleFetch(cl *client, env transport.Envelope) {
	var p roomPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == "" {
		return
	}
	history := s.world.History(p.ConversationID)
	cl.reply(env.ID, history)
}

type sendRequest struct {
	ConversationID string            `json:"conversationId"`
	SenderID       string            `json:"senderId"`
	ReceiverID     string            `json:"receiverId"`
	Text           string            `json:"text"`
	Files          []attach.Prepared `json:"files"`
}

type groupUpdate struct {
	GroupID     string         `json:"groupId"`
	Message     *convo.Message `json:"message"`
	UnreadCount int            `json:"unreadCount"`
}

func (s *Server) handleSend(cl *client, env transport.Envelope) {
	var req sendRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		cl.reply(env.ID, gin.H{"error": "malformed send request"})
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Files) == 0 {
		cl.reply(env.ID, gin.H{"error": "empty message"})
		return
	}
	var conv convo.Conversation
	if req.ConversationID == "" {
		// First message between two users: the thread is created here
		// and its id travels back in the confirmed message.
		c, err := s.world.EnsureConversation(cl.user.ID, req.ReceiverID)
		if err != nil {
			cl.reply(env.ID, gin.H{"error": err.Error()})
			return
		}
		conv = c
		req.ConversationID = c.ID
	} else {
		c, ok := s.world.Conversation(req.ConversationID)
		if !ok {
			cl.reply(env.ID, gin.H{"error": "no such conversation"})
			return
		}
		conv = c
	}

	msg, err := s.world.Append(req.ConversationID, cl.user.ID, req.ReceiverID, req.Text, req.Files)
	if err != nil {
		cl.reply(env.ID, gin.H{"error": err.Error()})
		return
	}

	cl.reply(env.ID, gin.H{"message": msg})

	// Room members get the message itself; the sender's ack dedups the
	// echo. Participants elsewhere get the list-level update instead.
	// Being in the room counts as having read the message.
	for userID := range s.hub.usersInRoom(req.ConversationID) {
		s.world.ClearUnread(userID, req.ConversationID)
	}
	s.hub.broadcastRoom(req.ConversationID, nil, "receiveMessage", msg)
	participants := make(map[string]bool, len(conv.Participants))
	for _, p := range conv.Participants {
		if p.ID != cl.user.ID {
			participants[p.ID] = true
		}
	}
	for userID := range participants {
		s.hub.notifyOutsideRoom(req.ConversationID, map[string]bool{userID: true}, "newGroupMessage", groupUpdate{
			GroupID:     req.ConversationID,
			Message:     &msg,
			UnreadCount: s.world.Unread(userID, req.ConversationID),
		})
	}
}

type typingNotice struct {
	SenderID string `json:"senderId"`
}

func (s *Server) handleTyping(cl *client, env transport.Envelope) {
	var p roomPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == "" {
		return
	}
	if !s.hub.inRoom(p.ConversationID, cl) {
		return
	}
	s.hub.broadcastRoom(p.ConversationID, cl, "userTyping", typingNotice{SenderID: cl.user.ID})
}
