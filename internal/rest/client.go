package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mvilaca/parley/internal/convo"
	"github.com/mvilaca/parley/internal/session"
	"go.uber.org/zap"
)

// APIError is a server-reported HTTP failure, surfaced verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to the messaging service's HTTP API: login and the
// paginated conversation listing. Everything else flows over the
// websocket transport.
type Client struct {
	base   string
	http   *http.Client
	logger *zap.Logger
}

// New creates a REST client for the given base URL.
func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		base:   strings.TrimSuffix(baseURL, "/"),
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// LoginResult carries the bearer token and user identity from a login.
type LoginResult struct {
	Token string       `json:"token"`
	User  session.User `json:"user"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var result LoginResult
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if result.Token == "" {
		return nil, fmt.Errorf("login: server returned no token")
	}
	c.logger.Info("logged in", zap.String("user_id", result.User.ID))
	return &result, nil
}

// ConversationPage is one page of the conversation listing.
type ConversationPage struct {
	Conversations []convo.Conversation `json:"conversations"`
	TotalCount    int                  `json:"totalCount"`
	TotalPages    int                  `json:"totalPages"`
}

// Conversations fetches a page of the authenticated user's conversations.
func (c *Client) Conversations(ctx context.Context, token string, page, limit int) (*ConversationPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/conversations", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", "Bearer "+token)

	var result ConversationPage
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return &result, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
