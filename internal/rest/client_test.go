package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/login" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Errorf("decode credentials: %v", err)
		}
		if creds["email"] != "ana@example.com" || creds["password"] != "s3cret" {
			t.Errorf("credentials = %v", creds)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": "tok-123",
			"user":  map[string]string{"id": "u1", "name": "Ana", "email": "ana@example.com"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, zap.NewNop())
	res, err := c.Login(context.Background(), "ana@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token != "tok-123" {
		t.Errorf("token = %q", res.Token)
	}
	if res.User.ID != "u1" || res.User.Name != "Ana" {
		t.Errorf("user = %+v", res.User)
	}
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
	}))
	defer srv.Close()

	c := New(srv.URL, zap.NewNop())
	_, err := c.Login(context.Background(), "ana@example.com", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Message != "invalid credentials" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestLoginWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"user": map[string]string{"id": "u1"}})
	}))
	defer srv.Close()

	c := New(srv.URL, zap.NewNop())
	if _, err := c.Login(context.Background(), "a@b.c", "pw"); err == nil {
		t.Fatal("Login succeeded without a token in the response")
	}
}

func TestConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/conversations" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("authorization = %q", got)
		}
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("limit") != "10" {
			t.Errorf("query = %v", q)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"conversations": []map[string]any{
				{"id": "c1", "participants": []map[string]string{
					{"id": "u1", "name": "Ana"},
					{"id": "u2", "name": "Bruno"},
				}},
			},
			"totalCount": 13,
			"totalPages": 2,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, zap.NewNop())
	page, err := c.Conversations(context.Background(), "tok-123", 2, 10)
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if page.TotalCount != 13 || page.TotalPages != 2 {
		t.Errorf("page meta = %d/%d", page.TotalCount, page.TotalPages)
	}
	if len(page.Conversations) != 1 || page.Conversations[0].ID != "c1" {
		t.Errorf("conversations = %+v", page.Conversations)
	}
	if got := page.Conversations[0].Peer("u1").Name; got != "Bruno" {
		t.Errorf("peer = %q", got)
	}
}

func TestConversationsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, zap.NewNop())
	_, err := c.Conversations(context.Background(), "stale", 1, 10)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	// No JSON body: falls back to the status text.
	if apiErr.Message != http.StatusText(http.StatusUnauthorized) {
		t.Errorf("message = %q", apiErr.Message)
	}
}
