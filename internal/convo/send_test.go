package convo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mvilaca/parley/internal/attach"
	"github.com/mvilaca/parley/internal/transport"
)

func enterReady(t *testing.T, s *Store) *Handle {
	t.Helper()
	h := s.Enter(context.Background(), conv("c1"))
	waitFor(t, "ready", func() bool { return s.ActiveState() == StateReady })
	return h
}

func sendAckReply(m Message) func(string, any) (json.RawMessage, error) {
	return func(event string, _ any) (json.RawMessage, error) {
		if event != "sendMessage" {
			return json.RawMessage(`[]`), nil
		}
		data, _ := json.Marshal(sendAck{Message: &m})
		return data, nil
	}
}

func TestSendEmptyIsLocalNoop(t *testing.T) {
	ft := &fakeTransport{}
	s, _ := testStore(t, ft)
	enterReady(t, s)

	for _, text := range []string{"", "   ", "\t\n"} {
		if _, err := s.Send(context.Background(), text, nil); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("Send(%q) err = %v, want ErrEmptyMessage", text, err)
		}
	}
	if n := ft.ackCount("sendMessage"); n != 0 {
		t.Errorf("transport called %d times for empty sends", n)
	}
	if got := s.Messages(); len(got) != 0 {
		t.Errorf("log = %v, want empty", got)
	}
}

func TestSendBlankTextWithAttachmentAllowed(t *testing.T) {
	ft := &fakeTransport{
		ackFn: sendAckReply(Message{ID: "m1", ConversationID: "c1", SenderID: "u1"}),
	}
	s, _ := testStore(t, ft)
	enterReady(t, s)

	files := []attach.Prepared{{Name: "cat.png", MediaType: "image/png", Data: "QUJD"}}
	msg, err := s.Send(context.Background(), "", files)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID != "m1" {
		t.Errorf("confirmed id = %q", msg.ID)
	}
}

func TestSendWithoutConversation(t *testing.T) {
	ft := &fakeTransport{}
	s, _ := testStore(t, ft)

	if _, err := s.Send(context.Background(), "hi", nil); !errors.Is(err, ErrNoConversation) {
		t.Errorf("err = %v, want ErrNoConversation", err)
	}
}

func TestSendConfirmsOptimisticEntry(t *testing.T) {
	confirmed := Message{ID: "m5", ConversationID: "c1", SenderID: "u1", Text: "hello"}
	ft := &fakeTransport{ackFn: sendAckReply(confirmed)}
	s, _ := testStore(t, ft)
	enterReady(t, s)

	msg, err := s.Send(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID != "m5" || msg.Pending {
		t.Errorf("confirmed = %+v", msg)
	}

	log := s.Messages()
	if len(log) != 1 {
		t.Fatalf("log has %d entries, want 1", len(log))
	}
	if log[0].ID != "m5" || log[0].Pending {
		t.Errorf("log entry = %+v", log[0])
	}
}

// The push echo of our own send can land before the acknowledgment; the
// log must end up with the message exactly once.
func TestSendDedupsAgainstPushEcho(t *testing.T) {
	echo := Message{ID: "m5", ConversationID: "c1", SenderID: "u1", Text: "hello"}

	ft := &fakeTransport{}
	s, b := testStore(t, ft)
	enterReady(t, s)

	ft.mu.Lock()
	ft.ackFn = func(event string, _ any) (json.RawMessage, error) {
		if event != "sendMessage" {
			return json.RawMessage(`[]`), nil
		}
		// Deliver the echo and wait for it to land before acking.
		pushMessage(b, echo)
		waitFor(t, "echo appended", func() bool {
			for _, m := range s.Messages() {
				if m.ID == "m5" {
					return true
				}
			}
			return false
		})
		data, _ := json.Marshal(sendAck{Message: &echo})
		return data, nil
	}
	ft.mu.Unlock()

	msg, err := s.Send(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID != "m5" {
		t.Errorf("confirmed id = %q", msg.ID)
	}

	count := 0
	for _, m := range s.Messages() {
		if m.ID == "m5" {
			count++
		}
		if m.Pending {
			t.Errorf("pending entry survived: %+v", m)
		}
	}
	if count != 1 {
		t.Errorf("message m5 appears %d times, want 1", count)
	}
}

func TestSendServerRejectionRemovesPending(t *testing.T) {
	ft := &fakeTransport{
		ackFn: func(event string, _ any) (json.RawMessage, error) {
			if event != "sendMessage" {
				return json.RawMessage(`[]`), nil
			}
			return json.RawMessage(`{"error":"message too long"}`), nil
		},
	}
	s, _ := testStore(t, ft)
	enterReady(t, s)

	_, err := s.Send(context.Background(), "hello", nil)
	var serr *SendError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *SendError", err)
	}
	if serr.Reason != "message too long" {
		t.Errorf("reason = %q", serr.Reason)
	}
	if got := s.Messages(); len(got) != 0 {
		t.Errorf("log = %v, want empty after rejection", got)
	}
}

func TestSendIndeterminateRemovesPending(t *testing.T) {
	ft := &fakeTransport{
		ackFn: func(event string, _ any) (json.RawMessage, error) {
			if event != "sendMessage" {
				return json.RawMessage(`[]`), nil
			}
			return nil, fmt.Errorf("awaiting acknowledgment: %w", transport.ErrAckTimeout)
		},
	}
	s, _ := testStore(t, ft)
	enterReady(t, s)

	_, err := s.Send(context.Background(), "hello", nil)
	if err == nil {
		t.Fatal("Send succeeded, want error")
	}
	if !transport.Indeterminate(err) {
		t.Errorf("err %v not classified indeterminate", err)
	}
	if got := s.Messages(); len(got) != 0 {
		t.Errorf("log = %v, want empty after indeterminate outcome", got)
	}
}

func TestSendMalformedAckRemovesPending(t *testing.T) {
	ft := &fakeTransport{
		ackFn: func(event string, _ any) (json.RawMessage, error) {
			if event != "sendMessage" {
				return json.RawMessage(`[]`), nil
			}
			return json.RawMessage(`{`), nil
		},
	}
	s, _ := testStore(t, ft)
	enterReady(t, s)

	if _, err := s.Send(context.Background(), "hello", nil); err == nil {
		t.Fatal("Send succeeded on malformed acknowledgment")
	}
	if got := s.Messages(); len(got) != 0 {
		t.Errorf("log = %v, want empty", got)
	}
}

func TestStartConversationCreatesThread(t *testing.T) {
	confirmed := Message{ID: "m9", ConversationID: "c-new", SenderID: "u1", ReceiverID: "u3", Text: "hi there"}
	ft := &fakeTransport{ackFn: sendAckReply(confirmed)}
	s, _ := testStore(t, ft)

	msg, err := s.StartConversation(context.Background(), "u3", "hi there")
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if msg.ConversationID != "c-new" || msg.ID != "m9" {
		t.Errorf("confirmed = %+v", msg)
	}

	// The request names only the recipient; the thread does not exist
	// yet so no conversation id can be sent.
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.acks) != 1 {
		t.Fatalf("%d transport calls, want 1", len(ft.acks))
	}
	req, ok := ft.acks[0].payload.(sendRequest)
	if !ok {
		t.Fatalf("payload type %T", ft.acks[0].payload)
	}
	if req.ConversationID != "" || req.ReceiverID != "u3" || req.SenderID != "u1" {
		t.Errorf("request = %+v", req)
	}
}

func TestStartConversationValidatesInput(t *testing.T) {
	ft := &fakeTransport{}
	s, _ := testStore(t, ft)

	if _, err := s.StartConversation(context.Background(), "  ", "hi"); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("blank recipient err = %v, want ErrNoRecipient", err)
	}
	if _, err := s.StartConversation(context.Background(), "u3", "  "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank text err = %v, want ErrEmptyMessage", err)
	}
	if n := ft.ackCount("sendMessage"); n != 0 {
		t.Errorf("transport called %d times for rejected input", n)
	}
}

func TestStartConversationServerRejection(t *testing.T) {
	ft := &fakeTransport{
		ackFn: func(event string, _ any) (json.RawMessage, error) {
			return json.RawMessage(`{"error":"no such user"}`), nil
		},
	}
	s, _ := testStore(t, ft)

	_, err := s.StartConversation(context.Background(), "u-ghost", "hello?")
	var serr *SendError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *SendError", err)
	}
	if serr.Reason != "no such user" {
		t.Errorf("reason = %q", serr.Reason)
	}
}

// A send issued while history is still loading keeps its optimistic
// entry across the fetch splice.
func TestSendDuringLoadingSurvivesFetch(t *testing.T) {
	gate := make(chan struct{})
	history := Message{ID: "m1", ConversationID: "c1", SenderID: "u2", Text: "earlier"}
	ft := &fakeTransport{}
	ft.ackFn = func(event string, _ any) (json.RawMessage, error) {
		switch event {
		case "fetchMessages":
			<-gate
			data, _ := json.Marshal([]Message{history})
			return data, nil
		case "sendMessage":
			data, _ := json.Marshal(sendAck{Message: &Message{ID: "m2", ConversationID: "c1", SenderID: "u1", Text: "now"}})
			return data, nil
		}
		return nil, fmt.Errorf("unexpected event %s", event)
	}
	s, _ := testStore(t, ft)

	s.Enter(context.Background(), conv("c1"))
	sendDone := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "now", nil)
		sendDone <- err
	}()
	waitFor(t, "optimistic entry", func() bool { return len(s.Messages()) == 1 })

	close(gate)
	waitFor(t, "ready", func() bool { return s.ActiveState() == StateReady })
	select {
	case err := <-sendDone:
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send did not resolve")
	}

	got := ids(s.Messages())
	if len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
		t.Errorf("log = %v, want [m1 m2]", got)
	}
}
