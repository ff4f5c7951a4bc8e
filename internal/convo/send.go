package convo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mvilaca/parley/internal/attach"
	"go.uber.org/zap"
)

var (
	// ErrEmptyMessage means both the text was blank and no attachments
	// were staged; no transport call is made.
	ErrEmptyMessage = errors.New("nothing to send")
	// ErrNoConversation means Send was called with no conversation open.
	ErrNoConversation = errors.New("no active conversation")
	// ErrNoRecipient means StartConversation was called with a blank
	// recipient.
	ErrNoRecipient = errors.New("no recipient")
)

// SendError is a rejection reported by the server in the send
// acknowledgment, surfaced verbatim.
type SendError struct {
	Reason string
}

func (e *SendError) Error() string {
	return "send rejected: " + e.Reason
}

type sendRequest struct {
	ConversationID string            `json:"conversationId"`
	SenderID       string            `json:"senderId"`
	ReceiverID     string            `json:"receiverId"`
	Text           string            `json:"text"`
	Files          []attach.Prepared `json:"files,omitempty"`
}

type sendAck struct {
	Message *Message `json:"message"`
	Error   string   `json:"error"`
}

// Send composes and sends a message into the active conversation.
//
// An all-blank message with no attachments is rejected locally. The
// optimistic pending entry appears in the log immediately and is
// resolved by the acknowledgment: on success it becomes the confirmed
// message (deduplicated against a push echo delivering the same
// identifier first), on any failure it is removed. Compose state (input
// text and staged attachments) is owned by the caller and must
// be preserved on failure so the user can retry; only a successful
// send clears it.
func (s *Store) Send(ctx context.Context, text string, files []attach.Prepared) (*Message, error) {
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	ac := s.active
	if ac == nil {
		s.mu.Unlock()
		return nil, ErrNoConversation
	}
	self := s.sess.User().ID
	req := sendRequest{
		ConversationID: ac.id,
		SenderID:       self,
		ReceiverID:     ac.receiver.ID,
		Text:           text,
		Files:          files,
	}

	key := uuid.NewString()
	pending := Message{
		ConversationID: ac.id,
		SenderID:       self,
		ReceiverID:     ac.receiver.ID,
		Text:           text,
		Attachments:    pendingAttachments(files),
		Pending:        true,
		localKey:       key,
	}
	ac.log = append(ac.log, pending)
	s.publishUpdated(ac.id)
	s.mu.Unlock()

	data, err := s.emitter.EmitWithAck(ctx, "sendMessage", req)
	if err != nil {
		// Indeterminate or transport failure: the entry's fate is
		// unknown, so drop it from the log; a push echo (if the server
		// did process the send) arrives with an identifier and is
		// appended like any other push.
		s.removePending(ac, key)
		return nil, err
	}

	var ack sendAck
	if uerr := json.Unmarshal(data, &ack); uerr != nil {
		s.removePending(ac, key)
		return nil, fmt.Errorf("malformed send acknowledgment: %w", uerr)
	}
	if ack.Error != "" {
		s.removePending(ac, key)
		return nil, &SendError{Reason: ack.Error}
	}
	if ack.Message == nil {
		s.removePending(ac, key)
		return nil, fmt.Errorf("send acknowledgment carried no message")
	}

	confirmed := s.confirmSend(ac, key, *ack.Message)
	s.logger.Info("message sent",
		zap.String("conversation_id", ac.id),
		zap.String("message_id", confirmed.ID))
	return confirmed, nil
}

// StartConversation sends the first message to a recipient the user has
// no thread with yet. The request carries no conversation identifier;
// the server creates the thread and the confirmed message comes back
// with its id. No optimistic entry is kept because there is no local
// log to put one in: the caller refreshes the listing and opens the new
// conversation through the normal enter path.
func (s *Store) StartConversation(ctx context.Context, recipientID, text string) (*Message, error) {
	if strings.TrimSpace(recipientID) == "" {
		return nil, ErrNoRecipient
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	req := sendRequest{
		SenderID:   s.sess.User().ID,
		ReceiverID: recipientID,
		Text:       text,
	}
	data, err := s.emitter.EmitWithAck(ctx, "sendMessage", req)
	if err != nil {
		return nil, err
	}

	var ack sendAck
	if uerr := json.Unmarshal(data, &ack); uerr != nil {
		return nil, fmt.Errorf("malformed send acknowledgment: %w", uerr)
	}
	if ack.Error != "" {
		return nil, &SendError{Reason: ack.Error}
	}
	if ack.Message == nil || ack.Message.ConversationID == "" {
		return nil, fmt.Errorf("send acknowledgment carried no conversation")
	}

	s.logger.Info("conversation started",
		zap.String("conversation_id", ack.Message.ConversationID),
		zap.String("recipient_id", recipientID))
	return ack.Message, nil
}

// pendingAttachments derives the render shape for an optimistic entry.
// No remote URL exists yet, so none is set; the kind comes from the
// encoded payload's media type.
func pendingAttachments(files []attach.Prepared) []Attachment {
	if len(files) == 0 {
		return nil
	}
	out := make([]Attachment, len(files))
	for i, f := range files {
		out[i] = Attachment{
			Kind: attach.Classify(f.MediaType),
			Name: f.Name,
		}
	}
	return out
}

func (s *Store) removePending(ac *activeConversation, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != ac {
		return
	}
	for i := range ac.log {
		if ac.log[i].localKey == key {
			ac.log = append(ac.log[:i], ac.log[i+1:]...)
			s.publishUpdated(ac.id)
			return
		}
	}
}

// confirmSend resolves the optimistic entry with the server-confirmed
// message. The confirmation and a receiveMessage push echo share the
// identifier; whichever arrived first wins and the other is discarded.
func (s *Store) confirmSend(ac *activeConversation, key string, confirmed Message) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != ac {
		// Navigated away since sending; nothing to reconcile locally.
		return &confirmed
	}

	if confirmed.ID != "" {
		if _, dup := ac.seen[confirmed.ID]; dup {
			// Push echo landed first. Drop the pending entry.
			for i := range ac.log {
				if ac.log[i].localKey == key {
					ac.log = append(ac.log[:i], ac.log[i+1:]...)
					break
				}
			}
			s.publishUpdated(ac.id)
			return &confirmed
		}
		ac.seen[confirmed.ID] = struct{}{}
	}

	for i := range ac.log {
		if ac.log[i].localKey == key {
			confirmed.localKey = ""
			confirmed.Pending = false
			ac.log[i] = confirmed
			s.updateSummaryLocked(ac.id, &confirmed, false)
			s.publishUpdated(ac.id)
			return &confirmed
		}
	}

	// Pending entry already gone (left and re-entered); append instead.
	ac.log = append(ac.log, confirmed)
	s.updateSummaryLocked(ac.id, &confirmed, false)
	s.publishUpdated(ac.id)
	return &confirmed
}
