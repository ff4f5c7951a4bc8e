package convo

import "github.com/mvilaca/parley/internal/attach"

// Participant is one member of a conversation.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Conversation is a thread summary as shown in the list view. The
// client only reads and updates summaries; threads are created
// server-side on first message.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	UnreadCount  int           `json:"unreadCount"`
}

// Peer returns the first participant other than selfID.
func (c *Conversation) Peer(selfID string) Participant {
	for _, p := range c.Participants {
		if p.ID != selfID {
			return p
		}
	}
	return Participant{}
}

// ParticipantName resolves a participant id to its display name,
// falling back to the raw id when the participant is unknown.
func (c *Conversation) ParticipantName(id string) string {
	for _, p := range c.Participants {
		if p.ID == id && p.Name != "" {
			return p.Name
		}
	}
	return id
}

// Attachment is the render shape of a confirmed attachment: a resolved
// remote URL classified by media kind. The pre-send shape is
// attach.Prepared; the two are distinct types so one instance can never
// carry both representations.
type Attachment struct {
	Kind attach.Kind `json:"kind"`
	Name string      `json:"name"`
	URL  string      `json:"url"`
}

// Message is one entry in a conversation log. ID is empty until the
// server confirms the message; Pending marks the client-local
// optimistic entry awaiting that confirmation.
type Message struct {
	ID             string       `json:"id,omitempty"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	ReceiverID     string       `json:"receiverId,omitempty"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Pending        bool         `json:"-"`

	// localKey identifies an optimistic entry until its ack resolves.
	localKey string
}

// State is the load state of a conversation log. StateReady with an
// empty log ("zero messages yet") is distinct from StateUnloaded.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unloaded"
	}
}
