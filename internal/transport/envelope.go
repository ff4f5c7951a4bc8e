package transport

import "encoding/json"

// Envelope is the wire frame for named events in both directions.
// Outbound emits that expect an acknowledgment carry an ID; the matching
// acknowledgment is an envelope whose ReplyTo equals that ID. Unsolicited
// server pushes carry neither.
type Envelope struct {
	Event   string          `json:"event"`
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// AckEvent is the event name used for acknowledgment envelopes.
const AckEvent = "ack"
