package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-namespaced: "session." for connectivity changes,
// "push." for inbound transport events, "convo." for store updates,
// "typing." for indicator changes.
type Event struct {
	Kind    string
	At      time.Time
	Payload any
}
