package bus

import "time"

// Event represents a domain event published on the bus. Kinds are dotted,
// namespaced by producer: "session." for phase and connectivity,
// "chats." for the conversation list, "conversation." for message sessions,
// "outbox." for write-back delivery.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
