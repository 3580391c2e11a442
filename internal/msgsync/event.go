package msgsync

import (
	"fmt"

	"github.com/matheus3301/feedmirror/internal/model"
)

// EventKind discriminates session events.
type EventKind int

const (
	// Batch carries the ordered initial window. Always first, exactly once.
	Batch EventKind = iota
	// Insert appends one message at the end of the buffer.
	Insert
	// StatusUpdate replaces the delivery status of an existing outgoing message.
	StatusUpdate
	// Remove drops a message by id.
	Remove
)

func (k EventKind) String() string {
	switch k {
	case Batch:
		return "batch"
	case Insert:
		return "insert"
	case StatusUpdate:
		return "status_update"
	case Remove:
		return "remove"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is delivered on Session.Events. Messages are copies owned by the
// receiver.
type Event struct {
	Kind           EventKind
	ConversationID string

	// Messages is the chronological window of a Batch.
	Messages []model.Message

	// Message is the subject of Insert and StatusUpdate. Remove sets only ID.
	Message model.Message
	// Index is the buffer position of Message: after the change for Insert
	// and StatusUpdate, before it for Remove.
	Index int

	// Neighbor is the adjacent message whose tail flag changed, if any.
	Neighbor      *model.Message
	NeighborIndex int
}
