package chatlist

import "github.com/matheus3301/feedmirror/internal/model"

// List sections.
const (
	SectionPinned   = 0
	SectionUnpinned = 1
)

// Bus event kinds published by the synchronizer.
const (
	EventFetchStarted  = "chats.fetch_started"
	EventFetchFinished = "chats.fetch_finished"
	EventLoaded        = "chats.loaded"
	EventItemAdded     = "chats.item_added"
	EventItemUpdated   = "chats.item_updated"
	EventItemRemoved   = "chats.item_removed"
	EventRows          = "chats.rows"
	EventReload        = "chats.reload"
	EventEmpty         = "chats.empty"
	EventBadge         = "chats.badge"
	EventTyping        = "chats.typing"
	EventTeardown      = "chats.teardown"
)

// RowChange tells the display how to patch one section. Deleted indices
// refer to the rows before the change; Inserted and Reloaded to the rows
// after it.
type RowChange struct {
	Section        int
	Deleted        []int
	Inserted       []int
	Reloaded       []int
	AnimateDeletes bool
	Items          []model.Conversation
}

// Reload replaces both sections at once.
type Reload struct {
	Pinned   []model.Conversation
	Unpinned []model.Conversation
}

// TypingChange reports a conversation's typing indicator.
type TypingChange struct {
	ConversationID string
	Typing         bool
}
