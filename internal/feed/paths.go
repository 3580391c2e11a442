package feed

import "strings"

// ConnectedPath reports transport connectivity as a boolean value.
const ConnectedPath = ".info/connected"

// Join builds a slash-separated path, dropping empty segments.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Split returns the segments of path.
func Split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// UserMessages is the per-user, per-conversation message index.
func UserMessages(userID, conversationID string) string {
	return Join("user-messages", userID, conversationID)
}

// Message is the global message content record.
func Message(messageID string) string {
	return Join("messages", messageID)
}

// UserConversations is the per-user conversation index.
func UserConversations(userID string) string {
	return Join("user-conversations", userID)
}

// UserConversation is one record of the per-user conversation index.
func UserConversation(userID, conversationID string) string {
	return Join("user-conversations", userID, conversationID)
}

// Typing is the per-conversation typing state, keyed by participant id.
func Typing(conversationID string) string {
	return Join("typing", conversationID)
}

// User is a user profile record.
func User(userID string) string {
	return Join("users", userID)
}
