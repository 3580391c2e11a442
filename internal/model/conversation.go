package model

import (
	"encoding/json"
	"slices"

	"github.com/matheus3301/feedmirror/internal/feed"
)

// Preview strings shown in place of a last-message body.
const (
	PreviewImage  = "Attachment: Image"
	PreviewVideo  = "Attachment: Video"
	PreviewVoice  = "Audio message"
	PreviewEmpty  = "No messages here yet."
	PreviewTyping = "typing"

	PersonalStorageName = "Personal Storage"
)

// LastMessage summarizes the newest message of a conversation.
type LastMessage struct {
	ID        string
	Text      string
	Kind      BodyKind
	Status    string
	Timestamp int64
	SenderID  string
}

// Conversation is one denormalized record of the local mirror.
type Conversation struct {
	ID           string
	Name         string
	ThumbnailURL string
	IsGroup      bool
	SelfChat     bool
	Pinned       bool
	Muted        bool
	IsTyping     bool
	Badge        int
	Participants []string
	LastMessage  *LastMessage
}

// LastActivity is the ordering key of the list views.
func (c *Conversation) LastActivity() int64 {
	if c.LastMessage == nil {
		return 0
	}
	return c.LastMessage.Timestamp
}

// HasParticipant reports whether userID is a member.
func (c *Conversation) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// DisplayName substitutes the personal-storage label for self chats.
func (c *Conversation) DisplayName() string {
	if c.SelfChat {
		return PersonalStorageName
	}
	return c.Name
}

// Preview is the subtitle of the conversation row.
func (c *Conversation) Preview() string {
	if c.IsTyping {
		return PreviewTyping
	}
	lm := c.LastMessage
	if lm == nil {
		return PreviewEmpty
	}
	if lm.Text != "" {
		return lm.Text
	}
	switch lm.Kind {
	case KindImage:
		return PreviewImage
	case KindVideo:
		return PreviewVideo
	case KindVoice:
		return PreviewVoice
	}
	return PreviewEmpty
}

// ShowsBadge hides the unread badge when the newest message is our own.
func (c *Conversation) ShowsBadge(localUser string) bool {
	if c.Badge <= 0 {
		return false
	}
	return c.LastMessage == nil || c.LastMessage.SenderID != localUser
}

type conversationPayload struct {
	ChatName              string   `json:"chatName"`
	ChatThumbnailPhotoURL string   `json:"chatThumbnailPhotoURL"`
	IsGroupChat           bool     `json:"isGroupChat"`
	IsSelfChat            bool     `json:"isSelfChat"`
	Pinned                bool     `json:"pinned"`
	Muted                 bool     `json:"muted"`
	Badge                 int      `json:"badge"`
	ChatParticipantsIDs   []string `json:"chatParticipantsIDs"`
	LastMessage           *struct {
		MessageUID           string       `json:"messageUID"`
		FromID               string       `json:"fromId"`
		Text                 string       `json:"text"`
		Timestamp            *json.Number `json:"timestamp"`
		Status               string       `json:"status"`
		ImageURL             string       `json:"imageUrl"`
		VideoURL             string       `json:"videoUrl"`
		VoiceEncodedString   string       `json:"voiceEncodedString"`
		IsInformationMessage bool         `json:"isInformationMessage"`
	} `json:"lastMessage"`
}

// DecodeConversation builds a record from user-conversations/{me}/{id}. A
// conversation whose id is the local user's is the personal-storage self chat.
func DecodeConversation(id string, snap feed.Snapshot, localUser string) (*Conversation, error) {
	var p conversationPayload
	if err := snap.Decode(&p); err != nil {
		return nil, err
	}
	c := &Conversation{
		ID:           id,
		Name:         p.ChatName,
		ThumbnailURL: p.ChatThumbnailPhotoURL,
		IsGroup:      p.IsGroupChat,
		SelfChat:     p.IsSelfChat || (localUser != "" && id == localUser),
		Pinned:       p.Pinned,
		Muted:        p.Muted,
		Badge:        max(p.Badge, 0),
		Participants: p.ChatParticipantsIDs,
	}
	if lm := p.LastMessage; lm != nil {
		last := &LastMessage{
			ID:       lm.MessageUID,
			Text:     lm.Text,
			Kind:     kindOf(lm.IsInformationMessage, lm.VideoURL, lm.ImageURL, lm.VoiceEncodedString),
			Status:   lm.Status,
			SenderID: lm.FromID,
		}
		if lm.Timestamp != nil {
			last.Timestamp, _ = timestampOf(*lm.Timestamp)
		}
		c.LastMessage = last
	}
	return c, nil
}
