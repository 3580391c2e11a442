package api

import (
	"fmt"

	"github.com/matheus3301/feedmirror/internal/chatlist"
	"github.com/matheus3301/feedmirror/internal/model"
	"github.com/matheus3301/feedmirror/internal/msgsync"
	"github.com/matheus3301/feedmirror/internal/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request fields.
const (
	fieldConversationID = "conversation_id"
	fieldValue          = "value"
	fieldSeenID         = "seen_id"
)

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func boolField(s *structpb.Struct, name string) bool {
	return s.GetFields()[name].GetBoolValue()
}

// Request builds a request document for the Mirror service.
func Request(conversationID string, value bool, seenID string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldConversationID: structpb.NewStringValue(conversationID),
		fieldValue:          structpb.NewBoolValue(value),
		fieldSeenID:         structpb.NewStringValue(seenID),
	}}
}

func conversationToMap(c *model.Conversation, me string) map[string]any {
	participants := make([]any, len(c.Participants))
	for i, p := range c.Participants {
		participants[i] = p
	}
	out := map[string]any{
		"id":            c.ID,
		"name":          c.DisplayName(),
		"thumbnail_url": c.ThumbnailURL,
		"is_group":      c.IsGroup,
		"self_chat":     c.SelfChat,
		"pinned":        c.Pinned,
		"muted":         c.Muted,
		"typing":        c.IsTyping,
		"badge":         c.Badge,
		"show_badge":    c.ShowsBadge(me),
		"preview":       c.Preview(),
		"participants":  participants,
	}
	if lm := c.LastMessage; lm != nil {
		out["last_message"] = map[string]any{
			"id":           lm.ID,
			"kind":         string(lm.Kind),
			"status":       lm.Status,
			"sender_id":    lm.SenderID,
			"timestamp_ms": lm.Timestamp,
		}
	}
	return out
}

func conversationsToList(items []model.Conversation, me string) []any {
	out := make([]any, len(items))
	for i := range items {
		out[i] = conversationToMap(&items[i], me)
	}
	return out
}

func messageToMap(m *model.Message) map[string]any {
	return map[string]any{
		"id":             m.ID,
		"sender_id":      m.SenderID,
		"sender_name":    m.SenderName,
		"recipient_id":   m.RecipientID,
		"timestamp_ms":   m.Timestamp,
		"kind":           string(m.Kind),
		"text":           m.Text,
		"image_url":      m.ImageURL,
		"video_url":      m.VideoURL,
		"voice_duration": m.Layout.VoiceDuration,
		"status":         m.Status,
		"seen":           m.Seen,
		"tail":           m.Tail,
		"time_label":     m.Layout.TimeLabel,
		"day_label":      m.Layout.DayLabel,
		"text_width":     m.Layout.Text.Width,
		"text_height":    m.Layout.Text.Height,
		"image_height":   m.Layout.ImageHeight,
	}
}

func intsToList(in []int) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// sessionEventToStruct flattens one message session event.
func sessionEventToStruct(evt msgsync.Event) (*structpb.Struct, error) {
	out := map[string]any{
		"kind":            evt.Kind.String(),
		"conversation_id": evt.ConversationID,
	}
	switch evt.Kind {
	case msgsync.Batch:
		msgs := make([]any, len(evt.Messages))
		for i := range evt.Messages {
			msgs[i] = messageToMap(&evt.Messages[i])
		}
		out["messages"] = msgs
	case msgsync.Remove:
		out["message_id"] = evt.Message.ID
		out["index"] = evt.Index
	default:
		out["message"] = messageToMap(&evt.Message)
		out["index"] = evt.Index
	}
	if evt.Neighbor != nil {
		out["neighbor"] = messageToMap(evt.Neighbor)
		out["neighbor_index"] = evt.NeighborIndex
	}
	return structpb.NewStruct(out)
}

// payloadToValue converts a bus payload into a document value.
func payloadToValue(payload any, me string) (any, error) {
	switch p := payload.(type) {
	case nil, bool, int, string:
		return p, nil
	case map[string]string:
		out := make(map[string]any, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out, nil
	case model.Conversation:
		return conversationToMap(&p, me), nil
	case []model.Conversation:
		return conversationsToList(p, me), nil
	case chatlist.RowChange:
		return map[string]any{
			"section":         p.Section,
			"deleted":         intsToList(p.Deleted),
			"inserted":        intsToList(p.Inserted),
			"reloaded":        intsToList(p.Reloaded),
			"animate_deletes": p.AnimateDeletes,
			"items":           conversationsToList(p.Items, me),
		}, nil
	case chatlist.Reload:
		return map[string]any{
			"pinned":   conversationsToList(p.Pinned, me),
			"unpinned": conversationsToList(p.Unpinned, me),
		}, nil
	case chatlist.TypingChange:
		return map[string]any{"conversation_id": p.ConversationID, "typing": p.Typing}, nil
	case status.PhaseChange:
		return map[string]any{"from": string(p.From), "to": string(p.To)}, nil
	case status.Connectivity:
		return string(p), nil
	case fmt.Stringer:
		return p.String(), nil
	}
	return nil, fmt.Errorf("unsupported payload %T", payload)
}
