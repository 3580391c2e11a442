// Package model holds the records mirrored from the feed and the derived
// presentation metadata computed once per message: chronological order,
// tail grouping and layout hints.
package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/feedmirror/internal/feed"
)

// BodyKind is the message body variant.
type BodyKind string

const (
	KindText        BodyKind = "text"
	KindImage       BodyKind = "image"
	KindVideo       BodyKind = "video"
	KindVoice       BodyKind = "voice"
	KindInformation BodyKind = "information"
)

// ErrMalformed marks a payload that cannot form a message.
var ErrMalformed = errors.New("malformed payload")

// Message is a resolved conversation message. Identity and order come from
// ID and Timestamp only; SenderName, Tail and Layout are derived locally.
type Message struct {
	ID          string
	SenderID    string
	RecipientID string
	Timestamp   int64
	Kind        BodyKind
	Text        string
	ImageURL    string
	ImageWidth  float64
	ImageHeight float64
	VideoURL    string
	VoiceData   string
	VoiceSecs   int
	Status      string
	Seen        bool

	// SenderName is copied from the sender's profile; empty until resolved.
	SenderName string
	// Tail is false when the message is visually joined to its successor.
	Tail   bool
	Layout Layout
}

// IsInformation reports whether the message is a system notice.
func (m *Message) IsInformation() bool {
	return m.Kind == KindInformation
}

// Clone returns a copy safe to hand to another goroutine.
func (m *Message) Clone() Message {
	return *m
}

type messagePayload struct {
	FromID               string       `json:"fromId"`
	ToID                 string       `json:"toId"`
	Text                 *string      `json:"text"`
	Timestamp            *json.Number `json:"timestamp"`
	Status               string       `json:"status"`
	Seen                 bool         `json:"seen"`
	ImageURL             string       `json:"imageUrl"`
	ImageWidth           float64      `json:"imageWidth"`
	ImageHeight          float64      `json:"imageHeight"`
	VideoURL             string       `json:"videoUrl"`
	VoiceEncodedString   string       `json:"voiceEncodedString"`
	VoiceDuration        float64      `json:"voiceDuration"`
	IsInformationMessage bool         `json:"isInformationMessage"`
}

// DecodeMessage builds a message from the content record stored under
// messages/{id}. It fails with ErrMalformed when sender or timestamp is missing.
func DecodeMessage(id string, snap feed.Snapshot) (*Message, error) {
	var p messagePayload
	if err := snap.Decode(&p); err != nil {
		return nil, err
	}
	if p.FromID == "" || p.Timestamp == nil {
		return nil, fmt.Errorf("message %q: %w", id, ErrMalformed)
	}
	ts, err := timestampOf(*p.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("message %q timestamp: %w", id, ErrMalformed)
	}

	m := &Message{
		ID:          id,
		SenderID:    p.FromID,
		RecipientID: p.ToID,
		Timestamp:   ts,
		Status:      p.Status,
		Seen:        p.Seen,
		ImageURL:    p.ImageURL,
		ImageWidth:  p.ImageWidth,
		ImageHeight: p.ImageHeight,
		VideoURL:    p.VideoURL,
		VoiceData:   p.VoiceEncodedString,
		VoiceSecs:   int(p.VoiceDuration),
	}
	if p.Text != nil {
		m.Text = *p.Text
	}
	m.Kind = kindOf(p.IsInformationMessage, p.VideoURL, p.ImageURL, p.VoiceEncodedString)
	return m, nil
}

func kindOf(info bool, videoURL, imageURL, voice string) BodyKind {
	switch {
	case info:
		return KindInformation
	case videoURL != "":
		return KindVideo
	case imageURL != "":
		return KindImage
	case voice != "":
		return KindVoice
	default:
		return KindText
	}
}

func timestampOf(n json.Number) (int64, error) {
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// Profile is the subset of a user record the mirror copies.
type Profile struct {
	ID   string
	Name string
}

// DecodeProfile reads users/{id}. A record without a name yields an empty Name.
func DecodeProfile(id string, snap feed.Snapshot) (Profile, error) {
	var p struct {
		Name string `json:"name"`
	}
	if err := snap.Decode(&p); err != nil {
		return Profile{}, err
	}
	return Profile{ID: id, Name: p.Name}, nil
}
