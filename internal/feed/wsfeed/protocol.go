// Package wsfeed carries the feed.Feed contract over a websocket: a client
// that implements feed.Feed against a remote endpoint, and a server handler
// that exposes any feed.Feed.
package wsfeed

import (
	"encoding/json"

	"github.com/matheus3301/feedmirror/internal/feed"
)

const (
	opRead        = "read"
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opWrite       = "write"
)

// request is a client frame. For subscribe, ID doubles as the subscription id.
type request struct {
	ID    uint64          `json:"id"`
	Op    string          `json:"op"`
	Query feed.Query      `json:"query"`
	Kind  string          `json:"kind,omitempty"`
	Path  string          `json:"path,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// response is a server frame: either a reply to request ID or an event for Sub.
type response struct {
	ID       uint64         `json:"id,omitempty"`
	Error    string         `json:"error,omitempty"`
	Snapshot *feed.Snapshot `json:"snapshot,omitempty"`
	Sub      uint64         `json:"sub,omitempty"`
	Event    *feed.Event    `json:"event,omitempty"`
}
