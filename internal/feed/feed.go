// Package feed defines the contract of the remote, append-only conversation
// feed the mirror reads from: hierarchical keyed paths with single-shot reads,
// per-path subscriptions and writes.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a feed or subscription that has been shut down.
var ErrClosed = errors.New("feed closed")

// EventKind selects which changes a subscription observes.
type EventKind int

const (
	// ValueChanged fires with the whole snapshot at the path, once on
	// subscribe and again after every change below it.
	ValueChanged EventKind = iota
	// ChildAdded fires once per existing child on subscribe and for every
	// child that appears afterwards.
	ChildAdded
	// ChildRemoved fires for every child that disappears after subscribe.
	ChildRemoved
)

func (k EventKind) String() string {
	switch k {
	case ValueChanged:
		return "value"
	case ChildAdded:
		return "child_added"
	case ChildRemoved:
		return "child_removed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "value":
		return ValueChanged, nil
	case "child_added":
		return ChildAdded, nil
	case "child_removed":
		return ChildRemoved, nil
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Query addresses a path, optionally restricted to its last N children in key order.
type Query struct {
	Path        string `json:"path"`
	LimitToLast int    `json:"limit_to_last,omitempty"`
}

// At returns an unrestricted query for path.
func At(path string) Query {
	return Query{Path: path}
}

// Snapshot is an immutable copy of the data at a path.
type Snapshot struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value,omitempty"`
	Children []Snapshot      `json:"children,omitempty"`
}

// Exists reports whether the path held any data.
func (s Snapshot) Exists() bool {
	return len(s.Value) > 0 && string(s.Value) != "null"
}

// Decode unmarshals the snapshot value into v.
func (s Snapshot) Decode(v any) error {
	if !s.Exists() {
		return fmt.Errorf("decode %q: %w", s.Key, ErrNotFound)
	}
	if err := json.Unmarshal(s.Value, v); err != nil {
		return fmt.Errorf("decode %q: %w", s.Key, err)
	}
	return nil
}

// ErrNotFound is returned when decoding a snapshot that holds no data.
var ErrNotFound = errors.New("no data at path")

// Event is a single change notification.
type Event struct {
	Kind     EventKind `json:"kind"`
	Snapshot Snapshot  `json:"snapshot"`
}

// Subscription is a revocable handle on a live observation. Close is
// idempotent; no event is delivered after it returns.
type Subscription interface {
	Events() <-chan Event
	Close()
}

// Feed is the remote store. Implementations must be safe for concurrent use.
type Feed interface {
	ReadOnce(ctx context.Context, q Query) (Snapshot, error)
	Subscribe(ctx context.Context, q Query, kind EventKind) (Subscription, error)
	// Write replaces the value at path. A nil value removes the path.
	Write(ctx context.Context, path string, value any) error
}
