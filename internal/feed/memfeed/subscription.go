package memfeed

import (
	"sort"
	"sync"

	"github.com/matheus3301/feedmirror/internal/feed"
)

type subscription struct {
	*feed.Pipe[feed.Event]

	feed  *Feed
	id    int
	query feed.Query
	kind  feed.EventKind

	// last observed state, guarded by Feed.mu
	lastValue string
	lastKeys  map[string]feed.Snapshot

	once sync.Once
}

func newSubscription(f *Feed, id int, q feed.Query, kind feed.EventKind) *subscription {
	return &subscription{
		Pipe:     feed.NewPipe[feed.Event](),
		feed:     f,
		id:       id,
		query:    q,
		kind:     kind,
		lastKeys: make(map[string]feed.Snapshot),
	}
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.feed.remove(s.id)
		s.Pipe.Close()
	})
}

// evaluate compares snap against the last observed state and returns the
// events it implies.
func (s *subscription) evaluate(snap feed.Snapshot, initial bool) []feed.Event {
	switch s.kind {
	case feed.ValueChanged:
		v := string(snap.Value)
		if !initial && v == s.lastValue {
			return nil
		}
		s.lastValue = v
		return []feed.Event{{Kind: feed.ValueChanged, Snapshot: snap}}
	case feed.ChildAdded, feed.ChildRemoved:
		current := make(map[string]feed.Snapshot, len(snap.Children))
		var out []feed.Event
		for _, child := range snap.Children {
			current[child.Key] = child
			if _, seen := s.lastKeys[child.Key]; !seen && s.kind == feed.ChildAdded {
				out = append(out, feed.Event{Kind: feed.ChildAdded, Snapshot: child})
			}
		}
		if s.kind == feed.ChildRemoved && !initial {
			keys := make([]string, 0, len(s.lastKeys))
			for k := range s.lastKeys {
				if _, still := current[k]; !still {
					keys = append(keys, k)
				}
			}
			sort.Strings(keys)
			for _, k := range keys {
				out = append(out, feed.Event{Kind: feed.ChildRemoved, Snapshot: s.lastKeys[k]})
			}
		}
		s.lastKeys = current
		return out
	}
	return nil
}
