// Package memfeed is an in-memory feed.Feed: an ordered, keyed JSON tree with
// value and child subscriptions. It backs tests and the local feed simulator.
package memfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/feedmirror/internal/feed"
)

type node struct {
	leaf     json.RawMessage
	children map[string]*node
}

func (n *node) empty() bool {
	return n == nil || (n.leaf == nil && len(n.children) == 0)
}

// Feed is an in-memory remote feed. The zero value is not usable; call New.
type Feed struct {
	mu      sync.Mutex
	root    *node
	subs    map[int]*subscription
	nextSub int
	lastKey int64
	holds   map[string]chan struct{}
	closed  bool
}

// New returns an empty feed reporting itself as connected.
func New() *Feed {
	f := &Feed{
		root:  &node{},
		subs:  make(map[int]*subscription),
		holds: make(map[string]chan struct{}),
	}
	f.setLocked(feed.Split(feed.ConnectedPath), mustNode(true))
	return f
}

// ReadOnce returns the current snapshot for q.
func (f *Feed) ReadOnce(ctx context.Context, q feed.Query) (feed.Snapshot, error) {
	f.mu.Lock()
	hold, held := f.holds[q.Path]
	f.mu.Unlock()
	if held {
		select {
		case <-hold:
		case <-ctx.Done():
			return feed.Snapshot{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return feed.Snapshot{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return feed.Snapshot{}, feed.ErrClosed
	}
	return f.snapshotLocked(q), nil
}

// Subscribe registers an observation. The subscription is closed when ctx is done.
func (f *Feed) Subscribe(ctx context.Context, q feed.Query, kind feed.EventKind) (feed.Subscription, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, feed.ErrClosed
	}
	id := f.nextSub
	f.nextSub++
	s := newSubscription(f, id, q, kind)
	f.subs[id] = s
	s.Push(s.evaluate(f.snapshotLocked(q), true)...)
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.Done():
		}
	}()
	return s, nil
}

// Write replaces the value at path; nil removes it.
func (f *Feed) Write(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var n *node
	if value != nil {
		var err error
		if n, err = toNode(value); err != nil {
			return fmt.Errorf("write %q: %w", path, err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return feed.ErrClosed
	}
	f.setLocked(feed.Split(path), n)
	f.dispatchLocked()
	return nil
}

// Push appends value under path with a fresh, time-ordered key and returns the key.
func (f *Feed) Push(ctx context.Context, path string, value any) (string, error) {
	f.mu.Lock()
	next := time.Now().UnixMilli() * 1000
	if next <= f.lastKey {
		next = f.lastKey + 1
	}
	f.lastKey = next
	f.mu.Unlock()

	key := fmt.Sprintf("%016x", next)
	return key, f.Write(ctx, feed.Join(path, key), value)
}

// SetConnected flips the value observed at feed.ConnectedPath.
func (f *Feed) SetConnected(ctx context.Context, connected bool) error {
	return f.Write(ctx, feed.ConnectedPath, connected)
}

// Hold makes ReadOnce on exactly path block until Release or the caller's context ends.
func (f *Feed) Hold(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.holds[path]; !ok {
		f.holds[path] = make(chan struct{})
	}
}

// Release unblocks readers held on path.
func (f *Feed) Release(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.holds[path]; ok {
		close(ch)
		delete(f.holds, path)
	}
}

// Replay re-delivers the initial events of every subscription on path, the
// way a client resubscribing after a reconnect would observe them.
func (f *Feed) Replay(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.query.Path != feed.Join(path) {
			continue
		}
		s.lastKeys = make(map[string]feed.Snapshot)
		s.Push(s.evaluate(f.snapshotLocked(s.query), true)...)
	}
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close shuts the feed down and closes every subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	subs := make([]*subscription, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

func (f *Feed) remove(id int) {
	f.mu.Lock()
	delete(f.subs, id)
	f.mu.Unlock()
}

func (f *Feed) dispatchLocked() {
	for _, s := range f.subs {
		s.Push(s.evaluate(f.snapshotLocked(s.query), false)...)
	}
}

func (f *Feed) lookupLocked(segments []string) *node {
	n := f.root
	for _, seg := range segments {
		if n == nil || n.children == nil {
			return nil
		}
		n = n.children[seg]
	}
	return n
}

func (f *Feed) setLocked(segments []string, value *node) {
	if len(segments) == 0 {
		if value == nil {
			value = &node{}
		}
		f.root = value
		return
	}
	n := f.root
	trail := []*node{n}
	for _, seg := range segments[:len(segments)-1] {
		if n.children == nil {
			if value == nil {
				return
			}
			n.leaf = nil
			n.children = make(map[string]*node)
		}
		child, ok := n.children[seg]
		if !ok {
			if value == nil {
				return
			}
			child = &node{}
			n.children[seg] = child
		}
		n = child
		trail = append(trail, n)
	}
	last := segments[len(segments)-1]
	if value.empty() {
		delete(n.children, last)
		// prune empty containers bottom-up
		for i := len(trail) - 1; i > 0; i-- {
			if !trail[i].empty() {
				break
			}
			delete(trail[i-1].children, segments[i-1])
		}
		return
	}
	if n.children == nil {
		n.leaf = nil
		n.children = make(map[string]*node)
	}
	n.children[last] = value
}

func (f *Feed) snapshotLocked(q feed.Query) feed.Snapshot {
	segments := feed.Split(q.Path)
	key := ""
	if len(segments) > 0 {
		key = segments[len(segments)-1]
	}
	return snapshotOf(key, f.lookupLocked(segments), q.LimitToLast)
}

func snapshotOf(key string, n *node, limit int) feed.Snapshot {
	snap := feed.Snapshot{Key: key}
	if n.empty() {
		return snap
	}
	if n.leaf != nil {
		snap.Value = n.leaf
		return snap
	}
	keys := sortedKeys(n.children)
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}
	obj := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		child := snapshotOf(k, n.children[k], 0)
		snap.Children = append(snap.Children, child)
		obj[k] = child.Value
	}
	snap.Value, _ = json.Marshal(obj)
	return snap
}

func sortedKeys(m map[string]*node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toNode(value any) (*node, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return build(v)
}

func build(v any) (*node, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		n := &node{children: make(map[string]*node, len(t))}
		for k, cv := range t {
			if strings.Contains(k, "/") {
				return nil, fmt.Errorf("invalid key %q", k)
			}
			child, err := build(cv)
			if err != nil {
				return nil, err
			}
			if !child.empty() {
				n.children[k] = child
			}
		}
		return n, nil
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return &node{leaf: raw}, nil
	}
}

func mustNode(v any) *node {
	n, err := toNode(v)
	if err != nil {
		panic(err)
	}
	return n
}
