// Package msgsync mirrors the recent messages of one open conversation:
// a bounded initial window resolved behind a join barrier, then ordered
// incremental inserts, status updates and removals.
package msgsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/feedmirror/internal/barrier"
	"github.com/matheus3301/feedmirror/internal/bus"
	"github.com/matheus3301/feedmirror/internal/feed"
	"github.com/matheus3301/feedmirror/internal/model"
	"go.uber.org/zap"
)

// Options tune a Synchronizer. Zero fields take the defaults below.
type Options struct {
	LocalUser      string
	Window         int
	ResolveTimeout time.Duration
	BarrierTimeout time.Duration
	Concurrency    int
	Layout         model.LayoutConfig
}

const (
	DefaultWindow         = 50
	DefaultResolveTimeout = 10 * time.Second
	DefaultBarrierTimeout = 15 * time.Second
	DefaultConcurrency    = 16
)

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.ResolveTimeout <= 0 {
		o.ResolveTimeout = DefaultResolveTimeout
	}
	if o.BarrierTimeout <= 0 {
		o.BarrierTimeout = DefaultBarrierTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Layout == (model.LayoutConfig{}) {
		o.Layout = model.DefaultLayout()
	}
	return o
}

// ReadMarker receives the mark-read side effect of an open conversation.
// seenID is the newest incoming message to flag as seen, or empty.
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID, seenID string) error
}

// Synchronizer opens message sessions against a feed. At most one session
// per conversation is live; opening a conversation again closes the
// previous session.
type Synchronizer struct {
	feed   feed.Feed
	opts   Options
	marker ReadMarker
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a synchronizer. marker and b may be nil.
func New(f feed.Feed, opts Options, marker ReadMarker, b *bus.Bus, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		feed:     f,
		opts:     opts.withDefaults(),
		marker:   marker,
		bus:      b,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Open subscribes to the conversation's message index and starts the
// session. The first event is always a Batch; closing ctx closes the session.
func (s *Synchronizer) Open(ctx context.Context, conv model.Conversation) (*Session, error) {
	if conv.ID == "" {
		return nil, errors.New("open: empty conversation id")
	}
	if conv.ID == s.opts.LocalUser {
		conv.SelfChat = true
	}

	ctx, cancel := context.WithCancel(ctx)
	index := feed.UserMessages(s.opts.LocalUser, conv.ID)
	added, err := s.feed.Subscribe(ctx, feed.Query{Path: index, LimitToLast: s.opts.Window}, feed.ChildAdded)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", index, err)
	}
	removed, err := s.feed.Subscribe(ctx, feed.At(index), feed.ChildRemoved)
	if err != nil {
		added.Close()
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", index, err)
	}

	sess := newSession(s, ctx, cancel, conv, index, added, removed)
	s.mu.Lock()
	prev := s.sessions[conv.ID]
	s.sessions[conv.ID] = sess
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	s.publish("conversation.opened", conv.ID)
	go sess.run()
	return sess, nil
}

// Active returns the ids of the conversations with a live session.
func (s *Synchronizer) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll closes every live session.
func (s *Synchronizer) CloseAll() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

func (s *Synchronizer) release(sess *Session) {
	s.mu.Lock()
	current := s.sessions[sess.conv.ID] == sess
	if current {
		delete(s.sessions, sess.conv.ID)
	}
	s.mu.Unlock()
	if current {
		s.publish("conversation.closed", sess.conv.ID)
	}
}

func (s *Synchronizer) publish(kind, conversationID string) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(kind, map[string]string{"conversation_id": conversationID})
}

// resolveMessage reads messages/{id}.
func (s *Synchronizer) resolveMessage(ctx context.Context, id string) (*model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ResolveTimeout)
	defer cancel()
	snap, err := s.feed.ReadOnce(ctx, feed.At(feed.Message(id)))
	if err != nil {
		return nil, err
	}
	return model.DecodeMessage(id, snap)
}

// lookupName reads the display name of a user. Failures yield an empty name.
func (s *Synchronizer) lookupName(ctx context.Context, userID string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ResolveTimeout)
	defer cancel()
	snap, err := s.feed.ReadOnce(ctx, feed.At(feed.User(userID)))
	if err != nil {
		s.logger.Debug("sender lookup failed", zap.String("user_id", userID), zap.Error(err))
		return "", false
	}
	p, err := model.DecodeProfile(userID, snap)
	if err != nil || p.Name == "" {
		return "", false
	}
	return p.Name, true
}

// resolveNames looks up each distinct sender once, concurrently, behind a barrier.
func (s *Synchronizer) resolveNames(ctx context.Context, msgs []*model.Message) map[string]string {
	var ids []string
	seen := make(map[string]bool)
	for _, m := range msgs {
		if !seen[m.SenderID] {
			seen[m.SenderID] = true
			ids = append(ids, m.SenderID)
		}
	}
	results, timedOut := barrier.Join(ctx, len(ids), s.barrierOptions(), func(ctx context.Context, i int) (string, bool) {
		return s.lookupName(ctx, ids[i])
	})
	if timedOut {
		s.logger.Warn("sender lookup barrier timed out", zap.Int("senders", len(ids)))
	}
	names := make(map[string]string, len(ids))
	for i, r := range results {
		if r.OK {
			names[ids[i]] = r.Value
		}
	}
	return names
}

func (s *Synchronizer) barrierOptions() barrier.Options {
	return barrier.Options{Timeout: s.opts.BarrierTimeout, Limit: s.opts.Concurrency}
}
