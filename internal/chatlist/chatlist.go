// Package chatlist mirrors the local user's conversation index into the
// store, keeps the pinned and unpinned views live, and turns their diffs,
// the unread total and typing state into display events.
package chatlist

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/feedmirror/internal/bus"
	"github.com/matheus3301/feedmirror/internal/feed"
	"github.com/matheus3301/feedmirror/internal/model"
	"github.com/matheus3301/feedmirror/internal/status"
	"github.com/matheus3301/feedmirror/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrNotRunning is returned by intents issued while the synchronizer is stopped.
	ErrNotRunning = errors.New("conversation list is not running")
	// ErrUnknownConversation is returned by intents on an id the mirror does not hold.
	ErrUnknownConversation = errors.New("unknown conversation")
)

// Enqueuer persists a write-back for the feed. *outbox.Queue satisfies it.
type Enqueuer interface {
	Enqueue(path string, value any) (string, error)
}

// BadgeSink receives the application unread total. Zero clears the badge.
type BadgeSink interface {
	SetBadge(total int)
}

// Synchronizer owns the conversation records of the store. All mirror
// mutations run on its loop goroutine.
type Synchronizer struct {
	feed    feed.Feed
	db      *store.DB
	writes  Enqueuer
	machine *status.Machine
	bus     *bus.Bus
	badge   BadgeSink
	me      string
	logger  *zap.Logger

	cmds chan command

	// mu guards the fields replaced by Start and Teardown.
	mu       sync.Mutex
	done     chan struct{}
	cancel   context.CancelFunc
	pinned   *store.LiveView
	unpinned *store.LiveView

	// loop state
	ctx       context.Context
	index     feed.Subscription
	connected feed.Subscription
	unobserve []func()
	typingIn  *feed.Pipe[typingEvent]
	typing    map[string]feed.Subscription
	tracked   map[string]bool
	deleting  map[string]bool
	overrides map[string]*localFlags
	counts    [2]int
	empty     bool
	loaded    bool
	lastBadge int
}

type command struct {
	fn    func() error
	reply chan error
}

// New creates a stopped synchronizer for localUser. badge may be nil.
func New(f feed.Feed, db *store.DB, writes Enqueuer, machine *status.Machine, b *bus.Bus, badge BadgeSink, localUser string, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		feed:    f,
		db:      db,
		writes:  writes,
		machine: machine,
		bus:     b,
		badge:   badge,
		me:      localUser,
		logger:  logger,
		cmds:    make(chan command),
	}
}

// Start subscribes to the conversation index and connectivity and begins
// the initial sync. It fails unless the phase is Initializing.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.Current() != status.Initializing {
		return fmt.Errorf("start: phase is %s", s.machine.Current())
	}
	ctx, cancel := context.WithCancel(ctx)

	index, err := s.feed.Subscribe(ctx, feed.At(feed.UserConversations(s.me)), feed.ValueChanged)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe conversation index: %w", err)
	}
	connected, err := s.feed.Subscribe(ctx, feed.At(feed.ConnectedPath), feed.ValueChanged)
	if err != nil {
		index.Close()
		cancel()
		return fmt.Errorf("subscribe connectivity: %w", err)
	}
	pinned, err := s.db.View(store.Pinned, store.ByLastActivity)
	if err != nil {
		index.Close()
		connected.Close()
		cancel()
		return fmt.Errorf("open pinned view: %w", err)
	}
	unpinned, err := s.db.View(store.Unpinned, store.ByLastActivity)
	if err != nil {
		pinned.Close()
		index.Close()
		connected.Close()
		cancel()
		return fmt.Errorf("open unpinned view: %w", err)
	}

	if err := s.machine.Transition(status.InitialSyncInFlight); err != nil {
		pinned.Close()
		unpinned.Close()
		index.Close()
		connected.Close()
		cancel()
		return err
	}

	s.ctx, s.cancel = ctx, cancel
	s.index, s.connected = index, connected
	s.pinned, s.unpinned = pinned, unpinned
	s.typingIn = feed.NewPipe[typingEvent]()
	s.typing = make(map[string]feed.Subscription)
	s.tracked = make(map[string]bool)
	s.deleting = make(map[string]bool)
	s.overrides = make(map[string]*localFlags)
	s.loaded = false
	s.lastBadge = -1
	s.done = make(chan struct{})

	existing, err := s.db.ConversationIDs()
	if err != nil {
		s.logger.Warn("failed to read mirrored ids", zap.Error(err))
	}
	for _, id := range existing {
		s.tracked[id] = true
	}

	s.unobserve = []func(){
		pinned.Observe(func(u store.ViewUpdate) { s.onView(SectionPinned, u) }),
		unpinned.Observe(func(u store.ViewUpdate) { s.onView(SectionUnpinned, u) }),
	}

	s.emit(EventFetchStarted, nil)
	go s.loop(ctx, s.done)
	return nil
}

// Stop ends the loop and revokes every subscription, keeping the mirror.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the loop has exited.
func (s *Synchronizer) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Phase returns the current lifecycle phase.
func (s *Synchronizer) Phase() status.Phase {
	return s.machine.Current()
}

// Pinned returns the pinned section, newest first.
func (s *Synchronizer) Pinned() []model.Conversation {
	s.mu.Lock()
	v := s.pinned
	s.mu.Unlock()
	if v == nil {
		return nil
	}
	return v.Items()
}

// Unpinned returns the unpinned section, newest first.
func (s *Synchronizer) Unpinned() []model.Conversation {
	s.mu.Lock()
	v := s.unpinned
	s.mu.Unlock()
	if v == nil {
		return nil
	}
	return v.Items()
}

// Conversation returns one mirrored record.
func (s *Synchronizer) Conversation(id string) (*model.Conversation, error) {
	return s.db.GetConversation(id)
}

// BadgeTotal returns the current application unread total.
func (s *Synchronizer) BadgeTotal() (int, error) {
	return s.db.BadgeTotal()
}

func (s *Synchronizer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.release()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			cmd.reply <- cmd.fn()
		case evt, ok := <-s.index.Events():
			if !ok {
				if ctx.Err() == nil {
					s.logger.Error("conversation index subscription closed by feed")
				}
				return
			}
			s.handleIndex(evt.Snapshot)
		case evt, ok := <-s.connected.Events():
			if !ok {
				return
			}
			s.handleConnected(evt.Snapshot)
		case evt := <-s.typingIn.Events():
			s.handleTyping(evt)
		}
	}
}

// release revokes everything the loop held. Runs on the loop goroutine.
func (s *Synchronizer) release() {
	for _, fn := range s.unobserve {
		fn()
	}
	s.unobserve = nil
	for id, sub := range s.typing {
		sub.Close()
		delete(s.typing, id)
	}
	s.typingIn.Close()
	s.index.Close()
	s.connected.Close()
	s.pinned.Close()
	s.unpinned.Close()
}

// do runs fn on the loop goroutine.
func (s *Synchronizer) do(ctx context.Context, fn func() error) error {
	done := s.Done()
	if done == nil {
		return ErrNotRunning
	}
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleIndex reconciles one snapshot of the conversation index with the mirror.
func (s *Synchronizer) handleIndex(snap feed.Snapshot) {
	present := make(map[string]bool, len(snap.Children))
	var added, updated []string

	for _, child := range snap.Children {
		id := child.Key
		present[id] = true
		if s.deleting[id] {
			continue
		}
		conv, err := model.DecodeConversation(id, child, s.me)
		if err != nil {
			s.logger.Warn("skipping malformed conversation", zap.String("conversation_id", id), zap.Error(err))
			continue
		}
		s.applyOverrides(conv)
		change, err := s.db.UpsertConversation(conv)
		if err != nil {
			s.logger.Error("failed to upsert conversation", zap.String("conversation_id", id), zap.Error(err))
			continue
		}
		switch {
		case !s.tracked[id]:
			s.tracked[id] = true
			added = append(added, id)
		case change != store.Unchanged:
			updated = append(updated, id)
		}
	}
	for id := range s.deleting {
		if !present[id] {
			delete(s.deleting, id)
		}
	}

	var removed []string
	for id := range s.tracked {
		if present[id] {
			continue
		}
		if _, err := s.db.DeleteConversation(id); err != nil {
			s.logger.Error("failed to delete conversation", zap.String("conversation_id", id), zap.Error(err))
			continue
		}
		delete(s.tracked, id)
		delete(s.overrides, id)
		s.unwatchTyping(id)
		removed = append(removed, id)
	}

	if !s.loaded {
		s.finishInitialLoad()
		return
	}

	for _, id := range added {
		s.emit(EventItemAdded, id)
		if c, err := s.db.GetConversation(id); err == nil && c != nil {
			s.watchTyping(c)
		}
	}
	for _, id := range updated {
		if c, err := s.db.GetConversation(id); err == nil && c != nil {
			s.emit(EventItemUpdated, *c)
		}
	}
	for _, id := range removed {
		s.emit(EventItemRemoved, id)
	}
	if len(added)+len(updated)+len(removed) > 0 {
		s.refreshBadge()
	}
}

// finishInitialLoad ends the silent initial phase with one full reload.
func (s *Synchronizer) finishInitialLoad() {
	if err := s.machine.Transition(status.Steady); err != nil {
		s.logger.Error("phase transition failed", zap.Error(err))
	}
	s.loaded = true

	all, err := s.db.ListConversations()
	if err != nil {
		s.logger.Error("failed to list conversations", zap.Error(err))
	}
	list := make([]model.Conversation, len(all))
	for i, c := range all {
		list[i] = *c
		s.watchTyping(c)
	}

	reload := Reload{Pinned: s.pinned.Items(), Unpinned: s.unpinned.Items()}
	s.counts = [2]int{len(reload.Pinned), len(reload.Unpinned)}
	s.empty = s.counts[0]+s.counts[1] == 0

	s.emit(EventFetchFinished, list)
	s.emit(EventLoaded, len(list))
	s.emit(EventReload, reload)
	s.emit(EventEmpty, s.empty)
	s.refreshBadge()
	s.logger.Info("conversation list loaded",
		zap.Int("pinned", len(reload.Pinned)),
		zap.Int("unpinned", len(reload.Unpinned)))
}

// onView runs inside store mutations made by the loop; it must not touch the store.
func (s *Synchronizer) onView(section int, u store.ViewUpdate) {
	s.counts[section] = len(u.Items)
	if u.Initial || s.machine.Current() != status.Steady {
		return
	}
	s.emit(EventRows, RowChange{
		Section:        section,
		Deleted:        u.Diff.Deleted,
		Inserted:       u.Diff.Inserted,
		Reloaded:       u.Diff.Modified,
		AnimateDeletes: true,
		Items:          u.Items,
	})
	if empty := s.counts[0]+s.counts[1] == 0; empty != s.empty {
		s.empty = empty
		s.emit(EventEmpty, empty)
	}
}

func (s *Synchronizer) handleConnected(snap feed.Snapshot) {
	var connected bool
	if err := snap.Decode(&connected); err != nil && !errors.Is(err, feed.ErrNotFound) {
		s.logger.Warn("bad connectivity value", zap.Error(err))
	}
	c := status.Connecting
	if connected {
		c = status.Online
	}
	if s.machine.SetConnectivity(c) {
		s.logger.Info("connectivity changed", zap.String("connectivity", string(c)))
	}
}

// refreshBadge recomputes the unread total and hands it to the sink.
func (s *Synchronizer) refreshBadge() {
	total, err := s.db.BadgeTotal()
	if err != nil {
		s.logger.Error("failed to sum badges", zap.Error(err))
		return
	}
	if s.badge != nil {
		s.badge.SetBadge(total)
	}
	if total != s.lastBadge {
		s.lastBadge = total
		s.emit(EventBadge, total)
	}
}

func (s *Synchronizer) emit(kind string, payload any) {
	if s.bus != nil {
		s.bus.Emit(kind, payload)
	}
}
