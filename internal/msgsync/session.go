package msgsync

import (
	"context"
	"sync"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/matheus3301/feedmirror/internal/barrier"
	"github.com/matheus3301/feedmirror/internal/feed"
	"github.com/matheus3301/feedmirror/internal/model"
	"go.uber.org/zap"
)

// Session is one open conversation. Its buffer is owned by the session
// goroutine; feed callbacks are consumed there and nowhere else.
type Session struct {
	owner   *Synchronizer
	conv    model.Conversation
	index   string
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	added   feed.Subscription
	removed feed.Subscription
	events  *feed.Pipe[Event]

	buf *orderedmap.OrderedMap[string, *model.Message]
	// floor is the oldest index key of the initial window. Keys below it
	// re-enter the limited window only when a newer entry is removed.
	floor string
	// replaying holds initial window ids whose subscribe-time child event
	// has not arrived yet.
	replaying map[string]bool

	mu   sync.Mutex
	err  error
	once sync.Once
}

func newSession(s *Synchronizer, ctx context.Context, cancel context.CancelFunc, conv model.Conversation, index string, added, removed feed.Subscription) *Session {
	return &Session{
		owner:   s,
		conv:    conv,
		index:   index,
		logger:  s.logger.With(zap.String("conversation_id", conv.ID)),
		ctx:     ctx,
		cancel:  cancel,
		added:   added,
		removed: removed,
		events:  feed.NewPipe[Event](),
		buf:     orderedmap.NewOrderedMap[string, *model.Message](),

		replaying: make(map[string]bool),
	}
}

// ConversationID returns the id of the open conversation.
func (ss *Session) ConversationID() string {
	return ss.conv.ID
}

// Events yields one Batch, then deltas. It is closed when the session ends.
func (ss *Session) Events() <-chan Event {
	return ss.events.Events()
}

// Done is closed once the session has ended.
func (ss *Session) Done() <-chan struct{} {
	return ss.events.Done()
}

// Err reports why the session ended early, if it did.
func (ss *Session) Err() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.err
}

// Close revokes both subscriptions and closes the event channel. Idempotent.
func (ss *Session) Close() {
	ss.once.Do(func() {
		ss.cancel()
		ss.added.Close()
		ss.removed.Close()
		ss.events.Close()
		ss.owner.release(ss)
	})
}

func (ss *Session) fail(err error) {
	ss.mu.Lock()
	if ss.err == nil {
		ss.err = err
	}
	ss.mu.Unlock()
}

// lost records a subscription closed by the feed rather than by Close.
func (ss *Session) lost() {
	if ss.ctx.Err() == nil {
		ss.logger.Warn("feed closed the message subscription")
		ss.fail(feed.ErrClosed)
	}
}

func (ss *Session) run() {
	defer ss.Close()

	if err := ss.load(); err != nil {
		if ss.ctx.Err() == nil {
			ss.logger.Error("initial load failed", zap.Error(err))
		}
		ss.fail(err)
		return
	}

	for {
		select {
		case <-ss.ctx.Done():
			return
		case evt, ok := <-ss.added.Events():
			if !ok {
				ss.lost()
				return
			}
			ss.handleAdded(evt.Snapshot.Key)
		case evt, ok := <-ss.removed.Events():
			if !ok {
				ss.lost()
				return
			}
			ss.handleRemoved(evt.Snapshot.Key)
		}
	}
}

// load resolves the last Window index entries and emits the Batch.
func (ss *Session) load() error {
	s := ss.owner
	snap, err := s.feed.ReadOnce(ss.ctx, feed.Query{Path: ss.index, LimitToLast: s.opts.Window})
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(snap.Children))
	for _, c := range snap.Children {
		keys = append(keys, c.Key)
	}
	if len(keys) > 0 {
		ss.floor = keys[0]
	}

	results, timedOut := barrier.Join(ss.ctx, len(keys), s.barrierOptions(), func(ctx context.Context, i int) (*model.Message, bool) {
		m, err := s.resolveMessage(ctx, keys[i])
		if err != nil {
			ss.logger.Debug("dropping unresolved message", zap.String("message_id", keys[i]), zap.Error(err))
			return nil, false
		}
		return m, true
	})
	if err := ss.ctx.Err(); err != nil {
		return err
	}
	msgs := barrier.Values(results)
	if timedOut {
		ss.logger.Warn("message barrier timed out",
			zap.Int("expected", len(keys)),
			zap.Int("resolved", len(msgs)))
	}

	model.SortChronological(msgs)
	names := s.resolveNames(ss.ctx, msgs)
	if err := ss.ctx.Err(); err != nil {
		return err
	}
	for _, m := range msgs {
		m.SenderName = names[m.SenderID]
		ss.checkIntegrity(m)
		model.ComputeLayout(m, s.opts.Layout)
	}
	model.ComputeTails(msgs)

	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		ss.buf.Set(m.ID, m)
		ss.replaying[m.ID] = true
		out[i] = m.Clone()
	}
	ss.events.Push(Event{Kind: Batch, ConversationID: ss.conv.ID, Messages: out})
	ss.logger.Debug("initial window loaded", zap.Int("messages", len(out)))

	ss.markRead(ss.lastIncoming())
	return nil
}

func (ss *Session) handleAdded(id string) {
	if ss.floor != "" && id < ss.floor {
		return
	}
	existing, known := ss.buf.Get(id)
	initial := ss.replaying[id]
	delete(ss.replaying, id)
	if known && (!ss.outgoing(existing) || existing.IsInformation()) {
		return
	}

	s := ss.owner
	m, err := s.resolveMessage(ss.ctx, id)
	if err != nil {
		ss.logger.Debug("dropping unresolved message", zap.String("message_id", id), zap.Error(err))
		return
	}

	if known {
		if initial && existing.Status == m.Status && existing.Seen == m.Seen {
			return
		}
		existing.Status, existing.Seen = m.Status, m.Seen
		ss.events.Push(Event{
			Kind:           StatusUpdate,
			ConversationID: ss.conv.ID,
			Message:        existing.Clone(),
			Index:          ss.indexOf(id),
		})
		return
	}

	m.SenderName, _ = s.lookupName(ss.ctx, m.SenderID)
	ss.checkIntegrity(m)
	model.ComputeLayout(m, s.opts.Layout)
	m.Tail = true

	prev := ss.buf.Back()
	ss.buf.Set(id, m)
	evt := Event{
		Kind:           Insert,
		ConversationID: ss.conv.ID,
		Index:          ss.buf.Len() - 1,
	}
	if prev != nil && model.RetailPair(prev.Value, m) {
		n := prev.Value.Clone()
		evt.Neighbor, evt.NeighborIndex = &n, evt.Index-1
	}
	evt.Message = m.Clone()
	ss.events.Push(evt)

	if !ss.outgoing(m) {
		ss.markRead(m)
	}
}

func (ss *Session) handleRemoved(id string) {
	e := ss.buf.GetElement(id)
	if e == nil {
		return
	}
	idx := ss.indexOf(id)
	prev, next := e.Prev(), e.Next()
	ss.buf.Delete(id)

	evt := Event{
		Kind:           Remove,
		ConversationID: ss.conv.ID,
		Message:        model.Message{ID: id},
		Index:          idx,
	}
	if prev != nil {
		var successor *model.Message
		if next != nil {
			successor = next.Value
		}
		if model.RetailPair(prev.Value, successor) {
			n := prev.Value.Clone()
			evt.Neighbor, evt.NeighborIndex = &n, idx-1
		}
	}
	ss.events.Push(evt)
}

// outgoing classifies by sender only; self chats are flagged on the conversation.
func (ss *Session) outgoing(m *model.Message) bool {
	return m.SenderID == ss.owner.opts.LocalUser
}

func (ss *Session) checkIntegrity(m *model.Message) {
	if m.RecipientID != "" && m.SenderID == m.RecipientID && !ss.conv.SelfChat {
		ss.logger.Warn("message sender equals recipient outside a self chat",
			zap.String("message_id", m.ID),
			zap.String("sender_id", m.SenderID))
	}
}

func (ss *Session) indexOf(id string) int {
	i := 0
	for e := ss.buf.Front(); e != nil; e = e.Next() {
		if e.Key == id {
			return i
		}
		i++
	}
	return -1
}

func (ss *Session) lastIncoming() *model.Message {
	for e := ss.buf.Back(); e != nil; e = e.Prev() {
		if !ss.outgoing(e.Value) && !e.Value.IsInformation() {
			return e.Value
		}
	}
	return nil
}

// markRead hands the mark-read side effect to the marker without waiting.
func (ss *Session) markRead(seen *model.Message) {
	marker := ss.owner.marker
	if marker == nil {
		return
	}
	seenID := ""
	if seen != nil && !seen.Seen {
		seenID = seen.ID
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ss.ctx), ss.owner.opts.ResolveTimeout)
	go func() {
		defer cancel()
		if err := marker.MarkRead(ctx, ss.conv.ID, seenID); err != nil {
			ss.logger.Warn("mark read failed", zap.Error(err))
		}
	}()
}
