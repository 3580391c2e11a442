package msgsync

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/feedmirror/internal/feed"
	"github.com/matheus3301/feedmirror/internal/feed/memfeed"
	"github.com/matheus3301/feedmirror/internal/model"
	"go.uber.org/zap"
)

const (
	me   = "me"
	bob  = "bob"
	chat = "chat-1"
)

type testMsg struct {
	id     string
	from   string
	ts     int64
	info   bool
	status string
}

func writeMessage(t *testing.T, f *memfeed.Feed, m testMsg) {
	t.Helper()
	ctx := context.Background()
	to := bob
	if m.from == bob {
		to = me
	}
	payload := map[string]any{
		"fromId":    m.from,
		"toId":      to,
		"timestamp": m.ts,
		"text":      "message " + m.id,
		"status":    m.status,
	}
	if m.info {
		payload["isInformationMessage"] = true
	}
	if err := f.Write(ctx, feed.Message(m.id), payload); err != nil {
		t.Fatal(err)
	}
	if err := f.Write(ctx, feed.Join(feed.UserMessages(me, chat), m.id), true); err != nil {
		t.Fatal(err)
	}
}

func newFeed(t *testing.T, msgs ...testMsg) *memfeed.Feed {
	t.Helper()
	f := memfeed.New()
	t.Cleanup(f.Close)
	ctx := context.Background()
	_ = f.Write(ctx, feed.User(bob), map[string]any{"name": "Bob"})
	_ = f.Write(ctx, feed.User(me), map[string]any{"name": "Me"})
	for _, m := range msgs {
		writeMessage(t, f, m)
	}
	return f
}

type recordingMarker struct {
	mu    sync.Mutex
	calls [][2]string
}

func (r *recordingMarker) MarkRead(_ context.Context, conversationID, seenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]string{conversationID, seenID})
	return nil
}

func (r *recordingMarker) snapshot() [][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func open(t *testing.T, f feed.Feed, opts Options, marker ReadMarker) *Session {
	t.Helper()
	opts.LocalUser = me
	logger, _ := zap.NewDevelopment()
	s := New(f, opts, marker, nil, logger)
	sess, err := s.Open(context.Background(), model.Conversation{ID: chat})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sess.Close)
	return sess
}

func nextEvent(t *testing.T, sess *Session) Event {
	t.Helper()
	select {
	case evt, ok := <-sess.Events():
		if !ok {
			t.Fatalf("session closed: %v", sess.Err())
		}
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session event")
	}
	return Event{}
}

func expectQuiet(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case evt := <-sess.Events():
		t.Fatalf("unexpected event: %s %+v", evt.Kind, evt.Message)
	case <-time.After(100 * time.Millisecond):
	}
}

func messageIDs(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

// apply folds one event into a display list the way a renderer would.
func apply(t *testing.T, list []model.Message, evt Event) []model.Message {
	t.Helper()
	switch evt.Kind {
	case Batch:
		list = slices.Clone(evt.Messages)
	case Insert:
		list = slices.Insert(list, evt.Index, evt.Message)
	case StatusUpdate:
		list[evt.Index] = evt.Message
	case Remove:
		if list[evt.Index].ID != evt.Message.ID {
			t.Fatalf("remove index %d holds %s, want %s", evt.Index, list[evt.Index].ID, evt.Message.ID)
		}
		list = slices.Delete(list, evt.Index, evt.Index+1)
	}
	if evt.Neighbor != nil {
		list[evt.NeighborIndex] = *evt.Neighbor
	}
	return list
}

func TestInitialLoadOrdersByTimestamp(t *testing.T) {
	f := newFeed(t,
		testMsg{id: "m1", from: bob, ts: 30},
		testMsg{id: "m2", from: bob, ts: 10},
		testMsg{id: "m3", from: me, ts: 20},
	)
	sess := open(t, f, Options{}, nil)

	evt := nextEvent(t, sess)
	if evt.Kind != Batch {
		t.Fatalf("first event = %s, want batch", evt.Kind)
	}
	if got := messageIDs(evt.Messages); !slices.Equal(got, []string{"m2", "m3", "m1"}) {
		t.Errorf("order = %v, want [m2 m3 m1]", got)
	}
	for _, m := range evt.Messages {
		want := "Bob"
		if m.SenderID == me {
			want = "Me"
		}
		if m.SenderName != want {
			t.Errorf("%s sender name = %q, want %q", m.ID, m.SenderName, want)
		}
		if !m.Tail {
			t.Errorf("%s tail = false, senders alternate", m.ID)
		}
		if m.Layout.Text.Height == 0 {
			t.Errorf("%s has no layout", m.ID)
		}
	}
}

func TestInitialLoadRespectsWindow(t *testing.T) {
	var msgs []testMsg
	for i := range 5 {
		msgs = append(msgs, testMsg{id: fmt.Sprintf("m%d", i), from: bob, ts: int64(i)})
	}
	f := newFeed(t, msgs...)
	sess := open(t, f, Options{Window: 3}, nil)

	evt := nextEvent(t, sess)
	if got := messageIDs(evt.Messages); !slices.Equal(got, []string{"m2", "m3", "m4"}) {
		t.Errorf("window = %v", got)
	}
	if evt.Messages[0].Tail || evt.Messages[1].Tail || !evt.Messages[2].Tail {
		t.Errorf("tails = %v %v %v, want joined run", evt.Messages[0].Tail, evt.Messages[1].Tail, evt.Messages[2].Tail)
	}
}

func TestMissingPayloadIsDropped(t *testing.T) {
	f := newFeed(t, testMsg{id: "m1", from: bob, ts: 1})
	_ = f.Write(context.Background(), feed.Join(feed.UserMessages(me, chat), "ghost"), true)
	_ = f.Write(context.Background(), feed.Message("bad"), map[string]any{"text": "no sender"})
	_ = f.Write(context.Background(), feed.Join(feed.UserMessages(me, chat), "bad"), true)

	sess := open(t, f, Options{}, nil)
	evt := nextEvent(t, sess)
	if got := messageIDs(evt.Messages); !slices.Equal(got, []string{"m1"}) {
		t.Errorf("batch = %v, want [m1]", got)
	}
}

func TestBarrierTimeoutProceedsWithResolved(t *testing.T) {
	f := newFeed(t,
		testMsg{id: "m1", from: bob, ts: 1},
		testMsg{id: "m2", from: bob, ts: 2},
	)
	f.Hold(feed.Message("m2"))
	t.Cleanup(func() { f.Release(feed.Message("m2")) })

	start := time.Now()
	sess := open(t, f, Options{BarrierTimeout: 150 * time.Millisecond}, nil)
	evt := nextEvent(t, sess)
	if got := messageIDs(evt.Messages); !slices.Equal(got, []string{"m1"}) {
		t.Errorf("batch = %v, want [m1]", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("batch took %v", elapsed)
	}
}

func TestIncomingInsertRetailsNeighbour(t *testing.T) {
	f := newFeed(t, testMsg{id: "m1", from: bob, ts: 1})
	sess := open(t, f, Options{}, nil)
	list := apply(t, nil, nextEvent(t, sess))

	writeMessage(t, f, testMsg{id: "m2", from: bob, ts: 2})
	evt := nextEvent(t, sess)
	if evt.Kind != Insert || evt.Index != 1 || evt.Message.ID != "m2" {
		t.Fatalf("event = %s idx %d %s", evt.Kind, evt.Index, evt.Message.ID)
	}
	if evt.Neighbor == nil || evt.NeighborIndex != 0 || evt.Neighbor.Tail {
		t.Fatalf("neighbour = %+v at %d, want m1 joined", evt.Neighbor, evt.NeighborIndex)
	}
	list = apply(t, list, evt)

	writeMessage(t, f, testMsg{id: "m3", from: bob, ts: 3, info: true})
	evt = nextEvent(t, sess)
	if evt.Kind != Insert || evt.Neighbor != nil {
		t.Errorf("info insert = %s neighbour %+v, want insert without retail", evt.Kind, evt.Neighbor)
	}
	list = apply(t, list, evt)

	if list[0].Tail || !list[1].Tail || !list[2].Tail {
		t.Errorf("tails = %v %v %v", list[0].Tail, list[1].Tail, list[2].Tail)
	}
}

func TestOutgoingEchoIsStatusUpdate(t *testing.T) {
	f := newFeed(t, testMsg{id: "m1", from: me, ts: 1, status: "sent"})
	sess := open(t, f, Options{}, nil)
	nextEvent(t, sess)

	// Drain the subscribe-time replay before changing anything.
	expectQuiet(t, sess)

	_ = f.Write(context.Background(), feed.Join(feed.Message("m1"), "status"), "delivered")
	f.Replay(feed.UserMessages(me, chat))

	evt := nextEvent(t, sess)
	if evt.Kind != StatusUpdate {
		t.Fatalf("event = %s, want status_update", evt.Kind)
	}
	if evt.Message.ID != "m1" || evt.Message.Status != "delivered" || evt.Index != 0 {
		t.Errorf("update = %+v at %d", evt.Message, evt.Index)
	}
}

func TestSubscribeReplayIsAbsorbed(t *testing.T) {
	f := newFeed(t,
		testMsg{id: "m1", from: me, ts: 1, status: "sent"},
		testMsg{id: "m2", from: bob, ts: 2},
	)
	sess := open(t, f, Options{}, nil)
	nextEvent(t, sess)
	expectQuiet(t, sess)
}

func TestRepeatedEchoIsStatusUpdate(t *testing.T) {
	f := newFeed(t,
		testMsg{id: "m1", from: me, ts: 1, status: "sent"},
		testMsg{id: "m2", from: bob, ts: 2},
	)
	sess := open(t, f, Options{}, nil)
	nextEvent(t, sess)
	expectQuiet(t, sess)

	// Nothing changed, but the outgoing echo still reports its status.
	f.Replay(feed.UserMessages(me, chat))

	evt := nextEvent(t, sess)
	if evt.Kind != StatusUpdate {
		t.Fatalf("event = %s, want status_update", evt.Kind)
	}
	if evt.Message.ID != "m1" || evt.Message.Status != "sent" || evt.Index != 0 {
		t.Errorf("update = %+v at %d", evt.Message, evt.Index)
	}
	expectQuiet(t, sess)
}

func TestOutgoingFromOtherDeviceInserts(t *testing.T) {
	f := newFeed(t, testMsg{id: "m1", from: bob, ts: 1})
	sess := open(t, f, Options{}, nil)
	nextEvent(t, sess)

	writeMessage(t, f, testMsg{id: "m2", from: me, ts: 2, status: "sent"})
	evt := nextEvent(t, sess)
	if evt.Kind != Insert || evt.Message.ID != "m2" || evt.Message.SenderName != "Me" {
		t.Errorf("event = %s %+v", evt.Kind, evt.Message)
	}
}

func TestRemoveRetailsPredecessor(t *testing.T) {
	f := newFeed(t,
		testMsg{id: "m1", from: bob, ts: 1},
		testMsg{id: "m2", from: bob, ts: 2},
	)
	sess := open(t, f, Options{}, nil)
	list := apply(t, nil, nextEvent(t, sess))

	_ = f.Write(context.Background(), feed.Join(feed.UserMessages(me, chat), "m2"), nil)
	evt := nextEvent(t, sess)
	if evt.Kind != Remove || evt.Message.ID != "m2" || evt.Index != 1 {
		t.Fatalf("event = %s %s at %d", evt.Kind, evt.Message.ID, evt.Index)
	}
	if evt.Neighbor == nil || !evt.Neighbor.Tail {
		t.Errorf("neighbour = %+v, want m1 as new tail", evt.Neighbor)
	}
	list = apply(t, list, evt)
	if len(list) != 1 || !list[0].Tail {
		t.Errorf("list = %+v", list)
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	f := newFeed(t,
		testMsg{id: "m0", from: bob, ts: 0},
		testMsg{id: "m1", from: bob, ts: 1},
		testMsg{id: "m2", from: bob, ts: 2},
	)
	sess := open(t, f, Options{Window: 2}, nil)
	nextEvent(t, sess)
	expectQuiet(t, sess)

	// m0 lies outside the window and was never loaded.
	_ = f.Write(context.Background(), feed.Join(feed.UserMessages(me, chat), "m0"), nil)
	expectQuiet(t, sess)
}

func TestWindowRefillIsIgnored(t *testing.T) {
	f := newFeed(t,
		testMsg{id: "m0", from: bob, ts: 0},
		testMsg{id: "m1", from: bob, ts: 1},
		testMsg{id: "m2", from: bob, ts: 2},
	)
	sess := open(t, f, Options{Window: 2}, nil)
	nextEvent(t, sess)
	expectQuiet(t, sess)

	// Removing m2 lets m0 slide back into the limited window.
	_ = f.Write(context.Background(), feed.Join(feed.UserMessages(me, chat), "m2"), nil)
	if evt := nextEvent(t, sess); evt.Kind != Remove {
		t.Fatalf("event = %s, want remove", evt.Kind)
	}
	expectQuiet(t, sess)
}

func TestIncrementalMatchesOneShotLoad(t *testing.T) {
	msgs := []testMsg{
		{id: "m01", from: bob, ts: 1},
		{id: "m02", from: bob, ts: 2},
		{id: "m03", from: me, ts: 3},
		{id: "m04", from: me, ts: 4, info: true},
		{id: "m05", from: me, ts: 5},
		{id: "m06", from: bob, ts: 6},
		{id: "m07", from: bob, ts: 7},
	}

	f := newFeed(t)
	live := open(t, f, Options{}, nil)
	list := apply(t, nil, nextEvent(t, live))
	for _, m := range msgs {
		writeMessage(t, f, m)
		list = apply(t, list, nextEvent(t, live))
	}

	oneShot := open(t, newFeed(t, msgs...), Options{}, nil)
	batch := nextEvent(t, oneShot).Messages

	if !slices.Equal(messageIDs(list), messageIDs(batch)) {
		t.Fatalf("incremental %v != one-shot %v", messageIDs(list), messageIDs(batch))
	}
	for i := range list {
		if list[i].Tail != batch[i].Tail {
			t.Errorf("%s tail incremental=%v one-shot=%v", list[i].ID, list[i].Tail, batch[i].Tail)
		}
	}
}

func TestMarkReadAfterInitialLoad(t *testing.T) {
	f := newFeed(t,
		testMsg{id: "m1", from: bob, ts: 1},
		testMsg{id: "m2", from: me, ts: 2},
	)
	marker := &recordingMarker{}
	sess := open(t, f, Options{}, marker)
	nextEvent(t, sess)

	deadline := time.After(2 * time.Second)
	for len(marker.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("mark read never called")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := marker.snapshot()[0]; got != [2]string{chat, "m1"} {
		t.Errorf("mark read = %v, want [%s m1]", got, chat)
	}
}

func TestReopenClosesPreviousSession(t *testing.T) {
	f := newFeed(t, testMsg{id: "m1", from: bob, ts: 1})
	logger, _ := zap.NewDevelopment()
	s := New(f, Options{LocalUser: me}, nil, nil, logger)

	first, err := s.Open(context.Background(), model.Conversation{ID: chat})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Open(context.Background(), model.Conversation{ID: chat})
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("first session still open")
	}
	if ids := s.Active(); len(ids) != 1 || ids[0] != chat {
		t.Errorf("active = %v", ids)
	}
}

func TestCloseRevokesSubscriptions(t *testing.T) {
	f := newFeed(t, testMsg{id: "m1", from: bob, ts: 1})
	sess := open(t, f, Options{}, nil)
	nextEvent(t, sess)
	if n := f.Subscribers(); n != 2 {
		t.Fatalf("subscribers = %d, want 2", n)
	}

	sess.Close()
	sess.Close()
	if n := f.Subscribers(); n != 0 {
		t.Errorf("subscribers after close = %d, want 0", n)
	}
	for range sess.Events() {
	}
}
