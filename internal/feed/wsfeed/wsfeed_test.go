package wsfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/feedmirror/internal/feed"
	"github.com/matheus3301/feedmirror/internal/feed/memfeed"
)

// dropServer wraps Handler so tests can sever every live connection.
type dropServer struct {
	mu      sync.Mutex
	cancels []context.CancelFunc
	handler http.Handler
}

func (d *dropServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	d.mu.Lock()
	d.cancels = append(d.cancels, cancel)
	d.mu.Unlock()
	d.handler.ServeHTTP(w, r.WithContext(ctx))
}

func (d *dropServer) dropAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cancel := range d.cancels {
		cancel()
	}
	d.cancels = nil
}

func setup(t *testing.T) (*memfeed.Feed, *Client, *dropServer) {
	t.Helper()
	backend := memfeed.New()
	ds := &dropServer{handler: Handler(backend, nil)}
	srv := httptest.NewServer(ds)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := Dial(context.Background(), url, Options{ReconnectBackoff: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return backend, c, ds
}

func next(t *testing.T, sub feed.Subscription) feed.Event {
	t.Helper()
	select {
	case evt := <-sub.Events():
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return feed.Event{}
}

func TestClientReadWrite(t *testing.T) {
	backend, c, _ := setup(t)
	ctx := context.Background()

	if err := c.Write(ctx, "users/u1", map[string]string{"name": "Ann"}); err != nil {
		t.Fatal(err)
	}
	snap, err := backend.ReadOnce(ctx, feed.At("users/u1/name"))
	if err != nil {
		t.Fatal(err)
	}
	if string(snap.Value) != `"Ann"` {
		t.Errorf("backend value = %s, want \"Ann\"", snap.Value)
	}

	snap, err = c.ReadOnce(ctx, feed.At("users/u1"))
	if err != nil {
		t.Fatal(err)
	}
	var user struct{ Name string }
	if err := snap.Decode(&user); err != nil || user.Name != "Ann" {
		t.Errorf("user = %+v (%v)", user, err)
	}

	if err := c.Write(ctx, "users/u1", nil); err != nil {
		t.Fatal(err)
	}
	snap, _ = c.ReadOnce(ctx, feed.At("users/u1"))
	if snap.Exists() {
		t.Errorf("expected delete, got %s", snap.Value)
	}
}

func TestClientSubscribeStreamsEvents(t *testing.T) {
	backend, c, _ := setup(t)
	ctx := context.Background()
	_ = backend.Write(ctx, "idx/a", true)

	sub, err := c.Subscribe(ctx, feed.At("idx"), feed.ChildAdded)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if evt := next(t, sub); evt.Snapshot.Key != "a" {
		t.Errorf("replay key = %q, want a", evt.Snapshot.Key)
	}
	_ = backend.Write(ctx, "idx/b", true)
	if evt := next(t, sub); evt.Kind != feed.ChildAdded || evt.Snapshot.Key != "b" {
		t.Errorf("event = %+v, want child_added b", evt)
	}
}

func TestClientUnsubscribeReleasesServerSide(t *testing.T) {
	backend, c, _ := setup(t)
	sub, err := c.Subscribe(context.Background(), feed.At("x"), feed.ValueChanged)
	if err != nil {
		t.Fatal(err)
	}
	next(t, sub)
	sub.Close()
	sub.Close()

	deadline := time.Now().Add(2 * time.Second)
	for backend.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("backend still has %d subscribers", backend.Subscribers())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClientReconnectReplaysSubscriptions(t *testing.T) {
	backend, c, ds := setup(t)
	ctx := context.Background()

	conn, err := c.Subscribe(ctx, feed.At(feed.ConnectedPath), feed.ValueChanged)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if evt := next(t, conn); string(evt.Snapshot.Value) != "true" {
		t.Fatalf("initial connected = %s, want true", evt.Snapshot.Value)
	}

	sub, err := c.Subscribe(ctx, feed.At("idx"), feed.ChildAdded)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	_ = backend.Write(ctx, "idx/a", true)
	next(t, sub)

	ds.dropAll()
	if evt := next(t, conn); string(evt.Snapshot.Value) != "false" {
		t.Fatalf("connected after drop = %s, want false", evt.Snapshot.Value)
	}
	if evt := next(t, conn); string(evt.Snapshot.Value) != "true" {
		t.Fatalf("connected after redial = %s, want true", evt.Snapshot.Value)
	}

	// The server replays existing children for the re-registered subscription.
	if evt := next(t, sub); evt.Snapshot.Key != "a" {
		t.Errorf("replayed key = %q, want a", evt.Snapshot.Key)
	}
	_ = backend.Write(ctx, "idx/b", true)
	if evt := next(t, sub); evt.Snapshot.Key != "b" {
		t.Errorf("post-reconnect key = %q, want b", evt.Snapshot.Key)
	}
}
