package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/feedmirror/internal/feed"
	"go.uber.org/zap"
)

// ErrDisconnected is returned for calls in flight when the connection drops.
var ErrDisconnected = errors.New("feed connection lost")

const (
	defaultDialTimeout      = 10 * time.Second
	defaultReconnectBackoff = time.Second
	maxReconnectBackoff     = 30 * time.Second
)

// Options tunes a Client.
type Options struct {
	DialTimeout      time.Duration
	ReconnectBackoff time.Duration
	Logger           *zap.Logger
}

// Client is a feed.Feed backed by a wsfeed server. It reconnects on its own;
// while disconnected, calls wait for the connection (or their context), live
// subscriptions stay registered and are replayed by the server after reconnect,
// and feed.ConnectedPath reports false.
type Client struct {
	url    string
	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	conn      *websocket.Conn
	ready     chan struct{} // closed while conn is usable
	nextID    uint64
	pending   map[uint64]chan response
	subs      map[uint64]*subscription
	connSubs  map[*connSubscription]struct{}
	connected bool
	writeMu   sync.Mutex
	closed    bool
}

// Dial connects to url and starts the connection supervisor.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = defaultReconnectBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		url:      url,
		opts:     opts,
		logger:   logger.With(zap.String("feed_url", url)),
		ready:    make(chan struct{}),
		pending:  make(map[uint64]chan response),
		subs:     make(map[uint64]*subscription),
		connSubs: make(map[*connSubscription]struct{}),
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.attach(conn)
	go c.supervise(conn)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// ReadOnce implements feed.Feed.
func (c *Client) ReadOnce(ctx context.Context, q feed.Query) (feed.Snapshot, error) {
	if q.Path == feed.ConnectedPath {
		return c.connectedSnapshot(), nil
	}
	resp, err := c.call(ctx, request{Op: opRead, Query: q})
	if err != nil {
		return feed.Snapshot{}, err
	}
	if resp.Snapshot == nil {
		return feed.Snapshot{}, nil
	}
	return *resp.Snapshot, nil
}

// Write implements feed.Feed.
func (c *Client) Write(ctx context.Context, path string, value any) error {
	req := request{Op: opWrite, Path: path}
	if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %q: %w", path, err)
		}
		req.Value = raw
	}
	_, err := c.call(ctx, req)
	return err
}

// Subscribe implements feed.Feed.
func (c *Client) Subscribe(ctx context.Context, q feed.Query, kind feed.EventKind) (feed.Subscription, error) {
	if q.Path == feed.ConnectedPath && kind == feed.ValueChanged {
		return c.subscribeConnected(ctx), nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, feed.ErrClosed
	}
	c.nextID++
	id := c.nextID
	s := &subscription{Pipe: feed.NewPipe[feed.Event](), client: c, id: id, query: q, kind: kind}
	c.subs[id] = s
	c.mu.Unlock()

	if _, err := c.call(ctx, request{ID: id, Op: opSubscribe, Query: q, Kind: kind.String()}); err != nil {
		c.forget(id)
		s.Pipe.Close()
		return nil, err
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.Done():
		}
	}()
	return s, nil
}

// Close terminates the connection and every subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	subs := c.subs
	c.subs = make(map[uint64]*subscription)
	connSubs := c.connSubs
	c.connSubs = make(map[*connSubscription]struct{})
	c.mu.Unlock()

	c.cancel()
	for _, s := range subs {
		s.Pipe.Close()
	}
	for s := range connSubs {
		s.Pipe.Close()
	}
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}

func (c *Client) call(ctx context.Context, req request) (response, error) {
	conn, err := c.waitReady(ctx)
	if err != nil {
		return response{}, err
	}

	ch := make(chan response, 1)
	c.mu.Lock()
	if req.ID == 0 {
		c.nextID++
		req.ID = c.nextID
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.send(ctx, conn, req); err != nil {
		return response{}, err
	}
	select {
	case resp, ok := <-ch:
		if !ok {
			return response{}, ErrDisconnected
		}
		if resp.Error != "" {
			return resp, fmt.Errorf("feed %s %q: %s", req.Op, req.Query.Path+req.Path, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

func (c *Client) send(ctx context.Context, conn *websocket.Conn, req request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsjson.Write(ctx, conn, req); err != nil {
		return fmt.Errorf("send %s: %w", req.Op, err)
	}
	return nil
}

func (c *Client) waitReady(ctx context.Context) (*websocket.Conn, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, feed.ErrClosed
		}
		conn, ready := c.conn, c.ready
		c.mu.Unlock()
		if conn != nil {
			return conn, nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// supervise reads frames from conn and, when it fails, redials with backoff
// and replays every live subscription on the new connection.
func (c *Client) supervise(conn *websocket.Conn) {
	backoff := c.opts.ReconnectBackoff
	for {
		err := c.readLoop(conn)
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("feed connection lost", zap.Error(err))
		c.detach()

		for {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			next, err := c.dial(c.ctx)
			if err == nil {
				conn = next
				backoff = c.opts.ReconnectBackoff
				break
			}
			c.logger.Debug("feed redial failed", zap.Error(err), zap.Duration("backoff", backoff))
			backoff = min(backoff*2, maxReconnectBackoff)
		}
		c.attach(conn)
		go c.resubscribe(conn)
		c.logger.Info("feed reconnected")
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		var resp response
		if err := wsjson.Read(c.ctx, conn, &resp); err != nil {
			return err
		}
		if resp.Event != nil {
			c.mu.Lock()
			s := c.subs[resp.Sub]
			c.mu.Unlock()
			if s != nil {
				s.Push(*resp.Event)
			}
			continue
		}
		c.mu.Lock()
		ch := c.pending[resp.ID]
		c.mu.Unlock()
		if ch != nil {
			ch <- resp
		}
	}
}

func (c *Client) resubscribe(conn *websocket.Conn) {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		req := request{ID: s.id, Op: opSubscribe, Query: s.query, Kind: s.kind.String()}
		if err := c.send(c.ctx, conn, req); err != nil {
			c.logger.Warn("resubscribe failed", zap.String("path", s.query.Path), zap.Error(err))
		}
	}
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	close(c.ready)
	c.mu.Unlock()
	c.setConnected(true)
}

func (c *Client) detach() {
	c.mu.Lock()
	c.conn = nil
	c.ready = make(chan struct{})
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	c.setConnected(false)
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *Client) unsubscribe(id uint64) {
	c.forget(id)
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if conn == nil || closed {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.DialTimeout)
	defer cancel()
	_ = c.send(ctx, conn, request{ID: id, Op: opUnsubscribe})
}

type subscription struct {
	*feed.Pipe[feed.Event]

	client *Client
	id     uint64
	query  feed.Query
	kind   feed.EventKind
	once   sync.Once
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.Pipe.Close()
		go s.client.unsubscribe(s.id)
	})
}
