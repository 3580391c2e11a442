package wsfeed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/matheus3301/feedmirror/internal/feed"
)

type connSubscription struct {
	*feed.Pipe[feed.Event]

	client *Client
	once   sync.Once
}

func (s *connSubscription) Close() {
	s.once.Do(func() {
		s.client.mu.Lock()
		delete(s.client.connSubs, s)
		s.client.mu.Unlock()
		s.Pipe.Close()
	})
}

func (c *Client) subscribeConnected(ctx context.Context) feed.Subscription {
	s := &connSubscription{Pipe: feed.NewPipe[feed.Event](), client: c}
	c.mu.Lock()
	c.connSubs[s] = struct{}{}
	snap := connectedSnapshotLocked(c.connected)
	c.mu.Unlock()
	s.Push(feed.Event{Kind: feed.ValueChanged, Snapshot: snap})

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.Done():
		}
	}()
	return s
}

func (c *Client) connectedSnapshot() feed.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return connectedSnapshotLocked(c.connected)
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	if c.connected == connected {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	snap := connectedSnapshotLocked(connected)
	subs := make([]*connSubscription, 0, len(c.connSubs))
	for s := range c.connSubs {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	for _, s := range subs {
		s.Push(feed.Event{Kind: feed.ValueChanged, Snapshot: snap})
	}
}

func connectedSnapshotLocked(connected bool) feed.Snapshot {
	raw, _ := json.Marshal(connected)
	return feed.Snapshot{Key: "connected", Value: raw}
}
