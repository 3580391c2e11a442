package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/feedmirror/internal/feed"
	"github.com/matheus3301/feedmirror/internal/feed/memfeed"
	"go.uber.org/zap"
)

// loadSeed writes every top-level key of the JSON file at path as a feed root.
func loadSeed(ctx context.Context, f *memfeed.Feed, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed: %w", err)
	}
	var roots map[string]json.RawMessage
	if err := json.Unmarshal(data, &roots); err != nil {
		return 0, fmt.Errorf("parse seed %s: %w", path, err)
	}
	for key, raw := range roots {
		if err := f.Write(ctx, key, raw); err != nil {
			return 0, fmt.Errorf("seed %q: %w", key, err)
		}
	}
	return len(roots), nil
}

type demoMessage struct {
	id   string
	from string
	to   string
	text string
	ts   int64
}

// seedDemo creates two direct chats and a group for me.
func seedDemo(ctx context.Context, f *memfeed.Feed, me string) error {
	base := time.Now().Add(-time.Hour).UnixMilli()
	users := map[string]string{me: "Me", "bob": "Bob", "carol": "Carol"}
	for id, name := range users {
		if err := f.Write(ctx, feed.User(id), map[string]any{"name": name}); err != nil {
			return err
		}
	}

	chats := []struct {
		id   string
		conv map[string]any
		msgs []demoMessage
	}{
		{
			id:   "c-bob",
			conv: map[string]any{"chatName": "Bob", "badge": 1, "pinned": true},
			msgs: []demoMessage{
				{"d1", me, "bob", "lunch?", base},
				{"d2", "bob", me, "sure", base + 60_000},
				{"d3", "bob", me, "12:30 works", base + 61_000},
			},
		},
		{
			id:   "c-carol",
			conv: map[string]any{"chatName": "Carol"},
			msgs: []demoMessage{
				{"d4", "carol", me, "did you see the report", base + 120_000},
				{"d5", me, "carol", "on it", base + 180_000},
			},
		},
		{
			id: "g-team",
			conv: map[string]any{
				"chatName":            "Team",
				"isGroupChat":         true,
				"chatParticipantsIDs": []string{me, "bob", "carol"},
				"badge":               2,
			},
			msgs: []demoMessage{
				{"d6", "carol", "g-team", "standup in 5", base + 240_000},
				{"d7", "bob", "g-team", "joining", base + 241_000},
			},
		},
	}
	for _, c := range chats {
		for _, m := range c.msgs {
			if err := deliver(ctx, f, me, c.id, m); err != nil {
				return err
			}
		}
		last := c.msgs[len(c.msgs)-1]
		c.conv["lastMessage"] = map[string]any{
			"messageUID": last.id, "fromId": last.from, "text": last.text, "timestamp": last.ts,
		}
		if err := f.Write(ctx, feed.UserConversation(me, c.id), c.conv); err != nil {
			return err
		}
	}
	// Personal storage: a conversation with oneself.
	return f.Write(ctx, feed.UserConversation(me, me), map[string]any{"chatName": "", "isSelfChat": true})
}

func deliver(ctx context.Context, f *memfeed.Feed, me, conversationID string, m demoMessage) error {
	status := ""
	if m.from == me {
		status = "delivered"
	}
	payload := map[string]any{"fromId": m.from, "toId": m.to, "text": m.text, "timestamp": m.ts, "status": status}
	if err := f.Write(ctx, feed.Message(m.id), payload); err != nil {
		return err
	}
	return f.Write(ctx, feed.Join(feed.UserMessages(me, conversationID), m.id), true)
}

// runChatter makes bob type and then send a message every interval.
func runChatter(ctx context.Context, f *memfeed.Feed, me string, every time.Duration, logger *zap.Logger) {
	const chat = "c-bob"
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	badge := 1
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		_ = f.Write(ctx, feed.Typing(chat), map[string]any{"bob": true})
		time.Sleep(every / 3)

		m := demoMessage{from: "bob", to: me, text: fmt.Sprintf("ping %d", n), ts: time.Now().UnixMilli()}
		id, err := f.Push(ctx, "messages", map[string]any{"fromId": m.from, "toId": m.to, "text": m.text, "timestamp": m.ts})
		if err != nil {
			logger.Warn("chatter push failed", zap.Error(err))
			return
		}
		badge++
		_ = f.Write(ctx, feed.Join(feed.UserMessages(me, chat), id), true)
		_ = f.Write(ctx, feed.Join(feed.UserConversation(me, chat), "lastMessage"), map[string]any{
			"messageUID": id, "fromId": m.from, "text": m.text, "timestamp": m.ts,
		})
		_ = f.Write(ctx, feed.Join(feed.UserConversation(me, chat), "badge"), badge)
		_ = f.Write(ctx, feed.Typing(chat), nil)
		logger.Debug("chatter delivered", zap.String("message_id", id))
	}
}
