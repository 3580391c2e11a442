package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/matheus3301/feedmirror/internal/feed"
	"github.com/matheus3301/feedmirror/internal/feed/memfeed"
	"github.com/matheus3301/feedmirror/internal/model"
)

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	data := `{"users": {"bob": {"name": "Bob"}}, "messages": {"m1": {"fromId": "bob", "text": "hi", "timestamp": 1}}}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	f := memfeed.New()
	defer f.Close()
	n, err := loadSeed(context.Background(), f, path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("roots = %d, want 2", n)
	}
	snap, err := f.ReadOnce(context.Background(), feed.At(feed.Message("m1")))
	if err != nil {
		t.Fatal(err)
	}
	m, err := model.DecodeMessage("m1", snap)
	if err != nil {
		t.Fatal(err)
	}
	if m.Text != "hi" || m.SenderID != "bob" {
		t.Errorf("message = %+v", m)
	}
}

func TestSeedDemo(t *testing.T) {
	f := memfeed.New()
	defer f.Close()
	ctx := context.Background()
	if err := seedDemo(ctx, f, "alice"); err != nil {
		t.Fatal(err)
	}

	index, err := f.ReadOnce(ctx, feed.At(feed.UserConversations("alice")))
	if err != nil {
		t.Fatal(err)
	}
	if len(index.Children) != 4 {
		t.Fatalf("conversations = %d, want 4", len(index.Children))
	}
	for _, child := range index.Children {
		c, err := model.DecodeConversation(child.Key, child, "alice")
		if err != nil {
			t.Fatalf("%s: %v", child.Key, err)
		}
		if child.Key == "alice" && c.DisplayName() != model.PersonalStorageName {
			t.Errorf("self chat name = %q", c.DisplayName())
		}
	}

	msgs, err := f.ReadOnce(ctx, feed.At(feed.UserMessages("alice", "c-bob")))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs.Children) != 3 {
		t.Errorf("c-bob messages = %d, want 3", len(msgs.Children))
	}
}
