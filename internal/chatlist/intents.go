package chatlist

import (
	"context"
	"fmt"

	"github.com/matheus3301/feedmirror/internal/feed"
	"github.com/matheus3301/feedmirror/internal/model"
	"github.com/matheus3301/feedmirror/internal/status"
)

// Pin sets the pinned flag locally and queues it for the feed.
func (s *Synchronizer) Pin(ctx context.Context, id string, pinned bool) error {
	return s.do(ctx, func() error {
		if !s.tracked[id] {
			return fmt.Errorf("pin %q: %w", id, ErrUnknownConversation)
		}
		if _, err := s.db.SetPinned(id, pinned); err != nil {
			return fmt.Errorf("pin %q: %w", id, err)
		}
		s.override(id).pinned = &pinned
		_, err := s.writes.Enqueue(feed.Join(feed.UserConversation(s.me, id), "pinned"), pinned)
		return err
	})
}

// Mute sets the muted flag locally and queues it for the feed.
func (s *Synchronizer) Mute(ctx context.Context, id string, muted bool) error {
	return s.do(ctx, func() error {
		if !s.tracked[id] {
			return fmt.Errorf("mute %q: %w", id, ErrUnknownConversation)
		}
		if _, err := s.db.SetMuted(id, muted); err != nil {
			return fmt.Errorf("mute %q: %w", id, err)
		}
		s.override(id).muted = &muted
		_, err := s.writes.Enqueue(feed.Join(feed.UserConversation(s.me, id), "muted"), muted)
		return err
	})
}

// Delete removes the conversation from the local user's index and drops
// their copy of its message index ("delete and exit").
func (s *Synchronizer) Delete(ctx context.Context, id string) error {
	return s.do(ctx, func() error {
		if !s.tracked[id] {
			return fmt.Errorf("delete %q: %w", id, ErrUnknownConversation)
		}
		s.deleting[id] = true
		if _, err := s.db.DeleteConversation(id); err != nil {
			return fmt.Errorf("delete %q: %w", id, err)
		}
		delete(s.tracked, id)
		delete(s.overrides, id)
		s.unwatchTyping(id)

		if _, err := s.writes.Enqueue(feed.UserConversation(s.me, id), nil); err != nil {
			return err
		}
		if _, err := s.writes.Enqueue(feed.UserMessages(s.me, id), nil); err != nil {
			return err
		}
		s.emit(EventItemRemoved, id)
		s.refreshBadge()
		return nil
	})
}

// MarkRead clears the unread count of a conversation and, when seenID is
// set, flags that message as seen.
func (s *Synchronizer) MarkRead(ctx context.Context, id, seenID string) error {
	return s.do(ctx, func() error {
		if s.tracked[id] {
			changed, err := s.db.ClearBadge(id)
			if err != nil {
				return fmt.Errorf("mark read %q: %w", id, err)
			}
			s.override(id).badgeCleared = true
			if changed {
				if _, err := s.writes.Enqueue(feed.Join(feed.UserConversation(s.me, id), "badge"), 0); err != nil {
					return err
				}
				s.refreshBadge()
			}
		}
		if seenID != "" {
			if _, err := s.writes.Enqueue(feed.Join(feed.Message(seenID), "seen"), true); err != nil {
				return err
			}
		}
		return nil
	})
}

// Teardown stops the loop, wipes the mirror and pending writes, and returns
// the phase to Initializing. Used on logout.
func (s *Synchronizer) Teardown() error {
	s.Stop()
	s.mu.Lock()
	s.cancel = nil
	s.pinned, s.unpinned = nil, nil
	s.mu.Unlock()

	if err := s.db.DeleteAllConversations(); err != nil {
		return fmt.Errorf("teardown: %w", err)
	}
	if err := s.db.PurgeWrites(); err != nil {
		return fmt.Errorf("teardown: %w", err)
	}
	if s.machine.Current() != status.Initializing {
		if err := s.machine.Transition(status.Initializing); err != nil {
			return fmt.Errorf("teardown: %w", err)
		}
	}
	s.lastBadge = 0
	if s.badge != nil {
		s.badge.SetBadge(0)
	}
	s.emit(EventTeardown, nil)
	s.emit(EventBadge, 0)
	s.logger.Info("conversation list torn down")
	return nil
}

// localFlags are intents applied locally whose write has not yet been
// reflected by the conversation index. They win over decoded snapshots
// until the remote value matches.
type localFlags struct {
	pinned       *bool
	muted        *bool
	badgeCleared bool
}

func (s *Synchronizer) override(id string) *localFlags {
	o, ok := s.overrides[id]
	if !ok {
		o = &localFlags{}
		s.overrides[id] = o
	}
	return o
}

// applyOverrides rewrites conv with the pending local flags and forgets
// those the remote has caught up with.
func (s *Synchronizer) applyOverrides(conv *model.Conversation) {
	o, ok := s.overrides[conv.ID]
	if !ok {
		return
	}
	if o.pinned != nil {
		if conv.Pinned == *o.pinned {
			o.pinned = nil
		} else {
			conv.Pinned = *o.pinned
		}
	}
	if o.muted != nil {
		if conv.Muted == *o.muted {
			o.muted = nil
		} else {
			conv.Muted = *o.muted
		}
	}
	if o.badgeCleared {
		if conv.Badge == 0 {
			o.badgeCleared = false
		} else {
			conv.Badge = 0
		}
	}
	if o.pinned == nil && o.muted == nil && !o.badgeCleared {
		delete(s.overrides, conv.ID)
	}
}
