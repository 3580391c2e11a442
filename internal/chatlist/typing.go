package chatlist

import (
	"errors"

	"github.com/matheus3301/feedmirror/internal/feed"
	"github.com/matheus3301/feedmirror/internal/model"
	"go.uber.org/zap"
)

type typingEvent struct {
	conversationID string
	snap           feed.Snapshot
}

// typingEligible selects direct chats and the groups the local user belongs to.
func typingEligible(c *model.Conversation, me string) bool {
	if c.SelfChat {
		return false
	}
	return !c.IsGroup || c.HasParticipant(me)
}

// watchTyping subscribes to the conversation's typing state once.
func (s *Synchronizer) watchTyping(c *model.Conversation) {
	if _, ok := s.typing[c.ID]; ok || !typingEligible(c, s.me) {
		return
	}
	sub, err := s.feed.Subscribe(s.ctx, feed.At(feed.Typing(c.ID)), feed.ValueChanged)
	if err != nil {
		s.logger.Warn("typing subscription failed", zap.String("conversation_id", c.ID), zap.Error(err))
		return
	}
	s.typing[c.ID] = sub

	in := s.typingIn
	go func() {
		for evt := range sub.Events() {
			in.Push(typingEvent{conversationID: c.ID, snap: evt.Snapshot})
		}
	}()
}

func (s *Synchronizer) unwatchTyping(id string) {
	if sub, ok := s.typing[id]; ok {
		sub.Close()
		delete(s.typing, id)
	}
}

// handleTyping marks a conversation typing while any other participant is.
func (s *Synchronizer) handleTyping(evt typingEvent) {
	id := evt.conversationID
	if _, ok := s.typing[id]; !ok {
		return
	}
	var state map[string]bool
	if err := evt.snap.Decode(&state); err != nil && !errors.Is(err, feed.ErrNotFound) {
		s.logger.Debug("bad typing state", zap.String("conversation_id", id), zap.Error(err))
		return
	}
	typing := false
	for user, on := range state {
		if on && user != s.me {
			typing = true
			break
		}
	}
	changed, err := s.db.SetTyping(id, typing)
	if err != nil {
		s.logger.Error("failed to set typing", zap.String("conversation_id", id), zap.Error(err))
		return
	}
	if changed {
		s.emit(EventTyping, TypingChange{ConversationID: id, Typing: typing})
	}
}
