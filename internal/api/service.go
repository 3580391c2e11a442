package api

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/feedmirror/internal/bus"
	"github.com/matheus3301/feedmirror/internal/chatlist"
	"github.com/matheus3301/feedmirror/internal/msgsync"
	"github.com/matheus3301/feedmirror/internal/status"
	"github.com/matheus3301/feedmirror/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// BadgeCounter is the daemon's application badge. It satisfies chatlist.BadgeSink.
type BadgeCounter struct {
	total atomic.Int64
}

// SetBadge stores the unread total; zero clears it.
func (b *BadgeCounter) SetBadge(total int) {
	b.total.Store(int64(total))
}

// Total returns the last unread total.
func (b *BadgeCounter) Total() int {
	return int(b.total.Load())
}

// Identity names the account a daemon mirrors.
type Identity struct {
	Account string
	UserID  string
}

// MirrorService implements MirrorServer over the synchronizers.
type MirrorService struct {
	id        Identity
	startedAt time.Time
	machine   *status.Machine
	lists     *chatlist.Synchronizer
	messages  *msgsync.Synchronizer
	db        *store.DB
	bus       *bus.Bus
	badge     *BadgeCounter
	logger    *zap.Logger
}

// NewMirrorService creates the service.
func NewMirrorService(id Identity, machine *status.Machine, lists *chatlist.Synchronizer, messages *msgsync.Synchronizer, db *store.DB, b *bus.Bus, badge *BadgeCounter, logger *zap.Logger) *MirrorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MirrorService{
		id:        id,
		startedAt: time.Now(),
		machine:   machine,
		lists:     lists,
		messages:  messages,
		db:        db,
		bus:       b,
		badge:     badge,
		logger:    logger,
	}
}

func (s *MirrorService) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out := map[string]any{
		"account":        s.id.Account,
		"user_id":        s.id.UserID,
		"phase":          string(s.machine.Current()),
		"connectivity":   string(s.machine.Connectivity()),
		"uptime_ms":      time.Since(s.startedAt).Milliseconds(),
		"badge":          s.badge.Total(),
		"dropped_events": int64(s.bus.Dropped()),
	}
	if ids, err := s.db.ConversationIDs(); err == nil {
		out["conversations"] = len(ids)
	}
	if pending, err := s.db.PendingWrites(0); err == nil {
		out["pending_writes"] = len(pending)
	}
	active := s.messages.Active()
	open := make([]any, len(active))
	for i, id := range active {
		open[i] = id
	}
	out["open_conversations"] = open
	return structpb.NewStruct(out)
}

func (s *MirrorService) ListChats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"phase":    string(s.machine.Current()),
		"pinned":   conversationsToList(s.lists.Pinned(), s.id.UserID),
		"unpinned": conversationsToList(s.lists.Unpinned(), s.id.UserID),
	})
}

func (s *MirrorService) SetPinned(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, fieldConversationID)
	if err := s.lists.Pin(ctx, id, boolField(req, fieldValue)); err != nil {
		return nil, intentError("pin", err)
	}
	return accepted(id)
}

func (s *MirrorService) SetMuted(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, fieldConversationID)
	if err := s.lists.Mute(ctx, id, boolField(req, fieldValue)); err != nil {
		return nil, intentError("mute", err)
	}
	return accepted(id)
}

func (s *MirrorService) DeleteChat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, fieldConversationID)
	if err := s.lists.Delete(ctx, id); err != nil {
		return nil, intentError("delete", err)
	}
	return accepted(id)
}

func (s *MirrorService) MarkRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, fieldConversationID)
	if err := s.lists.MarkRead(ctx, id, stringField(req, fieldSeenID)); err != nil {
		return nil, intentError("mark read", err)
	}
	return accepted(id)
}

func (s *MirrorService) Logout(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.messages.CloseAll()
	if err := s.lists.Teardown(); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "logout: %v", err)
	}
	s.logger.Info("account logged out")
	return structpb.NewStruct(map[string]any{"success": true, "message": "logged out"})
}

// WatchChats streams every bus event as an envelope. When the list is
// loaded the stream opens with a synthetic chats.reload of the current state.
func (s *MirrorService) WatchChats(_ *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ch, unsub := s.bus.Subscribe("", 256)
	defer unsub()

	if s.machine.Current() == status.Steady {
		reload := chatlist.Reload{Pinned: s.lists.Pinned(), Unpinned: s.lists.Unpinned()}
		if err := s.send(stream, bus.Event{Kind: chatlist.EventReload, Timestamp: time.Now(), Payload: reload}); err != nil {
			return err
		}
	}

	for {
		select {
		case evt := <-ch:
			if err := s.send(stream, evt); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// OpenConversation runs a message session for the life of the stream.
func (s *MirrorService) OpenConversation(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	id := stringField(req, fieldConversationID)
	conv, err := s.lists.Conversation(id)
	if err != nil {
		return grpcstatus.Errorf(codes.Internal, "open %q: %v", id, err)
	}
	if conv == nil {
		return grpcstatus.Errorf(codes.NotFound, "conversation %q not found", id)
	}

	sess, err := s.messages.Open(stream.Context(), *conv)
	if err != nil {
		return grpcstatus.Errorf(codes.Internal, "open %q: %v", id, err)
	}
	defer sess.Close()

	for {
		select {
		case evt, ok := <-sess.Events():
			if !ok {
				if err := sess.Err(); err != nil {
					return grpcstatus.Errorf(codes.Unavailable, "conversation %q: %v", id, err)
				}
				return nil
			}
			msg, err := sessionEventToStruct(evt)
			if err != nil {
				return grpcstatus.Errorf(codes.Internal, "encode event: %v", err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *MirrorService) send(stream grpc.ServerStreamingServer[structpb.Struct], evt bus.Event) error {
	payload, err := payloadToValue(evt.Payload, s.id.UserID)
	if err != nil {
		s.logger.Debug("sending event without payload", zap.String("kind", evt.Kind), zap.Error(err))
		payload = nil
	}
	env, err := structpb.NewStruct(map[string]any{
		"event_id":            uuid.New().String(),
		"account":             s.id.Account,
		"occurred_at_unix_ms": evt.Timestamp.UnixMilli(),
		"kind":                evt.Kind,
		"payload_version":     1,
		"payload":             payload,
	})
	if err != nil {
		return grpcstatus.Errorf(codes.Internal, "encode %s: %v", evt.Kind, err)
	}
	return stream.Send(env)
}

func accepted(id string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"accepted": true, fieldConversationID: id})
}

func intentError(op string, err error) error {
	switch {
	case errors.Is(err, chatlist.ErrUnknownConversation):
		return grpcstatus.Errorf(codes.NotFound, "%s: %v", op, err)
	case errors.Is(err, chatlist.ErrNotRunning):
		return grpcstatus.Errorf(codes.Unavailable, "%s: %v", op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	}
	return grpcstatus.Errorf(codes.Internal, "%s: %v", op, err)
}
