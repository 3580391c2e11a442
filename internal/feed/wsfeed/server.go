package wsfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/feedmirror/internal/feed"
	"go.uber.org/zap"
)

const readLimit = 16 << 20

// Handler serves backend to websocket clients speaking the wsfeed protocol.
func Handler(backend feed.Feed, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Warn("websocket accept failed", zap.Error(err))
			return
		}
		conn.SetReadLimit(readLimit)
		s := &serverConn{
			backend: backend,
			conn:    conn,
			logger:  logger.With(zap.String("remote", r.RemoteAddr)),
			subs:    make(map[uint64]feed.Subscription),
		}
		s.serve(r.Context())
	})
}

type serverConn struct {
	backend feed.Feed
	conn    *websocket.Conn
	logger  *zap.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	subs    map[uint64]feed.Subscription
}

func (s *serverConn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeAll()

	s.logger.Info("feed client connected")
	for {
		var req request
		if err := wsjson.Read(ctx, s.conn, &req); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.logger.Debug("feed client read ended", zap.Error(err))
			}
			_ = s.conn.Close(websocket.StatusNormalClosure, "")
			s.logger.Info("feed client disconnected")
			return
		}
		switch req.Op {
		case opRead, opWrite:
			go s.handle(ctx, req)
		default:
			s.handle(ctx, req)
		}
	}
}

func (s *serverConn) handle(ctx context.Context, req request) {
	switch req.Op {
	case opRead:
		snap, err := s.backend.ReadOnce(ctx, req.Query)
		if err != nil {
			s.reply(ctx, response{ID: req.ID, Error: err.Error()})
			return
		}
		s.reply(ctx, response{ID: req.ID, Snapshot: &snap})
	case opWrite:
		var value any
		if len(req.Value) > 0 {
			value = json.RawMessage(req.Value)
		}
		if err := s.backend.Write(ctx, req.Path, value); err != nil {
			s.reply(ctx, response{ID: req.ID, Error: err.Error()})
			return
		}
		s.reply(ctx, response{ID: req.ID})
	case opSubscribe:
		kind, err := feed.ParseEventKind(req.Kind)
		if err != nil {
			s.reply(ctx, response{ID: req.ID, Error: err.Error()})
			return
		}
		s.mu.Lock()
		if old, ok := s.subs[req.ID]; ok {
			old.Close()
		}
		s.mu.Unlock()
		sub, err := s.backend.Subscribe(ctx, req.Query, kind)
		if err != nil {
			s.reply(ctx, response{ID: req.ID, Error: err.Error()})
			return
		}
		s.mu.Lock()
		s.subs[req.ID] = sub
		s.mu.Unlock()
		s.reply(ctx, response{ID: req.ID})
		go s.forward(ctx, req.ID, sub)
	case opUnsubscribe:
		s.mu.Lock()
		if sub, ok := s.subs[req.ID]; ok {
			sub.Close()
			delete(s.subs, req.ID)
		}
		s.mu.Unlock()
		s.reply(ctx, response{ID: req.ID})
	default:
		s.reply(ctx, response{ID: req.ID, Error: "unknown op " + req.Op})
	}
}

func (s *serverConn) forward(ctx context.Context, id uint64, sub feed.Subscription) {
	for evt := range sub.Events() {
		if err := s.write(ctx, response{Sub: id, Event: &evt}); err != nil {
			return
		}
	}
}

func (s *serverConn) reply(ctx context.Context, resp response) {
	if err := s.write(ctx, resp); err != nil {
		s.logger.Debug("feed reply failed", zap.Uint64("id", resp.ID), zap.Error(err))
	}
}

func (s *serverConn) write(ctx context.Context, resp response) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wsjson.Write(ctx, s.conn, resp)
}

func (s *serverConn) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		sub.Close()
		delete(s.subs, id)
	}
}
