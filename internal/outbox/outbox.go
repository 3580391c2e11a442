// Package outbox delivers local intents to the remote feed. Writes are
// persisted in the mirror database first and drained in order by a polling
// loop, so an intent issued while disconnected is applied once the feed is
// reachable again.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/feedmirror/internal/bus"
	"github.com/matheus3301/feedmirror/internal/store"
	"go.uber.org/zap"
)

// Writer applies a value at a feed path; nil removes it. feed.Feed satisfies it.
type Writer interface {
	Write(ctx context.Context, path string, value any) error
}

// DefaultMaxAttempts bounds retries before a write is parked as failed.
const DefaultMaxAttempts = 5

// Queue drains pending writes to the feed.
type Queue struct {
	db          *store.DB
	writer      Writer
	bus         *bus.Bus
	logger      *zap.Logger
	interval    time.Duration
	maxAttempts int
	wake        chan struct{}
	cancel      context.CancelFunc
	done        chan struct{}
}

// New creates a queue. b may be nil.
func New(db *store.DB, writer Writer, b *bus.Bus, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		db:          db,
		writer:      writer,
		bus:         b,
		logger:      logger,
		interval:    500 * time.Millisecond,
		maxAttempts: DefaultMaxAttempts,
		wake:        make(chan struct{}, 1),
	}
}

// Tune overrides the poll interval and the retry bound; zero keeps the current value.
// Call before Start.
func (q *Queue) Tune(interval time.Duration, maxAttempts int) *Queue {
	if interval > 0 {
		q.interval = interval
	}
	if maxAttempts > 0 {
		q.maxAttempts = maxAttempts
	}
	return q
}

// Enqueue persists a write of value at path and returns its client id.
func (q *Queue) Enqueue(path string, value any) (string, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode write %q: %w", path, err)
	}
	id := uuid.NewString()
	if err := q.db.QueueWrite(id, path, string(payload)); err != nil {
		return "", fmt.Errorf("queue write %q: %w", path, err)
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return id, nil
}

// Start requeues writes interrupted by a previous run and begins draining.
func (q *Queue) Start(ctx context.Context) {
	if n, err := q.db.RecoverSending(); err != nil {
		q.logger.Error("failed to recover interrupted writes", zap.Error(err))
	} else if n > 0 {
		q.logger.Info("requeued interrupted writes", zap.Int64("count", n))
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})
	go q.loop(ctx)
}

// Stop stops the drain loop and waits for the current round to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.processPending(ctx)
		case <-q.wake:
			q.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// processPending delivers queued writes in submission order. A transient
// failure ends the round so later writes never overtake an earlier one.
func (q *Queue) processPending(ctx context.Context) {
	pending, err := q.db.PendingWrites(0)
	if err != nil {
		q.logger.Error("failed to read pending writes", zap.Error(err))
		return
	}

	for _, w := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := q.db.MarkWriteSending(w.ClientID); err != nil {
			q.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_id", w.ClientID))
			return
		}

		var value any
		if w.Payload != "null" {
			value = json.RawMessage(w.Payload)
		}
		if err := q.writer.Write(ctx, w.Path, value); err != nil {
			attempts := w.Attempts + 1
			if attempts >= q.maxAttempts {
				q.logger.Error("write failed permanently", zap.Error(err),
					zap.String("client_id", w.ClientID), zap.String("path", w.Path), zap.Int("attempts", attempts))
				_ = q.db.MarkWriteFailed(w.ClientID, err.Error())
				q.publish("outbox.write_failed", map[string]string{
					"client_id": w.ClientID,
					"path":      w.Path,
					"error":     err.Error(),
				})
				continue
			}
			q.logger.Warn("write failed, will retry", zap.Error(err),
				zap.String("client_id", w.ClientID), zap.Int("attempts", attempts))
			_ = q.db.RequeueWrite(w.ClientID, err.Error())
			return
		}

		if err := q.db.MarkWriteSent(w.ClientID); err != nil {
			q.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_id", w.ClientID))
		}
		q.logger.Debug("write delivered", zap.String("client_id", w.ClientID), zap.String("path", w.Path))
		q.publish("outbox.write_sent", map[string]string{
			"client_id": w.ClientID,
			"path":      w.Path,
		})
	}
}

func (q *Queue) publish(kind string, payload any) {
	if q.bus != nil {
		q.bus.Emit(kind, payload)
	}
}
