package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/feedmirror/internal/account"
	"github.com/matheus3301/feedmirror/internal/api"
	"github.com/matheus3301/feedmirror/internal/bus"
	"github.com/matheus3301/feedmirror/internal/chatlist"
	"github.com/matheus3301/feedmirror/internal/config"
	"github.com/matheus3301/feedmirror/internal/feed"
	"github.com/matheus3301/feedmirror/internal/feed/wsfeed"
	"github.com/matheus3301/feedmirror/internal/lock"
	"github.com/matheus3301/feedmirror/internal/logging"
	"github.com/matheus3301/feedmirror/internal/msgsync"
	"github.com/matheus3301/feedmirror/internal/outbox"
	"github.com/matheus3301/feedmirror/internal/status"
	"github.com/matheus3301/feedmirror/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const feedDialTimeout = 15 * time.Second

// Params holds the resolved account configuration passed to the fx module.
type Params struct {
	AccountName string
	SocketPath  string // optional override for testing; empty = use default
	Debug       bool

	// Optional overrides for testing.
	Config *config.Config
	Feed   feed.Feed
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideAccount,
			provideIdentity,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideFeed,
			provideOutbox,
			provideBadge,
			provideChatList,
			provideMessages,
			provideMirrorService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, p.Config.Validate()
	}
	return config.LoadOrDefault(account.ConfigPath())
}

func provideAccount(p Params, cfg *config.Config) (config.Account, error) {
	if err := account.ValidateName(p.AccountName); err != nil {
		return config.Account{}, err
	}
	return cfg.Account(p.AccountName)
}

func provideIdentity(p Params, acct config.Account) api.Identity {
	return api.Identity{Account: p.AccountName, UserID: acct.UserID}
}

func provideLogger(p Params, acct config.Account) (*zap.Logger, error) {
	return logging.New(account.LogPath(p.AccountName), p.AccountName, acct.UserID, p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, acct config.Account, logger *zap.Logger) (*lock.Lock, error) {
	if err := account.EnsureDir(p.AccountName); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock")
	l, err := lock.Acquire(account.Dir(p.AccountName), acct.UserID)
	if err != nil {
		return nil, err
	}
	logger.Info("account lock acquired")
	return l, nil
}

// provideStore takes the lock as a dependency so the mirror is never opened
// by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := account.MirrorDBPath(p.AccountName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if errors.Is(err, store.ErrDirtySchema) {
		// The mirror only caches the remote, so it is rebuilt rather than repaired.
		logger.Warn("mirror schema dirty, rebuilding", zap.Error(err))
		result, err = db.Rebuild()
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideFeed(lc fx.Lifecycle, p Params, acct config.Account, logger *zap.Logger) (feed.Feed, error) {
	if p.Feed != nil {
		return p.Feed, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), feedDialTimeout)
	defer cancel()
	c, err := wsfeed.Dial(ctx, acct.FeedURL, wsfeed.Options{Logger: logger.Named("feed")})
	if err != nil {
		return nil, fmt.Errorf("connect feed %s: %w", acct.FeedURL, err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return c.Close() }})
	logger.Info("feed connected", zap.String("url", acct.FeedURL))
	return c, nil
}

func provideOutbox(cfg *config.Config, db *store.DB, f feed.Feed, b *bus.Bus, logger *zap.Logger) *outbox.Queue {
	return outbox.New(db, f, b, logger.Named("outbox")).Tune(cfg.Sync.FlushInterval, cfg.Sync.MaxAttempts)
}

func provideBadge() *api.BadgeCounter {
	return &api.BadgeCounter{}
}

func provideChatList(f feed.Feed, db *store.DB, q *outbox.Queue, m *status.Machine, b *bus.Bus, badge *api.BadgeCounter, acct config.Account, logger *zap.Logger) *chatlist.Synchronizer {
	return chatlist.New(f, db, q, m, b, badge, acct.UserID, logger.Named("chatlist"))
}

func provideMessages(cfg *config.Config, f feed.Feed, lists *chatlist.Synchronizer, b *bus.Bus, acct config.Account, logger *zap.Logger) *msgsync.Synchronizer {
	return msgsync.New(f, msgsync.Options{
		LocalUser:      acct.UserID,
		Window:         cfg.Sync.WindowSize,
		ResolveTimeout: cfg.Sync.ResolveTimeout,
		BarrierTimeout: cfg.Sync.BarrierTimeout,
		Concurrency:    cfg.Sync.Concurrency,
		Layout:         cfg.Layout,
	}, lists, b, logger.Named("msgsync"))
}

func provideMirrorService(id api.Identity, m *status.Machine, lists *chatlist.Synchronizer, messages *msgsync.Synchronizer, db *store.DB, b *bus.Bus, badge *api.BadgeCounter, logger *zap.Logger) *api.MirrorService {
	return api.NewMirrorService(id, m, lists, messages, db, b, badge, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, queue *outbox.Queue, lists *chatlist.Synchronizer, messages *msgsync.Synchronizer, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Drain writes left over from the previous run before new intents arrive.
			queue.Start(context.Background())

			if err := lists.Start(context.Background()); err != nil {
				queue.Stop()
				return fmt.Errorf("start conversation list: %w", err)
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			messages.CloseAll()
			lists.Stop()
			queue.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
