// Command feedsim serves an in-memory feed over websocket so a daemon can be
// run and poked locally without a real backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/feedmirror/internal/feed/memfeed"
	"github.com/matheus3301/feedmirror/internal/feed/wsfeed"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7420", "listen address")
	seedPath := flag.String("seed", "", "JSON file whose top-level keys are written as feed paths")
	demoUser := flag.String("demo", "", "seed a demo dataset for this user id")
	chatter := flag.Duration("chatter", 0, "with --demo, deliver an incoming message this often")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(*addr, *seedPath, *demoUser, *chatter, logger); err != nil {
		logger.Fatal("feedsim failed", zap.Error(err))
	}
}

func run(addr, seedPath, demoUser string, chatter time.Duration, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f := memfeed.New()
	defer f.Close()

	if seedPath != "" {
		n, err := loadSeed(ctx, f, seedPath)
		if err != nil {
			return err
		}
		logger.Info("seed loaded", zap.String("path", seedPath), zap.Int("roots", n))
	}
	if demoUser != "" {
		if err := seedDemo(ctx, f, demoUser); err != nil {
			return err
		}
		logger.Info("demo dataset seeded", zap.String("user_id", demoUser))
		if chatter > 0 {
			go runChatter(ctx, f, demoUser, chatter, logger)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/feed", wsfeed.Handler(f, logger.Named("wsfeed")))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("feed listening", zap.String("url", "ws://"+addr+"/feed"))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("feed stopped")
	return nil
}
