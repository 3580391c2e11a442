package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/feedmirror/internal/model"
)

// Config represents the global ~/.feedmirror/config.toml.
type Config struct {
	DefaultAccount string             `toml:"default_account"`
	FeedURL        string             `toml:"feed_url"`
	Accounts       map[string]Account `toml:"accounts"`
	Sync           Sync               `toml:"sync"`
	Layout         model.LayoutConfig `toml:"layout"`
}

// Account binds a local account name to a feed identity.
type Account struct {
	UserID  string `toml:"user_id"`
	FeedURL string `toml:"feed_url"`
}

// Sync tunes the message synchronizer and the write-back queue.
type Sync struct {
	WindowSize     int           `toml:"window_size"`
	ResolveTimeout time.Duration `toml:"resolve_timeout"`
	BarrierTimeout time.Duration `toml:"barrier_timeout"`
	Concurrency    int           `toml:"concurrency"`
	FlushInterval  time.Duration `toml:"flush_interval"`
	MaxAttempts    int           `toml:"max_attempts"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		FeedURL: "ws://127.0.0.1:7420/feed",
		Sync: Sync{
			WindowSize:     50,
			ResolveTimeout: 10 * time.Second,
			BarrierTimeout: 15 * time.Second,
			Concurrency:    16,
			FlushInterval:  500 * time.Millisecond,
			MaxAttempts:    5,
		},
		Layout: model.DefaultLayout(),
	}
}

// Load reads config from the given path over the defaults. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load that treats a missing file as the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate rejects values the synchronizers cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Sync.WindowSize <= 0:
		return fmt.Errorf("sync.window_size must be positive, got %d", c.Sync.WindowSize)
	case c.Sync.ResolveTimeout <= 0 || c.Sync.BarrierTimeout <= 0:
		return errors.New("sync timeouts must be positive")
	case c.Sync.Concurrency <= 0:
		return fmt.Errorf("sync.concurrency must be positive, got %d", c.Sync.Concurrency)
	case c.Layout.BubbleMaxCols <= 0 || c.Layout.LandscapeBubbleMaxCols <= 0:
		return errors.New("layout bubble widths must be positive")
	}
	for name, acct := range c.Accounts {
		if acct.UserID == "" {
			return fmt.Errorf("account %q: user_id is required", name)
		}
	}
	return nil
}

// Account returns the named account with the global feed URL filled in.
func (c *Config) Account(name string) (Account, error) {
	acct, ok := c.Accounts[name]
	if !ok {
		return Account{}, fmt.Errorf("account %q is not configured", name)
	}
	if acct.FeedURL == "" {
		acct.FeedURL = c.FeedURL
	}
	return acct, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
