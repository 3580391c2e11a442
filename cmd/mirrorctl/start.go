package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/feedmirror/internal/account"
	"github.com/matheus3301/feedmirror/internal/client"
	"github.com/spf13/cobra"
)

var startWait time.Duration

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the account daemon unless it is already running",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		name, err := resolveAccount()
		if err != nil {
			return err
		}
		socketPath := account.SocketPath(name)
		if probeDaemon(socketPath) {
			fmt.Printf("daemon for account %q is already running\n", name)
			return nil
		}
		fmt.Fprintf(os.Stderr, "daemon not running for account %q, starting...\n", name)
		if err := startDaemon(name); err != nil {
			return fmt.Errorf("start daemon: %w", err)
		}
		if !waitForDaemon(socketPath, startWait) {
			return fmt.Errorf("daemon did not become ready within %s", startWait)
		}
		fmt.Printf("daemon for account %q is ready\n", name)
		return nil
	},
}

func init() {
	startCmd.Flags().DurationVar(&startWait, "wait", 10*time.Second, "how long to wait for the daemon")
	rootCmd.AddCommand(startCmd)
}

// probeDaemon checks that a daemon answers on the socket, not just that it exists.
func probeDaemon(socketPath string) bool {
	c, err := client.New(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Status(ctx)
	return err == nil
}

func startDaemon(accountName string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	mirrord := filepath.Join(filepath.Dir(executable), "mirrord")
	if _, err := os.Stat(mirrord); err != nil {
		mirrord = "mirrord"
	}

	cmd := exec.Command(mirrord, "--account", accountName)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
