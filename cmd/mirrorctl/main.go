package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/feedmirror/internal/account"
	"github.com/matheus3301/feedmirror/internal/client"
	"github.com/matheus3301/feedmirror/internal/lock"
	"github.com/spf13/cobra"
)

var (
	accountFlag string
	jsonFlag    bool
	timeoutFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "mirrorctl",
	Short:         "Control a feedmirror account daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&accountFlag, "account", "", "account name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "timeout for unary calls")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// resolveAccount applies the --account flag over the config default.
func resolveAccount() (string, error) {
	name := account.Resolve(accountFlag)
	if err := account.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// connect dials the daemon of the resolved account.
func connect() (*client.Client, string, error) {
	name, err := resolveAccount()
	if err != nil {
		return nil, "", err
	}
	c, err := client.New(account.SocketPath(name))
	if err != nil {
		return nil, "", fmt.Errorf("cannot connect to daemon for account %q: %w", name, err)
	}
	return c, name, nil
}

// explainUnreachable tells a stopped daemon apart from one that holds the
// account lock but does not answer.
func explainUnreachable(name string, err error) error {
	holder, held, lerr := lock.Inspect(account.Dir(name))
	if lerr != nil || !held {
		return fmt.Errorf("daemon for account %q is not running (start it with: mirrorctl start): %w", name, err)
	}
	return fmt.Errorf("daemon for account %q (PID %d, user %s) is not answering: %w", name, holder.PID, holder.UserID, err)
}

func unaryContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeoutFlag)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
