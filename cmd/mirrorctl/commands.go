package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/feedmirror/internal/api"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"
)

func init() {
	rootCmd.AddCommand(statusCmd, chatsCmd, openCmd, watchCmd, logoutCmd)
	for _, ic := range []struct {
		use, short string
		call       func(api.MirrorClient, context.Context, string) error
	}{
		{"pin <conversation-id>", "Pin a conversation", func(c api.MirrorClient, ctx context.Context, id string) error {
			_, err := c.SetPinned(ctx, api.Request(id, true, ""))
			return err
		}},
		{"unpin <conversation-id>", "Unpin a conversation", func(c api.MirrorClient, ctx context.Context, id string) error {
			_, err := c.SetPinned(ctx, api.Request(id, false, ""))
			return err
		}},
		{"mute <conversation-id>", "Mute a conversation", func(c api.MirrorClient, ctx context.Context, id string) error {
			_, err := c.SetMuted(ctx, api.Request(id, true, ""))
			return err
		}},
		{"unmute <conversation-id>", "Unmute a conversation", func(c api.MirrorClient, ctx context.Context, id string) error {
			_, err := c.SetMuted(ctx, api.Request(id, false, ""))
			return err
		}},
		{"delete <conversation-id>", "Delete a conversation and leave it", func(c api.MirrorClient, ctx context.Context, id string) error {
			_, err := c.DeleteChat(ctx, api.Request(id, false, ""))
			return err
		}},
		{"read <conversation-id>", "Clear a conversation's unread count", func(c api.MirrorClient, ctx context.Context, id string) error {
			_, err := c.MarkRead(ctx, api.Request(id, false, ""))
			return err
		}},
	} {
		rootCmd.AddCommand(intentCommand(ic.use, ic.short, ic.call))
	}
}

func intentCommand(use, short string, call func(api.MirrorClient, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, cancel := unaryContext(cmd)
			defer cancel()
			if err := call(c.Mirror, ctx, args[0]); err != nil {
				return err
			}
			if !jsonFlag {
				fmt.Printf("%s: ok\n", strings.Fields(use)[0])
			}
			return nil
		},
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, name, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, cancel := unaryContext(cmd)
		defer cancel()
		st, err := c.Status(ctx)
		if err != nil {
			return explainUnreachable(name, err)
		}
		if jsonFlag {
			outputJSON(st)
			return nil
		}
		fmt.Printf("Account:       %v (%v)\n", st["account"], st["user_id"])
		fmt.Printf("Phase:         %v\n", st["phase"])
		fmt.Printf("Connectivity:  %v\n", st["connectivity"])
		fmt.Printf("Conversations: %v\n", st["conversations"])
		fmt.Printf("Unread:        %v\n", st["badge"])
		fmt.Printf("Pending:       %v\n", st["pending_writes"])
		fmt.Printf("Uptime:        %v\n", time.Duration(asInt(st["uptime_ms"]))*time.Millisecond)
		return nil
	},
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List conversations, pinned first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, _, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, cancel := unaryContext(cmd)
		defer cancel()
		pinned, unpinned, err := c.Chats(ctx)
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(map[string]any{"pinned": pinned, "unpinned": unpinned})
			return nil
		}
		if len(pinned)+len(unpinned) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, row := range append(pinned, unpinned...) {
			printRow(row)
		}
		return nil
	},
}

func printRow(row map[string]any) {
	marks := ""
	if row["pinned"] == true {
		marks += "^"
	}
	if row["muted"] == true {
		marks += "~"
	}
	badge := ""
	if row["show_badge"] == true {
		badge = fmt.Sprintf("(%d)", asInt(row["badge"]))
	}
	fmt.Printf("%-2s %-24s %-28v %5s  %v\n", marks, row["id"], row["name"], badge, row["preview"])
}

var openCmd = &cobra.Command{
	Use:   "open <conversation-id>",
	Short: "Stream a conversation's messages until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		stream, err := c.Mirror.OpenConversation(ctx, api.Request(args[0], false, ""))
		if err != nil {
			return err
		}
		return drain(ctx, stream.Recv, printSessionEvent)
	},
}

func printSessionEvent(evt map[string]any) {
	if jsonFlag {
		outputJSON(evt)
		return
	}
	switch evt["kind"] {
	case "batch":
		msgs, _ := evt["messages"].([]any)
		for _, m := range msgs {
			printMessage(m)
		}
	case "remove":
		fmt.Printf("- removed %v\n", evt["message_id"])
	case "status_update":
		m, _ := evt["message"].(map[string]any)
		fmt.Printf("~ %v is now %v (seen=%v)\n", m["id"], m["status"], m["seen"])
	default:
		printMessage(evt["message"])
	}
}

func printMessage(v any) {
	m, _ := v.(map[string]any)
	body := m["text"]
	if body == "" {
		body = fmt.Sprintf("[%v]", m["kind"])
	}
	fmt.Printf("%s %-16v %v\n", m["time_label"], m["sender_name"], body)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream lifecycle events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, _, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		stream, err := c.Mirror.WatchChats(ctx, &structpb.Struct{})
		if err != nil {
			return err
		}
		return drain(ctx, stream.Recv, func(env map[string]any) {
			if jsonFlag {
				outputJSON(env)
				return
			}
			fmt.Printf("%s %-28v %v\n",
				time.UnixMilli(int64(asInt(env["occurred_at_unix_ms"]))).Format(time.TimeOnly),
				env["kind"], env["payload"])
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Tear the account down and wipe its mirror",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, name, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, cancel := unaryContext(cmd)
		defer cancel()
		if _, err := c.Mirror.Logout(ctx, &structpb.Struct{}); err != nil {
			return err
		}
		fmt.Printf("Account %q logged out.\n", name)
		return nil
	},
}

// drain prints stream documents until the stream or ctx ends.
func drain(ctx context.Context, recv func() (*structpb.Struct, error), print func(map[string]any)) error {
	for {
		msg, err := recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		print(msg.AsMap())
	}
}

func asInt(v any) int {
	f, _ := v.(float64)
	return int(f)
}
