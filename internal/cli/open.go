package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/SachiPatankar/buildasquad-sub000/internal/cache"
	"github.com/SachiPatankar/buildasquad-sub000/internal/notify"
	"github.com/SachiPatankar/buildasquad-sub000/internal/push"
	"github.com/SachiPatankar/buildasquad-sub000/internal/session"
)

var openCmd = &cobra.Command{
	Use:   "open <conversation-id>",
	Short: "Open a conversation in a live chat view",
	Long: `Open a conversation: fetch its history, join its live topic and keep
the view in sync with the push stream.

In-view commands:
  /reply <message-id> <text>   reply to a message
  /edit <message-id> <text>    edit your message
  /delete <message-id>         delete your message
  /retry <temp-id>             retry a failed send

Examples:
  squadchat open conv_01HZX3`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func runOpen(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("open requires an interactive terminal")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := push.New(cfg.PushURL, cfg.SessionToken, logger)
	if err := channel.Connect(ctx); err != nil {
		return fmt.Errorf("connect push gateway: %w", err)
	}
	defer channel.Close()

	store := notify.NewStore()
	unlisten := notify.Listen(channel, store, logger)
	defer unlisten()

	// Bulk counter reconciliation: once on session start, again after
	// every reconnect. The pushed deltas are trusted in between.
	syncCounters := func() {
		counts, total, err := api.FetchUnreadCounts(ctx)
		if err != nil {
			logger.Warn("unread count reconciliation failed", "error", err)
			return
		}
		store.SetAllCounters(counts)
		store.SetAggregateTotal(total)
	}
	syncCounters()
	channel.OnReconnect(syncCounters)

	msgCache := cache.New()
	ctrl := session.New(api, channel, msgCache, store, cfg.PageSize, logger)
	ctrl.RegisterReconnect(ctx, channel)
	defer ctrl.Close()

	return runChatView(ctx, ctrl, msgCache, store, args[0])
}
