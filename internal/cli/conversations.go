package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SachiPatankar/buildasquad-sub000/internal/inbox"
	"github.com/SachiPatankar/buildasquad-sub000/internal/notify"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations with unread badges",
	Long: `List every conversation with its last-message preview and unread count.

Examples:
  squadchat conversations
  squadchat ls`,
	RunE: runConversations,
}

func runConversations(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store := notify.NewStore()
	counts, total, err := api.FetchUnreadCounts(ctx)
	if err != nil {
		return fmt.Errorf("fetch unread counts: %w", err)
	}
	store.SetAllCounters(counts)
	store.SetAggregateTotal(total)

	list := inbox.New(api, store, logger)
	if err := list.Refresh(ctx); err != nil {
		return err
	}

	entries := list.Snapshot()
	if len(entries) == 0 {
		fmt.Println("No conversations yet.")
		return nil
	}

	for _, e := range entries {
		badge := ""
		if e.Unread > 0 {
			badge = fmt.Sprintf(" [%d unread]", e.Unread)
		}
		preview := e.LastMessage
		if len(preview) > 60 {
			preview = preview[:57] + "..."
		}
		fmt.Printf("%-26s %s  %s%s\n",
			e.ConversationID,
			e.LastMessageAt.Local().Format("Jan 02 15:04"),
			preview,
			badge,
		)
	}
	fmt.Printf("\n%d conversations, %d unread total\n", len(entries), store.TotalUnread())
	return nil
}
