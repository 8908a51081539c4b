package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show unread counters",
	Long: `Show the server-authoritative unread counters: the aggregate total
and the per-conversation breakdown.`,
	RunE: runUnread,
}

func runUnread(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	counts, total, err := api.FetchUnreadCounts(ctx)
	if err != nil {
		return fmt.Errorf("fetch unread counts: %w", err)
	}

	fmt.Printf("Total unread: %d\n", total)
	if len(counts) == 0 {
		return nil
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if counts[id] > 0 {
			fmt.Printf("  %-26s %d\n", id, counts[id])
		}
	}
	return nil
}
