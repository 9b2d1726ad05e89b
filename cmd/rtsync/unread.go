package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/ledger"
)

func unreadCmd() *cobra.Command {
	var (
		articleID   int64
		communityID int64
		markRead    bool
	)

	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Show or clear the unread ledger",
		Long: `Show the unread items recorded by running tabs.

Without --article and --community, lists every scope that has unread items.

Examples:
  # Scopes with unread items
  rtsync unread

  # Items in one scope
  rtsync unread --article 5 --community 9

  # Clear one scope
  rtsync unread --article 5 --community 9 --mark-read`,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := ledger.Open(cfg.State.LedgerPath)
			if err != nil {
				return err
			}

			scoped := cmd.Flags().Changed("article") || cmd.Flags().Changed("community")
			if !scoped {
				if markRead {
					return fmt.Errorf("--mark-read requires --article and --community")
				}
				return printScopes(l)
			}

			if markRead {
				if err := l.MarkRead(communityID, articleID); err != nil {
					return err
				}
				logger.Info("scope marked read", zap.Int64("article", articleID), zap.Int64("community", communityID))
				return nil
			}
			return printItems(l, communityID, articleID)
		},
	}

	cmd.Flags().Int64Var(&articleID, "article", 0, "article id")
	cmd.Flags().Int64Var(&communityID, "community", 0, "community id")
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "clear the scope")

	return cmd
}

func printScopes(l *ledger.Ledger) error {
	scopes, err := l.Scopes()
	if err != nil {
		return err
	}
	if len(scopes) == 0 {
		fmt.Println("No unread items")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ARTICLE\tCOMMUNITY\tUNREAD")
	for _, s := range scopes {
		fmt.Fprintf(tw, "%d\t%d\t%d\n", s.ArticleID, s.CommunityID, s.Unread)
	}
	return tw.Flush()
}

func printItems(l *ledger.Ledger, communityID, articleID int64) error {
	entries, err := l.Items(communityID, articleID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No unread items")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tDISCUSSION\tPARENT\tADDED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			e.Item.Key(), optionalID(e.Item.DiscussionID), optionalID(e.Item.ParentID),
			e.AddedAt.Format(time.DateTime))
	}
	return tw.Flush()
}

func optionalID(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprint(*id)
}
