package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/tradepost/internal/messaging"
	"github.com/zulandar/tradepost/internal/trade"
)

func newConversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "Conversation commands",
	}

	cmd.AddCommand(newConversationOpenCmd())
	cmd.AddCommand(newConversationListCmd())
	cmd.AddCommand(newConversationHistoryCmd())
	cmd.AddCommand(newConversationSendCmd())
	cmd.AddCommand(newConversationReadCmd())
	cmd.AddCommand(newConversationDeleteCmd())
	return cmd
}

// parseID reads a positive id argument.
func parseID(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(n), nil
}

func newConversationOpenCmd() *cobra.Command {
	var (
		configPath string
		as         uint
		sellerID   uint
		itemID     uint
	)

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open (or find) a conversation with a seller",
		Long:  "Opens the caller's thread with a seller, either about one item (--item) or a direct thread (--seller).",
		RunE: func(cmd *cobra.Command, args []string) error {
			var item *uint
			if cmd.Flags().Changed("item") {
				item = &itemID
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *trade.Service) error {
				conv, err := svc.EnsureConversation(ctx, as, sellerID, item)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Conversation %d with %s (item %s)\n",
					conv.ID, conv.NameOf(conv.Other(as)), formatItem(conv.ItemID))
				return nil
			})
		},
	}

	addCommonFlags(cmd, &configPath, &as)
	cmd.Flags().UintVar(&sellerID, "seller", 0, "seller user ID (defaults to the item's seller)")
	cmd.Flags().UintVar(&itemID, "item", 0, "item ID the conversation is about")
	return cmd
}

func newConversationListCmd() *cobra.Command {
	var (
		configPath string
		as         uint
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the caller's conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, configPath, func(ctx context.Context, svc *trade.Service) error {
				list, err := svc.ListConversations(ctx, as)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No conversations.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tWITH\tITEM\tUNREAD\tUPDATED")
				for _, s := range list {
					other := s.Other(as)
					fmt.Fprintf(w, "%d\t%s (%d)\t%s\t%d\t%s\n",
						s.ID, s.NameOf(other), other, formatItem(s.ItemID), s.UnreadCount, formatTime(s.UpdatedAt))
				}
				return w.Flush()
			})
		},
	}

	addCommonFlags(cmd, &configPath, &as)
	return cmd
}

func newConversationHistoryCmd() *cobra.Command {
	var (
		configPath string
		as         uint
		afterID    uint
	)

	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print a conversation",
		Long:  "Prints the full conversation and marks it read. With --after-id only newer messages are printed and nothing is marked read.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *trade.Service) error {
				var entries []messaging.Entry
				if afterID > 0 {
					entries, err = svc.HistorySince(ctx, as, id, messaging.Since{AfterID: afterID})
				} else {
					entries, err = svc.History(ctx, as, id)
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, e := range entries {
					fmt.Fprintln(out, formatEntry(e))
				}
				return nil
			})
		},
	}

	addCommonFlags(cmd, &configPath, &as)
	cmd.Flags().UintVar(&afterID, "after-id", 0, "only messages after this message ID")
	return cmd
}

func newConversationSendCmd() *cobra.Command {
	var (
		configPath string
		as         uint
		text       string
		image      string
	)

	cmd := &cobra.Command{
		Use:   "send <conversation-id>",
		Short: "Send a text or image message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *trade.Service) error {
				if image != "" {
					msg, err := svc.PostImage(ctx, as, id, image, text)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Sent image message %d\n", msg.ID)
					return nil
				}
				msg, err := svc.PostText(ctx, as, id, text)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sent message %d\n", msg.ID)
				return nil
			})
		},
	}

	addCommonFlags(cmd, &configPath, &as)
	cmd.Flags().StringVar(&text, "text", "", "message text (caption when --image is set)")
	cmd.Flags().StringVar(&image, "image", "", "image reference")
	return cmd
}

func newConversationReadCmd() *cobra.Command {
	var (
		configPath string
		as         uint
	)

	cmd := &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Mark a conversation read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *trade.Service) error {
				if err := svc.MarkRead(ctx, as, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Conversation %d marked read\n", id)
				return nil
			})
		},
	}

	addCommonFlags(cmd, &configPath, &as)
	return cmd
}

func newConversationDeleteCmd() *cobra.Command {
	var (
		configPath string
		as         uint
	)

	cmd := &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation for the caller",
		Long:  "Hides the conversation for the caller. Once both participants have deleted it, it is removed with its requests.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *trade.Service) error {
				purged, err := svc.DeleteConversation(ctx, as, id)
				if err != nil {
					return err
				}
				if purged {
					fmt.Fprintf(cmd.OutOrStdout(), "Conversation %d removed\n", id)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Conversation %d deleted for user %d\n", id, as)
				}
				return nil
			})
		},
	}

	addCommonFlags(cmd, &configPath, &as)
	return cmd
}
