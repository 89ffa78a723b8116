package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/tradepost/internal/models"
	"github.com/zulandar/tradepost/internal/trade"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Meetup scheduling commands",
	}

	cmd.AddCommand(newScheduleCreateCmd())
	cmd.AddCommand(newScheduleRespondCmd())
	cmd.AddCommand(newScheduleCancelCmd())
	cmd.AddCommand(newScheduleShowCmd())
	return cmd
}

func printSchedule(out io.Writer, r *models.ScheduledPurchaseRequest) {
	fmt.Fprintf(out, "Schedule request %d [%s]\n", r.ID, r.Status)
	fmt.Fprintf(out, "  Item:     %d %s\n", r.ItemID, r.SnapshotItemTitle)
	fmt.Fprintf(out, "  Seller:   %d  Buyer: %d\n", r.SellerID, r.BuyerID)
	fmt.Fprintf(out, "  Meet:     %s at %s\n", r.MeetLocation, formatTime(r.MeetingAt))
	fmt.Fprintf(out, "  Code:     %s\n", r.VerificationCode)
	if r.IsTrade {
		fmt.Fprintf(out, "  Trade:    %s\n", r.TradeItemDescription)
	} else {
		fmt.Fprintf(out, "  Price:    %s (listed %s)\n", formatPrice(r.NegotiatedPrice), formatAmount(r.SnapshotListingPrice))
	}
}

func newScheduleCreateCmd() *cobra.Command {
	var (
		configPath string
		as         uint
		in         trade.ScheduleInput
		at         string
		price      float64
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Propose a meetup to a buyer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC 3339: %w", err)
				}
				in.MeetingAt = t
			}
			if cmd.Flags().Changed("price") {
				in.NegotiatedPrice = &price
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *trade.Service) error {
				r, err := svc.CreateSchedule(ctx, as, in)
				if err != nil {
					return err
				}
				printSchedule(cmd.OutOrStdout(), r)
				return nil
			})
		},
	}

	addCommonFlags(cmd, &configPath, &as)
	cmd.Flags().UintVar(&in.ItemID, "item", 0, "item ID (required)")
	cmd.Flags().UintVar(&in.ConversationID, "conversation", 0, "conversation ID (required)")
	cmd.Flags().UintVar(&in.BuyerID, "buyer", 0, "buyer user ID (required)")
	cmd.Flags().StringVar(&in.MeetLocation, "location", "", "meeting place")
	cmd.Flags().StringVar(&at, "at", "", "meeting time, RFC 3339")
	cmd.Flags().StringVar(&in.Description, "description", "", "notes for the buyer")
	cmd.Flags().Float64Var(&price, "price", 0, "negotiated price")
	cmd.Flags().BoolVar(&in.IsTrade, "trade", false, "propose a trade instead of a sale")
	cmd.Flags().StringVar(&in.TradeItemDescription, "trade-item", "", "what the buyer offers in trade")
	cmd.MarkFlagRequired("item")
	cmd.MarkFlagRequired("conversation")
	cmd.MarkFlagRequired("buyer")
	return cmd
}

func newScheduleRespondCmd() *cobra.Command {
	var (
		configPath string
		as         uint
	)

	cmd := &cobra.Command{
		Use:   "respond <request-id> <accept|decline>",
		Short: "Accept or decline a meetup proposal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *trade.Service) error {
				r, err := svc.RespondSchedule(ctx, as, id, args[1])
				if err != nil {
					return err
				}
				printSchedule(cmd.OutOrStdout(), r)
				return nil
			})
		},
	}

	addCommonFlags(cmd, &configPath, &as)
	return cmd
}

func newScheduleCancelCmd() *cobra.Command {
	var (
		configPath string
		as         uint
	)

	cmd := &cobra.Command{
		Use:   "cancel <request-id>",
		Short: "Cancel a meetup proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *trade.Service) error {
				r, err := svc.CancelSchedule(ctx, as, id)
				if err != nil {
					return err
				}
				printSchedule(cmd.OutOrStdout(), r)
				return nil
			})
		},
	}

	addCommonFlags(cmd, &configPath, &as)
	return cmd
}

func newScheduleShowCmd() *cobra.Command {
	var (
		configPath string
		as         uint
	)

	cmd := &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show a meetup proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *trade.Service) error {
				r, err := svc.GetSchedule(ctx, as, id)
				if err != nil {
					return err
				}
				printSchedule(cmd.OutOrStdout(), r)
				return nil
			})
		},
	}

	addCommonFlags(cmd, &configPath, &as)
	return cmd
}

func newConfirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Purchase confirmation commands",
	}

	cmd.AddCommand(newConfirmCreateCmd())
	cmd.AddCommand(newConfirmRespondCmd())
	cmd.AddCommand(newConfirmStatusCmd())
	cmd.AddCommand(newConfirmCancelCmd())
	return cmd
}

func printConfirm(out io.Writer, c *models.ConfirmPurchaseRequest) {
	fmt.Fprintf(out, "Confirm request %d [%s]\n", c.ID, c.Status)
	fmt.Fprintf(out, "  Item:     %d %s\n", c.ItemID, c.Payload.ItemTitle)
	fmt.Fprintf(out, "  Request:  %d  Code: %s\n", c.ScheduledRequestID, c.Payload.VerificationCode)
	if c.IsSuccessful {
		fmt.Fprintf(out, "  Outcome:  successful, final price %s\n", formatPrice(c.FinalPrice))
	} else {
		fmt.Fprintf(out, "  Outcome:  unsuccessful (%s)\n", c.FailureReason)
	}
	fmt.Fprintf(out, "  Expires:  %s\n", formatTime(c.ExpiresAt))
}

func newConfirmCreateCmd() *cobra.Command {
	var (
		configPath string
		as         uint
		in         trade.ConfirmInput
		price      float64
		failed     bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Report the outcome of an accepted meetup",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.IsSuccessful = !failed
			if cmd.Flags().Changed("final-price") {
				in.FinalPrice = &price
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *trade.Service) error {
				c, err := svc.CreateConfirm(ctx, as, in)
				if err != nil {
					return err
				}
				printConfirm(cmd.OutOrStdout(), c)
				return nil
			})
		},
	}

	addCommonFlags(cmd, &configPath, &as)
	cmd.Flags().UintVar(&in.ScheduledRequestID, "request", 0, "accepted schedule request ID (required)")
	cmd.Flags().BoolVar(&failed, "failed", false, "report the meetup as unsuccessful")
	cmd.Flags().Float64Var(&price, "final-price", 0, "final sale price")
	cmd.Flags().StringVar(&in.SellerNotes, "notes", "", "seller notes")
	cmd.Flags().StringVar(&in.FailureReason, "reason", "", "failure reason (buyer_no_show, seller_no_show, item_not_as_described, price_disagreement, changed_mind, other)")
	cmd.Flags().StringVar(&in.FailureReasonNotes, "reason-notes", "", "failure details (required for reason other)")
	cmd.MarkFlagRequired("request")
	return cmd
}

func newConfirmRespondCmd() *cobra.Command {
	var (
		configPath string
		as         uint
	)

	cmd := &cobra.Command{
		Use:   "respond <confirm-id> <accept|decline>",
		Short: "Accept or decline a purchase report",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *trade.Service) error {
				c, err := svc.RespondConfirm(ctx, as, id, args[1])
				if err != nil {
					return err
				}
				printConfirm(cmd.OutOrStdout(), c)
				return nil
			})
		},
	}

	addCommonFlags(cmd, &configPath, &as)
	return cmd
}

func newConfirmStatusCmd() *cobra.Command {
	var (
		configPath string
		as         uint
	)

	cmd := &cobra.Command{
		Use:   "status <confirm-id>",
		Short: "Show a purchase report, finalizing it if its window has passed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *trade.Service) error {
				c, err := svc.ConfirmStatus(ctx, as, id)
				if err != nil {
					return err
				}
				printConfirm(cmd.OutOrStdout(), c)
				return nil
			})
		},
	}

	addCommonFlags(cmd, &configPath, &as)
	return cmd
}

func newConfirmCancelCmd() *cobra.Command {
	var (
		configPath string
		as         uint
	)

	cmd := &cobra.Command{
		Use:   "cancel <confirm-id>",
		Short: "Withdraw a pending purchase report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *trade.Service) error {
				c, err := svc.CancelConfirm(ctx, as, id)
				if err != nil {
					return err
				}
				printConfirm(cmd.OutOrStdout(), c)
				return nil
			})
		},
	}

	addCommonFlags(cmd, &configPath, &as)
	return cmd
}

func newItemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Listing commands",
	}
	cmd.AddCommand(newItemDeleteCmd())
	return cmd
}

func newItemDeleteCmd() *cobra.Command {
	var (
		configPath string
		as         uint
	)

	cmd := &cobra.Command{
		Use:   "delete <item-id>",
		Short: "Withdraw a listing",
		Long:  "Marks the item deleted, cancels its pending meetup proposals and freezes every conversation about it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *trade.Service) error {
				if err := svc.MarkItemDeleted(ctx, as, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Item %d deleted\n", id)
				return nil
			})
		},
	}

	addCommonFlags(cmd, &configPath, &as)
	return cmd
}
