package trade

import (
	"context"
	"time"

	"github.com/zulandar/tradepost/internal/confirm"
	"github.com/zulandar/tradepost/internal/models"
	"github.com/zulandar/tradepost/internal/notify"
	"github.com/zulandar/tradepost/internal/schedule"
)

// ScheduleInput is a seller's meetup proposal as received from a client.
type ScheduleInput struct {
	ItemID               uint      `json:"item_id"`
	ConversationID       uint      `json:"conversation_id"`
	BuyerID              uint      `json:"buyer_id"`
	MeetLocation         string    `json:"meet_location"`
	MeetingAt            time.Time `json:"meeting_at"`
	Description          string    `json:"description"`
	NegotiatedPrice      *float64  `json:"negotiated_price"`
	IsTrade              bool      `json:"is_trade"`
	TradeItemDescription string    `json:"trade_item_description"`
}

// CreateSchedule proposes a meetup from the caller, who must sell the item.
func (s *Service) CreateSchedule(ctx context.Context, callerID uint, in ScheduleInput) (*models.ScheduledPurchaseRequest, error) {
	opts := schedule.CreateOpts{
		SellerID:             callerID,
		BuyerID:              in.BuyerID,
		ItemID:               in.ItemID,
		ConversationID:       in.ConversationID,
		MeetLocation:         in.MeetLocation,
		MeetingAt:            in.MeetingAt,
		Description:          in.Description,
		NegotiatedPrice:      in.NegotiatedPrice,
		IsTrade:              in.IsTrade,
		TradeItemDescription: in.TradeItemDescription,
		MaxMonthsAhead:       s.Trade.MaxMeetingMonths,
		Now:                  s.now(),
	}
	if err := opts.Validate(); err != nil {
		observe("schedule", "create", err)
		return nil, err
	}

	var req *models.ScheduledPurchaseRequest
	err := s.withPair(ctx, callerID, in.BuyerID, func() error {
		var err error
		req, err = schedule.Create(s.DB, opts)
		return err
	})
	observe("schedule", "create", err)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notify.Event{Kind: notify.ScheduleCreated, ConversationID: req.ConversationID, RefID: req.ID, ActorID: callerID})
	return req, nil
}

// RespondSchedule accepts or declines a proposal addressed to the caller.
func (s *Service) RespondSchedule(ctx context.Context, callerID, requestID uint, action string) (*models.ScheduledPurchaseRequest, error) {
	req, err := schedule.Get(s.DB, requestID, callerID)
	if err != nil {
		observe("schedule", "respond", err)
		return nil, err
	}
	err = s.withPair(ctx, req.SellerID, req.BuyerID, func() error {
		var err error
		req, err = schedule.Respond(s.DB, schedule.RespondOpts{
			RequestID: requestID,
			BuyerID:   callerID,
			Action:    schedule.Action(action),
			Now:       s.now(),
		})
		return err
	})
	observe("schedule", "respond", err)
	if err != nil {
		return nil, err
	}
	kind := notify.ScheduleDeclined
	if req.Status == models.ScheduleAccepted {
		kind = notify.ScheduleAccepted
	}
	s.publish(ctx, notify.Event{Kind: kind, ConversationID: req.ConversationID, RefID: req.ID, ActorID: callerID})
	return req, nil
}

// CancelSchedule withdraws a proposal on behalf of either party.
func (s *Service) CancelSchedule(ctx context.Context, callerID, requestID uint) (*models.ScheduledPurchaseRequest, error) {
	req, err := schedule.Get(s.DB, requestID, callerID)
	if err != nil {
		observe("schedule", "cancel", err)
		return nil, err
	}
	err = s.withPair(ctx, req.SellerID, req.BuyerID, func() error {
		now := s.now()
		if _, err := confirm.FinalizeExpiredForScheduled(s.DB, requestID, now); err != nil {
			return err
		}
		var err error
		req, err = schedule.Cancel(s.DB, requestID, callerID, now)
		return err
	})
	observe("schedule", "cancel", err)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notify.Event{Kind: notify.ScheduleCancelled, ConversationID: req.ConversationID, RefID: req.ID, ActorID: callerID})
	return req, nil
}

// GetSchedule returns a proposal to either party.
func (s *Service) GetSchedule(_ context.Context, callerID, requestID uint) (*models.ScheduledPurchaseRequest, error) {
	return schedule.Get(s.DB, requestID, callerID)
}

// ConfirmInput is a seller's post-meetup report as received from a client.
type ConfirmInput struct {
	ScheduledRequestID uint     `json:"scheduled_request_id"`
	ConversationID     uint     `json:"conversation_id"`
	ItemID             uint     `json:"item_id"`
	IsSuccessful       bool     `json:"is_successful"`
	FinalPrice         *float64 `json:"final_price"`
	SellerNotes        string   `json:"seller_notes"`
	FailureReason      string   `json:"failure_reason"`
	FailureReasonNotes string   `json:"failure_reason_notes"`
}

// CreateConfirm reports the outcome of an accepted meetup.
func (s *Service) CreateConfirm(ctx context.Context, callerID uint, in ConfirmInput) (*models.ConfirmPurchaseRequest, error) {
	opts := confirm.CreateOpts{
		SellerID:           callerID,
		ScheduledRequestID: in.ScheduledRequestID,
		ConversationID:     in.ConversationID,
		ItemID:             in.ItemID,
		IsSuccessful:       in.IsSuccessful,
		FinalPrice:         in.FinalPrice,
		SellerNotes:        in.SellerNotes,
		FailureReason:      confirm.FailureReason(in.FailureReason),
		FailureReasonNotes: in.FailureReasonNotes,
		Window:             s.Trade.ConfirmWindow,
		Now:                s.now(),
	}
	if err := opts.Validate(); err != nil {
		observe("confirm", "create", err)
		return nil, err
	}
	sched, err := schedule.Get(s.DB, in.ScheduledRequestID, callerID)
	if err != nil {
		observe("confirm", "create", err)
		return nil, err
	}

	var c *models.ConfirmPurchaseRequest
	err = s.withPair(ctx, sched.SellerID, sched.BuyerID, func() error {
		var err error
		c, err = confirm.Create(s.DB, opts)
		return err
	})
	observe("confirm", "create", err)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notify.Event{Kind: notify.ConfirmCreated, ConversationID: c.ConversationID, RefID: c.ID, ActorID: callerID})
	return c, nil
}

// RespondConfirm accepts or declines a report addressed to the caller.
func (s *Service) RespondConfirm(ctx context.Context, callerID, confirmID uint, action string) (*models.ConfirmPurchaseRequest, error) {
	c, err := confirm.Load(s.DB, confirmID)
	if err != nil {
		observe("confirm", "respond", err)
		return nil, err
	}
	err = s.withPair(ctx, c.SellerID, c.BuyerID, func() error {
		var err error
		c, err = confirm.Respond(s.DB, confirm.RespondOpts{
			ConfirmID: confirmID,
			BuyerID:   callerID,
			Action:    confirm.Action(action),
			Now:       s.now(),
		})
		return err
	})
	observe("confirm", "respond", err)
	if err != nil {
		return nil, err
	}
	kind := notify.ConfirmDeclined
	if c.Status == models.ConfirmBuyerAccepted {
		kind = notify.ConfirmAccepted
	}
	s.publish(ctx, notify.Event{Kind: kind, ConversationID: c.ConversationID, RefID: c.ID, ActorID: callerID})
	return c, nil
}

// ConfirmStatus returns a report to either party, finalizing it when its
// window has passed.
func (s *Service) ConfirmStatus(ctx context.Context, callerID, confirmID uint) (*models.ConfirmPurchaseRequest, error) {
	before, err := confirm.Load(s.DB, confirmID)
	if err != nil {
		return nil, err
	}
	c, err := confirm.Status(s.DB, confirmID, callerID, s.now())
	if err != nil {
		return nil, err
	}
	if before.Status == models.ConfirmPending && c.Status == models.ConfirmAutoAccepted {
		s.publish(ctx, notify.Event{Kind: notify.ConfirmAutoAccepted, ConversationID: c.ConversationID, RefID: c.ID})
	}
	return c, nil
}

// CancelConfirm withdraws the caller's pending report.
func (s *Service) CancelConfirm(ctx context.Context, callerID, confirmID uint) (*models.ConfirmPurchaseRequest, error) {
	c, err := confirm.Load(s.DB, confirmID)
	if err != nil {
		observe("confirm", "cancel", err)
		return nil, err
	}
	err = s.withPair(ctx, c.SellerID, c.BuyerID, func() error {
		var err error
		c, err = confirm.Cancel(s.DB, confirmID, callerID, s.now())
		return err
	})
	observe("confirm", "cancel", err)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notify.Event{Kind: notify.ConfirmCancelled, ConversationID: c.ConversationID, RefID: c.ID, ActorID: callerID})
	return c, nil
}
