// Package confirm implements the confirm-purchase state machine:
//
//	pending -> buyer_accepted | buyer_declined | auto_accepted | seller_cancelled
//
// There is no timer. A pending request past its expiry is finalized as
// auto_accepted by whichever read reaches it first.
package confirm

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/card"
	"github.com/zulandar/tradepost/internal/inventory"
	"github.com/zulandar/tradepost/internal/messaging"
	"github.com/zulandar/tradepost/internal/models"
	"gorm.io/gorm"
)

// DefaultWindow is how long the buyer has to answer.
const DefaultWindow = 24 * time.Hour

// MaxNotesLength bounds seller and failure notes.
const MaxNotesLength = 1000

// FailureReason explains an unsuccessful meetup.
type FailureReason string

const (
	ReasonBuyerNoShow       FailureReason = "buyer_no_show"
	ReasonSellerNoShow      FailureReason = "seller_no_show"
	ReasonNotAsDescribed    FailureReason = "item_not_as_described"
	ReasonPriceDisagreement FailureReason = "price_disagreement"
	ReasonChangedMind       FailureReason = "changed_mind"
	ReasonOther             FailureReason = "other"
)

// Valid reports whether r is a known reason.
func (r FailureReason) Valid() bool {
	switch r {
	case ReasonBuyerNoShow, ReasonSellerNoShow, ReasonNotAsDescribed,
		ReasonPriceDisagreement, ReasonChangedMind, ReasonOther:
		return true
	}
	return false
}

// Action is a buyer's response to a pending confirm request.
type Action string

const (
	Accept  Action = "accept"
	Decline Action = "decline"
)

// CreateOpts is a seller's report on an accepted meetup. ItemID and
// ConversationID are optional; when set they must match the scheduled
// request.
type CreateOpts struct {
	SellerID           uint
	ScheduledRequestID uint
	ConversationID     uint
	ItemID             uint
	IsSuccessful       bool
	FinalPrice         *float64
	SellerNotes        string
	FailureReason      FailureReason
	FailureReasonNotes string
	Window             time.Duration
	Now                time.Time
}

// Validate checks the report without touching the store.
func (o *CreateOpts) Validate() error {
	if o.SellerID == 0 {
		return apperr.Validation("participant_required", "seller is required")
	}
	if utf8.RuneCountInString(o.SellerNotes) > MaxNotesLength {
		return apperr.Validation("notes_too_long", "seller notes exceed %d characters", MaxNotesLength)
	}
	if o.IsSuccessful {
		if o.FinalPrice != nil && *o.FinalPrice < 0 {
			return apperr.Validation("invalid_price", "final price must not be negative")
		}
		o.FailureReason = ""
		o.FailureReasonNotes = ""
		return nil
	}

	if o.FinalPrice != nil {
		return apperr.Validation("final_price_unsuccessful", "a final price is only allowed for a successful sale")
	}
	if o.FailureReason == "" {
		return apperr.Validation("failure_reason_required", "an unsuccessful meetup needs a reason")
	}
	if !o.FailureReason.Valid() {
		return apperr.Validation("invalid_failure_reason", "unknown failure reason %q", o.FailureReason)
	}
	o.FailureReasonNotes = strings.TrimSpace(o.FailureReasonNotes)
	if o.FailureReason == ReasonOther && o.FailureReasonNotes == "" {
		return apperr.Validation("failure_notes_required", "reason \"other\" needs notes")
	}
	if utf8.RuneCountInString(o.FailureReasonNotes) > MaxNotesLength {
		return apperr.Validation("notes_too_long", "failure notes exceed %d characters", MaxNotesLength)
	}
	return nil
}

// Create records a pending report for an accepted scheduled request and
// posts its card to the buyer. A stale pending report for the same request
// is finalized first.
func Create(db *gorm.DB, opts CreateOpts) (*models.ConfirmPurchaseRequest, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if _, err := FinalizeExpiredForScheduled(db, opts.ScheduledRequestID, opts.Now); err != nil {
		return nil, err
	}

	var c *models.ConfirmPurchaseRequest
	err := db.Transaction(func(tx *gorm.DB) error {
		var sched models.ScheduledPurchaseRequest
		if err := tx.First(&sched, opts.ScheduledRequestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("request_not_found", "scheduled request %d not found", opts.ScheduledRequestID)
			}
			return apperr.Internal(err, "confirm: load scheduled request %d", opts.ScheduledRequestID)
		}
		if sched.SellerID != opts.SellerID {
			return apperr.Authorization("not_request_seller", "only the seller may confirm request %d", sched.ID)
		}
		if (opts.ItemID != 0 && opts.ItemID != sched.ItemID) ||
			(opts.ConversationID != 0 && opts.ConversationID != sched.ConversationID) {
			return apperr.Validation("request_mismatch", "item or conversation does not match request %d", sched.ID)
		}
		if sched.Status != models.ScheduleAccepted {
			return apperr.Conflict("request_not_accepted", "request %d is %s", sched.ID, sched.Status)
		}

		if err := checkOpen(tx, sched.ID); err != nil {
			return err
		}

		item, err := inventory.Load(tx, sched.ItemID)
		if err != nil {
			return err
		}
		title := sched.SnapshotItemTitle
		if title == "" {
			title = item.Title
		}

		c = &models.ConfirmPurchaseRequest{
			ScheduledRequestID: sched.ID,
			ItemID:             sched.ItemID,
			ConversationID:     sched.ConversationID,
			SellerID:           sched.SellerID,
			BuyerID:            sched.BuyerID,
			IsSuccessful:       opts.IsSuccessful,
			FinalPrice:         opts.FinalPrice,
			SellerNotes:        opts.SellerNotes,
			FailureReason:      string(opts.FailureReason),
			FailureReasonNotes: opts.FailureReasonNotes,
			Payload: models.ConfirmPayload{
				ItemTitle:            title,
				MeetLocation:         sched.MeetLocation,
				MeetingAt:            sched.MeetingAt,
				VerificationCode:     sched.VerificationCode,
				ListingPrice:         item.Price,
				NegotiatedPrice:      sched.NegotiatedPrice,
				IsTrade:              sched.IsTrade,
				TradeItemDescription: sched.TradeItemDescription,
			},
			Status:    models.ConfirmPending,
			ExpiresAt: opts.Now.Add(opts.Window),
			CreatedAt: opts.Now,
			UpdatedAt: opts.Now,
		}
		if err := tx.Create(c).Error; err != nil {
			return apperr.Internal(err, "confirm: insert for request %d", sched.ID)
		}

		content := fmt.Sprintf("Please confirm the purchase of %q.", title)
		if !c.IsSuccessful {
			content = fmt.Sprintf("The meetup for %q was reported as unsuccessful.", title)
		}
		_, err = messaging.Post(tx, messaging.PostOpts{
			ConversationID: c.ConversationID,
			SenderID:       c.SellerID,
			Content:        content,
			Card:           requestCard(c),
			Now:            opts.Now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// checkOpen rejects a new report while one is pending or after a purchase
// was finalized. Declined and cancelled reports may be followed by a new one.
func checkOpen(tx *gorm.DB, scheduledID uint) error {
	var existing []models.ConfirmPurchaseRequest
	if err := tx.Select("id", "status").
		Where("scheduled_request_id = ?", scheduledID).Find(&existing).Error; err != nil {
		return apperr.Internal(err, "confirm: existing for request %d", scheduledID)
	}
	for _, e := range existing {
		switch {
		case e.Status == models.ConfirmPending:
			return apperr.Conflict("confirm_pending", "confirm request %d is still awaiting the buyer", e.ID)
		case e.Status.Accepted():
			return apperr.Conflict("purchase_finalized", "request %d already has a final outcome", scheduledID)
		}
	}
	return nil
}

func requestCard(c *models.ConfirmPurchaseRequest) *card.ConfirmRequest {
	return &card.ConfirmRequest{
		ConfirmID:          c.ID,
		ScheduledRequestID: c.ScheduledRequestID,
		ItemID:             c.ItemID,
		ItemTitle:          c.Payload.ItemTitle,
		IsSuccessful:       c.IsSuccessful,
		FinalPrice:         c.FinalPrice,
		NegotiatedPrice:    c.Payload.NegotiatedPrice,
		ListingPrice:       c.Payload.ListingPrice,
		SellerNotes:        c.SellerNotes,
		FailureReason:      c.FailureReason,
		FailureReasonNotes: c.FailureReasonNotes,
		Snapshot:           c.Payload,
		ExpiresAt:          c.ExpiresAt,
	}
}

// Load returns the confirm request or NotFound.
func Load(db *gorm.DB, id uint) (*models.ConfirmPurchaseRequest, error) {
	var c models.ConfirmPurchaseRequest
	if err := db.First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("confirm_not_found", "confirm request %d not found", id)
		}
		return nil, apperr.Internal(err, "confirm: load %d", id)
	}
	return &c, nil
}
