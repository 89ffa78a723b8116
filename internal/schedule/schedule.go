// Package schedule implements the scheduled-purchase state machine:
//
//	pending -> accepted | declined
//	pending | accepted -> cancelled
//
// Every transition runs in one transaction together with its item-status
// change and its chat cards.
package schedule

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

// Limits on proposal input.
const (
	DefaultMaxMonthsAhead = 3
	MaxDescriptionLength  = 1000
	MaxLocationLength     = 255
)

// Action is a buyer's response to a pending request.
type Action string

const (
	Accept  Action = "accept"
	Decline Action = "decline"
)

// CreateOpts is a seller's meetup proposal.
type CreateOpts struct {
	SellerID             uint
	BuyerID              uint
	ItemID               uint
	ConversationID       uint
	MeetLocation         string
	MeetingAt            time.Time
	Description          string
	NegotiatedPrice      *float64
	IsTrade              bool
	TradeItemDescription string
	MaxMonthsAhead       int
	Now                  time.Time
}

// Validate checks everything that does not need the store. It normalizes
// whitespace in place.
func (o *CreateOpts) Validate() error {
	if o.SellerID == 0 || o.BuyerID == 0 {
		return apperr.Validation("participant_required", "seller and buyer are required")
	}
	if o.SellerID == o.BuyerID {
		return apperr.Validation("self_contact", "cannot schedule a purchase with yourself")
	}
	o.MeetLocation = strings.TrimSpace(o.MeetLocation)
	if o.MeetLocation == "" {
		return apperr.Validation("location_required", "meet location is required")
	}
	if utf8.RuneCountInString(o.MeetLocation) > MaxLocationLength {
		return apperr.Validation("location_too_long", "meet location exceeds %d characters", MaxLocationLength)
	}
	if utf8.RuneCountInString(o.Description) > MaxDescriptionLength {
		return apperr.Validation("description_too_long", "description exceeds %d characters", MaxDescriptionLength)
	}

	months := o.MaxMonthsAhead
	if months <= 0 {
		months = DefaultMaxMonthsAhead
	}
	if o.MeetingAt.IsZero() {
		return apperr.Validation("meeting_time_required", "meeting time is required")
	}
	if o.MeetingAt.Before(o.Now) {
		return apperr.Validation("meeting_in_past", "meeting time must not be in the past")
	}
	if o.MeetingAt.After(o.Now.AddDate(0, months, 0)) {
		return apperr.Validation("meeting_too_far", "meeting time must be within %d months", months)
	}

	if o.NegotiatedPrice != nil && o.IsTrade {
		return apperr.Validation("price_trade_exclusive", "a request is either a negotiated price or a trade, not both")
	}
	if o.NegotiatedPrice != nil && *o.NegotiatedPrice < 0 {
		return apperr.Validation("invalid_price", "negotiated price must not be negative")
	}
	o.TradeItemDescription = strings.TrimSpace(o.TradeItemDescription)
	if o.IsTrade && o.TradeItemDescription == "" {
		return apperr.Validation("trade_description_required", "a trade needs a description of the offered item")
	}
	if !o.IsTrade {
		o.TradeItemDescription = ""
	}
	return nil
}

// Create records a pending proposal and posts its request card to the buyer.
func Create(db *gorm.DB, opts CreateOpts) (*models.ScheduledPurchaseRequest, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var req *models.ScheduledPurchaseRequest
	err := db.Transaction(func(tx *gorm.DB) error {
		item, err := inventory.Load(tx, opts.ItemID)
		if err != nil {
			return err
		}
		switch {
		case item.SellerID != opts.SellerID:
			return apperr.Authorization("not_item_seller", "user %d does not sell item %d", opts.SellerID, item.ID)
		case item.Deleted:
			return apperr.Conflict("item_deleted", "item %d was deleted", item.ID)
		case item.Status == models.ItemSold:
			return apperr.Conflict("item_sold", "item %d is already sold", item.ID)
		case opts.NegotiatedPrice != nil && !item.PriceNegotiable:
			return apperr.Validation("price_not_negotiable", "item %d does not allow price negotiation", item.ID)
		case opts.IsTrade && !item.AcceptsTrades:
			return apperr.Validation("trades_not_accepted", "item %d does not accept trades", item.ID)
		}

		if err := checkConversation(tx, opts); err != nil {
			return err
		}

		var pending int64
		if err := tx.Model(&models.ScheduledPurchaseRequest{}).
			Where("item_id = ? AND conversation_id = ? AND status = ?", item.ID, opts.ConversationID, models.SchedulePending).
			Count(&pending).Error; err != nil {
			return apperr.Internal(err, "schedule: count pending for item %d", item.ID)
		}
		if pending > 0 {
			return apperr.Conflict("request_pending", "a proposal for this item is already awaiting a response")
		}

		code, err := uniqueCode(tx)
		if err != nil {
			return err
		}

		req = &models.ScheduledPurchaseRequest{
			ItemID:                  item.ID,
			SellerID:                opts.SellerID,
			BuyerID:                 opts.BuyerID,
			ConversationID:          opts.ConversationID,
			MeetLocation:            opts.MeetLocation,
			MeetingAt:               opts.MeetingAt.UTC(),
			Description:             opts.Description,
			NegotiatedPrice:         opts.NegotiatedPrice,
			IsTrade:                 opts.IsTrade,
			TradeItemDescription:    opts.TradeItemDescription,
			VerificationCode:        code,
			SnapshotItemTitle:       item.Title,
			SnapshotListingPrice:    item.Price,
			SnapshotPriceNegotiable: item.PriceNegotiable,
			SnapshotAcceptsTrades:   item.AcceptsTrades,
			SnapshotLocation:        item.Location,
			Status:                  models.SchedulePending,
			CreatedAt:               opts.Now,
			UpdatedAt:               opts.Now,
		}
		if err := tx.Create(req).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Busy("code_collision", "verification code collided, retry")
			}
			return apperr.Internal(err, "schedule: insert request for item %d", item.ID)
		}

		_, err = messaging.Post(tx, messaging.PostOpts{
			ConversationID: opts.ConversationID,
			SenderID:       opts.SellerID,
			Content:        fmt.Sprintf("Meetup proposed for %q at %s.", item.Title, req.MeetLocation),
			Card:           requestCard(req),
			Now:            opts.Now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func checkConversation(tx *gorm.DB, opts CreateOpts) error {
	var conv models.Conversation
	if err := tx.First(&conv, opts.ConversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("conversation_not_found", "conversation %d not found", opts.ConversationID)
		}
		return apperr.Internal(err, "schedule: load conversation %d", opts.ConversationID)
	}
	if !conv.HasParticipant(opts.SellerID) || !conv.HasParticipant(opts.BuyerID) {
		return apperr.Authorization("not_participant", "conversation %d is not between seller and buyer", conv.ID)
	}
	if conv.ItemDeleted {
		return apperr.Conflict("conversation_frozen", "the item for this conversation was deleted")
	}
	if conv.ItemID != nil && *conv.ItemID != opts.ItemID {
		return apperr.Validation("item_mismatch", "conversation %d is about a different item", conv.ID)
	}
	return nil
}

func requestCard(req *models.ScheduledPurchaseRequest) *card.ScheduleRequest {
	return &card.ScheduleRequest{
		RequestID:            req.ID,
		ItemID:               req.ItemID,
		ItemTitle:            req.SnapshotItemTitle,
		MeetingAt:            req.MeetingAt,
		MeetLocation:         req.MeetLocation,
		ListingLocation:      req.SnapshotLocation,
		VerificationCode:     req.VerificationCode,
		Description:          req.Description,
		NegotiatedPrice:      req.NegotiatedPrice,
		ListingPrice:         req.SnapshotListingPrice,
		IsTrade:              req.IsTrade,
		TradeItemDescription: req.TradeItemDescription,
	}
}

// Load returns the request or NotFound.
func Load(db *gorm.DB, id uint) (*models.ScheduledPurchaseRequest, error) {
	var req models.ScheduledPurchaseRequest
	if err := db.First(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("request_not_found", "scheduled request %d not found", id)
		}
		return nil, apperr.Internal(err, "schedule: load request %d", id)
	}
	return &req, nil
}

// Get returns a request to either of its parties.
func Get(db *gorm.DB, id, callerID uint) (*models.ScheduledPurchaseRequest, error) {
	req, err := Load(db, id)
	if err != nil {
		return nil, err
	}
	if callerID == 0 || (callerID != req.SellerID && callerID != req.BuyerID) {
		return nil, apperr.Authorization("not_participant", "user %d is not a party to request %d", callerID, id)
	}
	return req, nil
}
