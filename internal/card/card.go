// Package card defines the structured payloads a chat message may carry.
//
// Card is a closed set: only the types in this package implement it, and
// Decode is the single place that maps a stored "type" discriminator back to
// a concrete variant.
package card

import (
	"time"

	"github.com/zulandar/tradepost/internal/models"
)

// Type discriminates card variants on the wire.
type Type string

const (
	TypeListingIntro        Type = "listing_intro"
	TypeScheduleRequest     Type = "schedule_request"
	TypeScheduleAccepted    Type = "schedule_accepted"
	TypeScheduleDenied      Type = "schedule_denied"
	TypeScheduleCancelled   Type = "schedule_cancelled"
	TypeNextSteps           Type = "next_steps"
	TypeConfirmRequest      Type = "confirm_request"
	TypeConfirmAccepted     Type = "confirm_accepted"
	TypeConfirmDenied       Type = "confirm_denied"
	TypeConfirmAutoAccepted Type = "confirm_auto_accepted"
	TypeConfirmCancelled    Type = "confirm_cancelled"
	TypeReviewPrompt        Type = "review_prompt"
	TypeBuyerRatingPrompt   Type = "buyer_rating_prompt"
	TypeItemDeleted         Type = "item_deleted"
)

// Card is implemented by every variant.
type Card interface {
	Type() Type
	// Ref is the id of the row the card points at, 0 when none.
	Ref() uint
	sealed()
}

// ListingIntro opens an item thread on the buyer's first contact.
type ListingIntro struct {
	ItemID    uint    `json:"item_id"`
	ItemTitle string  `json:"item_title"`
	Price     float64 `json:"price"`
	Location  string  `json:"location,omitempty"`
}

// ScheduleRequest is the seller's meetup proposal. Status and RespondedAt are
// filled from the live request when history is read.
type ScheduleRequest struct {
	RequestID            uint      `json:"request_id"`
	ItemID               uint      `json:"item_id"`
	ItemTitle            string    `json:"item_title"`
	MeetingAt            time.Time `json:"meeting_at"`
	MeetLocation         string    `json:"meet_location"`
	ListingLocation      string    `json:"listing_location,omitempty"`
	VerificationCode     string    `json:"verification_code"`
	Description          string    `json:"description,omitempty"`
	NegotiatedPrice      *float64  `json:"negotiated_price,omitempty"`
	ListingPrice         float64   `json:"listing_price"`
	IsTrade              bool      `json:"is_trade"`
	TradeItemDescription string    `json:"trade_item_description,omitempty"`

	Status      models.ScheduleStatus `json:"status,omitempty"`
	RespondedAt *time.Time            `json:"responded_at,omitempty"`
}

// ScheduleAccepted announces the buyer accepted a request.
type ScheduleAccepted struct {
	RequestID        uint   `json:"request_id"`
	ItemID           uint   `json:"item_id"`
	VerificationCode string `json:"verification_code"`
}

// ScheduleDenied announces the buyer declined a request.
type ScheduleDenied struct {
	RequestID uint `json:"request_id"`
	ItemID    uint `json:"item_id"`
}

// ScheduleCancelled announces either party cancelled a request.
type ScheduleCancelled struct {
	RequestID   uint `json:"request_id"`
	ItemID      uint `json:"item_id"`
	CancelledBy uint `json:"cancelled_by"`
}

// NextSteps follows an acceptance with meetup instructions.
type NextSteps struct {
	RequestID        uint      `json:"request_id"`
	MeetingAt        time.Time `json:"meeting_at"`
	MeetLocation     string    `json:"meet_location"`
	VerificationCode string    `json:"verification_code"`
}

// ConfirmRequest is the seller's post-meetup report. Status and RespondedAt
// are filled from the live request when history is read.
type ConfirmRequest struct {
	ConfirmID          uint                  `json:"confirm_id"`
	ScheduledRequestID uint                  `json:"scheduled_request_id"`
	ItemID             uint                  `json:"item_id"`
	ItemTitle          string                `json:"item_title"`
	IsSuccessful       bool                  `json:"is_successful"`
	FinalPrice         *float64              `json:"final_price,omitempty"`
	NegotiatedPrice    *float64              `json:"negotiated_price,omitempty"`
	ListingPrice       float64               `json:"listing_price"`
	SellerNotes        string                `json:"seller_notes,omitempty"`
	FailureReason      string                `json:"failure_reason,omitempty"`
	FailureReasonNotes string                `json:"failure_reason_notes,omitempty"`
	Snapshot           models.ConfirmPayload `json:"snapshot"`
	ExpiresAt          time.Time             `json:"expires_at"`

	Status      models.ConfirmStatus `json:"status,omitempty"`
	RespondedAt *time.Time           `json:"responded_at,omitempty"`
}

// ConfirmOutcome is the shape shared by the three terminal confirm cards.
type ConfirmOutcome struct {
	ConfirmRequest
	PurchaseStatus models.ConfirmStatus `json:"confirm_purchase_status"`
}

// ConfirmAccepted announces the buyer accepted the reported outcome.
type ConfirmAccepted struct{ ConfirmOutcome }

// ConfirmDenied announces the buyer declined the reported outcome.
type ConfirmDenied struct{ ConfirmOutcome }

// ConfirmAutoAccepted announces the outcome was accepted on expiry.
type ConfirmAutoAccepted struct{ ConfirmOutcome }

// ConfirmCancelled announces the seller withdrew a pending report.
type ConfirmCancelled struct {
	ConfirmID          uint `json:"confirm_id"`
	ScheduledRequestID uint `json:"scheduled_request_id"`
	ItemID             uint `json:"item_id"`
}

// ReviewPrompt invites the buyer to review the seller.
type ReviewPrompt struct {
	ConfirmID uint   `json:"confirm_id"`
	ItemID    uint   `json:"item_id"`
	SellerID  uint   `json:"seller_id"`
	ItemTitle string `json:"item_title"`
}

// BuyerRatingPrompt invites the seller to rate the buyer.
type BuyerRatingPrompt struct {
	ConfirmID uint   `json:"confirm_id"`
	ItemID    uint   `json:"item_id"`
	BuyerID   uint   `json:"buyer_id"`
	ItemTitle string `json:"item_title"`
}

// ItemDeleted marks a thread whose item was removed.
type ItemDeleted struct {
	ItemID    uint   `json:"item_id"`
	ItemTitle string `json:"item_title"`
}

func (*ListingIntro) Type() Type        { return TypeListingIntro }
func (*ScheduleRequest) Type() Type     { return TypeScheduleRequest }
func (*ScheduleAccepted) Type() Type    { return TypeScheduleAccepted }
func (*ScheduleDenied) Type() Type      { return TypeScheduleDenied }
func (*ScheduleCancelled) Type() Type   { return TypeScheduleCancelled }
func (*NextSteps) Type() Type           { return TypeNextSteps }
func (*ConfirmRequest) Type() Type      { return TypeConfirmRequest }
func (*ConfirmAccepted) Type() Type     { return TypeConfirmAccepted }
func (*ConfirmDenied) Type() Type       { return TypeConfirmDenied }
func (*ConfirmAutoAccepted) Type() Type { return TypeConfirmAutoAccepted }
func (*ConfirmCancelled) Type() Type    { return TypeConfirmCancelled }
func (*ReviewPrompt) Type() Type        { return TypeReviewPrompt }
func (*BuyerRatingPrompt) Type() Type   { return TypeBuyerRatingPrompt }
func (*ItemDeleted) Type() Type         { return TypeItemDeleted }

func (c *ListingIntro) Ref() uint        { return c.ItemID }
func (c *ScheduleRequest) Ref() uint     { return c.RequestID }
func (c *ScheduleAccepted) Ref() uint    { return c.RequestID }
func (c *ScheduleDenied) Ref() uint      { return c.RequestID }
func (c *ScheduleCancelled) Ref() uint   { return c.RequestID }
func (c *NextSteps) Ref() uint           { return c.RequestID }
func (c *ConfirmRequest) Ref() uint      { return c.ConfirmID }
func (c *ConfirmCancelled) Ref() uint    { return c.ConfirmID }
func (c *ReviewPrompt) Ref() uint        { return c.ConfirmID }
func (c *BuyerRatingPrompt) Ref() uint   { return c.ConfirmID }
func (c *ItemDeleted) Ref() uint         { return c.ItemID }

func (*ListingIntro) sealed()      {}
func (*ScheduleRequest) sealed()   {}
func (*ScheduleAccepted) sealed()  {}
func (*ScheduleDenied) sealed()    {}
func (*ScheduleCancelled) sealed() {}
func (*NextSteps) sealed()         {}
func (*ConfirmRequest) sealed()    {}
func (*ConfirmCancelled) sealed()  {}
func (*ReviewPrompt) sealed()      {}
func (*BuyerRatingPrompt) sealed() {}
func (*ItemDeleted) sealed()       {}

// NewConfirmOutcome builds the terminal card matching status from the
// request card it supersedes.
func NewConfirmOutcome(req ConfirmRequest, status models.ConfirmStatus, at time.Time) Card {
	req.Status = status
	req.RespondedAt = &at
	out := ConfirmOutcome{ConfirmRequest: req, PurchaseStatus: status}
	switch status {
	case models.ConfirmBuyerAccepted:
		return &ConfirmAccepted{out}
	case models.ConfirmAutoAccepted:
		return &ConfirmAutoAccepted{out}
	default:
		return &ConfirmDenied{out}
	}
}
