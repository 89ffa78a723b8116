package models

import "time"

// ScheduleStatus is the state of a scheduled purchase request.
type ScheduleStatus string

const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleAccepted  ScheduleStatus = "accepted"
	ScheduleDeclined  ScheduleStatus = "declined"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// ScheduledPurchaseRequest is a seller's meetup proposal to one buyer. The
// Snapshot fields copy the item settings at proposal time.
type ScheduledPurchaseRequest struct {
	ID                      uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	ItemID                  uint           `gorm:"not null;index" json:"item_id"`
	SellerID                uint           `gorm:"not null;index" json:"seller_id"`
	BuyerID                 uint           `gorm:"not null;index" json:"buyer_id"`
	ConversationID          uint           `gorm:"not null;index" json:"conversation_id"`
	MeetLocation            string         `gorm:"size:255;not null" json:"meet_location"`
	MeetingAt               time.Time      `gorm:"not null" json:"meeting_at"`
	Description             string         `gorm:"type:text" json:"description"`
	NegotiatedPrice         *float64       `json:"negotiated_price"`
	IsTrade                 bool           `gorm:"default:false" json:"is_trade"`
	TradeItemDescription    string         `gorm:"type:text" json:"trade_item_description"`
	VerificationCode        string         `gorm:"size:4;not null;uniqueIndex" json:"verification_code"`
	SnapshotItemTitle       string         `gorm:"size:255" json:"snapshot_item_title"`
	SnapshotListingPrice    float64        `json:"snapshot_listing_price"`
	SnapshotPriceNegotiable bool           `json:"snapshot_price_negotiable"`
	SnapshotAcceptsTrades   bool           `json:"snapshot_accepts_trades"`
	SnapshotLocation        string         `gorm:"size:255" json:"snapshot_location"`
	Status                  ScheduleStatus `gorm:"size:16;default:pending;index" json:"status"`
	BuyerRespondedAt        *time.Time     `json:"buyer_responded_at"`
	CanceledBy              *uint          `json:"canceled_by"`
	CanceledAt              *time.Time     `json:"canceled_at"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

// ConfirmStatus is the state of a confirm purchase request.
type ConfirmStatus string

const (
	ConfirmPending         ConfirmStatus = "pending"
	ConfirmBuyerAccepted   ConfirmStatus = "buyer_accepted"
	ConfirmBuyerDeclined   ConfirmStatus = "buyer_declined"
	ConfirmAutoAccepted    ConfirmStatus = "auto_accepted"
	ConfirmSellerCancelled ConfirmStatus = "seller_cancelled"
)

// Accepted reports whether s is a terminal accepted outcome.
func (s ConfirmStatus) Accepted() bool {
	return s == ConfirmBuyerAccepted || s == ConfirmAutoAccepted
}

// AcceptedConfirmStatuses lists the outcomes that finalize a scheduled request.
var AcceptedConfirmStatuses = []ConfirmStatus{ConfirmBuyerAccepted, ConfirmAutoAccepted}

// ConfirmPayload snapshots the meetup details a confirm request reports on.
type ConfirmPayload struct {
	ItemTitle            string    `json:"item_title"`
	MeetLocation         string    `json:"meet_location"`
	MeetingAt            time.Time `json:"meeting_at"`
	VerificationCode     string    `json:"verification_code"`
	ListingPrice         float64   `json:"listing_price"`
	NegotiatedPrice      *float64  `json:"negotiated_price,omitempty"`
	IsTrade              bool      `json:"is_trade"`
	TradeItemDescription string    `json:"trade_item_description,omitempty"`
}

// ConfirmPurchaseRequest is the seller's post-meetup report on one accepted
// scheduled request.
type ConfirmPurchaseRequest struct {
	ID                 uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	ScheduledRequestID uint           `gorm:"not null;index" json:"scheduled_request_id"`
	ItemID             uint           `gorm:"not null;index" json:"item_id"`
	ConversationID     uint           `gorm:"not null;index" json:"conversation_id"`
	SellerID           uint           `gorm:"not null" json:"seller_id"`
	BuyerID            uint           `gorm:"not null" json:"buyer_id"`
	IsSuccessful       bool           `gorm:"not null" json:"is_successful"`
	FinalPrice         *float64       `json:"final_price"`
	SellerNotes        string         `gorm:"type:text" json:"seller_notes"`
	FailureReason      string         `gorm:"size:32" json:"failure_reason"`
	FailureReasonNotes string         `gorm:"type:text" json:"failure_reason_notes"`
	Payload            ConfirmPayload `gorm:"serializer:json;type:text" json:"payload"`
	Status             ConfirmStatus  `gorm:"size:20;default:pending;index" json:"status"`
	ExpiresAt          time.Time      `gorm:"not null;index" json:"expires_at"`
	AutoProcessedAt    *time.Time     `json:"auto_processed_at"`
	BuyerRespondedAt   *time.Time     `json:"buyer_responded_at"`
	SellerCanceledAt   *time.Time     `json:"seller_canceled_at"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}
