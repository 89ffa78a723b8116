package models

import "time"

// ItemStatus is the availability of an inventory item.
type ItemStatus string

const (
	ItemActive  ItemStatus = "Active"
	ItemPending ItemStatus = "Pending"
	ItemSold    ItemStatus = "Sold"
)

// InventoryItem is a listing owned by the marketplace. This module only moves
// its status and sale bookkeeping.
type InventoryItem struct {
	ID                uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	SellerID          uint       `gorm:"not null;index" json:"seller_id"`
	Title             string     `gorm:"size:255;not null" json:"title"`
	Price             float64    `gorm:"not null;default:0" json:"price"`
	PriceNegotiable   bool       `gorm:"default:false" json:"price_negotiable"`
	AcceptsTrades     bool       `gorm:"default:false" json:"accepts_trades"`
	Location          string     `gorm:"size:255" json:"location"`
	Status            ItemStatus `gorm:"size:16;default:Active;index" json:"status"`
	ReservedRequestID *uint      `json:"reserved_request_id"`
	SoldPrice         *float64   `json:"sold_price"`
	SoldToID          *uint      `json:"sold_to_id"`
	SoldAt            *time.Time `json:"sold_at"`
	TradedFor         string     `gorm:"type:text" json:"traded_for"`
	Deleted           bool       `gorm:"default:false;index" json:"deleted"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// PurchaseHistory records one completed sale for the buyer.
type PurchaseHistory struct {
	ID                   string    `gorm:"primaryKey;size:26" json:"id"`
	BuyerID              uint      `gorm:"not null;index" json:"buyer_id"`
	SellerID             uint      `gorm:"not null" json:"seller_id"`
	ItemID               uint      `gorm:"not null;index" json:"item_id"`
	ConfirmRequestID     uint      `gorm:"not null;uniqueIndex" json:"confirm_request_id"`
	Price                float64   `gorm:"not null" json:"price"`
	WasTrade             bool      `gorm:"default:false" json:"was_trade"`
	TradeItemDescription string    `gorm:"type:text" json:"trade_item_description"`
	PurchasedAt          time.Time `gorm:"not null" json:"purchased_at"`
}

// TableName keeps the singular table name the marketplace already uses.
func (PurchaseHistory) TableName() string { return "purchase_history" }
