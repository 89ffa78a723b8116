// Package inventory keeps an item's availability consistent with the
// negotiation rows that reference it.
//
// Status is derived, never assumed: every transition that could release or
// take a claim calls Reconcile, and the only direct moves are the
// race-guarded Claim and ApplySale.
package inventory

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/models"
	"gorm.io/gorm"
)

// Load returns the item or a NotFound error.
func Load(db *gorm.DB, itemID uint) (*models.InventoryItem, error) {
	var item models.InventoryItem
	if err := db.First(&item, itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("item_not_found", "item %d not found", itemID)
		}
		return nil, apperr.Internal(err, "inventory: load item %d", itemID)
	}
	return &item, nil
}

// Claim moves the item from Active to Pending for req and writes the
// request's snapshot settings back onto it. The update only applies while
// the item is still Active, so of two concurrent accepts exactly one wins.
func Claim(tx *gorm.DB, req *models.ScheduledPurchaseRequest) error {
	updates := map[string]interface{}{
		"status":              models.ItemPending,
		"reserved_request_id": req.ID,
		"price_negotiable":    req.SnapshotPriceNegotiable,
		"accepts_trades":      req.SnapshotAcceptsTrades,
	}
	if req.SnapshotPriceNegotiable && req.NegotiatedPrice != nil {
		updates["price"] = *req.NegotiatedPrice
	}

	result := tx.Model(&models.InventoryItem{}).
		Where("id = ? AND status = ? AND deleted = ?", req.ItemID, models.ItemActive, false).
		Updates(updates)
	if result.Error != nil {
		return apperr.Internal(result.Error, "inventory: claim item %d", req.ItemID)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	item, err := Load(tx, req.ItemID)
	if err != nil {
		return err
	}
	switch {
	case item.Deleted:
		return apperr.Conflict("item_deleted", "item %d was deleted", item.ID)
	case item.Status == models.ItemSold:
		return apperr.Conflict("item_sold", "item %d is already sold", item.ID)
	default:
		return apperr.Conflict("item_reserved", "item %d is reserved by another accepted request", item.ID)
	}
}

// Reconcile re-derives the item's status from live requests: Sold stays
// Sold; otherwise the item is Pending while some accepted scheduled request
// has no accepted confirm outcome, and Active when none does.
func Reconcile(tx *gorm.DB, itemID uint) (models.ItemStatus, error) {
	item, err := Load(tx, itemID)
	if err != nil {
		return "", err
	}
	if item.Status == models.ItemSold {
		return models.ItemSold, nil
	}

	finalized := tx.Model(&models.ConfirmPurchaseRequest{}).
		Select("scheduled_request_id").
		Where("status IN ?", models.AcceptedConfirmStatuses)

	var claim models.ScheduledPurchaseRequest
	err = tx.Where("item_id = ? AND status = ?", itemID, models.ScheduleAccepted).
		Where("id NOT IN (?)", finalized).
		Order("id DESC").Take(&claim).Error

	updates := map[string]interface{}{}
	target := models.ItemActive
	switch {
	case err == nil:
		target = models.ItemPending
		if item.Status != target || item.ReservedRequestID == nil || *item.ReservedRequestID != claim.ID {
			updates["reserved_request_id"] = claim.ID
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if item.ReservedRequestID != nil {
			updates["reserved_request_id"] = nil
			if price, ok := releasedPrice(tx, *item.ReservedRequestID); ok {
				updates["price"] = price
			}
		}
	default:
		return "", apperr.Internal(err, "inventory: find live claim for item %d", itemID)
	}
	if item.Status != target {
		updates["status"] = target
	}
	if len(updates) == 0 {
		return target, nil
	}

	result := tx.Model(&models.InventoryItem{}).
		Where("id = ? AND status <> ?", itemID, models.ItemSold).
		Updates(updates)
	if result.Error != nil {
		return "", apperr.Internal(result.Error, "inventory: reconcile item %d", itemID)
	}
	if result.RowsAffected == 0 {
		return models.ItemSold, nil
	}
	return target, nil
}

// releasedPrice returns the listing price to restore when the claim of
// requestID applied a negotiated price.
func releasedPrice(tx *gorm.DB, requestID uint) (float64, bool) {
	var req models.ScheduledPurchaseRequest
	if err := tx.Select("snapshot_price_negotiable", "negotiated_price", "snapshot_listing_price").
		First(&req, requestID).Error; err != nil {
		return 0, false
	}
	if req.SnapshotPriceNegotiable && req.NegotiatedPrice != nil {
		return req.SnapshotListingPrice, true
	}
	return 0, false
}

// ResolveFinalPrice picks the sale price: explicit final price, then the
// negotiated price, then the listing price, then 0.
func ResolveFinalPrice(final, negotiated, listing *float64) float64 {
	for _, p := range []*float64{final, negotiated, listing} {
		if p != nil {
			return *p
		}
	}
	return 0
}

// ApplySale marks the item Sold for the confirm request's buyer and records
// the purchase. It returns the resolved price.
func ApplySale(tx *gorm.DB, c *models.ConfirmPurchaseRequest, at time.Time) (float64, error) {
	item, err := Load(tx, c.ItemID)
	if err != nil {
		return 0, err
	}
	listing := item.Price
	price := ResolveFinalPrice(c.FinalPrice, c.Payload.NegotiatedPrice, &listing)

	updates := map[string]interface{}{
		"status":     models.ItemSold,
		"sold_price": price,
		"sold_to_id": c.BuyerID,
		"sold_at":    at,
		"traded_for": "",
		"updated_at": at,
	}
	if c.Payload.IsTrade {
		updates["traded_for"] = c.Payload.TradeItemDescription
	}
	result := tx.Model(&models.InventoryItem{}).
		Where("id = ? AND status <> ?", c.ItemID, models.ItemSold).
		Updates(updates)
	if result.Error != nil {
		return 0, apperr.Internal(result.Error, "inventory: mark item %d sold", c.ItemID)
	}
	if result.RowsAffected == 0 {
		return 0, apperr.Conflict("item_sold", "item %d is already sold", c.ItemID)
	}

	entry := models.PurchaseHistory{
		ID:                   ulid.Make().String(),
		BuyerID:              c.BuyerID,
		SellerID:             c.SellerID,
		ItemID:               c.ItemID,
		ConfirmRequestID:     c.ID,
		Price:                price,
		WasTrade:             c.Payload.IsTrade,
		TradeItemDescription: c.Payload.TradeItemDescription,
		PurchasedAt:          at,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return 0, apperr.Internal(err, "inventory: record purchase for item %d", c.ItemID)
	}
	return price, nil
}
