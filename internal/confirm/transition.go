package confirm

import (
	"fmt"
	"time"

	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/card"
	"github.com/zulandar/tradepost/internal/inventory"
	"github.com/zulandar/tradepost/internal/logging"
	"github.com/zulandar/tradepost/internal/messaging"
	"github.com/zulandar/tradepost/internal/metrics"
	"github.com/zulandar/tradepost/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FinalizeIfExpired auto-accepts the confirm request when it is pending and
// past its expiry. Concurrent callers race on a conditional update; only the
// winner posts cards and applies the sale. finalized reports whether this
// call made the transition. The returned row is current either way.
func FinalizeIfExpired(db *gorm.DB, id uint, now time.Time) (c *models.ConfirmPurchaseRequest, finalized bool, err error) {
	c, err = Load(db, id)
	if err != nil {
		return nil, false, err
	}
	if c.Status != models.ConfirmPending || !now.After(c.ExpiresAt) {
		return c, false, nil
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		won, err := transition(tx, c, models.ConfirmAutoAccepted, map[string]interface{}{
			"auto_processed_at": now,
		}, now)
		if err != nil || !won {
			return err
		}
		finalized = true
		return settle(tx, c, now)
	})
	if err != nil {
		return nil, false, err
	}
	if finalized {
		metrics.AutoFinalized.Inc()
		logging.L().Info("confirm: auto-finalized expired request",
			zap.Uint("confirm_id", c.ID),
			zap.Uint("item_id", c.ItemID),
			zap.Time("expired_at", c.ExpiresAt))
		return c, true, nil
	}

	c, err = Load(db, id)
	return c, false, err
}

// FinalizeExpiredInConversation finalizes every expired pending request in
// the conversation and returns the ids it finalized.
func FinalizeExpiredInConversation(db *gorm.DB, conversationID uint, now time.Time) ([]uint, error) {
	return finalizeExpired(db, now, "conversation_id = ?", conversationID)
}

// FinalizeExpiredForScheduled does the same for one scheduled request.
func FinalizeExpiredForScheduled(db *gorm.DB, scheduledID uint, now time.Time) ([]uint, error) {
	return finalizeExpired(db, now, "scheduled_request_id = ?", scheduledID)
}

func finalizeExpired(db *gorm.DB, now time.Time, where string, arg uint) ([]uint, error) {
	var pending []models.ConfirmPurchaseRequest
	if err := db.Select("id", "expires_at").
		Where("status = ?", models.ConfirmPending).
		Where(where, arg).Find(&pending).Error; err != nil {
		return nil, apperr.Internal(err, "confirm: find pending")
	}

	var done []uint
	for _, p := range pending {
		if !now.After(p.ExpiresAt) {
			continue
		}
		_, ok, err := FinalizeIfExpired(db, p.ID, now)
		if err != nil {
			return done, err
		}
		if ok {
			done = append(done, p.ID)
		}
	}
	return done, nil
}

// transition moves c from pending to status if no one else has. extra adds
// columns to the update.
func transition(tx *gorm.DB, c *models.ConfirmPurchaseRequest, status models.ConfirmStatus, extra map[string]interface{}, now time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	for k, v := range extra {
		updates[k] = v
	}
	result := tx.Model(&models.ConfirmPurchaseRequest{}).
		Where("id = ? AND status = ?", c.ID, models.ConfirmPending).
		Updates(updates)
	if result.Error != nil {
		return false, apperr.Internal(result.Error, "confirm: move %d to %s", c.ID, status)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	c.Status = status
	c.UpdatedAt = now
	switch status {
	case models.ConfirmAutoAccepted:
		c.AutoProcessedAt = &now
	case models.ConfirmBuyerAccepted, models.ConfirmBuyerDeclined:
		c.BuyerRespondedAt = &now
	case models.ConfirmSellerCancelled:
		c.SellerCanceledAt = &now
	}
	return true, nil
}

// settle applies the consequences of a buyer-side outcome: the request card
// is replaced by its terminal card, then a successful accepted outcome sells
// the item and anything else re-derives its status.
func settle(tx *gorm.DB, c *models.ConfirmPurchaseRequest, now time.Time) error {
	if _, err := messaging.ReplaceCard(tx, c.ConversationID, card.TypeConfirmRequest, c.ID); err != nil {
		return err
	}

	var content string
	switch c.Status {
	case models.ConfirmBuyerAccepted:
		content = fmt.Sprintf("Purchase of %q confirmed.", c.Payload.ItemTitle)
	case models.ConfirmAutoAccepted:
		content = fmt.Sprintf("Purchase of %q confirmed automatically: no response before the deadline.", c.Payload.ItemTitle)
	default:
		content = fmt.Sprintf("Purchase report for %q declined.", c.Payload.ItemTitle)
	}
	if _, err := messaging.Post(tx, messaging.PostOpts{
		ConversationID: c.ConversationID,
		SenderID:       c.BuyerID,
		Content:        content,
		Card:           card.NewConfirmOutcome(*requestCard(c), c.Status, now),
		Now:            now,
	}); err != nil {
		return err
	}

	if !c.Status.Accepted() || !c.IsSuccessful {
		_, err := inventory.Reconcile(tx, c.ItemID)
		return err
	}

	if _, err := inventory.ApplySale(tx, c, now); err != nil {
		return err
	}
	if _, err := messaging.Post(tx, messaging.PostOpts{
		ConversationID: c.ConversationID,
		SenderID:       c.SellerID,
		Content:        "How did it go? Leave a review for the seller.",
		Card: &card.ReviewPrompt{
			ConfirmID: c.ID,
			ItemID:    c.ItemID,
			SellerID:  c.SellerID,
			ItemTitle: c.Payload.ItemTitle,
		},
		Now: now,
	}); err != nil {
		return err
	}
	_, err := messaging.Post(tx, messaging.PostOpts{
		ConversationID: c.ConversationID,
		SenderID:       c.BuyerID,
		Content:        "How did it go? Rate the buyer.",
		Card: &card.BuyerRatingPrompt{
			ConfirmID: c.ID,
			ItemID:    c.ItemID,
			BuyerID:   c.BuyerID,
			ItemTitle: c.Payload.ItemTitle,
		},
		Now: now,
	})
	return err
}

// RespondOpts is the buyer's answer to a pending confirm request.
type RespondOpts struct {
	ConfirmID uint
	BuyerID   uint
	Action    Action
	Now       time.Time
}

// Respond accepts or declines a pending confirm request. An expired request
// is finalized first, after which the response is rejected.
func Respond(db *gorm.DB, opts RespondOpts) (*models.ConfirmPurchaseRequest, error) {
	if opts.Action != Accept && opts.Action != Decline {
		return nil, apperr.Validation("invalid_action", "action must be accept or decline")
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	c, err := Load(db, opts.ConfirmID)
	if err != nil {
		return nil, err
	}
	if c.BuyerID != opts.BuyerID {
		return nil, apperr.Authorization("not_request_buyer", "only the buyer may respond to confirm request %d", c.ID)
	}
	if c, _, err = FinalizeIfExpired(db, c.ID, now); err != nil {
		return nil, err
	}
	if c.Status != models.ConfirmPending {
		return nil, apperr.Conflict("confirm_not_pending", "confirm request %d is %s", c.ID, c.Status)
	}

	status := models.ConfirmBuyerDeclined
	if opts.Action == Accept {
		status = models.ConfirmBuyerAccepted
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		won, err := transition(tx, c, status, map[string]interface{}{
			"buyer_responded_at": now,
		}, now)
		if err != nil {
			return err
		}
		if !won {
			return apperr.Conflict("confirm_not_pending", "confirm request %d was answered concurrently", c.ID)
		}
		return settle(tx, c, now)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Status returns the confirm request to either party, finalizing it first
// when it has expired.
func Status(db *gorm.DB, id, callerID uint, now time.Time) (*models.ConfirmPurchaseRequest, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	c, err := Load(db, id)
	if err != nil {
		return nil, err
	}
	if callerID == 0 || (callerID != c.SellerID && callerID != c.BuyerID) {
		return nil, apperr.Authorization("not_participant", "user %d is not a party to confirm request %d", callerID, id)
	}
	c, _, err = FinalizeIfExpired(db, id, now)
	return c, err
}

// Cancel lets the seller withdraw a pending confirm request so a corrected
// one can be sent.
func Cancel(db *gorm.DB, id, sellerID uint, now time.Time) (*models.ConfirmPurchaseRequest, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	c, err := Load(db, id)
	if err != nil {
		return nil, err
	}
	if c.SellerID != sellerID {
		return nil, apperr.Authorization("not_request_seller", "only the seller may withdraw confirm request %d", id)
	}
	if c, _, err = FinalizeIfExpired(db, id, now); err != nil {
		return nil, err
	}
	if c.Status != models.ConfirmPending {
		return nil, apperr.Conflict("confirm_not_pending", "confirm request %d is %s", c.ID, c.Status)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		won, err := transition(tx, c, models.ConfirmSellerCancelled, map[string]interface{}{
			"seller_canceled_at": now,
		}, now)
		if err != nil {
			return err
		}
		if !won {
			return apperr.Conflict("confirm_not_pending", "confirm request %d was answered concurrently", c.ID)
		}
		if _, err := messaging.ReplaceCard(tx, c.ConversationID, card.TypeConfirmRequest, c.ID); err != nil {
			return err
		}
		_, err = messaging.Post(tx, messaging.PostOpts{
			ConversationID: c.ConversationID,
			SenderID:       c.SellerID,
			Content:        fmt.Sprintf("Purchase report for %q withdrawn.", c.Payload.ItemTitle),
			Card: &card.ConfirmCancelled{
				ConfirmID:          c.ID,
				ScheduledRequestID: c.ScheduledRequestID,
				ItemID:             c.ItemID,
			},
			Now: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ResolveFinalPrice returns the price a sale from c settles at.
func ResolveFinalPrice(db *gorm.DB, c *models.ConfirmPurchaseRequest) (float64, error) {
	item, err := inventory.Load(db, c.ItemID)
	if err != nil {
		return 0, err
	}
	listing := item.Price
	return inventory.ResolveFinalPrice(c.FinalPrice, c.Payload.NegotiatedPrice, &listing), nil
}
