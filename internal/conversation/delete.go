package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/card"
	"github.com/zulandar/tradepost/internal/inventory"
	"github.com/zulandar/tradepost/internal/messaging"
	"github.com/zulandar/tradepost/internal/models"
	"github.com/zulandar/tradepost/internal/pairlock"
	"gorm.io/gorm"
)

// Delete hides the conversation for the caller. Once both participants have
// hidden it the conversation and everything negotiated in it is removed,
// and the affected items are reconciled. purged reports the hard delete.
func Delete(ctx context.Context, db *gorm.DB, locker pairlock.Locker, id, callerID uint, timeout time.Duration) (purged bool, err error) {
	conv, err := Get(db, id, callerID)
	if err != nil {
		return false, err
	}

	key := pairlock.Key(conv.ParticipantAID, conv.ParticipantBID)
	err = pairlock.With(ctx, locker, key, timeout, func() error {
		return db.Transaction(func(tx *gorm.DB) error {
			var current models.Conversation
			if err := tx.First(&current, id).Error; err != nil {
				return apperr.NotFound("conversation_not_found", "conversation %d not found", id)
			}
			if current.DeletedFor(callerID) {
				return apperr.NotFound("conversation_not_found", "conversation %d not found", id)
			}
			if !current.DeletedFor(current.Other(callerID)) {
				if err := tx.Model(&current).Update(current.DeletedColumn(callerID), true).Error; err != nil {
					return apperr.Internal(err, "conversation: soft delete %d", id)
				}
				return nil
			}
			purged = true
			return purge(tx, &current)
		})
	})
	return purged, err
}

// purge hard-deletes a conversation with its messages, unread rows and
// negotiation rows, then re-derives the status of every item involved.
func purge(tx *gorm.DB, conv *models.Conversation) error {
	var itemIDs []uint
	if err := tx.Model(&models.ScheduledPurchaseRequest{}).
		Where("conversation_id = ?", conv.ID).
		Distinct().Pluck("item_id", &itemIDs).Error; err != nil {
		return apperr.Internal(err, "conversation: items of %d", conv.ID)
	}

	steps := []struct {
		what  string
		model interface{}
		where string
	}{
		{"confirm requests", &models.ConfirmPurchaseRequest{}, "conversation_id = ?"},
		{"scheduled requests", &models.ScheduledPurchaseRequest{}, "conversation_id = ?"},
		{"messages", &models.Message{}, "conversation_id = ?"},
		{"unread rows", &models.ParticipantUnread{}, "conversation_id = ?"},
		{"conversation", &models.Conversation{}, "id = ?"},
	}
	for _, s := range steps {
		if err := tx.Where(s.where, conv.ID).Delete(s.model).Error; err != nil {
			return apperr.Internal(err, "conversation: purge %s of %d", s.what, conv.ID)
		}
	}

	for _, itemID := range itemIDs {
		if _, err := inventory.Reconcile(tx, itemID); err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
	}
	return nil
}

// MarkItemDeleted freezes every conversation about itemID and posts an
// item_deleted card into each. It returns the ids of the frozen
// conversations.
func MarkItemDeleted(tx *gorm.DB, item *models.InventoryItem, now time.Time) ([]uint, error) {
	var convs []models.Conversation
	if err := tx.Where("item_id = ? AND item_deleted = ?", item.ID, false).Find(&convs).Error; err != nil {
		return nil, apperr.Internal(err, "conversation: threads of item %d", item.ID)
	}
	if len(convs) == 0 {
		return nil, nil
	}

	ids := make([]uint, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	if err := tx.Model(&models.Conversation{}).Where("id IN ?", ids).
		Update("item_deleted", true).Error; err != nil {
		return nil, apperr.Internal(err, "conversation: freeze threads of item %d", item.ID)
	}

	for _, c := range convs {
		_, err := messaging.Post(tx, messaging.PostOpts{
			ConversationID: c.ID,
			SenderID:       item.SellerID,
			Content:        fmt.Sprintf("%q is no longer listed.", item.Title),
			Card:           &card.ItemDeleted{ItemID: item.ID, ItemTitle: item.Title},
			Now:            now,
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}
