package trade

import (
	"context"

	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/confirm"
	"github.com/zulandar/tradepost/internal/conversation"
	"github.com/zulandar/tradepost/internal/messaging"
	"github.com/zulandar/tradepost/internal/models"
	"github.com/zulandar/tradepost/internal/notify"
	"github.com/zulandar/tradepost/internal/schedule"
	"gorm.io/gorm"
)

// EnsureConversation opens, or returns, the caller's thread with sellerID.
// With itemID set the thread is about that item and sellerID may be 0.
func (s *Service) EnsureConversation(ctx context.Context, callerID, sellerID uint, itemID *uint) (*models.Conversation, error) {
	conv, created, err := conversation.Ensure(ctx, s.DB, s.Locker, conversation.EnsureOpts{
		BuyerID:     callerID,
		SellerID:    sellerID,
		ItemID:      itemID,
		LockTimeout: s.LockTimeout,
		Now:         s.now(),
	})
	observe("conversation", "ensure", err)
	if err != nil {
		return nil, err
	}
	if created {
		s.publish(ctx, notify.Event{Kind: notify.ConversationCreated, ConversationID: conv.ID, ActorID: callerID})
	}
	return conv, nil
}

// PostText sends a text message from the caller.
func (s *Service) PostText(ctx context.Context, callerID, conversationID uint, content string) (*models.Message, error) {
	return s.post(ctx, messaging.PostOpts{
		ConversationID: conversationID,
		SenderID:       callerID,
		Content:        content,
	})
}

// PostImage sends an image, with an optional caption, from the caller.
func (s *Service) PostImage(ctx context.Context, callerID, conversationID uint, imageRef, caption string) (*models.Message, error) {
	if imageRef == "" {
		return nil, apperr.Validation("image_required", "an image reference is required")
	}
	return s.post(ctx, messaging.PostOpts{
		ConversationID: conversationID,
		SenderID:       callerID,
		Content:        caption,
		ImageRef:       imageRef,
	})
}

func (s *Service) post(ctx context.Context, opts messaging.PostOpts) (*models.Message, error) {
	opts.MaxLength = s.Trade.MaxMessageLength
	opts.Now = s.now()
	if err := messaging.ValidateContent(opts.Content, opts.ImageRef, opts.MaxLength); err != nil {
		observe("message", "post", err)
		return nil, err
	}
	conv, err := conversation.Get(s.DB, opts.ConversationID, opts.SenderID)
	if err != nil {
		observe("message", "post", err)
		return nil, err
	}

	var msg *models.Message
	err = s.withPair(ctx, conv.ParticipantAID, conv.ParticipantBID, func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			var err error
			msg, err = messaging.Post(tx, opts)
			return err
		})
	})
	observe("message", "post", err)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notify.Event{Kind: notify.MessagePosted, ConversationID: conv.ID, RefID: msg.ID, ActorID: opts.SenderID})
	return msg, nil
}

// History returns the full conversation and marks it read for the caller.
// Expired confirm requests in it are finalized first.
func (s *Service) History(ctx context.Context, callerID, conversationID uint) ([]messaging.Entry, error) {
	if err := s.finalizeConversation(ctx, callerID, conversationID); err != nil {
		return nil, err
	}
	return messaging.Fetch(s.DB, conversationID, callerID)
}

// HistorySince returns messages after since without marking them read.
func (s *Service) HistorySince(ctx context.Context, callerID, conversationID uint, since messaging.Since) ([]messaging.Entry, error) {
	if err := s.finalizeConversation(ctx, callerID, conversationID); err != nil {
		return nil, err
	}
	return messaging.FetchSince(s.DB, conversationID, callerID, since)
}

func (s *Service) finalizeConversation(ctx context.Context, callerID, conversationID uint) error {
	conv, err := conversation.Get(s.DB, conversationID, callerID)
	if err != nil {
		return err
	}
	ids, err := confirm.FinalizeExpiredInConversation(s.DB, conv.ID, s.now())
	for _, id := range ids {
		s.publish(ctx, notify.Event{Kind: notify.ConfirmAutoAccepted, ConversationID: conv.ID, RefID: id})
	}
	return err
}

// MarkRead zeroes the caller's unread counter.
func (s *Service) MarkRead(_ context.Context, callerID, conversationID uint) error {
	return messaging.MarkRead(s.DB, conversationID, callerID)
}

// Unread returns the caller's unread state for one conversation.
func (s *Service) Unread(_ context.Context, callerID, conversationID uint) (models.ParticipantUnread, error) {
	if _, err := conversation.Get(s.DB, conversationID, callerID); err != nil {
		return models.ParticipantUnread{}, err
	}
	return messaging.Unread(s.DB, conversationID, callerID)
}

// ListConversations returns the caller's visible conversations.
func (s *Service) ListConversations(_ context.Context, callerID uint) ([]conversation.Summary, error) {
	return conversation.List(s.DB, callerID)
}

// DeleteConversation hides the conversation for the caller. purged reports
// that both sides have now deleted it and it was removed.
func (s *Service) DeleteConversation(ctx context.Context, callerID, conversationID uint) (bool, error) {
	purged, err := conversation.Delete(ctx, s.DB, s.Locker, conversationID, callerID, s.LockTimeout)
	observe("conversation", "delete", err)
	if err != nil {
		return false, err
	}
	if purged {
		s.publish(ctx, notify.Event{Kind: notify.ConversationDeleted, ConversationID: conversationID, ActorID: callerID})
	}
	return purged, nil
}

// MarkItemDeleted withdraws the caller's item: pending proposals for it are
// cancelled and every thread about it is frozen.
func (s *Service) MarkItemDeleted(ctx context.Context, callerID, itemID uint) error {
	now := s.now()
	var frozen []uint
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var item models.InventoryItem
		if err := tx.First(&item, itemID).Error; err != nil {
			return apperr.NotFound("item_not_found", "item %d not found", itemID)
		}
		if item.SellerID != callerID {
			return apperr.Authorization("not_item_seller", "user %d does not sell item %d", callerID, itemID)
		}
		if item.Deleted {
			return apperr.Conflict("item_deleted", "item %d was already deleted", itemID)
		}
		if err := tx.Model(&item).Updates(map[string]interface{}{"deleted": true, "updated_at": now}).Error; err != nil {
			return apperr.Internal(err, "trade: delete item %d", itemID)
		}
		if _, err := schedule.CancelPendingForItem(tx, item.ID, now); err != nil {
			return err
		}
		var err error
		frozen, err = conversation.MarkItemDeleted(tx, &item, now)
		return err
	})
	observe("item", "delete", err)
	if err != nil {
		return err
	}
	for _, id := range frozen {
		s.publish(ctx, notify.Event{Kind: notify.ItemDeleted, ConversationID: id, RefID: itemID, ActorID: callerID})
	}
	return nil
}
