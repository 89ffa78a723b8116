package messaging

import (
	"errors"

	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/card"
	"github.com/zulandar/tradepost/internal/logging"
	"github.com/zulandar/tradepost/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReplaceCard deletes the newest card of type t referencing refID so the
// caller can post its terminal successor. A missing card is logged and
// reported as false; it never fails the surrounding transition.
func ReplaceCard(tx *gorm.DB, conversationID uint, t card.Type, refID uint) (bool, error) {
	var msg models.Message
	err := tx.Where("conversation_id = ? AND card_type = ? AND card_ref_id = ?", conversationID, string(t), refID).
		Order("id DESC").Take(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logging.L().Warn("messaging: stale card not found",
			zap.Uint("conversation_id", conversationID),
			zap.String("card_type", string(t)),
			zap.Uint("ref_id", refID))
		return false, nil
	}
	if err != nil {
		return false, apperr.Internal(err, "messaging: find card %s/%d", t, refID)
	}

	if err := tx.Delete(&models.Message{}, msg.ID).Error; err != nil {
		return false, apperr.Internal(err, "messaging: delete card message %d", msg.ID)
	}
	if err := forgetUnread(tx, msg); err != nil {
		return false, err
	}
	return true, nil
}

// forgetUnread removes a deleted message from its receiver's unread state.
func forgetUnread(tx *gorm.DB, msg models.Message) error {
	var row models.ParticipantUnread
	err := tx.Where("conversation_id = ? AND user_id = ?", msg.ConversationID, msg.ReceiverID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return apperr.Internal(err, "messaging: load unread for %d", msg.ReceiverID)
	}
	if row.FirstUnreadMessageID == nil || msg.ID < *row.FirstUnreadMessageID || row.UnreadCount == 0 {
		return nil
	}

	count := row.UnreadCount - 1
	var first *uint
	if count > 0 {
		first = row.FirstUnreadMessageID
		if *row.FirstUnreadMessageID == msg.ID {
			var next models.Message
			err := tx.Select("id").
				Where("conversation_id = ? AND receiver_id = ? AND id > ?", msg.ConversationID, msg.ReceiverID, msg.ID).
				Order("id ASC").Take(&next).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				first, count = nil, 0
			case err != nil:
				return apperr.Internal(err, "messaging: next unread for %d", msg.ReceiverID)
			default:
				first = &next.ID
			}
		}
	}

	err = tx.Model(&models.ParticipantUnread{}).
		Where("conversation_id = ? AND user_id = ?", msg.ConversationID, msg.ReceiverID).
		Updates(map[string]interface{}{
			"unread_count":            count,
			"first_unread_message_id": first,
		}).Error
	if err != nil {
		return apperr.Internal(err, "messaging: adjust unread for %d", msg.ReceiverID)
	}
	return nil
}
