// Package messaging is the message ledger: posting, history, unread
// counters and stale-card replacement.
package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/card"
	"github.com/zulandar/tradepost/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PostOpts describes one message. Exactly the sender is trusted; the
// receiver is always the other participant.
type PostOpts struct {
	ConversationID uint
	SenderID       uint
	Content        string
	ImageRef       string
	Card           card.Card
	MaxLength      int
	Now            time.Time
}

// Post appends a message and bumps the receiver's unread counter. It must
// run inside the transaction of whatever transition produced the message.
func Post(tx *gorm.DB, opts PostOpts) (*models.Message, error) {
	if opts.Card == nil {
		if err := ValidateContent(opts.Content, opts.ImageRef, opts.MaxLength); err != nil {
			return nil, err
		}
	}

	conv, err := loadConversation(tx, opts.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(opts.SenderID) {
		return nil, apperr.Authorization("not_participant", "user %d is not in conversation %d", opts.SenderID, conv.ID)
	}
	if conv.ItemDeleted && opts.Card == nil {
		return nil, apperr.Conflict("conversation_frozen", "the item for this conversation was deleted")
	}
	receiverID := conv.Other(opts.SenderID)

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	names, err := displayNames(tx, opts.SenderID, receiverID)
	if err != nil {
		return nil, err
	}
	senderName := names[opts.SenderID]
	if senderName == "" {
		senderName = conv.NameOf(opts.SenderID)
	}
	receiverName := names[receiverID]
	if receiverName == "" {
		receiverName = conv.NameOf(receiverID)
	}

	msg := models.Message{
		ConversationID: conv.ID,
		SenderID:       opts.SenderID,
		ReceiverID:     receiverID,
		SenderName:     senderName,
		ReceiverName:   receiverName,
		Content:        opts.Content,
		ImageRef:       opts.ImageRef,
		CreatedAt:      now,
	}
	if opts.Card != nil {
		data, err := card.Encode(opts.Card)
		if err != nil {
			return nil, apperr.Internal(err, "messaging: encode card")
		}
		msg.Metadata = datatypes.JSON(data)
		msg.CardType = string(opts.Card.Type())
		if ref := opts.Card.Ref(); ref != 0 {
			msg.CardRefID = &ref
		}
	}

	if err := tx.Create(&msg).Error; err != nil {
		return nil, apperr.Internal(err, "messaging: insert message")
	}
	if err := bumpUnread(tx, conv.ID, receiverID, msg.ID); err != nil {
		return nil, err
	}

	// Posting resurfaces the thread for a receiver who had hidden it.
	if err := tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).
		Updates(map[string]interface{}{
			conv.DeletedColumn(receiverID): false,
			"updated_at":                   now,
		}).Error; err != nil {
		return nil, apperr.Internal(err, "messaging: touch conversation %d", conv.ID)
	}

	return &msg, nil
}

func loadConversation(db *gorm.DB, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := db.First(&conv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("conversation_not_found", "conversation %d not found", id)
		}
		return nil, apperr.Internal(err, "messaging: load conversation %d", id)
	}
	return &conv, nil
}

// participantConversation loads a conversation the caller may read.
func participantConversation(db *gorm.DB, id, callerID uint) (*models.Conversation, error) {
	conv, err := loadConversation(db, id)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(callerID) {
		return nil, apperr.Authorization("not_participant", "user %d is not in conversation %d", callerID, id)
	}
	if conv.DeletedFor(callerID) {
		return nil, apperr.NotFound("conversation_not_found", "conversation %d not found", id)
	}
	return conv, nil
}

func displayNames(db *gorm.DB, ids ...uint) (map[uint]string, error) {
	var users []models.User
	if err := db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, apperr.Internal(err, "messaging: load users")
	}
	names := make(map[uint]string, len(users))
	for _, u := range users {
		names[u.ID] = u.DisplayName
	}
	return names, nil
}

func bumpUnread(tx *gorm.DB, conversationID, userID, messageID uint) error {
	result := tx.Model(&models.ParticipantUnread{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Updates(map[string]interface{}{
			"unread_count":            gorm.Expr("unread_count + 1"),
			"first_unread_message_id": gorm.Expr("COALESCE(first_unread_message_id, ?)", messageID),
		})
	if result.Error != nil {
		return apperr.Internal(result.Error, "messaging: bump unread %d/%d", conversationID, userID)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	row := models.ParticipantUnread{
		ConversationID:       conversationID,
		UserID:               userID,
		UnreadCount:          1,
		FirstUnreadMessageID: &messageID,
	}
	if err := tx.Create(&row).Error; err != nil {
		return apperr.Internal(err, "messaging: create unread %d/%d", conversationID, userID)
	}
	return nil
}

// MarkRead zeroes the caller's unread counter.
func MarkRead(db *gorm.DB, conversationID, callerID uint) error {
	if _, err := participantConversation(db, conversationID, callerID); err != nil {
		return err
	}
	return resetUnread(db, conversationID, callerID)
}

func resetUnread(db *gorm.DB, conversationID, userID uint) error {
	err := db.Model(&models.ParticipantUnread{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Updates(map[string]interface{}{
			"unread_count":            0,
			"first_unread_message_id": nil,
		}).Error
	if err != nil {
		return apperr.Internal(err, "messaging: reset unread %d/%d", conversationID, userID)
	}
	return nil
}

// Unread returns userID's counter row. A missing row reads as zero.
func Unread(db *gorm.DB, conversationID, userID uint) (models.ParticipantUnread, error) {
	var row models.ParticipantUnread
	err := db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ParticipantUnread{ConversationID: conversationID, UserID: userID}, nil
	}
	if err != nil {
		return row, fmt.Errorf("messaging: unread %d/%d: %w", conversationID, userID, err)
	}
	return row, nil
}
