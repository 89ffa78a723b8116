package models

import "time"

// Conversation is the durable channel between two participants, optionally
// scoped to one item. ItemScope mirrors ItemID with 0 for general threads so
// the (pair, item) uniqueness can be a plain unique index.
type Conversation struct {
	ID                  uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	PairKey             string    `gorm:"size:41;not null;uniqueIndex:idx_conversation_pair_item" json:"pair_key"`
	ItemScope           uint      `gorm:"not null;default:0;uniqueIndex:idx_conversation_pair_item" json:"item_scope"`
	ItemID              *uint     `gorm:"index" json:"item_id"`
	ParticipantAID      uint      `gorm:"not null;index" json:"participant_a_id"`
	ParticipantBID      uint      `gorm:"not null;index" json:"participant_b_id"`
	ParticipantAName    string    `gorm:"size:128" json:"participant_a_name"`
	ParticipantBName    string    `gorm:"size:128" json:"participant_b_name"`
	ParticipantADeleted bool      `gorm:"default:false" json:"participant_a_deleted"`
	ParticipantBDeleted bool      `gorm:"default:false" json:"participant_b_deleted"`
	ItemDeleted         bool      `gorm:"default:false" json:"item_deleted"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID uint) bool {
	return userID != 0 && (c.ParticipantAID == userID || c.ParticipantBID == userID)
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID uint) uint {
	if c.ParticipantAID == userID {
		return c.ParticipantBID
	}
	return c.ParticipantAID
}

// DeletedFor reports whether userID has soft-deleted the conversation.
func (c *Conversation) DeletedFor(userID uint) bool {
	if c.ParticipantAID == userID {
		return c.ParticipantADeleted
	}
	return c.ParticipantBDeleted
}

// NameOf returns the display name captured for userID.
func (c *Conversation) NameOf(userID uint) string {
	if c.ParticipantAID == userID {
		return c.ParticipantAName
	}
	return c.ParticipantBName
}

// DeletedColumn names the soft-delete column belonging to userID.
func (c *Conversation) DeletedColumn(userID uint) string {
	if c.ParticipantAID == userID {
		return "participant_a_deleted"
	}
	return "participant_b_deleted"
}

// ParticipantUnread tracks one participant's unread messages in one
// conversation.
type ParticipantUnread struct {
	ConversationID       uint  `gorm:"primaryKey;autoIncrement:false" json:"conversation_id"`
	UserID               uint  `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	UnreadCount          int   `gorm:"not null;default:0" json:"unread_count"`
	FirstUnreadMessageID *uint `json:"first_unread_message_id"`
}
