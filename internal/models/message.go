package models

import (
	"time"

	"gorm.io/datatypes"
)

// Message is one entry in a conversation. Card messages carry the encoded
// card in Metadata; CardType and CardRefID repeat its discriminator and the
// referenced row id so stale cards can be found with an indexed lookup.
type Message struct {
	ID             uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint           `gorm:"not null;index;index:idx_message_card,priority:1" json:"conversation_id"`
	SenderID       uint           `gorm:"not null" json:"sender_id"`
	ReceiverID     uint           `gorm:"not null;index" json:"receiver_id"`
	SenderName     string         `gorm:"size:128" json:"sender_name"`
	ReceiverName   string         `gorm:"size:128" json:"receiver_name"`
	Content        string         `gorm:"type:text" json:"content"`
	ImageRef       string         `gorm:"size:512" json:"image_ref"`
	CardType       string         `gorm:"size:32;index:idx_message_card,priority:2" json:"card_type"`
	CardRefID      *uint          `gorm:"index:idx_message_card,priority:3" json:"card_ref_id"`
	Metadata       datatypes.JSON `json:"-"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
	EditedAt       *time.Time     `json:"edited_at"`
}
