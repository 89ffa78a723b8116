package models

// User is the external account a participant id refers to. Only the display
// name is read, to snapshot it onto conversations and messages.
type User struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	DisplayName string `gorm:"size:128;not null" json:"display_name"`
}
