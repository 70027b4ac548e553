package models

import "time"

// Message is an immutable chat message envelope. Rows are written once during
// fan-out and never updated; chats reference them by id.
type Message struct {
	ID         string    `gorm:"primaryKey;size:128" json:"message_id"`
	ChatID     string    `gorm:"index;not null" json:"chat_id"`
	SenderID   string    `gorm:"index;not null" json:"from_member_id"`
	SenderName string    `json:"from_member_name,omitempty"`
	Body       string    `json:"message"`
	Type       string    `gorm:"size:32;default:text" json:"message_type"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`

	CreatedAt time.Time `json:"-"`
}
