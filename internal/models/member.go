package models

import (
	"time"

	"gorm.io/datatypes"
)

// Member is a durable participant identity. Sessions come and go; the member
// record survives them. Chats and ListenChats are kept disjoint: joining a
// chat clears listener status for it and vice versa.
type Member struct {
	ID          string `gorm:"primaryKey;size:128" json:"member_id"`
	Name        string `gorm:"not null;index" json:"member_name"`
	Description string `json:"description,omitempty"`

	Chats       datatypes.JSONSlice[string] `json:"chats"`
	ListenChats datatypes.JSONSlice[string] `json:"listen_in_chats"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InChat reports whether the member's joined-chat list contains chatID.
func (m *Member) InChat(chatID string) bool {
	return containsID(m.Chats, chatID)
}

// ListensTo reports whether the member's listened-chat list contains chatID.
func (m *Member) ListensTo(chatID string) bool {
	return containsID(m.ListenChats, chatID)
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
