package models

import (
	"time"

	"gorm.io/datatypes"
)

// Chat is a durable multi-party conversation. Members and Listeners are
// disjoint sets of member ids; MessageIDs is the ordered history of messages
// appended to the chat.
type Chat struct {
	ID          string  `gorm:"primaryKey;size:128" json:"chat_id"`
	Name        string  `gorm:"not null" json:"name"`
	IsGroup     bool    `gorm:"default:true" json:"is_group"`
	CreatedBy   string  `gorm:"index;not null" json:"created_by"`
	Description string  `json:"description,omitempty"`
	ManagerID   *string `gorm:"size:128" json:"manager_id,omitempty"`

	Members    datatypes.JSONSlice[string] `json:"members"`
	Listeners  datatypes.JSONSlice[string] `json:"listeners"`
	MessageIDs datatypes.JSONSlice[string] `json:"messages"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasMember reports whether memberID is a full member of the chat.
func (c *Chat) HasMember(memberID string) bool {
	return containsID(c.Members, memberID)
}

// HasListener reports whether memberID passively listens to the chat.
func (c *Chat) HasListener(memberID string) bool {
	return containsID(c.Listeners, memberID)
}
