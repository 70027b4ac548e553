package gateway

import (
	"encoding/json"
	"time"
)

// Envelope frames every websocket message in both directions.
//
// A client request carries a client-chosen id, the operation name in Event and
// the operation payload in Data; the server answers with an envelope bearing
// the same id and the "result" event. Server-initiated deliveries carry a
// server-chosen id; clients confirm them with an "ack" envelope echoing that
// id, which stands in for the acknowledgment callback of the wire protocols
// this one descends from.
type Envelope struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Reserved reply events.
const (
	EventResult = "result"
	EventAck    = "ack"
)

// Client request events. The dispatcher accepts exactly this set.
const (
	EventSendMessage          = "send-message"
	EventCreateChat           = "create-chat"
	EventJoinChat             = "join-chat"
	EventExitChat             = "exit-chat"
	EventDeleteChat           = "delete-chat"
	EventGetChat              = "get-chat"
	EventGetJoinedChats       = "get-joined-chats"
	EventGetCreatedChats      = "get-created-chats"
	EventGetChatMembers       = "get-chat-members"
	EventGetOnlineMembers     = "get-online-members"
	EventGetChatOnlineMembers = "get-chat-online-members"
	EventGetMember            = "get-member"
	EventGetMembers           = "get-members"
	EventGetMemberByName      = "get-member-by-name"
	EventPullMembersIntoChat  = "pull-members-into-chat"
	EventRemoveMemberFromChat = "remove-member-from-chat"
	EventSendCommand          = "send-command"
	EventNextSpeaker          = "next-speaker"
	EventLoadChatMessages     = "load-chat-messages-from-server"
	EventSendChatNotification = "send-notification-to-chat"
	EventRegisterChatManager  = "register-chat-manager"
	EventListenInChat         = "listen-in-chat"
	EventUnlistenInChat       = "unlisten-in-chat"
)

// SendMessageRequest asks the server to fan a message out to a chat.
type SendMessageRequest struct {
	MessageID  string    `json:"message_id" validate:"required"`
	ChatID     string    `json:"chat_id" validate:"required"`
	SenderID   string    `json:"from_member_id" validate:"required"`
	SenderName string    `json:"from_member_name"`
	Body       string    `json:"message" validate:"required"`
	Type       string    `json:"message_type"`
	Timestamp  time.Time `json:"timestamp"`
}

// CreateChatRequest creates a chat owned by the requesting session's member.
type CreateChatRequest struct {
	Name        string   `json:"name" validate:"required,max=255"`
	IsGroup     bool     `json:"is_group"`
	Description string   `json:"description" validate:"omitempty,max=1024"`
	Members     []string `json:"members"`
}

// ChatRequest addresses an operation at one chat.
type ChatRequest struct {
	ChatID string `json:"chat_id" validate:"required"`
}

// GetChatMembersRequest optionally expands member ids into full records.
type GetChatMembersRequest struct {
	ChatID   string `json:"chat_id" validate:"required"`
	Complete bool   `json:"complete"`
}

// MemberRequest addresses an operation at one member.
type MemberRequest struct {
	MemberID string `json:"member_id" validate:"required"`
}

// MembersRequest addresses an operation at a batch of members.
type MembersRequest struct {
	Members []string `json:"members" validate:"required,min=1"`
}

// GetMemberByNameRequest resolves a member by display name.
type GetMemberByNameRequest struct {
	Name   string `json:"name" validate:"required"`
	ChatID string `json:"chat_id"`
}

// PullMembersRequest adds a batch of members to a chat.
type PullMembersRequest struct {
	ChatID  string   `json:"chat_id" validate:"required"`
	Members []string `json:"members" validate:"required,min=1"`
}

// RemoveMemberRequest ejects one member from a chat.
type RemoveMemberRequest struct {
	ChatID   string `json:"chat_id" validate:"required"`
	MemberID string `json:"member_id" validate:"required"`
}

// SendCommandRequest forwards a command to a list of target members.
type SendCommandRequest struct {
	Command string         `json:"command" validate:"required"`
	To      []string       `json:"to"`
	By      string         `json:"by"`
	Data    map[string]any `json:"data"`
}

// NextSpeakerRequest tells one member it holds the floor in a chat.
type NextSpeakerRequest struct {
	ChatID   string `json:"chat_id" validate:"required"`
	MemberID string `json:"member_id" validate:"required"`
}

// LoadChatMessagesRequest retrieves recent chat history.
type LoadChatMessagesRequest struct {
	ChatID string `json:"chat_id" validate:"required"`
	Count  int    `json:"count"`
}

// ChatNotificationRequest relays a payload to a chat's registered manager.
type ChatNotificationRequest struct {
	ToChatID string         `json:"to_chat_id" validate:"required"`
	Data     map[string]any `json:"data"`
}

// LoginResponse reports the handshake outcome to a connecting client.
type LoginResponse struct {
	Status  int            `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// OperationError is the failure shape returned for any request.
type OperationError struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// JoinChatResponse reports a membership change.
type JoinChatResponse struct {
	ChatID  string   `json:"chat_id"`
	Members []string `json:"members"`
	Status  string   `json:"status"`
}

// StatusResponse is the generic success shape for mutations.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
