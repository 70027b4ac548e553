package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/parleychat/parley/internal/models"
	apperrors "github.com/parleychat/parley/pkg/errors"
)

// AppendMessageInput defines attributes required to persist a chat message.
// MessageID is honoured when the sender supplied one; otherwise an id is
// generated.
type AppendMessageInput struct {
	MessageID  string    `json:"message_id"`
	ChatID     string    `json:"chat_id" validate:"required"`
	SenderID   string    `json:"from_member_id" validate:"required"`
	SenderName string    `json:"from_member_name"`
	Body       string    `json:"message" validate:"required"`
	Type       string    `json:"message_type"`
	Timestamp  time.Time `json:"timestamp"`
}

// MessageService persists the immutable message history of chats.
type MessageService struct {
	db      *gorm.DB
	timeNow func() time.Time
}

// NewMessageService constructs a MessageService.
func NewMessageService(db *gorm.DB) (*MessageService, error) {
	if db == nil {
		return nil, errors.New("message service: db is required")
	}
	return &MessageService{db: db, timeNow: time.Now}, nil
}

// Append writes the message row and links its id into the chat's history, in
// one transaction. Persistence runs after fan-out regardless of delivery
// outcome, so a message every recipient missed is still replayable.
func (s *MessageService) Append(ctx context.Context, input AppendMessageInput) (*models.Message, error) {
	ctx = ensureContext(ctx)

	chatID := normalizeID(input.ChatID)
	if chatID == "" {
		return nil, apperrors.ErrBadRequest.WithMessagef("chat_id is required")
	}
	senderID := normalizeID(input.SenderID)
	if senderID == "" {
		return nil, apperrors.ErrBadRequest.WithMessagef("from_member_id is required")
	}

	timestamp := input.Timestamp
	if timestamp.IsZero() {
		timestamp = s.timeNow().UTC()
	}
	messageType := strings.TrimSpace(input.Type)
	if messageType == "" {
		messageType = "text"
	}

	messageID := normalizeID(input.MessageID)
	if messageID == "" {
		messageID = uuid.NewString()
	}

	message := models.Message{
		ID:         messageID,
		ChatID:     chatID,
		SenderID:   senderID,
		SenderName: strings.TrimSpace(input.SenderName),
		Body:       input.Body,
		Type:       messageType,
		Timestamp:  timestamp,
		CreatedAt:  s.timeNow().UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.Take(&chat, "id = ?", chatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrChatNotFound
			}
			return err
		}

		if err := tx.Create(&message).Error; err != nil {
			return err
		}

		chat.MessageIDs = append(chat.MessageIDs, message.ID)
		chat.UpdatedAt = s.timeNow().UTC()
		return tx.Save(&chat).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("message service: append message: %w", err)
	}

	return &message, nil
}

// History returns the chat's messages in chronological order. A limit of zero
// or less returns the full history; a positive limit returns the most recent
// messages, still oldest first.
func (s *MessageService) History(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	ctx = ensureContext(ctx)

	chatID = normalizeID(chatID)
	if chatID == "" {
		return nil, apperrors.ErrBadRequest.WithMessagef("chat_id is required")
	}

	var exists int64
	if err := s.db.WithContext(ctx).Model(&models.Chat{}).Where("id = ?", chatID).Count(&exists).Error; err != nil {
		return nil, fmt.Errorf("message service: load history: %w", err)
	}
	if exists == 0 {
		return nil, apperrors.ErrChatNotFound
	}

	query := s.db.WithContext(ctx).Where("chat_id = ?", chatID)

	var messages []models.Message
	if limit > 0 {
		if err := query.Order("timestamp DESC").Limit(limit).Find(&messages).Error; err != nil {
			return nil, fmt.Errorf("message service: load history: %w", err)
		}
		reverseMessages(messages)
		return messages, nil
	}

	if err := query.Order("timestamp ASC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("message service: load history: %w", err)
	}
	return messages, nil
}

func reverseMessages(messages []models.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
