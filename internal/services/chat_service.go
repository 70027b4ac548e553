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

// CreateChatInput defines attributes required to create a chat.
type CreateChatInput struct {
	Name        string   `json:"name" validate:"required,max=255"`
	CreatedBy   string   `json:"created_by" validate:"required"`
	IsGroup     bool     `json:"is_group"`
	Description string   `json:"description" validate:"omitempty,max=1024"`
	Members     []string `json:"members" validate:"omitempty,dive,required"`
}

// ChatService manages chats, their membership rolls and listener rolls.
// Membership state is written on both sides of the relation: the chat row
// carries the roll, and each member row carries its joined and listened chat
// ids. Both sides are updated inside one transaction.
type ChatService struct {
	db      *gorm.DB
	timeNow func() time.Time
}

// NewChatService constructs a ChatService.
func NewChatService(db *gorm.DB) (*ChatService, error) {
	if db == nil {
		return nil, errors.New("chat service: db is required")
	}
	return &ChatService{db: db, timeNow: time.Now}, nil
}

// Create persists a new chat. The creator always joins as a full member;
// additional member ids are joined when they resolve to registered members and
// silently skipped otherwise.
func (s *ChatService) Create(ctx context.Context, input CreateChatInput) (*models.Chat, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.ErrBadRequest.WithMessagef("chat name is required")
	}
	creatorID := normalizeID(input.CreatedBy)
	if creatorID == "" {
		return nil, apperrors.ErrBadRequest.WithMessagef("created_by is required")
	}

	now := s.timeNow().UTC()
	chat := models.Chat{
		ID:          uuid.NewString(),
		Name:        name,
		IsGroup:     input.IsGroup,
		CreatedBy:   creatorID,
		Description: strings.TrimSpace(input.Description),
		Members:     []string{},
		Listeners:   []string{},
		MessageIDs:  []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	initial := make([]string, 0, len(input.Members)+1)
	initial = append(initial, creatorID)
	for _, id := range input.Members {
		if id = normalizeID(id); id != "" {
			initial = append(initial, id)
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, memberID := range initial {
			member, err := lockMember(tx, memberID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if memberID == creatorID {
					return apperrors.ErrMemberNotFound
				}
				continue
			}
			if err != nil {
				return err
			}
			chat.Members, _ = appendUnique(chat.Members, memberID)
			member.Chats, _ = appendUnique(member.Chats, chat.ID)
			member.ListenChats, _ = removeID(member.ListenChats, chat.ID)
			member.UpdatedAt = now
			if err := tx.Save(member).Error; err != nil {
				return err
			}
		}
		return tx.Create(&chat).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("chat service: create chat: %w", err)
	}

	return &chat, nil
}

// Get resolves a chat by id.
func (s *ChatService) Get(ctx context.Context, chatID string) (*models.Chat, error) {
	ctx = ensureContext(ctx)

	chatID = normalizeID(chatID)
	if chatID == "" {
		return nil, apperrors.ErrBadRequest.WithMessagef("chat_id is required")
	}

	var chat models.Chat
	err := s.db.WithContext(ctx).Take(&chat, "id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chat service: get chat: %w", err)
	}
	return &chat, nil
}

// Join adds the member to the chat roll. Joining clears any listener status
// the member held for the chat, keeping the two rolls disjoint. Joining a chat
// the member already belongs to is a conflict.
func (s *ChatService) Join(ctx context.Context, chatID, memberID string) (*models.Chat, error) {
	ctx = ensureContext(ctx)

	var result *models.Chat
	err := s.withChatAndMember(ctx, chatID, memberID, func(tx *gorm.DB, chat *models.Chat, member *models.Member) error {
		updated, added := appendUnique(chat.Members, member.ID)
		if !added {
			return apperrors.ErrAlreadyJoined
		}
		chat.Members = updated
		chat.Listeners, _ = removeID(chat.Listeners, member.ID)
		member.Chats, _ = appendUnique(member.Chats, chat.ID)
		member.ListenChats, _ = removeID(member.ListenChats, chat.ID)

		if err := s.saveBoth(tx, chat, member); err != nil {
			return err
		}
		result = chat
		return nil
	})
	return result, err
}

// Exit removes the member from the chat roll.
func (s *ChatService) Exit(ctx context.Context, chatID, memberID string) (*models.Chat, error) {
	ctx = ensureContext(ctx)

	var result *models.Chat
	err := s.withChatAndMember(ctx, chatID, memberID, func(tx *gorm.DB, chat *models.Chat, member *models.Member) error {
		updated, removed := removeID(chat.Members, member.ID)
		if !removed {
			return apperrors.ErrMemberNotInChat
		}
		chat.Members = updated
		member.Chats, _ = removeID(member.Chats, chat.ID)
		if chat.ManagerID != nil && *chat.ManagerID == member.ID {
			chat.ManagerID = nil
		}

		if err := s.saveBoth(tx, chat, member); err != nil {
			return err
		}
		result = chat
		return nil
	})
	return result, err
}

// Delete removes the chat, its message history and every reference to it held
// by member rows. The cascade runs in one transaction so a failure leaves no
// dangling chat ids behind.
func (s *ChatService) Delete(ctx context.Context, chatID string) error {
	ctx = ensureContext(ctx)

	chatID = normalizeID(chatID)
	if chatID == "" {
		return apperrors.ErrBadRequest.WithMessagef("chat_id is required")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.Take(&chat, "id = ?", chatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrChatNotFound
			}
			return err
		}

		affected := make([]string, 0, len(chat.Members)+len(chat.Listeners))
		affected = append(affected, chat.Members...)
		affected = append(affected, chat.Listeners...)

		now := s.timeNow().UTC()
		for _, memberID := range affected {
			member, err := lockMember(tx, memberID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			member.Chats, _ = removeID(member.Chats, chat.ID)
			member.ListenChats, _ = removeID(member.ListenChats, chat.ID)
			member.UpdatedAt = now
			if err := tx.Save(member).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("chat_id = ?", chat.ID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&chat).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return fmt.Errorf("chat service: delete chat: %w", err)
	}
	return nil
}

// Members resolves the chat's full-member records.
func (s *ChatService) Members(ctx context.Context, chatID string) ([]models.Member, error) {
	ctx = ensureContext(ctx)

	chat, err := s.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if len(chat.Members) == 0 {
		return nil, nil
	}

	var members []models.Member
	if err := s.db.WithContext(ctx).Where("id IN ?", []string(chat.Members)).Find(&members).Error; err != nil {
		return nil, fmt.Errorf("chat service: chat members: %w", err)
	}
	return members, nil
}

// JoinedChats resolves the chats the member is a full member of. The member
// row's chat list is the source of truth, which keeps the query portable
// across the supported databases.
func (s *ChatService) JoinedChats(ctx context.Context, memberID string) ([]models.Chat, error) {
	ctx = ensureContext(ctx)

	var member models.Member
	err := s.db.WithContext(ctx).Take(&member, "id = ?", normalizeID(memberID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chat service: joined chats: %w", err)
	}
	if len(member.Chats) == 0 {
		return nil, nil
	}

	var chats []models.Chat
	if err := s.db.WithContext(ctx).Where("id IN ?", []string(member.Chats)).Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("chat service: joined chats: %w", err)
	}
	return chats, nil
}

// CreatedChats resolves the chats the member created, newest first.
func (s *ChatService) CreatedChats(ctx context.Context, memberID string) ([]models.Chat, error) {
	ctx = ensureContext(ctx)

	memberID = normalizeID(memberID)
	if memberID == "" {
		return nil, apperrors.ErrBadRequest.WithMessagef("member_id is required")
	}

	var chats []models.Chat
	if err := s.db.WithContext(ctx).
		Where("created_by = ?", memberID).
		Order("created_at DESC").
		Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("chat service: created chats: %w", err)
	}
	return chats, nil
}

// PullMembers joins each registered member in memberIDs into the chat and
// returns the ids actually added. Ids that are unregistered or already on the
// roll are skipped rather than failing the batch.
func (s *ChatService) PullMembers(ctx context.Context, chatID string, memberIDs []string) ([]string, error) {
	ctx = ensureContext(ctx)

	chatID = normalizeID(chatID)
	if chatID == "" {
		return nil, apperrors.ErrBadRequest.WithMessagef("chat_id is required")
	}

	var added []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.Take(&chat, "id = ?", chatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrChatNotFound
			}
			return err
		}

		now := s.timeNow().UTC()
		for _, rawID := range memberIDs {
			memberID := normalizeID(rawID)
			if memberID == "" || chat.HasMember(memberID) {
				continue
			}
			member, err := lockMember(tx, memberID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			chat.Members, _ = appendUnique(chat.Members, memberID)
			chat.Listeners, _ = removeID(chat.Listeners, memberID)
			member.Chats, _ = appendUnique(member.Chats, chat.ID)
			member.ListenChats, _ = removeID(member.ListenChats, chat.ID)
			member.UpdatedAt = now
			if err := tx.Save(member).Error; err != nil {
				return err
			}
			added = append(added, memberID)
		}

		if len(added) == 0 {
			return nil
		}
		chat.UpdatedAt = now
		return tx.Save(&chat).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("chat service: pull members: %w", err)
	}
	return added, nil
}

// RemoveMember ejects a member from the chat roll on another member's
// request. It shares Exit's semantics.
func (s *ChatService) RemoveMember(ctx context.Context, chatID, memberID string) (*models.Chat, error) {
	return s.Exit(ctx, chatID, memberID)
}

// RegisterManager designates a registered member as the chat's manager. The
// manager answers next-speaker arbitration requests for the chat.
func (s *ChatService) RegisterManager(ctx context.Context, chatID, managerID string) (*models.Chat, error) {
	ctx = ensureContext(ctx)

	var result *models.Chat
	err := s.withChatAndMember(ctx, chatID, managerID, func(tx *gorm.DB, chat *models.Chat, member *models.Member) error {
		chat.ManagerID = &member.ID
		chat.UpdatedAt = s.timeNow().UTC()
		if err := tx.Save(chat).Error; err != nil {
			return err
		}
		result = chat
		return nil
	})
	return result, err
}

// Listen adds the member to the chat's listener roll. Full members cannot
// listen; repeated listen requests are idempotent.
func (s *ChatService) Listen(ctx context.Context, chatID, memberID string) (*models.Chat, error) {
	ctx = ensureContext(ctx)

	var result *models.Chat
	err := s.withChatAndMember(ctx, chatID, memberID, func(tx *gorm.DB, chat *models.Chat, member *models.Member) error {
		if chat.HasMember(member.ID) {
			return apperrors.ErrAlreadyMember
		}

		var changed bool
		chat.Listeners, changed = appendUnique(chat.Listeners, member.ID)
		member.ListenChats, _ = appendUnique(member.ListenChats, chat.ID)
		if changed {
			if err := s.saveBoth(tx, chat, member); err != nil {
				return err
			}
		}
		result = chat
		return nil
	})
	return result, err
}

// Unlisten removes the member from the chat's listener roll. Unlistening a
// chat the member never listened to is a no-op.
func (s *ChatService) Unlisten(ctx context.Context, chatID, memberID string) (*models.Chat, error) {
	ctx = ensureContext(ctx)

	var result *models.Chat
	err := s.withChatAndMember(ctx, chatID, memberID, func(tx *gorm.DB, chat *models.Chat, member *models.Member) error {
		var changed bool
		chat.Listeners, changed = removeID(chat.Listeners, member.ID)
		member.ListenChats, _ = removeID(member.ListenChats, chat.ID)
		if changed {
			if err := s.saveBoth(tx, chat, member); err != nil {
				return err
			}
		}
		result = chat
		return nil
	})
	return result, err
}

// withChatAndMember loads both rows inside a transaction, applies fn and maps
// storage errors to API errors.
func (s *ChatService) withChatAndMember(ctx context.Context, chatID, memberID string, fn func(tx *gorm.DB, chat *models.Chat, member *models.Member) error) error {
	chatID = normalizeID(chatID)
	if chatID == "" {
		return apperrors.ErrBadRequest.WithMessagef("chat_id is required")
	}
	memberID = normalizeID(memberID)
	if memberID == "" {
		return apperrors.ErrBadRequest.WithMessagef("member_id is required")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.Take(&chat, "id = ?", chatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrChatNotFound
			}
			return err
		}

		member, err := lockMember(tx, memberID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrMemberNotFound
		}
		if err != nil {
			return err
		}

		return fn(tx, &chat, member)
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return fmt.Errorf("chat service: %w", err)
	}
	return nil
}

func (s *ChatService) saveBoth(tx *gorm.DB, chat *models.Chat, member *models.Member) error {
	now := s.timeNow().UTC()
	chat.UpdatedAt = now
	member.UpdatedAt = now
	if err := tx.Save(chat).Error; err != nil {
		return err
	}
	return tx.Save(member).Error
}

func lockMember(tx *gorm.DB, memberID string) (*models.Member, error) {
	var member models.Member
	if err := tx.Take(&member, "id = ?", memberID).Error; err != nil {
		return nil, err
	}
	return &member, nil
}
