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

// RegisterMemberInput defines attributes required to register a member.
type RegisterMemberInput struct {
	ID          string `json:"member_id" validate:"omitempty,max=128"`
	Name        string `json:"member_name" validate:"required,max=255"`
	Description string `json:"description" validate:"omitempty,max=1024"`
}

// MemberService manages durable member identities.
type MemberService struct {
	db      *gorm.DB
	timeNow func() time.Time
}

// NewMemberService constructs a MemberService.
func NewMemberService(db *gorm.DB) (*MemberService, error) {
	if db == nil {
		return nil, errors.New("member service: db is required")
	}
	return &MemberService{db: db, timeNow: time.Now}, nil
}

// Register persists a new member. A caller-supplied id is honoured; otherwise
// one is generated. Registering an id that already exists is a conflict.
func (s *MemberService) Register(ctx context.Context, input RegisterMemberInput) (*models.Member, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.ErrBadRequest.WithMessagef("member_name is required")
	}

	id := normalizeID(input.ID)
	if id == "" {
		id = uuid.NewString()
	}

	now := s.timeNow().UTC()
	member := models.Member{
		ID:          id,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Chats:       []string{},
		ListenChats: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.db.WithContext(ctx).Create(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.ErrMemberExists
		}
		var existing models.Member
		if lookupErr := s.db.WithContext(ctx).Take(&existing, "id = ?", id).Error; lookupErr == nil {
			return nil, apperrors.ErrMemberExists
		}
		return nil, fmt.Errorf("member service: create member: %w", err)
	}

	return &member, nil
}

// UpdateName stores a new display name for the member. Connecting clients
// present their current name at handshake time and the record follows it.
func (s *MemberService) UpdateName(ctx context.Context, memberID, name string) error {
	ctx = ensureContext(ctx)

	memberID = normalizeID(memberID)
	name = strings.TrimSpace(name)
	if memberID == "" || name == "" {
		return apperrors.ErrBadRequest.WithMessagef("member_id and member_name are required")
	}

	res := s.db.WithContext(ctx).Model(&models.Member{}).
		Where("id = ?", memberID).
		Updates(map[string]any{"name": name, "updated_at": s.timeNow().UTC()})
	if res.Error != nil {
		return fmt.Errorf("member service: update name: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrMemberNotFound
	}
	return nil
}

// Get resolves a member by id.
func (s *MemberService) Get(ctx context.Context, memberID string) (*models.Member, error) {
	ctx = ensureContext(ctx)

	memberID = normalizeID(memberID)
	if memberID == "" {
		return nil, apperrors.ErrBadRequest.WithMessagef("member_id is required")
	}

	var member models.Member
	err := s.db.WithContext(ctx).Take(&member, "id = ?", memberID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("member service: get member: %w", err)
	}
	return &member, nil
}

// GetByName resolves a member by display name. Names are not unique; the
// oldest registration wins, matching lookup semantics clients rely on.
func (s *MemberService) GetByName(ctx context.Context, name string) (*models.Member, error) {
	ctx = ensureContext(ctx)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.ErrBadRequest.WithMessagef("member_name is required")
	}

	var member models.Member
	err := s.db.WithContext(ctx).
		Where("name = ?", name).
		Order("created_at ASC").
		Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("member service: get member by name: %w", err)
	}
	return &member, nil
}

// List returns all registered members ordered by registration time.
func (s *MemberService) List(ctx context.Context) ([]models.Member, error) {
	ctx = ensureContext(ctx)

	var members []models.Member
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("member service: list members: %w", err)
	}
	return members, nil
}

// GetMany resolves a batch of member ids, skipping ids with no record.
func (s *MemberService) GetMany(ctx context.Context, memberIDs []string) ([]models.Member, error) {
	ctx = ensureContext(ctx)

	if len(memberIDs) == 0 {
		return nil, nil
	}

	var members []models.Member
	if err := s.db.WithContext(ctx).Where("id IN ?", memberIDs).Find(&members).Error; err != nil {
		return nil, fmt.Errorf("member service: get members: %w", err)
	}
	return members, nil
}

// Exists reports whether a member id is registered.
func (s *MemberService) Exists(ctx context.Context, memberID string) (bool, error) {
	ctx = ensureContext(ctx)

	memberID = normalizeID(memberID)
	if memberID == "" {
		return false, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Member{}).Where("id = ?", memberID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("member service: check member: %w", err)
	}
	return count > 0, nil
}
