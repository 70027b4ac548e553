package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/parleychat/parley/internal/database/testutil"
	"github.com/parleychat/parley/internal/models"
	apperrors "github.com/parleychat/parley/pkg/errors"
)

func seedMembers(t *testing.T, db *gorm.DB, ids ...string) *MemberService {
	t.Helper()

	svc, err := NewMemberService(db)
	require.NoError(t, err)
	for _, id := range ids {
		_, err := svc.Register(context.Background(), RegisterMemberInput{ID: id, Name: id})
		require.NoError(t, err)
	}
	return svc
}

func TestChatServiceCreateJoinsCreatorAndMembers(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	members := seedMembers(t, db, "creator", "invitee")

	svc, err := NewChatService(db)
	require.NoError(t, err)

	ctx := context.Background()
	chat, err := svc.Create(ctx, CreateChatInput{
		Name:      "planning",
		CreatedBy: "creator",
		IsGroup:   true,
		Members:   []string{"invitee", "ghost"},
	})
	require.NoError(t, err)
	require.True(t, chat.HasMember("creator"))
	require.True(t, chat.HasMember("invitee"))
	require.False(t, chat.HasMember("ghost"))

	creator, err := members.Get(ctx, "creator")
	require.NoError(t, err)
	require.True(t, creator.InChat(chat.ID))
}

func TestChatServiceCreateRequiresRegisteredCreator(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := NewChatService(db)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateChatInput{Name: "orphan", CreatedBy: "nobody"})
	require.ErrorIs(t, err, apperrors.ErrMemberNotFound)
}

func TestChatServiceJoinAndExit(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	members := seedMembers(t, db, "owner", "joiner")

	svc, err := NewChatService(db)
	require.NoError(t, err)

	ctx := context.Background()
	chat, err := svc.Create(ctx, CreateChatInput{Name: "room", CreatedBy: "owner"})
	require.NoError(t, err)

	joined, err := svc.Join(ctx, chat.ID, "joiner")
	require.NoError(t, err)
	require.True(t, joined.HasMember("joiner"))

	_, err = svc.Join(ctx, chat.ID, "joiner")
	require.ErrorIs(t, err, apperrors.ErrAlreadyJoined)

	left, err := svc.Exit(ctx, chat.ID, "joiner")
	require.NoError(t, err)
	require.False(t, left.HasMember("joiner"))

	_, err = svc.Exit(ctx, chat.ID, "joiner")
	require.ErrorIs(t, err, apperrors.ErrMemberNotInChat)

	joiner, err := members.Get(ctx, "joiner")
	require.NoError(t, err)
	require.False(t, joiner.InChat(chat.ID))
}

func TestChatServiceJoinClearsListenerStatus(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	members := seedMembers(t, db, "owner", "watcher")

	svc, err := NewChatService(db)
	require.NoError(t, err)

	ctx := context.Background()
	chat, err := svc.Create(ctx, CreateChatInput{Name: "room", CreatedBy: "owner"})
	require.NoError(t, err)

	_, err = svc.Listen(ctx, chat.ID, "watcher")
	require.NoError(t, err)

	joined, err := svc.Join(ctx, chat.ID, "watcher")
	require.NoError(t, err)
	require.True(t, joined.HasMember("watcher"))
	require.False(t, joined.HasListener("watcher"))

	watcher, err := members.Get(ctx, "watcher")
	require.NoError(t, err)
	require.True(t, watcher.InChat(chat.ID))
	require.False(t, watcher.ListensTo(chat.ID))
}

func TestChatServiceListenRules(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	seedMembers(t, db, "owner", "watcher")

	svc, err := NewChatService(db)
	require.NoError(t, err)

	ctx := context.Background()
	chat, err := svc.Create(ctx, CreateChatInput{Name: "room", CreatedBy: "owner"})
	require.NoError(t, err)

	// Full members cannot listen.
	_, err = svc.Listen(ctx, chat.ID, "owner")
	require.ErrorIs(t, err, apperrors.ErrAlreadyMember)

	listened, err := svc.Listen(ctx, chat.ID, "watcher")
	require.NoError(t, err)
	require.True(t, listened.HasListener("watcher"))

	// Listen is idempotent.
	again, err := svc.Listen(ctx, chat.ID, "watcher")
	require.NoError(t, err)
	require.Equal(t, []string{"watcher"}, []string(again.Listeners))

	silenced, err := svc.Unlisten(ctx, chat.ID, "watcher")
	require.NoError(t, err)
	require.False(t, silenced.HasListener("watcher"))

	// Unlisten is idempotent too.
	_, err = svc.Unlisten(ctx, chat.ID, "watcher")
	require.NoError(t, err)
}

func TestChatServiceDeleteCascades(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	members := seedMembers(t, db, "owner", "peer", "watcher")

	svc, err := NewChatService(db)
	require.NoError(t, err)
	messages, err := NewMessageService(db)
	require.NoError(t, err)

	ctx := context.Background()
	chat, err := svc.Create(ctx, CreateChatInput{Name: "doomed", CreatedBy: "owner", Members: []string{"peer"}})
	require.NoError(t, err)
	_, err = svc.Listen(ctx, chat.ID, "watcher")
	require.NoError(t, err)

	_, err = messages.Append(ctx, AppendMessageInput{ChatID: chat.ID, SenderID: "owner", Body: "goodbye"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, chat.ID))

	_, err = svc.Get(ctx, chat.ID)
	require.ErrorIs(t, err, apperrors.ErrChatNotFound)

	var orphanCount int64
	require.NoError(t, db.Model(&models.Message{}).Where("chat_id = ?", chat.ID).Count(&orphanCount).Error)
	require.Zero(t, orphanCount)

	for _, id := range []string{"owner", "peer", "watcher"} {
		member, err := members.Get(ctx, id)
		require.NoError(t, err)
		require.False(t, member.InChat(chat.ID))
		require.False(t, member.ListensTo(chat.ID))
	}

	require.ErrorIs(t, svc.Delete(ctx, chat.ID), apperrors.ErrChatNotFound)
}

func TestChatServicePullMembers(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	seedMembers(t, db, "owner", "pulled-1", "pulled-2")

	svc, err := NewChatService(db)
	require.NoError(t, err)

	ctx := context.Background()
	chat, err := svc.Create(ctx, CreateChatInput{Name: "room", CreatedBy: "owner"})
	require.NoError(t, err)

	added, err := svc.PullMembers(ctx, chat.ID, []string{"pulled-1", "pulled-2", "owner", "ghost"})
	require.NoError(t, err)
	require.Equal(t, []string{"pulled-1", "pulled-2"}, added)

	reloaded, err := svc.Get(ctx, chat.ID)
	require.NoError(t, err)
	require.True(t, reloaded.HasMember("pulled-1"))
	require.True(t, reloaded.HasMember("pulled-2"))
}

func TestChatServiceManagerRegistration(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	seedMembers(t, db, "owner", "manager")

	svc, err := NewChatService(db)
	require.NoError(t, err)

	ctx := context.Background()
	chat, err := svc.Create(ctx, CreateChatInput{Name: "managed", CreatedBy: "owner"})
	require.NoError(t, err)
	require.Nil(t, chat.ManagerID)

	updated, err := svc.RegisterManager(ctx, chat.ID, "manager")
	require.NoError(t, err)
	require.NotNil(t, updated.ManagerID)
	require.Equal(t, "manager", *updated.ManagerID)

	_, err = svc.RegisterManager(ctx, chat.ID, "ghost")
	require.ErrorIs(t, err, apperrors.ErrMemberNotFound)
}

func TestChatServiceExitClearsManager(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	seedMembers(t, db, "owner", "manager")

	svc, err := NewChatService(db)
	require.NoError(t, err)

	ctx := context.Background()
	chat, err := svc.Create(ctx, CreateChatInput{Name: "managed", CreatedBy: "owner", Members: []string{"manager"}})
	require.NoError(t, err)

	_, err = svc.RegisterManager(ctx, chat.ID, "manager")
	require.NoError(t, err)

	left, err := svc.Exit(ctx, chat.ID, "manager")
	require.NoError(t, err)
	require.Nil(t, left.ManagerID)
}

func TestChatServiceJoinedAndCreatedChats(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	seedMembers(t, db, "owner", "other")

	svc, err := NewChatService(db)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := svc.Create(ctx, CreateChatInput{Name: "first", CreatedBy: "owner"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, CreateChatInput{Name: "second", CreatedBy: "other", Members: []string{"owner"}})
	require.NoError(t, err)

	joined, err := svc.JoinedChats(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, joined, 2)

	created, err := svc.CreatedChats(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, first.ID, created[0].ID)

	members, err := svc.Members(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
}
