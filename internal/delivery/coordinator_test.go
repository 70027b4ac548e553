package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/models"
	"github.com/parleychat/parley/internal/presence"
	apperrors "github.com/parleychat/parley/pkg/errors"
)

// scriptedSession acknowledges or fails deliveries according to its script.
type scriptedSession struct {
	id       string
	memberID string

	mu      sync.Mutex
	ack     json.RawMessage
	err     error
	pushes  []string
	deliver []string
}

func newScriptedSession(memberID string) *scriptedSession {
	return &scriptedSession{
		id:       "conn-" + memberID,
		memberID: memberID,
		ack:      json.RawMessage(`true`),
	}
}

func (s *scriptedSession) ID() string       { return s.id }
func (s *scriptedSession) MemberID() string { return s.memberID }
func (s *scriptedSession) Alive() bool      { return true }

func (s *scriptedSession) Deliver(_ context.Context, event string, _ any) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver = append(s.deliver, event)
	return s.ack, s.err
}

func (s *scriptedSession) Push(event string, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes = append(s.pushes, event)
	return nil
}

func newTestCoordinator(t *testing.T, registry *presence.Registry) *Coordinator {
	t.Helper()

	tracker, err := NewStatusTracker(newMemoryStore(), TrackerOptions{
		TTL:          time.Minute,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	coordinator, err := NewCoordinator(registry, tracker, 50*time.Millisecond)
	require.NoError(t, err)
	return coordinator
}

func groupChat(members, listeners []string) *models.Chat {
	return &models.Chat{
		ID:        "chat-1",
		Name:      "room",
		IsGroup:   true,
		CreatedBy: members[0],
		Members:   members,
		Listeners: listeners,
	}
}

func TestDeliverChatMessageAllAcknowledged(t *testing.T) {
	registry := presence.NewRegistry()
	bob := newScriptedSession("bob")
	carol := newScriptedSession("carol")
	registry.Register("bob", bob)
	registry.Register("carol", carol)

	coordinator := newTestCoordinator(t, registry)
	chat := groupChat([]string{"alice", "bob", "carol"}, nil)
	message := &models.Message{ID: "msg-1", ChatID: chat.ID, SenderID: "alice", Body: "hi"}

	report, err := coordinator.DeliverChatMessage(context.Background(), chat, message)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, report.Status)
	assert.Empty(t, report.NotAcknowledged)
	assert.Empty(t, report.Unreachable)
	assert.Equal(t, []string{EventReceiveMessage}, bob.deliver)
	assert.Equal(t, []string{EventReceiveMessage}, carol.deliver)
}

func TestDeliverChatMessageExcludesSenderAndIncludesListeners(t *testing.T) {
	registry := presence.NewRegistry()
	sender := newScriptedSession("alice")
	listener := newScriptedSession("lena")
	registry.Register("alice", sender)
	registry.Register("lena", listener)

	coordinator := newTestCoordinator(t, registry)
	chat := groupChat([]string{"alice"}, []string{"lena"})
	message := &models.Message{ID: "msg-1", ChatID: chat.ID, SenderID: "alice", Body: "hi"}

	report, err := coordinator.DeliverChatMessage(context.Background(), chat, message)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, report.Status)
	assert.Empty(t, sender.deliver)
	assert.Equal(t, []string{EventReceiveMessage}, listener.deliver)
}

func TestDeliverChatMessageReportsPending(t *testing.T) {
	registry := presence.NewRegistry()
	fine := newScriptedSession("bob")
	broken := newScriptedSession("carol")
	broken.err = errors.New("write failed")
	registry.Register("bob", fine)
	registry.Register("carol", broken)

	coordinator := newTestCoordinator(t, registry)
	chat := groupChat([]string{"alice", "bob", "carol"}, nil)
	message := &models.Message{ID: "msg-1", ChatID: chat.ID, SenderID: "alice", Body: "hi"}

	report, err := coordinator.DeliverChatMessage(context.Background(), chat, message)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, report.Status)
	assert.Equal(t, []string{"carol"}, report.NotAcknowledged)
}

func TestDeliverChatMessageDeclinedAck(t *testing.T) {
	registry := presence.NewRegistry()
	declining := newScriptedSession("bob")
	declining.ack = json.RawMessage(`false`)
	registry.Register("bob", declining)

	coordinator := newTestCoordinator(t, registry)
	chat := groupChat([]string{"alice", "bob"}, nil)
	message := &models.Message{ID: "msg-1", ChatID: chat.ID, SenderID: "alice", Body: "hi"}

	report, err := coordinator.DeliverChatMessage(context.Background(), chat, message)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, report.Status)
	assert.Equal(t, []string{"bob"}, report.NotAcknowledged)
}

func TestDeliverChatMessageOfflineRecipients(t *testing.T) {
	registry := presence.NewRegistry()
	online := newScriptedSession("bob")
	registry.Register("bob", online)

	coordinator := newTestCoordinator(t, registry)
	chat := groupChat([]string{"alice", "bob", "carol"}, []string{"lena"})
	message := &models.Message{ID: "msg-1", ChatID: chat.ID, SenderID: "alice", Body: "hi"}

	report, err := coordinator.DeliverChatMessage(context.Background(), chat, message)
	require.NoError(t, err)
	// Offline recipients count as not acknowledged even though the online
	// ones all confirmed.
	assert.Equal(t, StatusPending, report.Status)
	assert.Equal(t, []string{"carol", "lena"}, report.NotAcknowledged)
	assert.Equal(t, []string{"carol", "lena"}, report.Unreachable)
	assert.Equal(t, []string{EventReceiveMessage}, online.deliver)
}

func TestDeliverChatMessageNobodyOnline(t *testing.T) {
	coordinator := newTestCoordinator(t, presence.NewRegistry())
	chat := groupChat([]string{"alice", "bob"}, nil)
	message := &models.Message{ID: "msg-1", ChatID: chat.ID, SenderID: "alice", Body: "hi"}

	report, err := coordinator.DeliverChatMessage(context.Background(), chat, message)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, report.Status)
	assert.Equal(t, []string{"bob"}, report.NotAcknowledged)
	assert.Equal(t, []string{"bob"}, report.Unreachable)
}

func TestDeliverChatMessageMergesOfflineAndUnacknowledged(t *testing.T) {
	registry := presence.NewRegistry()
	acking := newScriptedSession("bob")
	silent := newScriptedSession("dave")
	silent.err = errors.New("write failed")
	registry.Register("bob", acking)
	registry.Register("dave", silent)

	coordinator := newTestCoordinator(t, registry)
	chat := groupChat([]string{"alice", "bob", "carol", "dave"}, nil)
	message := &models.Message{ID: "msg-1", ChatID: chat.ID, SenderID: "alice", Body: "hi"}

	report, err := coordinator.DeliverChatMessage(context.Background(), chat, message)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, report.Status)
	assert.Equal(t, []string{"carol", "dave"}, report.NotAcknowledged)
	assert.Equal(t, []string{"carol"}, report.Unreachable)
}

func TestDeliverCommandPreservesTargetOrder(t *testing.T) {
	registry := presence.NewRegistry()
	first := newScriptedSession("bob")
	first.ack = json.RawMessage(`"done"`)
	registry.Register("bob", first)

	coordinator := newTestCoordinator(t, registry)
	results, err := coordinator.DeliverCommand(context.Background(), []string{"bob", "ghost"}, CommandPayload{
		Command: "speak",
		By:      "alice",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, json.RawMessage(`"done"`), results[0].Result)
	require.NotNil(t, results[0].Command)
	assert.Equal(t, "bob", results[0].Command.To)
	assert.Equal(t, "speak", results[0].Command.Command)

	assert.Equal(t, "ghost", results[1].Member)
	assert.Equal(t, "Client not connected", results[1].Error)
}

func TestDeliverCommandRequiresTargets(t *testing.T) {
	coordinator := newTestCoordinator(t, presence.NewRegistry())

	_, err := coordinator.DeliverCommand(context.Background(), nil, CommandPayload{Command: "speak"})
	require.ErrorIs(t, err, apperrors.ErrNoTargets)
}

func TestNotifyMember(t *testing.T) {
	registry := presence.NewRegistry()
	session := newScriptedSession("bob")
	registry.Register("bob", session)

	coordinator := newTestCoordinator(t, registry)
	require.NoError(t, coordinator.NotifyMember("bob", EventNextSpeaker, map[string]string{"chat_id": "chat-1"}))
	assert.Equal(t, []string{EventNextSpeaker}, session.pushes)

	err := coordinator.NotifyMember("ghost", EventNextSpeaker, nil)
	require.Error(t, err)
}

func TestNotifyManager(t *testing.T) {
	registry := presence.NewRegistry()
	manager := newScriptedSession("boss")
	registry.Register("boss", manager)

	coordinator := newTestCoordinator(t, registry)

	managerID := "boss"
	chat := groupChat([]string{"alice", "boss"}, nil)
	chat.ManagerID = &managerID

	require.NoError(t, coordinator.NotifyManager(chat, EventChatNotification, map[string]string{"note": "hello"}))
	assert.Equal(t, []string{EventChatNotification}, manager.pushes)

	chat.ManagerID = nil
	require.ErrorIs(t, coordinator.NotifyManager(chat, EventChatNotification, nil), apperrors.ErrManagerNotRegistered)

	offline := "nobody"
	chat.ManagerID = &offline
	require.ErrorIs(t, coordinator.NotifyManager(chat, EventChatNotification, nil), apperrors.ErrManagerOffline)
}
