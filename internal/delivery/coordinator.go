package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/models"
	"github.com/parleychat/parley/internal/presence"
	apperrors "github.com/parleychat/parley/pkg/errors"
	"github.com/parleychat/parley/pkg/logger"
	"github.com/parleychat/parley/pkg/metrics"
)

// Events pushed from the server to connected clients.
const (
	EventReceiveMessage   = "receive-message"
	EventReceiveCommand   = "receive-command"
	EventNextSpeaker      = "next-speaker"
	EventChatNotification = "receive-notification-from-chat"
	EventLoginResponse    = "receive-login-response"
)

const defaultAckTimeout = 3 * time.Second

// Delivery statuses reported back to senders.
const (
	StatusSuccess = "success"
	StatusPending = "pending"
	StatusFailed  = "failed"
)

// Report summarises one message fan-out.
type Report struct {
	MessageID string `json:"message_id"`
	// Status is success only when every recipient confirmed receipt in time,
	// pending otherwise.
	Status string `json:"status"`
	// NotAcknowledged lists every recipient without a confirmed receipt:
	// members that never answered within the acknowledgment window and
	// members that had no live session at fan-out time.
	NotAcknowledged []string `json:"not_received_members"`
	// Unreachable narrows NotAcknowledged to the recipients that had no live
	// session at fan-out time. Always a subset of NotAcknowledged.
	Unreachable []string `json:"unreachable_members,omitempty"`
}

// CommandPayload is the body forwarded to each command target.
type CommandPayload struct {
	Command string         `json:"command"`
	By      string         `json:"by"`
	Data    map[string]any `json:"data,omitempty"`
}

// CommandEcho identifies which command invocation a result belongs to.
type CommandEcho struct {
	Command string `json:"command"`
	By      string `json:"by"`
	To      string `json:"to"`
}

// CommandResult carries one target's response to a command.
type CommandResult struct {
	Member  string          `json:"member,omitempty"`
	Command *CommandEcho    `json:"command,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Coordinator fans chat messages and commands out to live sessions and
// aggregates acknowledgments through the status tracker.
type Coordinator struct {
	registry   *presence.Registry
	tracker    *StatusTracker
	ackTimeout time.Duration
	log        *zap.Logger
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(registry *presence.Registry, tracker *StatusTracker, ackTimeout time.Duration) (*Coordinator, error) {
	if registry == nil {
		return nil, errors.New("delivery: registry is required")
	}
	if tracker == nil {
		return nil, errors.New("delivery: status tracker is required")
	}
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	return &Coordinator{
		registry:   registry,
		tracker:    tracker,
		ackTimeout: ackTimeout,
		log:        logger.WithModule("delivery"),
	}, nil
}

// DeliverChatMessage fans the message out to every chat member except the
// sender, plus the chat's listeners, each delivery bounded by the
// acknowledgment timeout. Recipients with no live session count as not
// acknowledged, so the report is only a success when every recipient was
// online and confirmed receipt. The caller persists the message afterwards
// regardless of the report.
func (c *Coordinator) DeliverChatMessage(ctx context.Context, chat *models.Chat, message *models.Message) (*Report, error) {
	if chat == nil || message == nil {
		return nil, errors.New("delivery: chat and message are required")
	}

	started := time.Now()
	defer func() {
		metrics.FanoutDuration.Observe(time.Since(started).Seconds())
	}()

	recipients := lo.Uniq(append(
		lo.Without([]string(chat.Members), message.SenderID),
		[]string(chat.Listeners)...,
	))

	sessions := make(map[string]presence.Session, len(recipients))
	var unreachable []string
	for _, recipient := range recipients {
		if session, ok := c.registry.Lookup(recipient); ok {
			sessions[recipient] = session
		} else {
			unreachable = append(unreachable, recipient)
		}
	}
	sort.Strings(unreachable)
	metrics.MessagesDelivered.WithLabelValues(metrics.OutcomeUnreachable).Add(float64(len(unreachable)))

	report := &Report{
		MessageID:       message.ID,
		Status:          StatusSuccess,
		NotAcknowledged: []string{},
		Unreachable:     unreachable,
	}
	if len(unreachable) > 0 {
		report.Status = StatusPending
		report.NotAcknowledged = unreachable
	}
	if len(sessions) == 0 {
		return report, nil
	}

	if err := c.tracker.Initialize(ctx, message.ID, lo.Keys(sessions)); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	for recipient, session := range sessions {
		wg.Add(1)
		go func(recipient string, session presence.Session) {
			defer wg.Done()

			deliverCtx, cancel := context.WithTimeout(ctx, c.ackTimeout)
			defer cancel()

			ack, err := session.Deliver(deliverCtx, EventReceiveMessage, message)
			if err != nil {
				c.log.Warn("message delivery failed",
					zap.String("message_id", message.ID),
					zap.String("member_id", recipient),
					zap.Error(err))
				return
			}
			if !ackAccepted(ack) {
				c.log.Warn("message delivery rejected",
					zap.String("message_id", message.ID),
					zap.String("member_id", recipient))
				return
			}
			if err := c.tracker.MarkAcknowledged(ctx, message.ID, recipient); err != nil {
				c.log.Error("acknowledgment not recorded",
					zap.String("message_id", message.ID),
					zap.String("member_id", recipient),
					zap.Error(err))
			}
		}(recipient, session)
	}
	wg.Wait()

	pending, exists, err := c.tracker.Pending(ctx, message.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		if err := c.tracker.Complete(ctx, message.ID); err != nil {
			c.log.Warn("status record cleanup failed",
				zap.String("message_id", message.ID), zap.Error(err))
		}
	}

	if merged := append(pending, unreachable...); len(merged) > 0 {
		sort.Strings(merged)
		report.Status = StatusPending
		report.NotAcknowledged = merged
	}
	metrics.MessagesDelivered.WithLabelValues(metrics.OutcomeAcknowledged).Add(float64(len(sessions) - len(pending)))
	metrics.MessagesDelivered.WithLabelValues(metrics.OutcomeUnacknowledged).Add(float64(len(pending)))

	return report, nil
}

// DeliverCommand forwards the command to each target and collects their
// responses, preserving target order. An empty target list fails fast.
func (c *Coordinator) DeliverCommand(ctx context.Context, targets []string, payload CommandPayload) ([]CommandResult, error) {
	if len(targets) == 0 {
		return nil, apperrors.ErrNoTargets
	}

	results := make([]CommandResult, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()

			session, ok := c.registry.Lookup(target)
			if !ok {
				results[i] = CommandResult{Member: target, Error: "Client not connected"}
				return
			}

			deliverCtx, cancel := context.WithTimeout(ctx, c.ackTimeout)
			defer cancel()

			ack, err := session.Deliver(deliverCtx, EventReceiveCommand, payload)
			if err != nil {
				results[i] = CommandResult{Member: target, Error: err.Error()}
				return
			}
			results[i] = CommandResult{
				Result:  ack,
				Command: &CommandEcho{Command: payload.Command, By: payload.By, To: target},
			}
		}(i, target)
	}
	wg.Wait()

	return results, nil
}

// NotifyMember pushes an event to one member without waiting for an
// acknowledgment.
func (c *Coordinator) NotifyMember(memberID, event string, payload any) error {
	session, ok := c.registry.Lookup(memberID)
	if !ok {
		return apperrors.ErrMemberNotFound.WithMessagef("Member %s not connected", memberID)
	}
	return session.Push(event, payload)
}

// NotifyManager pushes an event to the chat's registered manager.
func (c *Coordinator) NotifyManager(chat *models.Chat, event string, payload any) error {
	if chat == nil {
		return apperrors.ErrChatNotFound
	}
	if chat.ManagerID == nil || *chat.ManagerID == "" {
		return apperrors.ErrManagerNotRegistered
	}

	session, ok := c.registry.Lookup(*chat.ManagerID)
	if !ok {
		return apperrors.ErrManagerOffline
	}
	return session.Push(event, payload)
}

// ackAccepted interprets an acknowledgment body. Clients answer with a bare
// true; an explicit false declines the message, anything else counts as
// receipt.
func ackAccepted(ack json.RawMessage) bool {
	var accepted bool
	if err := json.Unmarshal(ack, &accepted); err == nil {
		return accepted
	}
	return true
}
