package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/parleychat/parley/internal/delivery"
	"github.com/parleychat/parley/internal/models"
	"github.com/parleychat/parley/internal/services"
	apperrors "github.com/parleychat/parley/pkg/errors"
)

// SendMessageResponse reports the fan-out outcome back to the sender.
type SendMessageResponse struct {
	MessageID       string   `json:"message_id"`
	Status          string   `json:"status"`
	NotAcknowledged []string `json:"not_received_members"`
}

// ChatResponse wraps a chat record for operations that return one.
type ChatResponse struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Data    *models.Chat `json:"data,omitempty"`
}

// PullMembersResponse reports which members actually landed in the chat.
type PullMembersResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Added   []string `json:"added,omitempty"`
}

func (ctrl *Controller) sendMessage(ctx context.Context, envelope Envelope) (any, error) {
	request, err := decodeRequest[SendMessageRequest](envelope)
	if err != nil {
		return nil, err
	}

	if _, err := ctrl.members.Get(ctx, request.SenderID); err != nil {
		return nil, err
	}
	chat, err := ctrl.chats.Get(ctx, request.ChatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasMember(request.SenderID) {
		return nil, apperrors.ErrSenderNotInChat
	}

	if request.Timestamp.IsZero() {
		request.Timestamp = time.Now().UTC()
	}

	message := &models.Message{
		ID:         request.MessageID,
		ChatID:     request.ChatID,
		SenderID:   request.SenderID,
		SenderName: request.SenderName,
		Body:       request.Body,
		Type:       request.Type,
		Timestamp:  request.Timestamp,
	}

	report, err := ctrl.coordinator.DeliverChatMessage(ctx, chat, message)
	if err != nil {
		return nil, err
	}

	// History is written whatever the delivery outcome; recipients that never
	// acknowledged can replay it later.
	if _, err := ctrl.messages.Append(ctx, services.AppendMessageInput{
		MessageID:  request.MessageID,
		ChatID:     request.ChatID,
		SenderID:   request.SenderID,
		SenderName: request.SenderName,
		Body:       request.Body,
		Type:       request.Type,
		Timestamp:  request.Timestamp,
	}); err != nil {
		return nil, err
	}

	return SendMessageResponse{
		MessageID:       request.MessageID,
		Status:          report.Status,
		NotAcknowledged: report.NotAcknowledged,
	}, nil
}

func (ctrl *Controller) createChat(ctx context.Context, session *Session, envelope Envelope) (any, error) {
	request, err := decodeRequest[CreateChatRequest](envelope)
	if err != nil {
		return nil, err
	}

	chat, err := ctrl.chats.Create(ctx, services.CreateChatInput{
		Name:        request.Name,
		CreatedBy:   session.MemberID(),
		IsGroup:     request.IsGroup,
		Description: request.Description,
		Members:     request.Members,
	})
	if err != nil {
		return nil, err
	}

	return ChatResponse{
		Status:  delivery.StatusSuccess,
		Message: "Chat created successfully",
		Data:    chat,
	}, nil
}

func (ctrl *Controller) joinChat(ctx context.Context, session *Session, envelope Envelope) (any, error) {
	request, err := decodeRequest[ChatRequest](envelope)
	if err != nil {
		return nil, err
	}

	chat, err := ctrl.chats.Join(ctx, request.ChatID, session.MemberID())
	if err != nil {
		return nil, err
	}

	return JoinChatResponse{
		ChatID:  chat.ID,
		Members: chat.Members,
		Status:  delivery.StatusSuccess,
	}, nil
}

func (ctrl *Controller) exitChat(ctx context.Context, session *Session, envelope Envelope) (any, error) {
	request, err := decodeRequest[ChatRequest](envelope)
	if err != nil {
		return nil, err
	}

	if _, err := ctrl.chats.Exit(ctx, request.ChatID, session.MemberID()); err != nil {
		return nil, err
	}
	return StatusResponse{
		Status:  delivery.StatusSuccess,
		Message: "Member exited chat successfully",
	}, nil
}

func (ctrl *Controller) deleteChat(ctx context.Context, envelope Envelope) (any, error) {
	request, err := decodeRequest[ChatRequest](envelope)
	if err != nil {
		return nil, err
	}

	if err := ctrl.chats.Delete(ctx, request.ChatID); err != nil {
		return nil, err
	}
	return StatusResponse{
		Status:  delivery.StatusSuccess,
		Message: "Chat deleted successfully",
	}, nil
}

func (ctrl *Controller) getChat(ctx context.Context, envelope Envelope) (any, error) {
	request, err := decodeRequest[ChatRequest](envelope)
	if err != nil {
		return nil, err
	}

	chat, err := ctrl.chats.Get(ctx, request.ChatID)
	if err != nil {
		return nil, err
	}
	return ChatResponse{
		Status:  delivery.StatusSuccess,
		Message: "Chat fetched successfully",
		Data:    chat,
	}, nil
}

func (ctrl *Controller) getChatMembers(ctx context.Context, envelope Envelope) (any, error) {
	request, err := decodeRequest[GetChatMembersRequest](envelope)
	if err != nil {
		return nil, err
	}

	chat, err := ctrl.chats.Get(ctx, request.ChatID)
	if err != nil {
		return nil, err
	}
	if !request.Complete {
		return []string(chat.Members), nil
	}
	return ctrl.members.GetMany(ctx, chat.Members)
}

func (ctrl *Controller) getChatOnlineMembers(ctx context.Context, envelope Envelope) (any, error) {
	request, err := decodeRequest[ChatRequest](envelope)
	if err != nil {
		return nil, err
	}

	chat, err := ctrl.chats.Get(ctx, request.ChatID)
	if err != nil {
		return nil, err
	}
	return lo.Intersect(ctrl.registry.ListOnline(), []string(chat.Members)), nil
}

func (ctrl *Controller) getMember(ctx context.Context, envelope Envelope) (any, error) {
	request, err := decodeRequest[MemberRequest](envelope)
	if err != nil {
		return nil, err
	}
	return ctrl.members.Get(ctx, request.MemberID)
}

func (ctrl *Controller) getMembers(ctx context.Context, envelope Envelope) (any, error) {
	request, err := decodeRequest[MembersRequest](envelope)
	if err != nil {
		return nil, err
	}
	return ctrl.members.GetMany(ctx, request.Members)
}

func (ctrl *Controller) getMemberByName(ctx context.Context, envelope Envelope) (any, error) {
	request, err := decodeRequest[GetMemberByNameRequest](envelope)
	if err != nil {
		return nil, err
	}

	member, err := ctrl.members.GetByName(ctx, request.Name)
	if err != nil {
		return nil, err
	}
	if request.ChatID != "" && !member.InChat(request.ChatID) {
		return nil, apperrors.ErrMemberNotFound.WithMessagef("Member %s not in chat %s", request.Name, request.ChatID)
	}
	return member, nil
}

func (ctrl *Controller) pullMembersIntoChat(ctx context.Context, envelope Envelope) (any, error) {
	request, err := decodeRequest[PullMembersRequest](envelope)
	if err != nil {
		return nil, err
	}

	added, err := ctrl.chats.PullMembers(ctx, request.ChatID, request.Members)
	if err != nil {
		return nil, err
	}
	return PullMembersResponse{
		Status:  delivery.StatusSuccess,
		Message: "Members pulled into chat successfully",
		Added:   added,
	}, nil
}

func (ctrl *Controller) removeMemberFromChat(ctx context.Context, envelope Envelope) (any, error) {
	request, err := decodeRequest[RemoveMemberRequest](envelope)
	if err != nil {
		return nil, err
	}

	if _, err := ctrl.chats.RemoveMember(ctx, request.ChatID, request.MemberID); err != nil {
		return nil, err
	}
	return StatusResponse{
		Status:  delivery.StatusSuccess,
		Message: "Member removed from chat successfully",
	}, nil
}

func (ctrl *Controller) sendCommand(ctx context.Context, session *Session, envelope Envelope) (any, error) {
	request, err := decodeRequest[SendCommandRequest](envelope)
	if err != nil {
		return nil, err
	}

	by := request.By
	if by == "" {
		by = session.MemberID()
	}

	return ctrl.coordinator.DeliverCommand(ctx, request.To, delivery.CommandPayload{
		Command: request.Command,
		By:      by,
		Data:    request.Data,
	})
}

func (ctrl *Controller) nextSpeaker(envelope Envelope) (any, error) {
	request, err := decodeRequest[NextSpeakerRequest](envelope)
	if err != nil {
		return nil, err
	}

	if err := ctrl.coordinator.NotifyMember(request.MemberID, delivery.EventNextSpeaker, map[string]string{
		"chat_id": request.ChatID,
	}); err != nil {
		return nil, err
	}
	return StatusResponse{
		Status:  delivery.StatusSuccess,
		Message: fmt.Sprintf("Next speaker %s notified", request.MemberID),
	}, nil
}

func (ctrl *Controller) loadChatMessages(ctx context.Context, envelope Envelope) (any, error) {
	request, err := decodeRequest[LoadChatMessagesRequest](envelope)
	if err != nil {
		return nil, err
	}
	return ctrl.messages.History(ctx, request.ChatID, request.Count)
}

func (ctrl *Controller) sendChatNotification(ctx context.Context, envelope Envelope) (any, error) {
	request, err := decodeRequest[ChatNotificationRequest](envelope)
	if err != nil {
		return nil, err
	}

	chat, err := ctrl.chats.Get(ctx, request.ToChatID)
	if err != nil {
		return nil, err
	}
	if err := ctrl.coordinator.NotifyManager(chat, delivery.EventChatNotification, request); err != nil {
		return nil, err
	}
	return StatusResponse{
		Status:  delivery.StatusSuccess,
		Message: "Notification forwarded to chat manager",
	}, nil
}

func (ctrl *Controller) registerChatManager(ctx context.Context, session *Session, envelope Envelope) (any, error) {
	request, err := decodeRequest[ChatRequest](envelope)
	if err != nil {
		return nil, err
	}

	if _, err := ctrl.chats.RegisterManager(ctx, request.ChatID, session.MemberID()); err != nil {
		return nil, err
	}
	return StatusResponse{
		Status:  delivery.StatusSuccess,
		Message: fmt.Sprintf("Chat manager: %s registered successfully", session.MemberID()),
	}, nil
}

func (ctrl *Controller) listenInChat(ctx context.Context, session *Session, envelope Envelope) (any, error) {
	request, err := decodeRequest[ChatRequest](envelope)
	if err != nil {
		return nil, err
	}

	if _, err := ctrl.chats.Listen(ctx, request.ChatID, session.MemberID()); err != nil {
		return nil, err
	}
	return StatusResponse{
		Status:  delivery.StatusSuccess,
		Message: fmt.Sprintf("Listener: %s listened in chat: %s successfully", session.MemberID(), request.ChatID),
	}, nil
}

func (ctrl *Controller) unlistenInChat(ctx context.Context, session *Session, envelope Envelope) (any, error) {
	request, err := decodeRequest[ChatRequest](envelope)
	if err != nil {
		return nil, err
	}

	if _, err := ctrl.chats.Unlisten(ctx, request.ChatID, session.MemberID()); err != nil {
		return nil, err
	}
	return StatusResponse{
		Status:  delivery.StatusSuccess,
		Message: fmt.Sprintf("Listener: %s unlistened in chat: %s successfully", session.MemberID(), request.ChatID),
	}, nil
}
