package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/delivery"
	"github.com/parleychat/parley/internal/presence"
	"github.com/parleychat/parley/internal/services"
	apperrors "github.com/parleychat/parley/pkg/errors"
	"github.com/parleychat/parley/pkg/logger"
	"github.com/parleychat/parley/pkg/validator"
)

// Controller owns the websocket endpoint: it authenticates connecting members
// against the member registry, binds their sessions into the presence
// registry and dispatches their requests to the service layer.
type Controller struct {
	registry    *presence.Registry
	coordinator *delivery.Coordinator
	members     *services.MemberService
	chats       *services.ChatService
	messages    *services.MessageService

	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewController constructs a Controller.
func NewController(
	registry *presence.Registry,
	coordinator *delivery.Coordinator,
	members *services.MemberService,
	chats *services.ChatService,
	messages *services.MessageService,
) (*Controller, error) {
	if registry == nil || coordinator == nil {
		return nil, errors.New("gateway: registry and coordinator are required")
	}
	if members == nil || chats == nil || messages == nil {
		return nil, errors.New("gateway: services are required")
	}

	return &Controller{
		registry:    registry,
		coordinator: coordinator,
		members:     members,
		chats:       chats,
		messages:    messages,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Chat clients are standalone programs, not browser pages served
			// by this host, so any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logger.WithModule("gateway"),
	}, nil
}

// HandleWS upgrades the connection and runs the handshake. Identity travels in
// the member_id and member_name query parameters; a connection that fails the
// handshake still receives a structured login response before it is closed.
func (ctrl *Controller) HandleWS(c *gin.Context) {
	memberID := c.Query("member_id")
	memberName := c.Query("member_name")

	socket, err := ctrl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ctrl.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := newSession(socket, memberID, memberName, ctrl.log, func(s *Session) {
		if droppedID, ok := ctrl.registry.RemoveBySession(s); ok {
			ctrl.log.Info("session disconnected", zap.String("member_id", droppedID))
		}
	})

	if memberID == "" || memberName == "" {
		ctrl.rejectLogin(session, LoginResponse{
			Status:  http.StatusBadRequest,
			Message: "Missing member_id or member_name",
		})
		return
	}

	ctx := c.Request.Context()
	if _, err := ctrl.members.Get(ctx, memberID); err != nil {
		if errors.Is(err, apperrors.ErrMemberNotFound) {
			ctrl.rejectLogin(session, LoginResponse{
				Status:  http.StatusNotFound,
				Message: fmt.Sprintf("MemberId %s does not exist", memberID),
			})
			return
		}
		ctrl.log.Error("handshake lookup failed", zap.String("member_id", memberID), zap.Error(err))
		ctrl.rejectLogin(session, LoginResponse{
			Status:  http.StatusInternalServerError,
			Message: "Login failed due to server error",
		})
		return
	}

	if err := ctrl.members.UpdateName(ctx, memberID, memberName); err != nil {
		ctrl.log.Warn("handshake name update failed",
			zap.String("member_id", memberID), zap.Error(err))
	}

	ctrl.registry.Register(memberID, session)
	if err := session.Push(delivery.EventLoginResponse, LoginResponse{
		Status:  http.StatusOK,
		Message: fmt.Sprintf("%s %s login success", memberName, memberID),
		Data:    map[string]any{"member_id": memberID, "member_name": memberName},
	}); err != nil {
		session.Close()
		return
	}

	ctrl.log.Info("member connected",
		zap.String("member_id", memberID),
		zap.String("member_name", memberName))

	session.run(ctrl.dispatch)
}

// rejectLogin delivers the failure then closes, so clients learn why they were
// turned away instead of seeing a bare disconnect. The write happens inline
// because the session's pumps never start for a rejected connection.
func (ctrl *Controller) rejectLogin(session *Session, response LoginResponse) {
	if data, err := json.Marshal(response); err == nil {
		_ = session.socket.SetWriteDeadline(time.Now().Add(writeWait))
		_ = session.socket.WriteJSON(Envelope{Event: delivery.EventLoginResponse, Data: data})
	}
	session.Close()
}

// dispatch routes one client request. Every request gets a reply envelope,
// either the operation result or a structured failure.
func (ctrl *Controller) dispatch(session *Session, envelope Envelope) {
	ctx := context.Background()

	result, err := ctrl.handle(ctx, session, envelope)
	if err != nil {
		appErr := apperrors.FromError(err)
		if appErr.Internal != nil {
			ctrl.log.Error("request failed",
				zap.String("event", envelope.Event),
				zap.String("member_id", session.MemberID()),
				zap.Error(appErr.Internal))
		}
		result = OperationError{Status: delivery.StatusFailed, Code: appErr.Code, Message: appErr.Message}
	}

	if err := session.Respond(envelope.ID, result); err != nil && !errors.Is(err, errSessionClosed) {
		ctrl.log.Warn("response not sent",
			zap.String("event", envelope.Event),
			zap.String("member_id", session.MemberID()),
			zap.Error(err))
	}
}

// handle is the closed set of operations the gateway accepts.
func (ctrl *Controller) handle(ctx context.Context, session *Session, envelope Envelope) (any, error) {
	switch envelope.Event {
	case EventSendMessage:
		return ctrl.sendMessage(ctx, envelope)
	case EventCreateChat:
		return ctrl.createChat(ctx, session, envelope)
	case EventJoinChat:
		return ctrl.joinChat(ctx, session, envelope)
	case EventExitChat:
		return ctrl.exitChat(ctx, session, envelope)
	case EventDeleteChat:
		return ctrl.deleteChat(ctx, envelope)
	case EventGetChat:
		return ctrl.getChat(ctx, envelope)
	case EventGetJoinedChats:
		return ctrl.chats.JoinedChats(ctx, session.MemberID())
	case EventGetCreatedChats:
		return ctrl.chats.CreatedChats(ctx, session.MemberID())
	case EventGetChatMembers:
		return ctrl.getChatMembers(ctx, envelope)
	case EventGetOnlineMembers:
		return ctrl.registry.ListOnline(), nil
	case EventGetChatOnlineMembers:
		return ctrl.getChatOnlineMembers(ctx, envelope)
	case EventGetMember:
		return ctrl.getMember(ctx, envelope)
	case EventGetMembers:
		return ctrl.getMembers(ctx, envelope)
	case EventGetMemberByName:
		return ctrl.getMemberByName(ctx, envelope)
	case EventPullMembersIntoChat:
		return ctrl.pullMembersIntoChat(ctx, envelope)
	case EventRemoveMemberFromChat:
		return ctrl.removeMemberFromChat(ctx, envelope)
	case EventSendCommand:
		return ctrl.sendCommand(ctx, session, envelope)
	case EventNextSpeaker:
		return ctrl.nextSpeaker(envelope)
	case EventLoadChatMessages:
		return ctrl.loadChatMessages(ctx, envelope)
	case EventSendChatNotification:
		return ctrl.sendChatNotification(ctx, envelope)
	case EventRegisterChatManager:
		return ctrl.registerChatManager(ctx, session, envelope)
	case EventListenInChat:
		return ctrl.listenInChat(ctx, session, envelope)
	case EventUnlistenInChat:
		return ctrl.unlistenInChat(ctx, session, envelope)
	default:
		return nil, apperrors.ErrBadRequest.WithMessagef("Unknown event %q", envelope.Event)
	}
}

// decodeRequest unmarshals and validates a request payload.
func decodeRequest[T any](envelope Envelope) (T, error) {
	var request T
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &request); err != nil {
			return request, apperrors.ErrBadRequest.WithMessagef("Malformed %s payload", envelope.Event).WithInternal(err)
		}
	}
	if err := validator.ValidateStruct(request); err != nil {
		return request, apperrors.ErrBadRequest.WithMessagef("%s", err.Error())
	}
	return request, nil
}
