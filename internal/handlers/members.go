package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/services"
	apperrors "github.com/parleychat/parley/pkg/errors"
	"github.com/parleychat/parley/pkg/logger"
	"github.com/parleychat/parley/pkg/response"
	"github.com/parleychat/parley/pkg/validator"
)

// MemberHandler exposes the REST signup and lookup surface for members.
// Everything else goes over the websocket; registration happens before a
// client can complete the handshake, so it lives here.
type MemberHandler struct {
	members *services.MemberService
	log     *zap.Logger
}

// NewMemberHandler constructs a MemberHandler.
func NewMemberHandler(members *services.MemberService) *MemberHandler {
	return &MemberHandler{
		members: members,
		log:     logger.WithModule("handlers.members"),
	}
}

// Signup registers a new member.
func (h *MemberHandler) Signup(c *gin.Context) {
	var input services.RegisterMemberInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, apperrors.ErrBadRequest.WithInternal(err))
		return
	}
	if err := validator.ValidateStruct(input); err != nil {
		response.Error(c, apperrors.ErrBadRequest.WithMessagef("%s", err.Error()))
		return
	}

	member, err := h.members.Register(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.log.Info("member registered",
		zap.String("member_id", member.ID),
		zap.String("member_name", member.Name))
	response.Success(c, http.StatusCreated, gin.H{
		"member_id":   member.ID,
		"member_name": member.Name,
	})
}

// Get resolves one member by id.
func (h *MemberHandler) Get(c *gin.Context) {
	member, err := h.members.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, member)
}

// List returns all registered members.
func (h *MemberHandler) List(c *gin.Context) {
	members, err := h.members.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, members)
}
