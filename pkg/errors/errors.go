package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers
// and to websocket clients as a request result.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessagef returns a copy of the AppError with a formatted message.
func (e *AppError) WithMessagef(format string, args ...any) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = fmt.Sprintf(format, args...)
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrMissingIdentity = &AppError{
		Code:       "handshake.missing_identity",
		Message:    "Missing member_id or member_name",
		StatusCode: http.StatusBadRequest,
	}

	ErrMemberNotFound = &AppError{
		Code:       "member.not_found",
		Message:    "Member not found",
		StatusCode: http.StatusNotFound,
	}

	ErrMemberExists = &AppError{
		Code:       "member.exists",
		Message:    "Member already registered",
		StatusCode: http.StatusConflict,
	}

	ErrChatNotFound = &AppError{
		Code:       "chat.not_found",
		Message:    "Chat not found",
		StatusCode: http.StatusNotFound,
	}

	ErrSenderNotInChat = &AppError{
		Code:       "chat.sender_not_member",
		Message:    "Sender not in chat",
		StatusCode: http.StatusForbidden,
	}

	ErrMemberNotInChat = &AppError{
		Code:       "chat.not_a_member",
		Message:    "Member not in chat",
		StatusCode: http.StatusConflict,
	}

	ErrAlreadyJoined = &AppError{
		Code:       "chat.already_joined",
		Message:    "Member already in chat",
		StatusCode: http.StatusConflict,
	}

	ErrAlreadyMember = &AppError{
		Code:       "chat.already_member",
		Message:    "Member of a chat cannot listen in it",
		StatusCode: http.StatusConflict,
	}

	ErrManagerNotRegistered = &AppError{
		Code:       "chat.manager_not_registered",
		Message:    "Chat manager is not registered, register a chat manager first",
		StatusCode: http.StatusConflict,
	}

	ErrManagerOffline = &AppError{
		Code:       "chat.manager_offline",
		Message:    "Chat manager not connected",
		StatusCode: http.StatusConflict,
	}

	ErrNoTargets = &AppError{
		Code:       "command.no_targets",
		Message:    "Target list is empty",
		StatusCode: http.StatusBadRequest,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       ErrInternalServer.Code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError normalises arbitrary errors into an AppError.
func FromError(err error) *AppError {
	if err == nil {
		return ErrInternalServer
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}
