package errors

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")

	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrCallNotFound         = errors.New("call not found")
	ErrRoomNotFound         = errors.New("room not found")
	ErrParticipantNotFound  = errors.New("participant not found")
)

// Ошибки валидации: отклоняются до любой записи в хранилище
var (
	ErrEmptyMessage        = errors.New("message is empty")
	ErrRecordingTooShort   = errors.New("recording is too short")
	ErrMissingCallParams   = errors.New("missing required call parameters")
	ErrInvalidConversation = errors.New("invalid conversation")
	ErrMediaRequired       = errors.New("media url is required for this message type")
)

// Конфликты: обнаруживаются предварительной проверкой, автоматически не повторяются
var (
	ErrAlreadyInCall = errors.New("already in call")
	ErrUserBusy      = errors.New("user is busy")
)

// Ошибки состояния и прав
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotSender         = errors.New("only the sender can modify this message")
	ErrNotEditable       = errors.New("message cannot be edited")
	ErrMessageDeleted    = errors.New("message was deleted")
	ErrNotParticipant    = errors.New("user is not a participant")
	ErrNotAdmin          = errors.New("user is not an admin")
	ErrBlocked           = errors.New("user has blocked you")
)

// Состояние композера
var (
	ErrSendInFlight        = errors.New("another send is in flight")
	ErrSendDisabled        = errors.New("sending is disabled")
	ErrRecordingInProgress = errors.New("recording in progress")
	ErrWillSendWhenOnline  = errors.New("will send when reconnected")
)

// Временные ошибки ввода-вывода: состояние композера сохраняется для ручного повтора
var (
	ErrOffline      = errors.New("offline")
	ErrUploadFailed = errors.New("upload failed")
)

type APIError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
	}
}

func HTTPStatusFromError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case isAny(err, ErrNotFound, ErrConversationNotFound, ErrMessageNotFound, ErrCallNotFound,
		ErrRoomNotFound, ErrParticipantNotFound):
		return http.StatusNotFound
	case isAny(err, ErrUnauthorized, ErrInvalidToken, ErrTokenExpired):
		return http.StatusUnauthorized
	case isAny(err, ErrForbidden, ErrNotSender, ErrNotParticipant, ErrNotAdmin, ErrBlocked):
		return http.StatusForbidden
	case isAny(err, ErrAlreadyInCall, ErrUserBusy, ErrInvalidTransition, ErrSendInFlight):
		return http.StatusConflict
	case isAny(err, ErrBadRequest, ErrEmptyMessage, ErrRecordingTooShort, ErrMissingCallParams,
		ErrInvalidConversation, ErrMediaRequired, ErrNotEditable, ErrMessageDeleted):
		return http.StatusBadRequest
	case isAny(err, ErrOffline, ErrUploadFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
