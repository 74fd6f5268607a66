package domain

import (
	"time"

	apperrors "social_chat/pkg/errors"
)

type CallType string

const (
	CallTypeVoice      CallType = "voice"
	CallTypeVideo      CallType = "video"
	CallTypeGroupVoice CallType = "group_voice"
	CallTypeGroupVideo CallType = "group_video"
)

func (t CallType) IsValid() bool {
	switch t {
	case CallTypeVoice, CallTypeVideo, CallTypeGroupVoice, CallTypeGroupVideo:
		return true
	}
	return false
}

func (t CallType) IsGroup() bool {
	return t == CallTypeGroupVoice || t == CallTypeGroupVideo
}

func (t CallType) IsVideo() bool {
	return t == CallTypeVideo || t == CallTypeGroupVideo
}

type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusAnswered CallStatus = "answered"
	CallStatusDeclined CallStatus = "declined"
	CallStatusMissed   CallStatus = "missed"
	CallStatusBusy     CallStatus = "busy"
	CallStatusEnded    CallStatus = "ended"
)

// TerminalCallStatuses - статусы, после которых звонок уже не идет
var TerminalCallStatuses = []CallStatus{CallStatusDeclined, CallStatusMissed, CallStatusBusy, CallStatusEnded}

// CanTransitionTo - переходы только вперед: ringing -> answered|declined|missed|busy -> ended.
// В ringing не возвращается ничто, из ended не выходит ничто.
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	switch s {
	case CallStatusRinging:
		switch next {
		case CallStatusAnswered, CallStatusDeclined, CallStatusMissed, CallStatusBusy:
			return true
		}
	case CallStatusAnswered, CallStatusDeclined, CallStatusMissed, CallStatusBusy:
		return next == CallStatusEnded
	}
	return false
}

func (s CallStatus) Transition(next CallStatus) (CallStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, apperrors.ErrInvalidTransition
	}
	return next, nil
}

func (s CallStatus) IsTerminal() bool {
	return s != CallStatusRinging && s != CallStatusAnswered
}

type CallParticipant struct {
	UserID       string     `json:"user_id" bson:"userId"`
	UserName     string     `json:"user_name" bson:"userName"`
	ProfileImage string     `json:"profile_image,omitempty" bson:"profileImage"`
	JoinedAt     *time.Time `json:"joined_at,omitempty" bson:"joinedAt"`
	IsMuted      bool       `json:"is_muted" bson:"isMuted"`
	IsSpeaking   bool       `json:"is_speaking" bson:"isSpeaking"`
}

// Call - документ звонка. ID совпадает с именем канала медиасервера.
type Call struct {
	ID             string            `json:"id" bson:"id"`
	CallerID       string            `json:"caller_id" bson:"callerId"`
	CallerName     string            `json:"caller_name" bson:"callerName"`
	CallerImage    string            `json:"caller_image,omitempty" bson:"callerImage"`
	ReceiverID     string            `json:"receiver_id,omitempty" bson:"receiverId,omitempty"`
	GroupID        string            `json:"group_id,omitempty" bson:"groupId,omitempty"`
	CallType       CallType          `json:"call_type" bson:"callType"`
	Status         CallStatus        `json:"status" bson:"status"`
	CreatedAt      *time.Time        `json:"created_at,omitempty" bson:"createdAt"`
	AnsweredAt     *time.Time        `json:"answered_at,omitempty" bson:"answeredAt"`
	EndedAt        *time.Time        `json:"ended_at,omitempty" bson:"endedAt"`
	Duration       int               `json:"duration" bson:"duration"`
	ChannelName    string            `json:"channel_name" bson:"channelName"`
	Participants   []CallParticipant `json:"participants,omitempty" bson:"participants"`
	ParticipantIDs []string          `json:"participant_ids,omitempty" bson:"participantIds"`
	IsActive       bool              `json:"is_active" bson:"isActive"`
}

// CallRequest - параметры инициации звонка
type CallRequest struct {
	CallerID    string   `json:"caller_id"`
	CallerName  string   `json:"caller_name" binding:"required"`
	CallerImage string   `json:"caller_image"`
	ReceiverID  string   `json:"receiver_id"`
	GroupID     string   `json:"group_id"`
	CallType    CallType `json:"call_type" binding:"required"`
}

func (r CallRequest) Validate() error {
	if r.CallerID == "" || r.CallerName == "" || !r.CallType.IsValid() {
		return apperrors.ErrMissingCallParams
	}
	if r.CallType.IsGroup() {
		if r.GroupID == "" || r.ReceiverID != "" {
			return apperrors.ErrMissingCallParams
		}
		return nil
	}
	if r.ReceiverID == "" || r.GroupID != "" || r.ReceiverID == r.CallerID {
		return apperrors.ErrMissingCallParams
	}
	return nil
}

func (c *Call) IsGroup() bool {
	return c.CallType.IsGroup()
}

func (c *Call) HasParticipant(userID string) bool {
	return containsString(c.ParticipantIDs, userID)
}

func (c *Call) Participant(userID string) (CallParticipant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return CallParticipant{}, false
}

// Involves - пользователь звонит, ему звонят или он в группе звонка
func (c *Call) Involves(userID string) bool {
	return c.CallerID == userID || c.ReceiverID == userID || c.HasParticipant(userID)
}
