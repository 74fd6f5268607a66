package domain

import "time"

type AuditLog struct {
	ID             int64                  `json:"id"`
	EventTime      time.Time              `json:"event_time"`
	ActorUserID    string                 `json:"actor_user_id"`
	ConversationID *string                `json:"conversation_id,omitempty"`
	CallID         *string                `json:"call_id,omitempty"`
	EventType      string                 `json:"event_type"`
	Payload        map[string]interface{} `json:"payload"`
}

const (
	EventTypeMessageDeleted     = "MESSAGE_DELETED"
	EventTypeParticipantAdded   = "PARTICIPANT_ADDED"
	EventTypeParticipantRemoved = "PARTICIPANT_REMOVED"
	EventTypeAdminPromoted      = "ADMIN_PROMOTED"
	EventTypeChatCleared        = "CHAT_CLEARED"
	EventTypeUserBlocked        = "USER_BLOCKED"
	EventTypeUserUnblocked      = "USER_UNBLOCKED"
	EventTypeCallArchived       = "CALL_ARCHIVED"
	EventTypeRoomEnded          = "ROOM_ENDED"
)

// CallRecord - строка архива звонков, переносимая из документного хранилища при очистке
type CallRecord struct {
	CallID     string     `json:"call_id"`
	CallerID   string     `json:"caller_id"`
	ReceiverID *string    `json:"receiver_id,omitempty"`
	GroupID    *string    `json:"group_id,omitempty"`
	CallType   CallType   `json:"call_type"`
	Status     CallStatus `json:"status"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Duration   int        `json:"duration"`
	ArchivedAt time.Time  `json:"archived_at"`
}

func NewCallRecord(c *Call, archivedAt time.Time) *CallRecord {
	rec := &CallRecord{
		CallID:     c.ID,
		CallerID:   c.CallerID,
		CallType:   c.CallType,
		Status:     c.Status,
		CreatedAt:  c.CreatedAt,
		AnsweredAt: c.AnsweredAt,
		EndedAt:    c.EndedAt,
		Duration:   c.Duration,
		ArchivedAt: archivedAt,
	}
	if c.ReceiverID != "" {
		rec.ReceiverID = &c.ReceiverID
	}
	if c.GroupID != "" {
		rec.GroupID = &c.GroupID
	}
	return rec
}
