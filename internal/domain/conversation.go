package domain

import (
	"sort"
	"strings"
	"time"

	apperrors "social_chat/pkg/errors"
)

type ConversationType string

const (
	ConversationTypeOneToOne ConversationType = "one-to-one"
	ConversationTypeGroup    ConversationType = "group"
)

type NotificationPreference string

const (
	NotifyAll      NotificationPreference = "all"
	NotifyMentions NotificationPreference = "mentions"
	NotifyOff      NotificationPreference = "off"
)

func (p NotificationPreference) IsValid() bool {
	switch p {
	case NotifyAll, NotifyMentions, NotifyOff:
		return true
	}
	return false
}

// TypingTTL - запись typing.<uid> старше этого считается протухшей (клиент упал посреди набора)
const TypingTTL = 5 * time.Second

// LastMessage - денормализованная сводка последнего сообщения беседы
type LastMessage struct {
	Text      string      `json:"text" bson:"text"`
	SenderID  string      `json:"sender_id" bson:"senderId"`
	Type      MessageType `json:"type" bson:"type"`
	Timestamp *time.Time  `json:"timestamp,omitempty" bson:"timestamp"`
}

// UserSettings - персональные настройки участника беседы
type UserSettings struct {
	Muted               bool                   `json:"muted" bson:"muted"`
	MutedUntil          *time.Time             `json:"muted_until,omitempty" bson:"mutedUntil"`
	Archived            bool                   `json:"archived" bson:"archived"`
	PinnedMessages      []string               `json:"pinned_messages" bson:"pinnedMessages"`
	ClearedAt           *time.Time             `json:"cleared_at,omitempty" bson:"clearedAt"`
	CustomNotifications NotificationPreference `json:"custom_notifications" bson:"customNotifications"`
	LastSeen            *time.Time             `json:"last_seen,omitempty" bson:"lastSeen"`
}

type Conversation struct {
	ID              string                  `json:"id" bson:"id"`
	Type            ConversationType        `json:"type" bson:"type"`
	Participants    []string                `json:"participants" bson:"participants"`
	GroupName       string                  `json:"group_name,omitempty" bson:"groupName,omitempty"`
	GroupIcon       string                  `json:"group_icon,omitempty" bson:"groupIcon,omitempty"`
	Admins          []string                `json:"admins,omitempty" bson:"admins"`
	CreatedBy       string                  `json:"created_by" bson:"createdBy"`
	CreatedAt       *time.Time              `json:"created_at,omitempty" bson:"createdAt"`
	LastMessage     *LastMessage            `json:"last_message,omitempty" bson:"lastMessage,omitempty"`
	LastMessageTime *time.Time              `json:"last_message_time,omitempty" bson:"lastMessageTime,omitempty"`
	UnreadCount     map[string]int          `json:"unread_count" bson:"unreadCount"`
	Typing          map[string]time.Time    `json:"typing" bson:"typing"`
	UserSettings    map[string]UserSettings `json:"user_settings" bson:"userSettings"`
}

// DirectConversationID - детерминированный id беседы один-на-один, не зависит от порядка участников
func DirectConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// Validate проверяет инварианты: у личной беседы не меньше двух участников,
// админы группы - подмножество участников.
func (c *Conversation) Validate() error {
	switch c.Type {
	case ConversationTypeOneToOne:
		if len(uniqueStrings(c.Participants)) < 2 {
			return apperrors.ErrInvalidConversation
		}
	case ConversationTypeGroup:
		if len(c.Participants) == 0 {
			return apperrors.ErrInvalidConversation
		}
		for _, admin := range c.Admins {
			if !c.IsParticipant(admin) {
				return apperrors.ErrInvalidConversation
			}
		}
	default:
		return apperrors.ErrInvalidConversation
	}
	return nil
}

func (c *Conversation) IsParticipant(userID string) bool {
	return containsString(c.Participants, userID)
}

func (c *Conversation) IsAdmin(userID string) bool {
	return containsString(c.Admins, userID)
}

// OtherParticipants - все участники, кроме userID
func (c *Conversation) OtherParticipants(userID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

func (c *Conversation) SettingsFor(userID string) UserSettings {
	if s, ok := c.UserSettings[userID]; ok {
		return s
	}
	return UserSettings{CustomNotifications: NotifyAll}
}

// IsMutedFor учитывает срок mutedUntil: по его истечении беседа считается размьюченной
func (c *Conversation) IsMutedFor(userID string, now time.Time) bool {
	s := c.SettingsFor(userID)
	if !s.Muted {
		return false
	}
	return s.MutedUntil == nil || now.Before(*s.MutedUntil)
}

// TypingUsers возвращает тех, кто печатает сейчас, отбрасывая записи старше ttl
func (c *Conversation) TypingUsers(now time.Time, ttl time.Duration, exclude string) []string {
	var out []string
	for uid, at := range c.Typing {
		if uid == exclude {
			continue
		}
		if now.Sub(at) < ttl {
			out = append(out, uid)
		}
	}
	sort.Strings(out)
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func uniqueStrings(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
