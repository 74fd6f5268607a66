package domain

import "time"

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
	PresenceAway    PresenceStatus = "away"
)

func (s PresenceStatus) IsValid() bool {
	switch s {
	case PresenceOnline, PresenceOffline, PresenceAway:
		return true
	}
	return false
}

type ActiveConversation struct {
	OpenedAt     time.Time `json:"opened_at"`
	LastActivity time.Time `json:"last_activity"`
}

type Presence struct {
	UserID              string                        `json:"user_id"`
	Status              PresenceStatus                `json:"status"`
	LastSeen            time.Time                     `json:"last_seen"`
	CurrentDevice       string                        `json:"current_device,omitempty"`
	ActiveConversations map[string]ActiveConversation `json:"active_conversations,omitempty"`
}

// IsViewing - пользователь онлайн и открывал беседу не раньше чем window назад.
// Таким пользователям не увеличиваем счетчик непрочитанных.
func (p *Presence) IsViewing(conversationID string, now time.Time, window time.Duration) bool {
	if p == nil || p.Status != PresenceOnline {
		return false
	}
	active, ok := p.ActiveConversations[conversationID]
	if !ok {
		return false
	}
	return now.Sub(active.LastActivity) <= window
}
