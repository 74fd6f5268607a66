package domain

import "time"

// VoiceRoom - живая аудиокомната сообщества. Отдельна от Call: нет статусов, только состав.
type VoiceRoom struct {
	ID           string     `json:"id" bson:"id"`
	CommunityID  string     `json:"community_id" bson:"communityId"`
	GroupID      string     `json:"group_id,omitempty" bson:"groupId,omitempty"`
	Title        string     `json:"title" bson:"title"`
	CreatedBy    string     `json:"created_by" bson:"createdBy"`
	CreatedAt    *time.Time `json:"created_at,omitempty" bson:"createdAt"`
	Participants []string   `json:"participants" bson:"participants"`
	// FeedEntryID - запись voice_room в ленте группы, гасится при завершении
	FeedEntryID string `json:"feed_entry_id,omitempty" bson:"feedEntryId,omitempty"`
}

func (r *VoiceRoom) HasParticipant(userID string) bool {
	return containsString(r.Participants, userID)
}

type RoomChatMessage struct {
	ID         string     `json:"id" bson:"id"`
	SenderID   string     `json:"sender_id" bson:"senderId"`
	SenderName string     `json:"sender_name" bson:"senderName"`
	Text       string     `json:"text" bson:"text"`
	CreatedAt  *time.Time `json:"created_at,omitempty" bson:"createdAt"`
}

const FeedEntryTypeVoiceRoom = "voice_room"

// GroupFeedEntry - сообщение в ленте группы сообщества, ссылающееся на комнату
type GroupFeedEntry struct {
	ID        string     `json:"id" bson:"id"`
	Type      string     `json:"type" bson:"type"`
	RoomID    string     `json:"room_id" bson:"roomId"`
	SenderID  string     `json:"sender_id" bson:"senderId"`
	Text      string     `json:"text" bson:"text"`
	IsActive  bool       `json:"is_active" bson:"isActive"`
	CreatedAt *time.Time `json:"created_at,omitempty" bson:"createdAt"`
}

// SpeakingThreshold - участник считается говорящим при громкости выше порога
const SpeakingThreshold = 5
