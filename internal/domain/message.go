package domain

import (
	"strings"
	"time"

	apperrors "social_chat/pkg/errors"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeVideo  MessageType = "video"
	MessageTypeVoice  MessageType = "voice"
	MessageTypeSystem MessageType = "system"
)

func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeVoice, MessageTypeSystem:
		return true
	}
	return false
}

// RequiresMedia - для всех типов, кроме текста и системных, нужен url медиа
func (t MessageType) RequiresMedia() bool {
	return t == MessageTypeImage || t == MessageTypeVideo || t == MessageTypeVoice
}

// DeletedPlaceholder показывается вместо содержимого сообщения, удаленного для всех
const DeletedPlaceholder = "This message was deleted"

// MessageStatus - квитанции: время отправки, доставки и прочтения по пользователям
type MessageStatus struct {
	Sent      *time.Time           `json:"sent,omitempty" bson:"sent"`
	Delivered map[string]time.Time `json:"delivered,omitempty" bson:"delivered"`
	Read      map[string]time.Time `json:"read,omitempty" bson:"read"`
}

// ReplySnapshot - копия цитируемого сообщения на момент ответа, а не живая ссылка
type ReplySnapshot struct {
	MessageID string      `json:"message_id" bson:"messageId"`
	SenderID  string      `json:"sender_id" bson:"senderId"`
	Text      string      `json:"text" bson:"text"`
	Type      MessageType `json:"type" bson:"type"`
}

type ForwardedFrom struct {
	ConversationID string `json:"conversation_id" bson:"conversationId"`
	MessageID      string `json:"message_id" bson:"messageId"`
	SenderID       string `json:"sender_id" bson:"senderId"`
}

type Message struct {
	ID             string              `json:"id" bson:"id"`
	ConversationID string              `json:"conversation_id" bson:"conversationId"`
	SenderID       string              `json:"sender_id" bson:"senderId"`
	Type           MessageType         `json:"type" bson:"type"`
	Text           *string             `json:"text,omitempty" bson:"text"`
	MediaURL       string              `json:"media_url,omitempty" bson:"mediaUrl,omitempty"`
	Duration       int                 `json:"duration,omitempty" bson:"duration,omitempty"`
	CreatedAt      *time.Time          `json:"created_at,omitempty" bson:"createdAt"`
	Status         MessageStatus       `json:"status" bson:"status"`
	IsEdited       bool                `json:"is_edited" bson:"isEdited"`
	EditedAt       *time.Time          `json:"edited_at,omitempty" bson:"editedAt"`
	IsDeleted      bool                `json:"is_deleted" bson:"isDeleted"`
	DeletedFor     []string            `json:"deleted_for,omitempty" bson:"deletedFor"`
	Reactions      map[string][]string `json:"reactions,omitempty" bson:"reactions"`
	ReplyTo        *ReplySnapshot      `json:"reply_to,omitempty" bson:"replyTo"`
	ForwardedFrom  *ForwardedFrom      `json:"forwarded_from,omitempty" bson:"forwardedFrom"`
	TextColor      string              `json:"text_color,omitempty" bson:"textColor,omitempty"`
}

// MessagePayload - то, что композер передает в отправку
type MessagePayload struct {
	ID        string         `json:"id,omitempty"`
	Type      MessageType    `json:"type"`
	Text      string         `json:"text,omitempty"`
	MediaURL  string         `json:"media_url,omitempty"`
	Duration  int            `json:"duration,omitempty"`
	ReplyTo   *ReplySnapshot `json:"reply_to,omitempty"`
	TextColor string         `json:"text_color,omitempty"`
}

// Validate - проверка до любой записи в хранилище
func (p MessagePayload) Validate() error {
	if p.Type == "" {
		p.Type = MessageTypeText
	}
	if !p.Type.IsValid() {
		return apperrors.ErrBadRequest
	}
	if p.Type.RequiresMedia() && strings.TrimSpace(p.MediaURL) == "" {
		return apperrors.ErrMediaRequired
	}
	if !p.Type.RequiresMedia() && strings.TrimSpace(p.Text) == "" {
		return apperrors.ErrEmptyMessage
	}
	return nil
}

func (m *Message) TextValue() string {
	if m.Text == nil {
		return ""
	}
	return *m.Text
}

// Summary - текст для lastMessage беседы и цитат
func (m *Message) Summary() string {
	switch m.Type {
	case MessageTypeImage:
		if m.TextValue() != "" {
			return m.TextValue()
		}
		return "📷 Photo"
	case MessageTypeVideo:
		return "🎥 Video"
	case MessageTypeVoice:
		return "🎤 Voice message"
	default:
		return m.TextValue()
	}
}

func (m *Message) IsDeletedFor(userID string) bool {
	return containsString(m.DeletedFor, userID)
}

func (m *Message) HasReaction(emoji, userID string) bool {
	return containsString(m.Reactions[emoji], userID)
}

// CanEdit: только отправитель, только текст, не удаленное
func (m *Message) CanEdit(userID string) error {
	if m.SenderID != userID {
		return apperrors.ErrNotSender
	}
	if m.IsDeleted {
		return apperrors.ErrMessageDeleted
	}
	if m.Type != MessageTypeText {
		return apperrors.ErrNotEditable
	}
	return nil
}

// Snapshot фиксирует цитату для ответа
func (m *Message) Snapshot() ReplySnapshot {
	return ReplySnapshot{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Text:      m.Summary(),
		Type:      m.Type,
	}
}

// VisibleTo - сообщение скрыто для тех, кто удалил его у себя или очистил чат позже его отправки
func (m *Message) VisibleTo(userID string, clearedAt *time.Time) bool {
	if m.IsDeletedFor(userID) {
		return false
	}
	if clearedAt != nil && m.CreatedAt != nil && !m.CreatedAt.After(*clearedAt) {
		return false
	}
	return true
}

// ForViewer возвращает копию для показа. У удаленного для всех сообщения
// текст, медиа и реакции недоступны никому, остается плейсхолдер.
func (m *Message) ForViewer() *Message {
	out := *m
	if !m.IsDeleted {
		return &out
	}
	placeholder := DeletedPlaceholder
	out.Text = &placeholder
	out.MediaURL = ""
	out.Duration = 0
	out.Reactions = nil
	out.ReplyTo = nil
	return &out
}
