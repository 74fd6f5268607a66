package repository

import (
	"context"
	"errors"
	"time"

	"social_chat/internal/docstore"
	"social_chat/internal/domain"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

const conversationsCollection = "conversations"

type ConversationRepository interface {
	Create(ctx context.Context, conv *domain.Conversation) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]*domain.Conversation, error)
	// SetLastMessage обновляет сводку последнего сообщения и увеличивает счетчики непрочитанных у unreadFor
	SetLastMessage(ctx context.Context, id string, last domain.LastMessage, unreadFor []string) error
	SetTyping(ctx context.Context, id, userID string) error
	ClearTyping(ctx context.Context, id, userID string) error
	AddParticipants(ctx context.Context, id string, userIDs ...string) error
	RemoveParticipant(ctx context.Context, id, userID string) error
	AddAdmin(ctx context.Context, id, userID string) error
	UpdateSettings(ctx context.Context, id, userID string, changes map[string]interface{}) error
	SetPinned(ctx context.Context, id, userID, messageID string, pinned bool) error
	StampSetting(ctx context.Context, id, userID, field string) error
	Watch(ctx context.Context, id string, fn func(*domain.Conversation)) (docstore.Unsubscribe, error)
	WatchForUser(ctx context.Context, userID string, fn func([]*domain.Conversation)) (docstore.Unsubscribe, error)
}

type conversationRepository struct {
	store docstore.Store
	log   logger.Logger
}

func NewConversationRepository(store docstore.Store, log logger.Logger) ConversationRepository {
	return &conversationRepository{store: store, log: log}
}

func conversationRef(id string) docstore.Ref {
	return docstore.Doc(conversationsCollection, id)
}

func settingsPath(userID, field string) string {
	return docstore.FieldPath("userSettings", userID, field)
}

func (r *conversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	conv.Participants = emptyIfNil(conv.Participants)
	conv.Admins = emptyIfNil(conv.Admins)
	if conv.UnreadCount == nil {
		conv.UnreadCount = make(map[string]int, len(conv.Participants))
		for _, p := range conv.Participants {
			conv.UnreadCount[p] = 0
		}
	}
	if conv.Typing == nil {
		conv.Typing = map[string]time.Time{}
	}
	if conv.UserSettings == nil {
		conv.UserSettings = make(map[string]domain.UserSettings, len(conv.Participants))
		for _, p := range conv.Participants {
			conv.UserSettings[p] = defaultSettings()
		}
	}

	if err := r.store.Create(ctx, conversationRef(conv.ID), conv, "createdAt"); err != nil {
		if !errors.Is(err, docstore.ErrAlreadyExists) {
			r.log.Error("Failed to create conversation", "error", err, "conversation_id", conv.ID)
		}
		return err
	}
	return nil
}

func defaultSettings() domain.UserSettings {
	return domain.UserSettings{
		PinnedMessages:      []string{},
		CustomNotifications: domain.NotifyAll,
	}
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	snap, err := r.store.Get(ctx, conversationRef(id))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperrors.ErrConversationNotFound
		}
		r.log.Error("Failed to get conversation", "error", err, "conversation_id", id)
		return nil, err
	}

	conv := &domain.Conversation{}
	if err := snap.DataTo(conv); err != nil {
		r.log.Error("Failed to decode conversation", "error", err, "conversation_id", id)
		return nil, err
	}
	return conv, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID string, limit int) ([]*domain.Conversation, error) {
	q := docstore.NewQuery(conversationsCollection).
		Where("participants", docstore.OpArrayContains, userID).
		Order("lastMessageTime", true)
	if limit > 0 {
		q = q.Take(limit)
	}

	snaps, err := r.store.Query(ctx, q)
	if err != nil {
		r.log.Error("Failed to list conversations", "error", err, "user_id", userID)
		return nil, err
	}
	return decodeAll[domain.Conversation](snaps, r.log), nil
}

func (r *conversationRepository) SetLastMessage(ctx context.Context, id string, last domain.LastMessage, unreadFor []string) error {
	updates := []docstore.Update{
		docstore.Set("lastMessage.text", last.Text),
		docstore.Set("lastMessage.senderId", last.SenderID),
		docstore.Set("lastMessage.type", string(last.Type)),
		docstore.ServerTimestamp("lastMessage.timestamp"),
		docstore.ServerTimestamp("lastMessageTime"),
	}
	for _, uid := range unreadFor {
		updates = append(updates, docstore.Increment(docstore.FieldPath("unreadCount", uid), 1))
	}
	return r.update(ctx, id, "Failed to update last message", updates...)
}

func (r *conversationRepository) SetTyping(ctx context.Context, id, userID string) error {
	return r.update(ctx, id, "Failed to set typing", docstore.ServerTimestamp(docstore.FieldPath("typing", userID)))
}

func (r *conversationRepository) ClearTyping(ctx context.Context, id, userID string) error {
	return r.update(ctx, id, "Failed to clear typing", docstore.DeleteField(docstore.FieldPath("typing", userID)))
}

func (r *conversationRepository) AddParticipants(ctx context.Context, id string, userIDs ...string) error {
	values := make([]interface{}, 0, len(userIDs))
	updates := make([]docstore.Update, 0, len(userIDs)*2+1)
	for _, uid := range userIDs {
		values = append(values, uid)
		updates = append(updates,
			docstore.Set(docstore.FieldPath("unreadCount", uid), 0),
			docstore.Set(docstore.FieldPath("userSettings", uid), defaultSettings()),
		)
	}
	updates = append(updates, docstore.ArrayUnion("participants", values...))
	return r.update(ctx, id, "Failed to add participants", updates...)
}

// RemoveParticipant убирает пользователя и из админов, чтобы admins оставался подмножеством participants
func (r *conversationRepository) RemoveParticipant(ctx context.Context, id, userID string) error {
	return r.update(ctx, id, "Failed to remove participant",
		docstore.ArrayRemove("participants", userID),
		docstore.ArrayRemove("admins", userID),
		docstore.DeleteField(docstore.FieldPath("unreadCount", userID)),
		docstore.DeleteField(docstore.FieldPath("typing", userID)),
		docstore.DeleteField(docstore.FieldPath("userSettings", userID)),
	)
}

func (r *conversationRepository) AddAdmin(ctx context.Context, id, userID string) error {
	return r.update(ctx, id, "Failed to add admin", docstore.ArrayUnion("admins", userID))
}

func (r *conversationRepository) UpdateSettings(ctx context.Context, id, userID string, changes map[string]interface{}) error {
	if len(changes) == 0 {
		return nil
	}
	updates := make([]docstore.Update, 0, len(changes))
	for field, value := range changes {
		updates = append(updates, docstore.Set(settingsPath(userID, field), value))
	}
	return r.update(ctx, id, "Failed to update user settings", updates...)
}

func (r *conversationRepository) SetPinned(ctx context.Context, id, userID, messageID string, pinned bool) error {
	path := settingsPath(userID, "pinnedMessages")
	if pinned {
		return r.update(ctx, id, "Failed to pin message", docstore.ArrayUnion(path, messageID))
	}
	return r.update(ctx, id, "Failed to unpin message", docstore.ArrayRemove(path, messageID))
}

// StampSetting проставляет серверное время в userSettings.<uid>.<field> (clearedAt, lastSeen)
func (r *conversationRepository) StampSetting(ctx context.Context, id, userID, field string) error {
	return r.update(ctx, id, "Failed to stamp user setting", docstore.ServerTimestamp(settingsPath(userID, field)))
}

func (r *conversationRepository) Watch(ctx context.Context, id string, fn func(*domain.Conversation)) (docstore.Unsubscribe, error) {
	return r.store.Watch(ctx, conversationRef(id), func(snap *docstore.Snapshot) {
		if !snap.Exists {
			fn(nil)
			return
		}
		conv := &domain.Conversation{}
		if err := snap.DataTo(conv); err != nil {
			r.log.Warn("Failed to decode watched conversation", "error", err, "conversation_id", id)
			return
		}
		fn(conv)
	})
}

func (r *conversationRepository) WatchForUser(ctx context.Context, userID string, fn func([]*domain.Conversation)) (docstore.Unsubscribe, error) {
	q := docstore.NewQuery(conversationsCollection).
		Where("participants", docstore.OpArrayContains, userID).
		Order("lastMessageTime", true)
	return r.store.WatchQuery(ctx, q, func(snaps []*docstore.Snapshot) {
		fn(decodeAll[domain.Conversation](snaps, r.log))
	})
}

func (r *conversationRepository) update(ctx context.Context, id, failure string, updates ...docstore.Update) error {
	if err := r.store.Update(ctx, conversationRef(id), updates...); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return apperrors.ErrConversationNotFound
		}
		r.log.Error(failure, "error", err, "conversation_id", id)
		return err
	}
	return nil
}
