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

type MessageRepository interface {
	// Create пишет сообщение; createdAt и status.sent проставляет хранилище
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, conversationID, id string) (*domain.Message, error)
	GetMany(ctx context.Context, conversationID string, ids []string) ([]*domain.Message, error)
	List(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error)
	Update(ctx context.Context, conversationID, id string, updates ...docstore.Update) error
	// MarkRead одним батчем ставит status.read.<uid> на сообщения и обнуляет unreadCount.<uid>
	MarkRead(ctx context.Context, conversationID, userID string, ids []string) error
	MarkDelivered(ctx context.Context, conversationID, userID string, ids []string) error
	Watch(ctx context.Context, conversationID string, limit int, fn func([]*domain.Message)) (docstore.Unsubscribe, error)
}

type messageRepository struct {
	store docstore.Store
	log   logger.Logger
}

func NewMessageRepository(store docstore.Store, log logger.Logger) MessageRepository {
	return &messageRepository{store: store, log: log}
}

func messagesCollection(conversationID string) string {
	return conversationRef(conversationID).Sub("messages")
}

func messageRef(conversationID, id string) docstore.Ref {
	return docstore.Doc(messagesCollection(conversationID), id)
}

func (r *messageRepository) Create(ctx context.Context, msg *domain.Message) error {
	msg.DeletedFor = emptyIfNil(msg.DeletedFor)
	if msg.Reactions == nil {
		msg.Reactions = map[string][]string{}
	}
	if msg.Status.Delivered == nil {
		msg.Status.Delivered = map[string]time.Time{}
	}
	if msg.Status.Read == nil {
		msg.Status.Read = map[string]time.Time{}
	}

	if err := r.store.Create(ctx, messageRef(msg.ConversationID, msg.ID), msg, "createdAt", "status.sent"); err != nil {
		r.log.Error("Failed to create message", "error", err, "conversation_id", msg.ConversationID, "message_id", msg.ID)
		return err
	}
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, conversationID, id string) (*domain.Message, error) {
	snap, err := r.store.Get(ctx, messageRef(conversationID, id))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperrors.ErrMessageNotFound
		}
		r.log.Error("Failed to get message", "error", err, "conversation_id", conversationID, "message_id", id)
		return nil, err
	}

	msg := &domain.Message{}
	if err := snap.DataTo(msg); err != nil {
		r.log.Error("Failed to decode message", "error", err, "message_id", id)
		return nil, err
	}
	return msg, nil
}

// GetMany пропускает отсутствующие id
func (r *messageRepository) GetMany(ctx context.Context, conversationID string, ids []string) ([]*domain.Message, error) {
	out := make([]*domain.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := r.GetByID(ctx, conversationID, id)
		if errors.Is(err, apperrors.ErrMessageNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// List возвращает последние limit сообщений в порядке createdAt
func (r *messageRepository) List(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	snaps, err := r.store.Query(ctx, latestMessages(conversationID, limit))
	if err != nil {
		r.log.Error("Failed to list messages", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	return chronological(decodeAll[domain.Message](snaps, r.log)), nil
}

func (r *messageRepository) Update(ctx context.Context, conversationID, id string, updates ...docstore.Update) error {
	if err := r.store.Update(ctx, messageRef(conversationID, id), updates...); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return apperrors.ErrMessageNotFound
		}
		r.log.Error("Failed to update message", "error", err, "conversation_id", conversationID, "message_id", id)
		return err
	}
	return nil
}

func (r *messageRepository) MarkRead(ctx context.Context, conversationID, userID string, ids []string) error {
	writes := r.receiptWrites(conversationID, "read", userID, ids)
	writes = append(writes, docstore.Write{
		Ref:     conversationRef(conversationID),
		Updates: []docstore.Update{docstore.Set(docstore.FieldPath("unreadCount", userID), 0)},
	})
	if err := r.store.BatchUpdate(ctx, writes); err != nil {
		r.log.Error("Failed to mark messages as read", "error", err, "conversation_id", conversationID, "user_id", userID)
		return err
	}
	return nil
}

func (r *messageRepository) MarkDelivered(ctx context.Context, conversationID, userID string, ids []string) error {
	writes := r.receiptWrites(conversationID, "delivered", userID, ids)
	if len(writes) == 0 {
		return nil
	}
	if err := r.store.BatchUpdate(ctx, writes); err != nil {
		r.log.Error("Failed to mark messages as delivered", "error", err, "conversation_id", conversationID, "user_id", userID)
		return err
	}
	return nil
}

func (r *messageRepository) receiptWrites(conversationID, receipt, userID string, ids []string) []docstore.Write {
	writes := make([]docstore.Write, 0, len(ids)+1)
	for _, id := range ids {
		writes = append(writes, docstore.Write{
			Ref:     messageRef(conversationID, id),
			Updates: []docstore.Update{docstore.ServerTimestamp(docstore.FieldPath("status", receipt, userID))},
		})
	}
	return writes
}

func (r *messageRepository) Watch(ctx context.Context, conversationID string, limit int, fn func([]*domain.Message)) (docstore.Unsubscribe, error) {
	return r.store.WatchQuery(ctx, latestMessages(conversationID, limit), func(snaps []*docstore.Snapshot) {
		fn(chronological(decodeAll[domain.Message](snaps, r.log)))
	})
}

func latestMessages(conversationID string, limit int) docstore.Query {
	q := docstore.NewQuery(messagesCollection(conversationID)).Order("createdAt", true)
	if limit > 0 {
		q = q.Take(limit)
	}
	return q
}

// chronological переворачивает выборку "новые сверху" в порядок по возрастанию createdAt
func chronological(list []*domain.Message) []*domain.Message {
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list
}
