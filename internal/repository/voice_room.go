package repository

import (
	"context"
	"errors"

	"social_chat/internal/docstore"
	"social_chat/internal/domain"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

type VoiceRoomRepository interface {
	Create(ctx context.Context, room *domain.VoiceRoom) error
	GetByID(ctx context.Context, communityID, id string) (*domain.VoiceRoom, error)
	Update(ctx context.Context, communityID, id string, updates ...docstore.Update) error
	Delete(ctx context.Context, communityID, id string) error
	Watch(ctx context.Context, communityID, id string, fn func(*domain.VoiceRoom)) (docstore.Unsubscribe, error)

	AddChatMessage(ctx context.Context, communityID, roomID string, msg *domain.RoomChatMessage) error
	ListChat(ctx context.Context, communityID, roomID string, limit int) ([]*domain.RoomChatMessage, error)
	WatchChat(ctx context.Context, communityID, roomID string, fn func([]*domain.RoomChatMessage)) (docstore.Unsubscribe, error)

	CreateFeedEntry(ctx context.Context, communityID, groupID string, entry *domain.GroupFeedEntry) error
	GetFeedEntry(ctx context.Context, communityID, groupID, id string) (*domain.GroupFeedEntry, error)
	DeactivateFeedEntry(ctx context.Context, communityID, groupID, id string) error
}

type voiceRoomRepository struct {
	store docstore.Store
	log   logger.Logger
}

func NewVoiceRoomRepository(store docstore.Store, log logger.Logger) VoiceRoomRepository {
	return &voiceRoomRepository{store: store, log: log}
}

// audio_calls/{communityId}/rooms/{roomId}
func roomRef(communityID, id string) docstore.Ref {
	return docstore.Doc(docstore.Doc("audio_calls", communityID).Sub("rooms"), id)
}

func roomChatCollection(communityID, roomID string) string {
	return roomRef(communityID, roomID).Sub("chat")
}

// communities/{communityId}/groups/{groupId}/messages
func groupFeedCollection(communityID, groupID string) string {
	return docstore.Doc(docstore.Doc("communities", communityID).Sub("groups"), groupID).Sub("messages")
}

func (r *voiceRoomRepository) Create(ctx context.Context, room *domain.VoiceRoom) error {
	room.Participants = emptyIfNil(room.Participants)
	if err := r.store.Create(ctx, roomRef(room.CommunityID, room.ID), room, "createdAt"); err != nil {
		r.log.Error("Failed to create voice room", "error", err, "room_id", room.ID)
		return err
	}
	return nil
}

func (r *voiceRoomRepository) GetByID(ctx context.Context, communityID, id string) (*domain.VoiceRoom, error) {
	snap, err := r.store.Get(ctx, roomRef(communityID, id))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperrors.ErrRoomNotFound
		}
		r.log.Error("Failed to get voice room", "error", err, "room_id", id)
		return nil, err
	}

	room := &domain.VoiceRoom{}
	if err := snap.DataTo(room); err != nil {
		r.log.Error("Failed to decode voice room", "error", err, "room_id", id)
		return nil, err
	}
	return room, nil
}

func (r *voiceRoomRepository) Update(ctx context.Context, communityID, id string, updates ...docstore.Update) error {
	if err := r.store.Update(ctx, roomRef(communityID, id), updates...); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return apperrors.ErrRoomNotFound
		}
		r.log.Error("Failed to update voice room", "error", err, "room_id", id)
		return err
	}
	return nil
}

func (r *voiceRoomRepository) Delete(ctx context.Context, communityID, id string) error {
	if err := r.store.Delete(ctx, roomRef(communityID, id)); err != nil {
		r.log.Error("Failed to delete voice room", "error", err, "room_id", id)
		return err
	}
	return nil
}

func (r *voiceRoomRepository) Watch(ctx context.Context, communityID, id string, fn func(*domain.VoiceRoom)) (docstore.Unsubscribe, error) {
	return r.store.Watch(ctx, roomRef(communityID, id), func(snap *docstore.Snapshot) {
		if !snap.Exists {
			fn(nil)
			return
		}
		room := &domain.VoiceRoom{}
		if err := snap.DataTo(room); err != nil {
			r.log.Warn("Failed to decode watched voice room", "error", err, "room_id", id)
			return
		}
		fn(room)
	})
}

func (r *voiceRoomRepository) AddChatMessage(ctx context.Context, communityID, roomID string, msg *domain.RoomChatMessage) error {
	if err := r.store.Create(ctx, docstore.Doc(roomChatCollection(communityID, roomID), msg.ID), msg, "createdAt"); err != nil {
		r.log.Error("Failed to add room chat message", "error", err, "room_id", roomID)
		return err
	}
	return nil
}

func (r *voiceRoomRepository) ListChat(ctx context.Context, communityID, roomID string, limit int) ([]*domain.RoomChatMessage, error) {
	q := docstore.NewQuery(roomChatCollection(communityID, roomID)).Order("createdAt", false)
	if limit > 0 {
		q = q.Take(limit)
	}
	snaps, err := r.store.Query(ctx, q)
	if err != nil {
		r.log.Error("Failed to list room chat", "error", err, "room_id", roomID)
		return nil, err
	}
	return decodeAll[domain.RoomChatMessage](snaps, r.log), nil
}

func (r *voiceRoomRepository) WatchChat(ctx context.Context, communityID, roomID string, fn func([]*domain.RoomChatMessage)) (docstore.Unsubscribe, error) {
	q := docstore.NewQuery(roomChatCollection(communityID, roomID)).Order("createdAt", false)
	return r.store.WatchQuery(ctx, q, func(snaps []*docstore.Snapshot) {
		fn(decodeAll[domain.RoomChatMessage](snaps, r.log))
	})
}

func (r *voiceRoomRepository) CreateFeedEntry(ctx context.Context, communityID, groupID string, entry *domain.GroupFeedEntry) error {
	ref := docstore.Doc(groupFeedCollection(communityID, groupID), entry.ID)
	if err := r.store.Create(ctx, ref, entry, "createdAt"); err != nil {
		r.log.Error("Failed to create group feed entry", "error", err, "group_id", groupID)
		return err
	}
	return nil
}

func (r *voiceRoomRepository) GetFeedEntry(ctx context.Context, communityID, groupID, id string) (*domain.GroupFeedEntry, error) {
	snap, err := r.store.Get(ctx, docstore.Doc(groupFeedCollection(communityID, groupID), id))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	entry := &domain.GroupFeedEntry{}
	if err := snap.DataTo(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// DeactivateFeedEntry помечает запись isActive=false; сама запись остается в ленте
func (r *voiceRoomRepository) DeactivateFeedEntry(ctx context.Context, communityID, groupID, id string) error {
	ref := docstore.Doc(groupFeedCollection(communityID, groupID), id)
	if err := r.store.Update(ctx, ref, docstore.Set("isActive", false)); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil
		}
		r.log.Error("Failed to deactivate group feed entry", "error", err, "group_id", groupID, "entry_id", id)
		return err
	}
	return nil
}
