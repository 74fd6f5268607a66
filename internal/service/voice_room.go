package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"social_chat/internal/docstore"
	"social_chat/internal/domain"
	"social_chat/internal/events"
	"social_chat/internal/repository"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

type VoiceRoomService interface {
	CreateRoom(ctx context.Context, communityID, groupID, title, creatorID string) (*domain.VoiceRoom, error)
	GetRoom(ctx context.Context, communityID, roomID string) (*domain.VoiceRoom, error)
	JoinRoom(ctx context.Context, communityID, roomID, userID string) (*domain.VoiceRoom, error)
	// LeaveRoom возвращает true, если уход создателя завершил комнату
	LeaveRoom(ctx context.Context, communityID, roomID, userID string) (bool, error)
	EndRoom(ctx context.Context, communityID, roomID, userID string) error

	SendChatMessage(ctx context.Context, communityID, roomID, userID, userName, text string) (*domain.RoomChatMessage, error)
	ListChat(ctx context.Context, communityID, roomID string, limit int) ([]*domain.RoomChatMessage, error)
	WatchRoom(ctx context.Context, communityID, roomID string, fn func(*domain.VoiceRoom)) (docstore.Unsubscribe, error)
	WatchChat(ctx context.Context, communityID, roomID string, fn func([]*domain.RoomChatMessage)) (docstore.Unsubscribe, error)
}

type voiceRoomService struct {
	roomRepo  repository.VoiceRoomRepository
	audit     AuditService
	publisher events.Publisher
	log       logger.Logger
}

func NewVoiceRoomService(roomRepo repository.VoiceRoomRepository, audit AuditService, publisher events.Publisher, log logger.Logger) VoiceRoomService {
	return &voiceRoomService{
		roomRepo:  roomRepo,
		audit:     audit,
		publisher: publisher,
		log:       log,
	}
}

func (s *voiceRoomService) CreateRoom(ctx context.Context, communityID, groupID, title, creatorID string) (*domain.VoiceRoom, error) {
	title = strings.TrimSpace(title)
	if communityID == "" || creatorID == "" || title == "" {
		return nil, apperrors.ErrBadRequest
	}

	room := &domain.VoiceRoom{
		ID:           uuid.NewString(),
		CommunityID:  communityID,
		GroupID:      groupID,
		Title:        title,
		CreatedBy:    creatorID,
		Participants: []string{creatorID},
	}
	if groupID != "" {
		room.FeedEntryID = uuid.NewString()
	}

	if err := s.roomRepo.Create(ctx, room); err != nil {
		return nil, err
	}

	if room.FeedEntryID != "" {
		entry := &domain.GroupFeedEntry{
			ID:       room.FeedEntryID,
			Type:     domain.FeedEntryTypeVoiceRoom,
			RoomID:   room.ID,
			SenderID: creatorID,
			Text:     title,
			IsActive: true,
		}
		// комната уже создана, запись в ленте вторична
		if err := s.roomRepo.CreateFeedEntry(ctx, communityID, groupID, entry); err != nil {
			s.log.Warn("Voice room created without feed entry", "error", err, "room_id", room.ID)
		}
	}

	s.log.Info("Voice room created", "room_id", room.ID, "community_id", communityID, "created_by", creatorID)
	return s.roomRepo.GetByID(ctx, communityID, room.ID)
}

func (s *voiceRoomService) GetRoom(ctx context.Context, communityID, roomID string) (*domain.VoiceRoom, error) {
	return s.roomRepo.GetByID(ctx, communityID, roomID)
}

func (s *voiceRoomService) JoinRoom(ctx context.Context, communityID, roomID, userID string) (*domain.VoiceRoom, error) {
	room, err := s.roomRepo.GetByID(ctx, communityID, roomID)
	if err != nil {
		return nil, err
	}
	if room.HasParticipant(userID) {
		return room, nil
	}
	if err := s.roomRepo.Update(ctx, communityID, roomID, docstore.ArrayUnion("participants", userID)); err != nil {
		return nil, err
	}
	return s.roomRepo.GetByID(ctx, communityID, roomID)
}

func (s *voiceRoomService) LeaveRoom(ctx context.Context, communityID, roomID, userID string) (bool, error) {
	room, err := s.roomRepo.GetByID(ctx, communityID, roomID)
	if err != nil {
		return false, err
	}

	remaining := 0
	for _, p := range room.Participants {
		if p != userID {
			remaining++
		}
	}
	if userID == room.CreatedBy && remaining == 0 {
		return true, s.end(ctx, room, userID)
	}

	if !room.HasParticipant(userID) {
		return false, nil
	}
	return false, s.roomRepo.Update(ctx, communityID, roomID, docstore.ArrayRemove("participants", userID))
}

func (s *voiceRoomService) EndRoom(ctx context.Context, communityID, roomID, userID string) error {
	room, err := s.roomRepo.GetByID(ctx, communityID, roomID)
	if err != nil {
		return err
	}
	if room.CreatedBy != userID {
		return apperrors.ErrForbidden
	}
	return s.end(ctx, room, userID)
}

// end удаляет документ комнаты; запись в ленте группы не удаляется, а гасится
func (s *voiceRoomService) end(ctx context.Context, room *domain.VoiceRoom, actorID string) error {
	if err := s.roomRepo.Delete(ctx, room.CommunityID, room.ID); err != nil {
		return err
	}
	if room.GroupID != "" && room.FeedEntryID != "" {
		if err := s.roomRepo.DeactivateFeedEntry(ctx, room.CommunityID, room.GroupID, room.FeedEntryID); err != nil {
			s.log.Warn("Feed entry left active", "error", err, "room_id", room.ID)
		}
	}

	s.audit.LogEvent(ctx, actorID, nil, nil, domain.EventTypeRoomEnded, map[string]interface{}{
		"room_id":      room.ID,
		"community_id": room.CommunityID,
	})
	if err := s.publisher.Publish(ctx, events.Event{
		Type: events.TypeRoomEnded,
		Key:  room.ID,
		Payload: map[string]interface{}{
			"room_id":      room.ID,
			"community_id": room.CommunityID,
			"group_id":     room.GroupID,
		},
	}); err != nil {
		s.log.Warn("Event not published", "error", err, "type", events.TypeRoomEnded, "key", room.ID)
	}

	s.log.Info("Voice room ended", "room_id", room.ID, "ended_by", actorID)
	return nil
}

func (s *voiceRoomService) SendChatMessage(ctx context.Context, communityID, roomID, userID, userName, text string) (*domain.RoomChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.ErrEmptyMessage
	}
	if _, err := s.roomRepo.GetByID(ctx, communityID, roomID); err != nil {
		return nil, err
	}

	msg := &domain.RoomChatMessage{
		ID:         uuid.NewString(),
		SenderID:   userID,
		SenderName: userName,
		Text:       text,
	}
	if err := s.roomRepo.AddChatMessage(ctx, communityID, roomID, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *voiceRoomService) ListChat(ctx context.Context, communityID, roomID string, limit int) ([]*domain.RoomChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	return s.roomRepo.ListChat(ctx, communityID, roomID, limit)
}

// WatchRoom отдает nil после удаления комнаты: это штатное завершение, а не ошибка
func (s *voiceRoomService) WatchRoom(ctx context.Context, communityID, roomID string, fn func(*domain.VoiceRoom)) (docstore.Unsubscribe, error) {
	return s.roomRepo.Watch(ctx, communityID, roomID, fn)
}

func (s *voiceRoomService) WatchChat(ctx context.Context, communityID, roomID string, fn func([]*domain.RoomChatMessage)) (docstore.Unsubscribe, error) {
	return s.roomRepo.WatchChat(ctx, communityID, roomID, fn)
}
