package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"social_chat/internal/docstore"
	"social_chat/internal/domain"
	"social_chat/internal/repository"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

type ConversationService interface {
	GetOrCreateDirect(ctx context.Context, userID, otherID string) (*domain.Conversation, error)
	CreateGroup(ctx context.Context, creatorID, name, icon string, members []string) (*domain.Conversation, error)
	Get(ctx context.Context, conversationID, userID string) (*domain.Conversation, error)
	List(ctx context.Context, userID string, includeArchived bool, limit int) ([]*domain.Conversation, error)
	AddParticipant(ctx context.Context, conversationID, actorID, userID string) error
	RemoveParticipant(ctx context.Context, conversationID, actorID, userID string) error
	PromoteAdmin(ctx context.Context, conversationID, actorID, userID string) error

	Mute(ctx context.Context, conversationID, userID string, until *time.Time) error
	Unmute(ctx context.Context, conversationID, userID string) error
	SetArchived(ctx context.Context, conversationID, userID string, archived bool) error
	SetPinned(ctx context.Context, conversationID, userID, messageID string, pinned bool) error
	ClearHistory(ctx context.Context, conversationID, userID string) error
	SetNotificationPreference(ctx context.Context, conversationID, userID string, pref domain.NotificationPreference) error
	MarkSeen(ctx context.Context, conversationID, userID string) error

	Block(ctx context.Context, userID, targetID string) error
	Unblock(ctx context.Context, userID, targetID string) error
	ListBlocked(ctx context.Context, userID string) ([]string, error)

	Watch(ctx context.Context, conversationID, userID string, fn func(*domain.Conversation)) (docstore.Unsubscribe, error)
	WatchList(ctx context.Context, userID string, fn func([]*domain.Conversation)) (docstore.Unsubscribe, error)
}

type conversationService struct {
	convRepo  repository.ConversationRepository
	blockRepo repository.BlockRepository
	audit     AuditService
	log       logger.Logger
}

func NewConversationService(convRepo repository.ConversationRepository, blockRepo repository.BlockRepository, audit AuditService, log logger.Logger) ConversationService {
	return &conversationService{
		convRepo:  convRepo,
		blockRepo: blockRepo,
		audit:     audit,
		log:       log,
	}
}

// GetOrCreateDirect - id личной беседы детерминирован, поэтому два одновременных вызова сходятся в один документ
func (s *conversationService) GetOrCreateDirect(ctx context.Context, userID, otherID string) (*domain.Conversation, error) {
	if userID == "" || otherID == "" || userID == otherID {
		return nil, apperrors.ErrInvalidConversation
	}

	id := domain.DirectConversationID(userID, otherID)
	conv, err := s.convRepo.GetByID(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, apperrors.ErrConversationNotFound) {
		return nil, err
	}

	conv = &domain.Conversation{
		ID:           id,
		Type:         domain.ConversationTypeOneToOne,
		Participants: []string{userID, otherID},
		CreatedBy:    userID,
	}
	if err := conv.Validate(); err != nil {
		return nil, err
	}
	if err := s.convRepo.Create(ctx, conv); err != nil && !errors.Is(err, docstore.ErrAlreadyExists) {
		return nil, err
	}
	return s.convRepo.GetByID(ctx, id)
}

func (s *conversationService) CreateGroup(ctx context.Context, creatorID, name, icon string, members []string) (*domain.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.ErrBadRequest
	}

	participants := []string{creatorID}
	for _, m := range members {
		if m != "" && m != creatorID && !contains(participants, m) {
			participants = append(participants, m)
		}
	}

	conv := &domain.Conversation{
		ID:           uuid.NewString(),
		Type:         domain.ConversationTypeGroup,
		Participants: participants,
		GroupName:    name,
		GroupIcon:    icon,
		Admins:       []string{creatorID},
		CreatedBy:    creatorID,
	}
	if err := conv.Validate(); err != nil {
		return nil, err
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, err
	}
	return s.convRepo.GetByID(ctx, conv.ID)
}

func (s *conversationService) Get(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(userID) {
		return nil, apperrors.ErrNotParticipant
	}
	return conv, nil
}

func (s *conversationService) List(ctx context.Context, userID string, includeArchived bool, limit int) ([]*domain.Conversation, error) {
	list, err := s.convRepo.ListForUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if includeArchived {
		return list, nil
	}
	out := list[:0]
	for _, c := range list {
		if !c.SettingsFor(userID).Archived {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *conversationService) AddParticipant(ctx context.Context, conversationID, actorID, userID string) error {
	conv, err := s.adminOf(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if conv.IsParticipant(userID) {
		return nil
	}
	if err := s.convRepo.AddParticipants(ctx, conversationID, userID); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, actorID, strRef(conversationID), nil, domain.EventTypeParticipantAdded, map[string]interface{}{"user_id": userID})
	return nil
}

// RemoveParticipant: админ удаляет любого, участник - только себя (выход из группы)
func (s *conversationService) RemoveParticipant(ctx context.Context, conversationID, actorID, userID string) error {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Type != domain.ConversationTypeGroup {
		return apperrors.ErrInvalidConversation
	}
	if actorID != userID && !conv.IsAdmin(actorID) {
		return apperrors.ErrNotAdmin
	}
	if !conv.IsParticipant(userID) {
		return apperrors.ErrParticipantNotFound
	}
	if err := s.convRepo.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, actorID, strRef(conversationID), nil, domain.EventTypeParticipantRemoved, map[string]interface{}{"user_id": userID})
	return nil
}

func (s *conversationService) PromoteAdmin(ctx context.Context, conversationID, actorID, userID string) error {
	conv, err := s.adminOf(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(userID) {
		return apperrors.ErrParticipantNotFound
	}
	if conv.IsAdmin(userID) {
		return nil
	}
	if err := s.convRepo.AddAdmin(ctx, conversationID, userID); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, actorID, strRef(conversationID), nil, domain.EventTypeAdminPromoted, map[string]interface{}{"user_id": userID})
	return nil
}

func (s *conversationService) adminOf(ctx context.Context, conversationID, actorID string) (*domain.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Type != domain.ConversationTypeGroup {
		return nil, apperrors.ErrInvalidConversation
	}
	if !conv.IsAdmin(actorID) {
		return nil, apperrors.ErrNotAdmin
	}
	return conv, nil
}

func (s *conversationService) Mute(ctx context.Context, conversationID, userID string, until *time.Time) error {
	if _, err := s.Get(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.convRepo.UpdateSettings(ctx, conversationID, userID, map[string]interface{}{
		"muted":      true,
		"mutedUntil": until,
	})
}

func (s *conversationService) Unmute(ctx context.Context, conversationID, userID string) error {
	if _, err := s.Get(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.convRepo.UpdateSettings(ctx, conversationID, userID, map[string]interface{}{
		"muted":      false,
		"mutedUntil": nil,
	})
}

func (s *conversationService) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	if _, err := s.Get(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.convRepo.UpdateSettings(ctx, conversationID, userID, map[string]interface{}{"archived": archived})
}

func (s *conversationService) SetPinned(ctx context.Context, conversationID, userID, messageID string, pinned bool) error {
	if messageID == "" {
		return apperrors.ErrBadRequest
	}
	if _, err := s.Get(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.convRepo.SetPinned(ctx, conversationID, userID, messageID, pinned)
}

// ClearHistory ставит clearedAt: сообщения до этой отметки скрыты только для userID
func (s *conversationService) ClearHistory(ctx context.Context, conversationID, userID string) error {
	if _, err := s.Get(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := s.convRepo.StampSetting(ctx, conversationID, userID, "clearedAt"); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, userID, strRef(conversationID), nil, domain.EventTypeChatCleared, nil)
	return nil
}

func (s *conversationService) SetNotificationPreference(ctx context.Context, conversationID, userID string, pref domain.NotificationPreference) error {
	if !pref.IsValid() {
		return apperrors.ErrBadRequest
	}
	if _, err := s.Get(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.convRepo.UpdateSettings(ctx, conversationID, userID, map[string]interface{}{"customNotifications": string(pref)})
}

func (s *conversationService) MarkSeen(ctx context.Context, conversationID, userID string) error {
	if _, err := s.Get(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.convRepo.StampSetting(ctx, conversationID, userID, "lastSeen")
}

func (s *conversationService) Block(ctx context.Context, userID, targetID string) error {
	if targetID == "" || targetID == userID {
		return apperrors.ErrBadRequest
	}
	if err := s.blockRepo.Block(ctx, userID, targetID); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, userID, nil, nil, domain.EventTypeUserBlocked, map[string]interface{}{"target_id": targetID})
	return nil
}

func (s *conversationService) Unblock(ctx context.Context, userID, targetID string) error {
	if err := s.blockRepo.Unblock(ctx, userID, targetID); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, userID, nil, nil, domain.EventTypeUserUnblocked, map[string]interface{}{"target_id": targetID})
	return nil
}

func (s *conversationService) ListBlocked(ctx context.Context, userID string) ([]string, error) {
	return s.blockRepo.List(ctx, userID)
}

func (s *conversationService) Watch(ctx context.Context, conversationID, userID string, fn func(*domain.Conversation)) (docstore.Unsubscribe, error) {
	if _, err := s.Get(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.convRepo.Watch(ctx, conversationID, fn)
}

func (s *conversationService) WatchList(ctx context.Context, userID string, fn func([]*domain.Conversation)) (docstore.Unsubscribe, error) {
	return s.convRepo.WatchForUser(ctx, userID, fn)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
