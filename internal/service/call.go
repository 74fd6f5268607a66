package service

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"social_chat/internal/config"
	"social_chat/internal/docstore"
	"social_chat/internal/domain"
	"social_chat/internal/events"
	"social_chat/internal/metrics"
	"social_chat/internal/repository"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

const (
	systemActor      = "system"
	cleanupBatchSize = 100
)

// CallService - сигнализация звонков поверх документа calls/{id}.
// Проверка занятости при инициации - чтение перед записью без транзакции:
// два встречных звонка одной пары могут оба перейти в ringing.
// Выход из группового звонка проверяет пустой состав уже после записи, поэтому
// одновременный выход последних участников завершает звонок; завершить его
// при этом могут оба, запись ended повторится.
type CallService interface {
	InitiateCall(ctx context.Context, req domain.CallRequest) (*domain.Call, error)
	AnswerCall(ctx context.Context, callID, userID string) (*domain.Call, error)
	DeclineCall(ctx context.Context, callID, userID string) (*domain.Call, error)
	MarkCallAsMissed(ctx context.Context, callID, userID string) (*domain.Call, error)
	MarkCallAsBusy(ctx context.Context, callID, userID string) (*domain.Call, error)
	EndCall(ctx context.Context, callID, userID string, duration int) (*domain.Call, error)

	JoinGroupCall(ctx context.Context, callID string, participant domain.CallParticipant) (*domain.Call, error)
	LeaveGroupCall(ctx context.Context, callID, userID string) (*domain.Call, error)

	GetCall(ctx context.Context, callID, userID string) (*domain.Call, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]*domain.Call, error)
	ListHistory(ctx context.Context, userID string, limit, offset int) ([]*domain.CallRecord, error)
	WatchCall(ctx context.Context, callID, userID string, fn func(*domain.Call)) (docstore.Unsubscribe, error)
	WatchIncoming(ctx context.Context, userID string, fn func([]*domain.Call)) (docstore.Unsubscribe, error)

	// CleanupEndedCalls архивирует в историю и удаляет звонки, завершенные раньше окна хранения
	CleanupEndedCalls(ctx context.Context) (int, error)
}

type callService struct {
	callRepo    repository.CallRepository
	historyRepo repository.CallHistoryRepository
	blockRepo   repository.BlockRepository
	audit       AuditService
	publisher   events.Publisher
	clock       clock.Clock
	cfg         config.CallsConfig
	log         logger.Logger
}

func NewCallService(
	callRepo repository.CallRepository,
	historyRepo repository.CallHistoryRepository,
	blockRepo repository.BlockRepository,
	audit AuditService,
	publisher events.Publisher,
	clk clock.Clock,
	cfg config.CallsConfig,
	log logger.Logger,
) CallService {
	return &callService{
		callRepo:    callRepo,
		historyRepo: historyRepo,
		blockRepo:   blockRepo,
		audit:       audit,
		publisher:   publisher,
		clock:       clk,
		cfg:         cfg,
		log:         log,
	}
}

func (s *callService) InitiateCall(ctx context.Context, req domain.CallRequest) (*domain.Call, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if !req.CallType.IsGroup() {
		blocked, err := s.blockRepo.IsBlocked(ctx, req.ReceiverID, req.CallerID)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, apperrors.ErrBlocked
		}
	}

	active, err := s.callRepo.FindActive(ctx, req.CallerID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		metrics.CallsRejected.WithLabelValues("already_in_call").Inc()
		return nil, apperrors.ErrAlreadyInCall
	}
	if !req.CallType.IsGroup() {
		busy, err := s.callRepo.FindActive(ctx, req.ReceiverID)
		if err != nil {
			return nil, err
		}
		if busy != nil {
			metrics.CallsRejected.WithLabelValues("busy").Inc()
			return nil, apperrors.ErrUserBusy
		}
	}

	id := uuid.NewString()
	call := &domain.Call{
		ID:          id,
		CallerID:    req.CallerID,
		CallerName:  req.CallerName,
		CallerImage: req.CallerImage,
		ReceiverID:  req.ReceiverID,
		GroupID:     req.GroupID,
		CallType:    req.CallType,
		Status:      domain.CallStatusRinging,
		ChannelName: id,
		IsActive:    true,
	}
	if req.CallType.IsGroup() {
		joinedAt := s.clock.Now().UTC()
		call.Participants = []domain.CallParticipant{{
			UserID:       req.CallerID,
			UserName:     req.CallerName,
			ProfileImage: req.CallerImage,
			JoinedAt:     &joinedAt,
		}}
		call.ParticipantIDs = []string{req.CallerID}
	}

	if err := s.callRepo.Create(ctx, call); err != nil {
		return nil, err
	}

	s.log.Info("Call initiated", "call_id", id, "caller_id", req.CallerID, "type", req.CallType)
	metrics.CallTransitions.WithLabelValues(string(domain.CallStatusRinging)).Inc()
	s.publish(ctx, events.Event{
		Type: events.TypeCallInitiated,
		Key:  id,
		Payload: map[string]interface{}{
			"call_id":     id,
			"caller_id":   req.CallerID,
			"caller_name": req.CallerName,
			"receiver_id": req.ReceiverID,
			"group_id":    req.GroupID,
			"call_type":   req.CallType,
		},
	})

	return s.callRepo.GetByID(ctx, id)
}

func (s *callService) AnswerCall(ctx context.Context, callID, userID string) (*domain.Call, error) {
	call, err := s.loadForReceiver(ctx, callID, userID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, call, userID, domain.CallStatusAnswered, docstore.ServerTimestamp("answeredAt"))
}

func (s *callService) DeclineCall(ctx context.Context, callID, userID string) (*domain.Call, error) {
	call, err := s.loadForReceiver(ctx, callID, userID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, call, userID, domain.CallStatusDeclined, endUpdates()...)
}

// MarkCallAsMissed - звонящий отменил вызов или истек таймаут на его стороне
func (s *callService) MarkCallAsMissed(ctx context.Context, callID, userID string) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.Involves(userID) {
		return nil, apperrors.ErrNotParticipant
	}
	return s.transition(ctx, call, userID, domain.CallStatusMissed, endUpdates()...)
}

// MarkCallAsBusy - получатель уже разговаривает и отклоняет входящий
func (s *callService) MarkCallAsBusy(ctx context.Context, callID, userID string) (*domain.Call, error) {
	call, err := s.loadForReceiver(ctx, callID, userID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, call, userID, domain.CallStatusBusy, endUpdates()...)
}

// EndCall завершает звонок с любой стороны. Пока идет вызов, звонящий переводит его
// в missed, получатель в declined. duration приходит от клиента и не проверяется.
func (s *callService) EndCall(ctx context.Context, callID, userID string, duration int) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.Involves(userID) {
		return nil, apperrors.ErrNotParticipant
	}

	switch call.Status {
	case domain.CallStatusEnded:
		return call, nil
	case domain.CallStatusRinging:
		next := domain.CallStatusMissed
		if call.ReceiverID == userID {
			next = domain.CallStatusDeclined
		}
		return s.transition(ctx, call, userID, next, endUpdates()...)
	default:
		if duration < 0 {
			duration = 0
		}
		updates := append(endUpdates(), docstore.Set("duration", duration))
		return s.transition(ctx, call, userID, domain.CallStatusEnded, updates...)
	}
}

func (s *callService) JoinGroupCall(ctx context.Context, callID string, participant domain.CallParticipant) (*domain.Call, error) {
	if participant.UserID == "" {
		return nil, apperrors.ErrMissingCallParams
	}
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsGroup() {
		return nil, apperrors.ErrInvalidConversation
	}
	if call.Status.IsTerminal() {
		return nil, apperrors.ErrInvalidTransition
	}
	if call.HasParticipant(participant.UserID) {
		return call, nil
	}

	active, err := s.callRepo.FindActive(ctx, participant.UserID)
	if err != nil {
		return nil, err
	}
	if active != nil && active.ID != callID {
		return nil, apperrors.ErrAlreadyInCall
	}

	joinedAt := s.clock.Now().UTC()
	participant.JoinedAt = &joinedAt
	participant.IsSpeaking = false
	updates := []docstore.Update{
		docstore.ArrayUnion("participants", participant),
		docstore.ArrayUnion("participantIds", participant.UserID),
	}
	if call.Status == domain.CallStatusRinging {
		return s.transition(ctx, call, participant.UserID, domain.CallStatusAnswered,
			append(updates, docstore.ServerTimestamp("answeredAt"))...)
	}

	if err := s.callRepo.Update(ctx, callID, updates...); err != nil {
		return nil, err
	}
	return s.callRepo.GetByID(ctx, callID)
}

// LeaveGroupCall убирает участника; последний вышедший завершает звонок
func (s *callService) LeaveGroupCall(ctx context.Context, callID, userID string) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsGroup() {
		return nil, apperrors.ErrInvalidConversation
	}
	if _, ok := call.Participant(userID); !ok && !call.HasParticipant(userID) {
		return call, nil
	}

	if err := s.callRepo.Update(ctx, callID,
		docstore.ArrayRemove("participantIds", userID),
		docstore.ArrayRemoveWhere("participants", "userId", userID),
	); err != nil {
		return nil, err
	}

	// состав читается после записи: из одновременно вышедших последних
	// пустой список увидит хотя бы тот, кто записал позже
	call, err = s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if len(call.ParticipantIDs) > 0 || call.Status == domain.CallStatusEnded {
		return call, nil
	}
	return s.endAbandonedCall(ctx, call, userID)
}

func (s *callService) endAbandonedCall(ctx context.Context, call *domain.Call, userID string) (*domain.Call, error) {
	// вызов, на который так никто и не ответил, проходит через missed
	status := call.Status
	var err error
	if status == domain.CallStatusRinging {
		if status, err = status.Transition(domain.CallStatusMissed); err != nil {
			return nil, err
		}
	}
	if _, err := status.Transition(domain.CallStatusEnded); err != nil {
		return nil, err
	}

	duration := 0
	if call.AnsweredAt != nil {
		duration = int(s.clock.Now().Sub(*call.AnsweredAt).Seconds())
	}
	updates := append(endUpdates(),
		docstore.Set("status", string(domain.CallStatusEnded)),
		docstore.Set("duration", duration),
	)
	if err := s.callRepo.Update(ctx, call.ID, updates...); err != nil {
		return nil, err
	}
	s.recordTransition(ctx, call.ID, userID, domain.CallStatusEnded)
	return s.callRepo.GetByID(ctx, call.ID)
}

func (s *callService) GetCall(ctx context.Context, callID, userID string) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsGroup() && !call.Involves(userID) {
		return nil, apperrors.ErrNotParticipant
	}
	return call, nil
}

func (s *callService) ListRecent(ctx context.Context, userID string, limit int) ([]*domain.Call, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.callRepo.ListForUser(ctx, userID, limit)
}

func (s *callService) ListHistory(ctx context.Context, userID string, limit, offset int) ([]*domain.CallRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.historyRepo.ListForUser(ctx, userID, limit, offset)
}

// WatchCall отдает nil, когда документ звонка удален: для наблюдателя это равно ended
func (s *callService) WatchCall(ctx context.Context, callID, userID string, fn func(*domain.Call)) (docstore.Unsubscribe, error) {
	if _, err := s.GetCall(ctx, callID, userID); err != nil {
		return nil, err
	}
	return s.callRepo.Watch(ctx, callID, fn)
}

func (s *callService) WatchIncoming(ctx context.Context, userID string, fn func([]*domain.Call)) (docstore.Unsubscribe, error) {
	return s.callRepo.WatchIncoming(ctx, userID, fn)
}

func (s *callService) CleanupEndedCalls(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()
	calls, err := s.callRepo.ListEndedBefore(ctx, now.Add(-s.cfg.Retention), cleanupBatchSize)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, call := range calls {
		if err := s.historyRepo.Archive(ctx, domain.NewCallRecord(call, now)); err != nil {
			// без архива документ не удаляем, следующий проход попробует снова
			s.log.Error("Failed to archive call", "error", err, "call_id", call.ID)
			continue
		}
		if err := s.callRepo.Delete(ctx, call.ID); err != nil {
			continue
		}
		s.audit.LogEvent(ctx, systemActor, nil, strRef(call.ID), domain.EventTypeCallArchived, map[string]interface{}{"status": call.Status})
		removed++
	}

	if removed > 0 {
		s.log.Info("Ended calls cleaned up", "count", removed)
	}
	return removed, nil
}

func (s *callService) loadForReceiver(ctx context.Context, callID, userID string) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.IsGroup() || call.ReceiverID != userID {
		return nil, apperrors.ErrNotParticipant
	}
	return call, nil
}

// transition проверяет переход по таблице статусов и пишет его точечным обновлением
func (s *callService) transition(ctx context.Context, call *domain.Call, actorID string, next domain.CallStatus, extra ...docstore.Update) (*domain.Call, error) {
	if _, err := call.Status.Transition(next); err != nil {
		s.log.Warn("Rejected call transition", "call_id", call.ID, "from", call.Status, "to", next)
		return nil, err
	}

	updates := append([]docstore.Update{docstore.Set("status", string(next))}, extra...)
	if err := s.callRepo.Update(ctx, call.ID, updates...); err != nil {
		return nil, err
	}
	s.recordTransition(ctx, call.ID, actorID, next)
	return s.callRepo.GetByID(ctx, call.ID)
}

func (s *callService) recordTransition(ctx context.Context, callID, actorID string, status domain.CallStatus) {
	metrics.CallTransitions.WithLabelValues(string(status)).Inc()
	s.publish(ctx, events.Event{
		Type: events.TypeCallStatus,
		Key:  callID,
		Payload: map[string]interface{}{
			"call_id":  callID,
			"status":   status,
			"actor_id": actorID,
		},
	})
}

func (s *callService) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("Event not published", "error", err, "type", event.Type, "key", event.Key)
	}
}

func endUpdates() []docstore.Update {
	return []docstore.Update{
		docstore.ServerTimestamp("endedAt"),
		docstore.Set("isActive", false),
	}
}
