package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"social_chat/internal/docstore"
	"social_chat/internal/domain"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

const callsCollection = "calls"

type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, id string) (*domain.Call, error)
	Update(ctx context.Context, id string, updates ...docstore.Update) error
	Delete(ctx context.Context, id string) error
	// FindActive ищет звонок в статусе answered, где пользователь звонящий, принимающий или участник группы
	FindActive(ctx context.Context, userID string) (*domain.Call, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]*domain.Call, error)
	ListEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Call, error)
	// Watch отдает nil, когда документа звонка больше нет
	Watch(ctx context.Context, id string, fn func(*domain.Call)) (docstore.Unsubscribe, error)
	WatchIncoming(ctx context.Context, userID string, fn func([]*domain.Call)) (docstore.Unsubscribe, error)
}

type callRepository struct {
	store docstore.Store
	log   logger.Logger
}

func NewCallRepository(store docstore.Store, log logger.Logger) CallRepository {
	return &callRepository{store: store, log: log}
}

func callRef(id string) docstore.Ref {
	return docstore.Doc(callsCollection, id)
}

func (r *callRepository) Create(ctx context.Context, call *domain.Call) error {
	call.ParticipantIDs = emptyIfNil(call.ParticipantIDs)
	if call.Participants == nil {
		call.Participants = []domain.CallParticipant{}
	}
	if err := r.store.Create(ctx, callRef(call.ID), call, "createdAt"); err != nil {
		r.log.Error("Failed to create call", "error", err, "call_id", call.ID)
		return err
	}
	return nil
}

func (r *callRepository) GetByID(ctx context.Context, id string) (*domain.Call, error) {
	snap, err := r.store.Get(ctx, callRef(id))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperrors.ErrCallNotFound
		}
		r.log.Error("Failed to get call", "error", err, "call_id", id)
		return nil, err
	}

	call := &domain.Call{}
	if err := snap.DataTo(call); err != nil {
		r.log.Error("Failed to decode call", "error", err, "call_id", id)
		return nil, err
	}
	return call, nil
}

func (r *callRepository) Update(ctx context.Context, id string, updates ...docstore.Update) error {
	if err := r.store.Update(ctx, callRef(id), updates...); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return apperrors.ErrCallNotFound
		}
		r.log.Error("Failed to update call", "error", err, "call_id", id)
		return err
	}
	return nil
}

func (r *callRepository) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, callRef(id)); err != nil {
		r.log.Error("Failed to delete call", "error", err, "call_id", id)
		return err
	}
	return nil
}

func (r *callRepository) FindActive(ctx context.Context, userID string) (*domain.Call, error) {
	base := docstore.NewQuery(callsCollection).Where("status", docstore.OpEqual, string(domain.CallStatusAnswered))
	queries := []docstore.Query{
		base.Where("callerId", docstore.OpEqual, userID).Take(1),
		base.Where("receiverId", docstore.OpEqual, userID).Take(1),
		base.Where("participantIds", docstore.OpArrayContains, userID).Take(1),
	}

	for _, q := range queries {
		snaps, err := r.store.Query(ctx, q)
		if err != nil {
			r.log.Error("Failed to query active calls", "error", err, "user_id", userID)
			return nil, err
		}
		if calls := decodeAll[domain.Call](snaps, r.log); len(calls) > 0 {
			return calls[0], nil
		}
	}
	return nil, nil
}

// ListForUser объединяет звонки, где пользователь звонил, принимал или участвовал, новые сверху
func (r *callRepository) ListForUser(ctx context.Context, userID string, limit int) ([]*domain.Call, error) {
	queries := []docstore.Query{
		docstore.NewQuery(callsCollection).Where("callerId", docstore.OpEqual, userID),
		docstore.NewQuery(callsCollection).Where("receiverId", docstore.OpEqual, userID),
		docstore.NewQuery(callsCollection).Where("participantIds", docstore.OpArrayContains, userID),
	}

	seen := make(map[string]struct{})
	var out []*domain.Call
	for _, q := range queries {
		q = q.Order("createdAt", true)
		if limit > 0 {
			q = q.Take(limit)
		}
		snaps, err := r.store.Query(ctx, q)
		if err != nil {
			r.log.Error("Failed to list calls", "error", err, "user_id", userID)
			return nil, err
		}
		for _, call := range decodeAll[domain.Call](snaps, r.log) {
			if _, ok := seen[call.ID]; ok {
				continue
			}
			seen[call.ID] = struct{}{}
			out = append(out, call)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return createdAfter(out[i].CreatedAt, out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func createdAfter(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a != nil
	}
	return a.After(*b)
}

// ListEndedBefore - звонки в конечном статусе, завершенные раньше cutoff
func (r *callRepository) ListEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Call, error) {
	statuses := make([]string, 0, len(domain.TerminalCallStatuses))
	for _, s := range domain.TerminalCallStatuses {
		statuses = append(statuses, string(s))
	}
	q := docstore.NewQuery(callsCollection).
		Where("status", docstore.OpIn, statuses).
		Where("endedAt", docstore.OpLess, cutoff).
		Order("endedAt", false)
	if limit > 0 {
		q = q.Take(limit)
	}

	snaps, err := r.store.Query(ctx, q)
	if err != nil {
		r.log.Error("Failed to list ended calls", "error", err)
		return nil, err
	}
	return decodeAll[domain.Call](snaps, r.log), nil
}

func (r *callRepository) Watch(ctx context.Context, id string, fn func(*domain.Call)) (docstore.Unsubscribe, error) {
	return r.store.Watch(ctx, callRef(id), func(snap *docstore.Snapshot) {
		if !snap.Exists {
			fn(nil)
			return
		}
		call := &domain.Call{}
		if err := snap.DataTo(call); err != nil {
			r.log.Warn("Failed to decode watched call", "error", err, "call_id", id)
			return
		}
		fn(call)
	})
}

func (r *callRepository) WatchIncoming(ctx context.Context, userID string, fn func([]*domain.Call)) (docstore.Unsubscribe, error) {
	q := docstore.NewQuery(callsCollection).
		Where("receiverId", docstore.OpEqual, userID).
		Where("status", docstore.OpEqual, string(domain.CallStatusRinging))
	return r.store.WatchQuery(ctx, q, func(snaps []*docstore.Snapshot) {
		fn(decodeAll[domain.Call](snaps, r.log))
	})
}
