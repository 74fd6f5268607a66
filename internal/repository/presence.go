package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"social_chat/internal/domain"
	"social_chat/pkg/logger"
)

// PresenceRepository хранит присутствие в Redis:
//   presence:<uid>        -> JSON {status,last_seen,current_device}
//   presence:<uid>:active -> hash conversationId -> JSON {opened_at,last_activity}
// Обе записи живут ttl и продлеваются при каждой записи.
type PresenceRepository interface {
	SetStatus(ctx context.Context, userID string, status domain.PresenceStatus, device string, at time.Time) error
	Get(ctx context.Context, userID string) (*domain.Presence, error)
	GetMany(ctx context.Context, userIDs []string) (map[string]*domain.Presence, error)
	EnterConversation(ctx context.Context, userID, conversationID string, at time.Time) error
	TouchConversation(ctx context.Context, userID, conversationID string, at time.Time) error
	LeaveConversation(ctx context.Context, userID, conversationID string) error
}

type presenceRecord struct {
	Status        domain.PresenceStatus `json:"status"`
	LastSeen      int64                 `json:"last_seen"`
	CurrentDevice string                `json:"current_device,omitempty"`
}

type activeRecord struct {
	OpenedAt     int64 `json:"opened_at"`
	LastActivity int64 `json:"last_activity"`
}

type presenceRepository struct {
	redis *redis.Client
	ttl   time.Duration
	log   logger.Logger
}

func NewPresenceRepository(client *redis.Client, ttl time.Duration, log logger.Logger) PresenceRepository {
	return &presenceRepository{redis: client, ttl: ttl, log: log}
}

func presenceKey(userID string) string { return fmt.Sprintf("presence:%s", userID) }
func activeKey(userID string) string   { return fmt.Sprintf("presence:%s:active", userID) }

func (r *presenceRepository) SetStatus(ctx context.Context, userID string, status domain.PresenceStatus, device string, at time.Time) error {
	rec := presenceRecord{Status: status, LastSeen: at.UnixMilli(), CurrentDevice: device}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, presenceKey(userID), data, r.ttl)
		if status == domain.PresenceOffline {
			pipe.Del(ctx, activeKey(userID))
		}
		return nil
	})
	if err != nil {
		r.log.Error("Failed to set presence", "error", err, "user_id", userID)
		return err
	}
	return nil
}

func (r *presenceRepository) Get(ctx context.Context, userID string) (*domain.Presence, error) {
	all, err := r.GetMany(ctx, []string{userID})
	if err != nil {
		return nil, err
	}
	return all[userID], nil
}

// GetMany возвращает запись для каждого id; отсутствующие в Redis считаются offline
func (r *presenceRepository) GetMany(ctx context.Context, userIDs []string) (map[string]*domain.Presence, error) {
	statusCmds := make(map[string]*redis.StringCmd, len(userIDs))
	activeCmds := make(map[string]*redis.MapStringStringCmd, len(userIDs))
	_, err := r.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, uid := range userIDs {
			statusCmds[uid] = pipe.Get(ctx, presenceKey(uid))
			activeCmds[uid] = pipe.HGetAll(ctx, activeKey(uid))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		r.log.Error("Failed to load presence", "error", err)
		return nil, err
	}

	out := make(map[string]*domain.Presence, len(userIDs))
	for _, uid := range userIDs {
		p := &domain.Presence{UserID: uid, Status: domain.PresenceOffline}
		out[uid] = p

		raw, err := statusCmds[uid].Bytes()
		if err != nil {
			continue
		}
		var rec presenceRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			r.log.Warn("Failed to decode presence", "error", err, "user_id", uid)
			continue
		}
		p.Status = rec.Status
		p.LastSeen = time.UnixMilli(rec.LastSeen).UTC()
		p.CurrentDevice = rec.CurrentDevice

		fields, err := activeCmds[uid].Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		p.ActiveConversations = make(map[string]domain.ActiveConversation, len(fields))
		for convID, val := range fields {
			var a activeRecord
			if err := json.Unmarshal([]byte(val), &a); err != nil {
				continue
			}
			p.ActiveConversations[convID] = domain.ActiveConversation{
				OpenedAt:     time.UnixMilli(a.OpenedAt).UTC(),
				LastActivity: time.UnixMilli(a.LastActivity).UTC(),
			}
		}
	}
	return out, nil
}

func (r *presenceRepository) EnterConversation(ctx context.Context, userID, conversationID string, at time.Time) error {
	return r.writeActive(ctx, userID, conversationID, activeRecord{OpenedAt: at.UnixMilli(), LastActivity: at.UnixMilli()})
}

// TouchConversation продлевает активность, сохраняя время открытия
func (r *presenceRepository) TouchConversation(ctx context.Context, userID, conversationID string, at time.Time) error {
	rec := activeRecord{OpenedAt: at.UnixMilli(), LastActivity: at.UnixMilli()}
	raw, err := r.redis.HGet(ctx, activeKey(userID), conversationID).Bytes()
	if err == nil {
		var existing activeRecord
		if json.Unmarshal(raw, &existing) == nil && existing.OpenedAt > 0 {
			rec.OpenedAt = existing.OpenedAt
		}
	} else if !errors.Is(err, redis.Nil) {
		r.log.Error("Failed to read active conversation", "error", err, "user_id", userID)
		return err
	}
	return r.writeActive(ctx, userID, conversationID, rec)
}

func (r *presenceRepository) writeActive(ctx context.Context, userID, conversationID string, rec activeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, activeKey(userID), conversationID, data)
		pipe.Expire(ctx, activeKey(userID), r.ttl)
		return nil
	})
	if err != nil {
		r.log.Error("Failed to store active conversation", "error", err, "user_id", userID, "conversation_id", conversationID)
		return err
	}
	return nil
}

func (r *presenceRepository) LeaveConversation(ctx context.Context, userID, conversationID string) error {
	if err := r.redis.HDel(ctx, activeKey(userID), conversationID).Err(); err != nil {
		r.log.Error("Failed to remove active conversation", "error", err, "user_id", userID, "conversation_id", conversationID)
		return err
	}
	return nil
}
