package repository

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"social_chat/internal/docstore"
	"social_chat/pkg/logger"
)

type Repositories struct {
	Conversation ConversationRepository
	Message      MessageRepository
	Call         CallRepository
	Block        BlockRepository
	VoiceRoom    VoiceRoomRepository
	Presence     PresenceRepository
	KeyValue     *RedisKeyValueStore
	RateLimit    RateLimitRepository
	CallHistory  CallHistoryRepository
	Audit        AuditRepository
}

func NewRepositories(store docstore.Store, db *pgxpool.Pool, redis *redis.Client, presenceTTL time.Duration, log logger.Logger) *Repositories {
	repos := &Repositories{
		Conversation: NewConversationRepository(store, log),
		Message:      NewMessageRepository(store, log),
		Call:         NewCallRepository(store, log),
		Block:        NewBlockRepository(store, log),
		VoiceRoom:    NewVoiceRoomRepository(store, log),
		Presence:     NewPresenceRepository(redis, presenceTTL, log),
		KeyValue:     NewRedisKeyValueStore(redis, log),
		RateLimit:    NewRateLimitRepository(redis, log),
		CallHistory:  NewCallHistoryRepository(db, log),
		Audit:        NewAuditRepository(db, log),
	}

	log.Info("Repositories initialized")

	return repos
}
