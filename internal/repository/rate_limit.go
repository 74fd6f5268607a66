package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"social_chat/pkg/logger"
)

type RateLimitRepository interface {
	// Allow учитывает запрос в окне window и сообщает, укладывается ли он в limit
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimitRepository(client *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: client, log: log}
}

// Allow - фиксированное окно: счетчик живет window с первого запроса
func (r *rateLimitRepository) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	redisKey := "ratelimit:" + key
	count, err := r.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		r.log.Error("Failed to check rate limit", "error", err, "key", key)
		return false, 0, err
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, redisKey, window).Err(); err != nil {
			r.log.Warn("Failed to set rate limit window", "error", err, "key", key)
		}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return int(count) <= limit, remaining, nil
}
