package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"social_chat/pkg/logger"
)

// RedisKeyValueStore - простое строковое хранилище ключ-значение в пространстве имен пользователя.
// Используется для черновиков (@chat_drafts) и флагов настроек.
type RedisKeyValueStore struct {
	redis     *redis.Client
	namespace string
	log       logger.Logger
}

func NewRedisKeyValueStore(client *redis.Client, log logger.Logger) *RedisKeyValueStore {
	return &RedisKeyValueStore{redis: client, namespace: "kv", log: log}
}

// Scoped возвращает хранилище, ключи которого не пересекаются с другими пользователями
func (s *RedisKeyValueStore) Scoped(userID string) *RedisKeyValueStore {
	return &RedisKeyValueStore{redis: s.redis, namespace: fmt.Sprintf("%s:%s", s.namespace, userID), log: s.log}
}

func (s *RedisKeyValueStore) key(k string) string {
	return s.namespace + ":" + k
}

func (s *RedisKeyValueStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.redis.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		s.log.Error("Failed to read key", "error", err, "key", s.key(key))
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisKeyValueStore) Set(ctx context.Context, key, value string) error {
	if err := s.redis.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		s.log.Error("Failed to write key", "error", err, "key", s.key(key))
		return err
	}
	return nil
}

func (s *RedisKeyValueStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		s.log.Error("Failed to delete key", "error", err, "key", s.key(key))
		return err
	}
	return nil
}
