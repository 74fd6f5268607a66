// Package chatstate - клиентская координация экрана чата: черновики, индикатор набора,
// состояние сети, прокрутка и клавиатура, композер сообщений, локальная лента
// с оптимистичными сообщениями и подписки на беседу и звонок.
package chatstate

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// DraftsKey - ключ, под которым лежит JSON-карта conversationId -> текст
const DraftsKey = "@chat_drafts"

// KeyValueStore - локальное строковое хранилище (RedisKeyValueStore на сервере)
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// DraftStore хранит черновики всех бесед одной картой; запись черновика
// одной беседы не трогает остальные.
type DraftStore struct {
	kv KeyValueStore
	mu sync.Mutex
}

func NewDraftStore(kv KeyValueStore) *DraftStore {
	return &DraftStore{kv: kv}
}

func (s *DraftStore) Load(ctx context.Context, conversationID string) (string, error) {
	drafts, err := s.All(ctx)
	if err != nil {
		return "", err
	}
	return drafts[conversationID], nil
}

func (s *DraftStore) All(ctx context.Context) (map[string]string, error) {
	raw, ok, err := s.kv.Get(ctx, DraftsKey)
	if err != nil {
		return nil, err
	}
	drafts := make(map[string]string)
	if !ok || raw == "" {
		return drafts, nil
	}
	// битое значение не должно ломать экран чата
	if err := json.Unmarshal([]byte(raw), &drafts); err != nil {
		return make(map[string]string), nil
	}
	return drafts, nil
}

// Save сохраняет текст как есть; пустой после trim текст удаляет черновик беседы
func (s *DraftStore) Save(ctx context.Context, conversationID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drafts, err := s.All(ctx)
	if err != nil {
		return err
	}

	if strings.TrimSpace(text) == "" {
		if _, ok := drafts[conversationID]; !ok {
			return nil
		}
		delete(drafts, conversationID)
	} else {
		drafts[conversationID] = text
	}

	if len(drafts) == 0 {
		return s.kv.Delete(ctx, DraftsKey)
	}
	b, err := json.Marshal(drafts)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, DraftsKey, string(b))
}

func (s *DraftStore) Clear(ctx context.Context, conversationID string) error {
	return s.Save(ctx, conversationID, "")
}
