package chatstate

import (
	"sort"
	"sync"

	"social_chat/internal/domain"
)

// VolumeInfo - элемент колбэка громкости аудио SDK
type VolumeInfo struct {
	UserID string `json:"user_id"`
	Volume int    `json:"volume"`
}

// SpeakingTracker - индикатор говорящих в голосовой комнате. Живет только в памяти,
// в хранилище не пишется.
type SpeakingTracker struct {
	threshold int

	mu       sync.Mutex
	speaking map[string]bool
	muted    map[string]bool
}

func NewSpeakingTracker(threshold int) *SpeakingTracker {
	if threshold <= 0 {
		threshold = domain.SpeakingThreshold
	}
	return &SpeakingTracker{
		threshold: threshold,
		speaking:  make(map[string]bool),
		muted:     make(map[string]bool),
	}
}

// Update применяет очередной отчет громкости; пользователи, которых в отчете нет,
// считаются молчащими. Возвращает true, если набор говорящих изменился.
func (t *SpeakingTracker) Update(volumes []VolumeInfo) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]bool, len(volumes))
	for _, v := range volumes {
		if v.Volume > t.threshold && !t.muted[v.UserID] {
			next[v.UserID] = true
		}
	}

	changed := len(next) != len(t.speaking)
	if !changed {
		for uid := range next {
			if !t.speaking[uid] {
				changed = true
				break
			}
		}
	}
	t.speaking = next
	return changed
}

func (t *SpeakingTracker) SetMuted(userID string, muted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if muted {
		t.muted[userID] = true
		delete(t.speaking, userID)
	} else {
		delete(t.muted, userID)
	}
}

func (t *SpeakingTracker) IsSpeaking(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speaking[userID]
}

func (t *SpeakingTracker) IsMuted(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted[userID]
}

// Speaking - отсортированный список говорящих
func (t *SpeakingTracker) Speaking() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.speaking))
	for uid := range t.speaking {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}
