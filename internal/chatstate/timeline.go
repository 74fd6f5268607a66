package chatstate

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"social_chat/internal/domain"
)

// Timestamp - либо серверное время (Resolved), либо локальное время оптимистичной
// записи (Pending), пока сервер его не подтвердил.
type Timestamp struct {
	at       time.Time
	resolved bool
}

func Pending(local time.Time) Timestamp {
	return Timestamp{at: local}
}

func Resolved(server time.Time) Timestamp {
	return Timestamp{at: server, resolved: true}
}

func (t Timestamp) IsResolved() bool {
	return t.resolved
}

// SortKey: неподтвержденная запись сортируется как "сейчас"
func (t Timestamp) SortKey(now time.Time) time.Time {
	if t.resolved {
		return t.at
	}
	return now
}

type TimelineEntry struct {
	Message *domain.Message
	At      Timestamp
	// Failed - отправка не удалась, UI показывает повтор
	Failed bool
}

// Timeline - локальная лента беседы: оптимистичные сообщения плюс эхо с сервера.
// Порядок задает только серверный createdAt.
type Timeline struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]*TimelineEntry
	order   []string
	seq     map[string]int
	nextSeq int
}

func NewTimeline(clk clock.Clock) *Timeline {
	return &Timeline{
		clock:   clk,
		entries: make(map[string]*TimelineEntry),
		seq:     make(map[string]int),
	}
}

// AddPending - оптимистичная вставка до ответа сервера
func (t *Timeline) AddPending(msg *domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.putLocked(msg, Pending(t.clock.Now()), false)
	t.sortLocked()
}

func (t *Timeline) MarkFailed(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[messageID]; ok && !e.At.IsResolved() {
		e.Failed = true
	}
}

func (t *Timeline) Remove(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[messageID]; !ok {
		return
	}
	delete(t.entries, messageID)
	delete(t.seq, messageID)
	t.rebuildOrderLocked()
}

// Apply принимает снимок подписки. Серверные сообщения заменяют оптимистичные с тем же id;
// локальные, которых еще нет в снимке, остаются.
func (t *Timeline) Apply(snapshot []*domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	seen := make(map[string]bool, len(snapshot))
	for _, msg := range snapshot {
		seen[msg.ID] = true
		at := Pending(now)
		if prev, ok := t.entries[msg.ID]; ok && !prev.At.IsResolved() {
			at = prev.At
		}
		if msg.CreatedAt != nil {
			at = Resolved(*msg.CreatedAt)
		}
		t.putLocked(msg, at, false)
	}

	// подтвержденное сообщение, пропавшее из снимка, вышло за окно подписки
	for id, e := range t.entries {
		if !seen[id] && e.At.IsResolved() {
			delete(t.entries, id)
			delete(t.seq, id)
		}
	}
	t.rebuildOrderLocked()
}

func (t *Timeline) Messages() []*domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sortLocked()
	out := make([]*domain.Message, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.entries[id].Message)
	}
	return out
}

func (t *Timeline) Entry(messageID string) (TimelineEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[messageID]
	if !ok {
		return TimelineEntry{}, false
	}
	return *e, true
}

func (t *Timeline) putLocked(msg *domain.Message, at Timestamp, failed bool) {
	if _, ok := t.seq[msg.ID]; !ok {
		t.seq[msg.ID] = t.nextSeq
		t.nextSeq++
	}
	t.entries[msg.ID] = &TimelineEntry{Message: msg, At: at, Failed: failed}
}

func (t *Timeline) rebuildOrderLocked() {
	t.order = t.order[:0]
	for id := range t.entries {
		t.order = append(t.order, id)
	}
	t.sortLocked()
}

func (t *Timeline) sortLocked() {
	if len(t.order) != len(t.entries) {
		t.order = t.order[:0]
		for id := range t.entries {
			t.order = append(t.order, id)
		}
	}
	now := t.clock.Now()
	sort.SliceStable(t.order, func(i, j int) bool {
		a, b := t.entries[t.order[i]], t.entries[t.order[j]]
		ka, kb := a.At.SortKey(now), b.At.SortKey(now)
		if !ka.Equal(kb) {
			return ka.Before(kb)
		}
		return t.seq[t.order[i]] < t.seq[t.order[j]]
	})
}
