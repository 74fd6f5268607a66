package chatstate

import (
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// LocalTypingDebounce - пауза, после которой локальный композер считает набор законченным
	LocalTypingDebounce = 2 * time.Second
	// RemoteTypingDebounce - то же для композера, который синхронизирует набор с сервером
	RemoteTypingDebounce = 3 * time.Second
)

// TypingIndicator - debounce, а не throttle: каждое нажатие переносит таймер.
// onChange вызывается только при смене значения.
type TypingIndicator struct {
	clock    clock.Clock
	delay    time.Duration
	onChange func(bool)

	mu       sync.Mutex
	isTyping bool
	timer    *clock.Timer
	gen      uint64
}

func NewTypingIndicator(clk clock.Clock, delay time.Duration, onChange func(bool)) *TypingIndicator {
	if onChange == nil {
		onChange = func(bool) {}
	}
	return &TypingIndicator{clock: clk, delay: delay, onChange: onChange}
}

func (t *TypingIndicator) Keystroke(text string) {
	if strings.TrimSpace(text) == "" {
		t.Stop()
		return
	}

	t.mu.Lock()
	changed := !t.isTyping
	t.isTyping = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = t.clock.AfterFunc(t.delay, func() { t.expire(gen) })
	t.mu.Unlock()

	if changed {
		t.onChange(true)
	}
}

// Stop сбрасывает набор сразу: сообщение отправлено или поле очищено
func (t *TypingIndicator) Stop() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	changed := t.isTyping
	t.isTyping = false
	t.mu.Unlock()

	if changed {
		t.onChange(false)
	}
}

func (t *TypingIndicator) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isTyping
}

func (t *TypingIndicator) expire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.isTyping {
		t.mu.Unlock()
		return
	}
	t.isTyping = false
	t.timer = nil
	t.mu.Unlock()

	t.onChange(false)
}
