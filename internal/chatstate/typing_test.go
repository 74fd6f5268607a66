package chatstate

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

type boolRecorder struct {
	mu     sync.Mutex
	values []bool
}

func (r *boolRecorder) record(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *boolRecorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.values...)
}

func TestTypingIndicator_Debounce(t *testing.T) {
	clk := clock.NewMock()
	rec := &boolRecorder{}
	ti := NewTypingIndicator(clk, LocalTypingDebounce, rec.record)

	ti.Keystroke("h")
	assert.True(t, ti.IsTyping())

	clk.Add(1500 * time.Millisecond)
	ti.Keystroke("he")
	clk.Add(1500 * time.Millisecond)
	ti.Keystroke("hel")
	clk.Add(1500 * time.Millisecond)

	assert.True(t, ti.IsTyping(), "each keystroke pushes the deadline")
	assert.Equal(t, []bool{true}, rec.get())

	clk.Add(600 * time.Millisecond)
	assert.Eventually(t, func() bool { return !ti.IsTyping() }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(rec.get()) == 2 }, time.Second, 5*time.Millisecond)

	clk.Add(5 * time.Second)
	assert.Equal(t, []bool{true, false}, rec.get(), "stop fires exactly once")
}

func TestTypingIndicator_EmptyTextStops(t *testing.T) {
	clk := clock.NewMock()
	rec := &boolRecorder{}
	ti := NewTypingIndicator(clk, RemoteTypingDebounce, rec.record)

	ti.Keystroke("hi")
	ti.Keystroke("  ")
	assert.False(t, ti.IsTyping())
	assert.Equal(t, []bool{true, false}, rec.get())

	// отмененный таймер не должен сработать
	clk.Add(RemoteTypingDebounce)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.get())
}

func TestTypingIndicator_StopWhenIdle(t *testing.T) {
	rec := &boolRecorder{}
	ti := NewTypingIndicator(clock.NewMock(), LocalTypingDebounce, rec.record)
	ti.Stop()
	assert.Empty(t, rec.get())
}
