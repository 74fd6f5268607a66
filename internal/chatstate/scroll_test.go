package chatstate

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestNewScrollState_Thresholds(t *testing.T) {
	tests := []struct {
		distance      float64
		showButton    bool
		autoScroll    bool
		userScrolling bool
	}{
		{distance: 0, showButton: false, autoScroll: true, userScrolling: false},
		{distance: 40, showButton: false, autoScroll: true, userScrolling: false},
		{distance: 75, showButton: false, autoScroll: false, userScrolling: true},
		{distance: 150, showButton: true, autoScroll: false, userScrolling: true},
	}

	for _, tt := range tests {
		s := NewScrollState(tt.distance)
		assert.Equal(t, tt.showButton, s.ShowScrollToBottom, "distance %v", tt.distance)
		assert.Equal(t, tt.autoScroll, s.ShouldAutoScroll, "distance %v", tt.distance)
		assert.Equal(t, tt.userScrolling, s.IsUserScrolling, "distance %v", tt.distance)
	}
}

func TestScrollCoordinator_AutoScrollBatches(t *testing.T) {
	clk := clock.NewMock()
	var scrolls atomic.Int32
	c := NewScrollCoordinator(clk, "me", func() { scrolls.Add(1) }, nil)

	c.HandleScroll(960, 1500, 500) // 40 до низа
	c.OnNewMessage("other")
	c.OnNewMessage("other")
	c.OnNewMessage("other")

	clk.Add(AutoScrollDebounce)
	assert.Eventually(t, func() bool { return scrolls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, c.Unread())
}

func TestScrollCoordinator_UnreadAwayFromBottom(t *testing.T) {
	clk := clock.NewMock()
	var scrolls atomic.Int32
	c := NewScrollCoordinator(clk, "me", func() { scrolls.Add(1) }, nil)

	state := c.HandleScroll(0, 1500, 500)
	assert.True(t, state.ShowScrollToBottom)

	c.OnNewMessage("other")
	c.OnNewMessage("me")
	c.OnNewMessage("other")
	assert.Equal(t, 2, c.Unread(), "own messages are not counted")

	clk.Add(time.Second)
	assert.Zero(t, scrolls.Load())

	c.ScrollToBottom()
	assert.Zero(t, c.Unread())
	assert.Equal(t, int32(1), scrolls.Load())
}

func TestScrollCoordinator_Keyboard(t *testing.T) {
	clk := clock.NewMock()
	var scrolls, dismissed atomic.Int32
	c := NewScrollCoordinator(clk, "me", func() { scrolls.Add(1) }, func() { dismissed.Add(1) })

	assert.False(t, c.HandleBack(), "back navigates when keyboard is hidden")

	c.KeyboardShown(300)
	assert.True(t, c.Keyboard().Visible)
	clk.Add(KeyboardScrollDelay)
	assert.Eventually(t, func() bool { return scrolls.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, c.HandleBack())
	assert.Equal(t, int32(1), dismissed.Load())
	assert.False(t, c.Keyboard().Visible)
}

func TestScrollCoordinator_CloseCancelsPendingScroll(t *testing.T) {
	clk := clock.NewMock()
	var scrolls atomic.Int32
	c := NewScrollCoordinator(clk, "me", func() { scrolls.Add(1) }, nil)

	c.OnNewMessage("other")
	c.Close()
	clk.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, scrolls.Load())
}
