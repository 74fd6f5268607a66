package chatstate

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Пороги разные намеренно: между 50 и 100 кнопка "вниз" еще скрыта, а автопрокрутка уже выключена
const (
	ScrollToBottomThreshold = 100
	AutoScrollThreshold     = 50
	UserScrollingThreshold  = 50

	AutoScrollDebounce  = 100 * time.Millisecond
	KeyboardScrollDelay = 100 * time.Millisecond
)

type ScrollState struct {
	DistanceFromBottom float64
	ShowScrollToBottom bool
	ShouldAutoScroll   bool
	IsUserScrolling    bool
}

func NewScrollState(distance float64) ScrollState {
	return ScrollState{
		DistanceFromBottom: distance,
		ShowScrollToBottom: distance > ScrollToBottomThreshold,
		ShouldAutoScroll:   distance < AutoScrollThreshold,
		IsUserScrolling:    distance > UserScrollingThreshold,
	}
}

type KeyboardState struct {
	Visible bool
	Height  float64
}

// ScrollCoordinator сводит прокрутку, новые сообщения и клавиатуру в одно состояние.
// scrollToEnd и dismissKeyboard - действия UI.
type ScrollCoordinator struct {
	clock           clock.Clock
	localUserID     string
	scrollToEnd     func()
	dismissKeyboard func()

	mu       sync.Mutex
	scroll   ScrollState
	keyboard KeyboardState
	unread   int
	timer    *clock.Timer
	gen      uint64
	closed   bool
}

func NewScrollCoordinator(clk clock.Clock, localUserID string, scrollToEnd, dismissKeyboard func()) *ScrollCoordinator {
	if scrollToEnd == nil {
		scrollToEnd = func() {}
	}
	if dismissKeyboard == nil {
		dismissKeyboard = func() {}
	}
	return &ScrollCoordinator{
		clock:           clk,
		localUserID:     localUserID,
		scrollToEnd:     scrollToEnd,
		dismissKeyboard: dismissKeyboard,
		scroll:          NewScrollState(0),
	}
}

func (c *ScrollCoordinator) HandleScroll(offsetY, contentHeight, viewportHeight float64) ScrollState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scroll = NewScrollState(contentHeight - viewportHeight - offsetY)
	return c.scroll
}

// OnNewMessage: у низа ленты прокручиваем (с debounce на пачки), иначе копим счетчик чужих сообщений
func (c *ScrollCoordinator) OnNewMessage(senderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scroll.ShouldAutoScroll && !c.scroll.IsUserScrolling {
		c.scheduleLocked(AutoScrollDebounce)
		return
	}
	if senderID != c.localUserID {
		c.unread++
	}
}

// ScrollToBottom - явное действие пользователя, единственное, что обнуляет счетчик
func (c *ScrollCoordinator) ScrollToBottom() {
	c.mu.Lock()
	c.unread = 0
	c.stopTimerLocked()
	c.mu.Unlock()

	c.scrollToEnd()
}

func (c *ScrollCoordinator) KeyboardShown(height float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyboard = KeyboardState{Visible: true, Height: height}
	if c.scroll.ShouldAutoScroll {
		c.scheduleLocked(KeyboardScrollDelay)
	}
}

func (c *ScrollCoordinator) KeyboardHidden() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyboard = KeyboardState{}
}

// HandleBack возвращает true, если жест "назад" поглощен закрытием клавиатуры
func (c *ScrollCoordinator) HandleBack() bool {
	c.mu.Lock()
	visible := c.keyboard.Visible
	if visible {
		c.keyboard = KeyboardState{}
	}
	c.mu.Unlock()

	if visible {
		c.dismissKeyboard()
	}
	return visible
}

func (c *ScrollCoordinator) State() ScrollState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scroll
}

func (c *ScrollCoordinator) Keyboard() KeyboardState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keyboard
}

func (c *ScrollCoordinator) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// Close снимает отложенную прокрутку, чтобы она не сработала после ухода с экрана
func (c *ScrollCoordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.closed = true
}

func (c *ScrollCoordinator) scheduleLocked(delay time.Duration) {
	if c.closed {
		return
	}
	c.stopTimerLocked()
	gen := c.gen
	c.timer = c.clock.AfterFunc(delay, func() { c.fire(gen) })
}

func (c *ScrollCoordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

func (c *ScrollCoordinator) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	c.scrollToEnd()
}
