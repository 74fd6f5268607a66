package chatstate

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"social_chat/internal/domain"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

const (
	// PressDelay отличает нажатие от удержания кнопки микрофона
	PressDelay = 200 * time.Millisecond
	// MinRecordingSeconds - более короткие записи отбрасываются
	MinRecordingSeconds = 1
)

// Mode - какая кнопка показана рядом с полем ввода
type Mode int

const (
	ModeMic Mode = iota
	ModeSend
)

func (m Mode) String() string {
	if m == ModeSend {
		return "send"
	}
	return "mic"
}

// ModeFor: только пробелы считаются пустым текстом
func ModeFor(text string) Mode {
	if strings.TrimSpace(text) != "" {
		return ModeSend
	}
	return ModeMic
}

// Phase - состояние композера. Запись возможна только из PhaseIdle, где показан микрофон,
// поэтому "запись при кнопке отправки" невыразима.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseComposing
	PhasePressing
	PhaseRecording
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseComposing:
		return "composing"
	case PhasePressing:
		return "pressing"
	case PhaseRecording:
		return "recording"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) Mode() Mode {
	if p == PhaseComposing {
		return ModeSend
	}
	return ModeMic
}

// Sender - конвейер отправки (ChatService.SendMessage за HTTP-клиентом или напрямую)
type Sender interface {
	Send(ctx context.Context, payload domain.MessagePayload) error
}

// Uploader - внешнее хранилище вложений
type Uploader interface {
	Upload(ctx context.Context, fileName, contentType string, body io.Reader) (string, error)
}

// Recorder - диктофон устройства. Stop возвращает адрес записанного клипа.
type Recorder interface {
	Start() error
	Stop() (string, error)
}

type UploadProgress struct {
	Uploading bool
	Stage     string
}

type ComposerDeps struct {
	Clock    clock.Clock
	Sender   Sender
	Uploader Uploader
	Recorder Recorder
	Network  *NetworkMonitor
	Drafts   *DraftStore
	Typing   *TypingIndicator
	Log      logger.Logger
}

type Composer struct {
	conversationID string
	deps           ComposerDeps

	mu          sync.Mutex
	text        string
	phase       Phase
	sending     bool
	disabled    bool
	upload      UploadProgress
	pressTimer  *clock.Timer
	pressGen    uint64
	recordStart time.Time
}

func NewComposer(conversationID string, deps ComposerDeps) *Composer {
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	return &Composer{conversationID: conversationID, deps: deps}
}

// Restore подставляет сохраненный черновик при открытии беседы
func (c *Composer) Restore(ctx context.Context) {
	if c.deps.Drafts == nil {
		return
	}
	text, err := c.deps.Drafts.Load(ctx, c.conversationID)
	if err != nil {
		c.deps.Log.Warn("Failed to load draft", "error", err, "conversation_id", c.conversationID)
		return
	}
	c.mu.Lock()
	c.text = text
	c.settleLocked()
	c.mu.Unlock()
}

// SetText - каждое изменение поля. Черновик сохраняется и офлайн.
func (c *Composer) SetText(ctx context.Context, text string) {
	c.mu.Lock()
	c.text = text
	c.settleLocked()
	c.mu.Unlock()

	if c.deps.Drafts != nil {
		if err := c.deps.Drafts.Save(ctx, c.conversationID, text); err != nil {
			c.deps.Log.Warn("Failed to save draft", "error", err, "conversation_id", c.conversationID)
		}
	}
	if c.deps.Typing != nil {
		c.deps.Typing.Keystroke(text)
	}
}

// settleLocked пересчитывает фазу из текста вне записи
func (c *Composer) settleLocked() {
	if c.phase == PhasePressing || c.phase == PhaseRecording {
		return
	}
	if ModeFor(c.text) == ModeSend {
		c.phase = PhaseComposing
	} else {
		c.phase = PhaseIdle
	}
}

func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

func (c *Composer) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Composer) Mode() Mode {
	return c.Phase().Mode()
}

func (c *Composer) SetDisabled(disabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = disabled
}

func (c *Composer) Progress() UploadProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upload
}

func (c *Composer) online() bool {
	return c.deps.Network == nil || c.deps.Network.IsOnline()
}

// CanSend - любое из условий блокирует отправку
func (c *Composer) CanSend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canSendLocked()
}

func (c *Composer) canSendLocked() error {
	switch {
	case strings.TrimSpace(c.text) == "":
		return apperrors.ErrEmptyMessage
	case c.sending:
		return apperrors.ErrSendInFlight
	case c.disabled:
		return apperrors.ErrSendDisabled
	case !c.online():
		return apperrors.ErrOffline
	}
	return nil
}

// Send отправляет текст. При ошибке текст остается в поле для повтора.
func (c *Composer) Send(ctx context.Context) error {
	c.mu.Lock()
	if err := c.canSendLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.sending = true
	payload := domain.MessagePayload{Type: domain.MessageTypeText, Text: strings.TrimSpace(c.text)}
	c.mu.Unlock()

	err := c.deps.Sender.Send(ctx, payload)

	c.mu.Lock()
	c.sending = false
	if err == nil {
		c.text = ""
		c.settleLocked()
	}
	c.mu.Unlock()

	if err != nil {
		c.deps.Log.Warn("Failed to send message", "error", err, "conversation_id", c.conversationID)
		return err
	}

	if c.deps.Drafts != nil {
		if err := c.deps.Drafts.Clear(ctx, c.conversationID); err != nil {
			c.deps.Log.Warn("Failed to clear draft", "error", err, "conversation_id", c.conversationID)
		}
	}
	if c.deps.Typing != nil {
		c.deps.Typing.Stop()
	}
	return nil
}

// PressIn - палец на кнопке микрофона. Запись начнется, если удержание продлится PressDelay.
func (c *Composer) PressIn() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseIdle:
	case PhasePressing, PhaseRecording:
		return apperrors.ErrRecordingInProgress
	default:
		// при набранном тексте показана кнопка отправки, микрофона нет
		return apperrors.ErrBadRequest
	}

	c.phase = PhasePressing
	c.pressGen++
	gen := c.pressGen
	c.pressTimer = c.deps.Clock.AfterFunc(PressDelay, func() { c.startRecording(gen) })
	return nil
}

func (c *Composer) startRecording(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhasePressing || gen != c.pressGen {
		return
	}
	c.pressTimer = nil

	if err := c.deps.Recorder.Start(); err != nil {
		c.deps.Log.Warn("Failed to start recording", "error", err, "conversation_id", c.conversationID)
		c.phase = PhaseIdle
		c.settleLocked()
		return
	}
	c.phase = PhaseRecording
	c.recordStart = c.deps.Clock.Now()
}

// RecordingSeconds - счетчик длительности с разрешением в секунду
func (c *Composer) RecordingSeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseRecording {
		return 0
	}
	return int(c.deps.Clock.Now().Sub(c.recordStart) / time.Second)
}

// PressOut - палец отпущен. Короткое нажатие ничего не записывает. Запись короче
// секунды отбрасывается с ErrRecordingTooShort. Офлайн запись не ставится в очередь:
// возвращается ErrWillSendWhenOnline, и клип теряется.
func (c *Composer) PressOut(ctx context.Context) error {
	c.mu.Lock()
	switch c.phase {
	case PhasePressing:
		if c.pressTimer != nil {
			c.pressTimer.Stop()
			c.pressTimer = nil
		}
		c.pressGen++
		c.phase = PhaseIdle
		c.settleLocked()
		c.mu.Unlock()
		return nil
	case PhaseRecording:
	default:
		c.mu.Unlock()
		return nil
	}

	seconds := int(c.deps.Clock.Now().Sub(c.recordStart) / time.Second)
	c.phase = PhaseIdle
	c.settleLocked()
	c.mu.Unlock()

	url, err := c.deps.Recorder.Stop()
	if err != nil {
		c.deps.Log.Warn("Failed to stop recording", "error", err, "conversation_id", c.conversationID)
		return err
	}
	if seconds < MinRecordingSeconds {
		return apperrors.ErrRecordingTooShort
	}
	if !c.online() {
		return apperrors.ErrWillSendWhenOnline
	}

	return c.deps.Sender.Send(ctx, domain.MessagePayload{
		Type:     domain.MessageTypeVoice,
		MediaURL: url,
		Duration: seconds,
	})
}

// AttachMedia загружает фото или видео и отправляет его сообщением.
// Набранный текст при этом не трогается, в том числе при ошибке загрузки.
func (c *Composer) AttachMedia(ctx context.Context, fileName, contentType string, body io.Reader) error {
	msgType, stage := attachmentKind(contentType)
	if msgType == "" {
		return apperrors.ErrBadRequest
	}
	if !c.online() {
		return apperrors.ErrOffline
	}

	c.mu.Lock()
	if c.upload.Uploading {
		c.mu.Unlock()
		return apperrors.ErrSendInFlight
	}
	c.upload = UploadProgress{Uploading: true, Stage: stage}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.upload = UploadProgress{}
		c.mu.Unlock()
	}()

	url, err := c.deps.Uploader.Upload(ctx, fileName, contentType, body)
	if err != nil {
		c.deps.Log.Warn("Attachment upload failed", "error", err, "conversation_id", c.conversationID)
		return fmt.Errorf("%w: %v", apperrors.ErrUploadFailed, err)
	}

	c.mu.Lock()
	c.upload.Stage = "Sending..."
	c.mu.Unlock()

	return c.deps.Sender.Send(ctx, domain.MessagePayload{Type: msgType, MediaURL: url})
}

func attachmentKind(contentType string) (domain.MessageType, string) {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return domain.MessageTypeImage, "Uploading photo..."
	case strings.HasPrefix(ct, "video/"):
		return domain.MessageTypeVideo, "Uploading video..."
	}
	return "", ""
}

// Close снимает таймер удержания
func (c *Composer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pressTimer != nil {
		c.pressTimer.Stop()
		c.pressTimer = nil
	}
	c.pressGen++
}
