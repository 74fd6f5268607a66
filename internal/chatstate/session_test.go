package chatstate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social_chat/internal/docstore"
	"social_chat/internal/domain"
)

type fakeSource struct {
	mu       sync.Mutex
	convFns  map[string]func(*domain.Conversation)
	msgFns   map[string]func([]*domain.Message)
	callFns  map[string]func(*domain.Call)
	unsubbed atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		convFns: make(map[string]func(*domain.Conversation)),
		msgFns:  make(map[string]func([]*domain.Message)),
		callFns: make(map[string]func(*domain.Call)),
	}
}

func (s *fakeSource) unsub() docstore.Unsubscribe {
	var once sync.Once
	return func() { once.Do(func() { s.unsubbed.Add(1) }) }
}

func (s *fakeSource) WatchConversation(_ context.Context, id string, fn func(*domain.Conversation)) (docstore.Unsubscribe, error) {
	s.mu.Lock()
	s.convFns[id] = fn
	s.mu.Unlock()
	fn(&domain.Conversation{ID: id})
	return s.unsub(), nil
}

func (s *fakeSource) WatchMessages(_ context.Context, id string, fn func([]*domain.Message)) (docstore.Unsubscribe, error) {
	s.mu.Lock()
	s.msgFns[id] = fn
	s.mu.Unlock()
	fn(nil)
	return s.unsub(), nil
}

func (s *fakeSource) WatchCall(_ context.Context, id string, fn func(*domain.Call)) (docstore.Unsubscribe, error) {
	s.mu.Lock()
	s.callFns[id] = fn
	s.mu.Unlock()
	return s.unsub(), nil
}

func (s *fakeSource) pushMessages(id string, msgs []*domain.Message) {
	s.mu.Lock()
	fn := s.msgFns[id]
	s.mu.Unlock()
	fn(msgs)
}

func (s *fakeSource) pushCall(id string, call *domain.Call) {
	s.mu.Lock()
	fn := s.callFns[id]
	s.mu.Unlock()
	fn(call)
}

func TestConversationSession_SwitchIgnoresStaleCallbacks(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()

	var mu sync.Mutex
	var seen []string
	session := NewConversationSession(source, SessionHandlers{
		OnMessages: func(msgs []*domain.Message) {
			mu.Lock()
			defer mu.Unlock()
			for _, m := range msgs {
				seen = append(seen, m.ConversationID+"/"+m.ID)
			}
		},
	})

	require.NoError(t, session.Open(ctx, "c1"))
	require.NoError(t, session.Open(ctx, "c1"))
	assert.Zero(t, source.unsubbed.Load(), "reopening the same conversation keeps listeners")

	require.NoError(t, session.Open(ctx, "c2"))
	assert.Equal(t, int32(2), source.unsubbed.Load())
	assert.Equal(t, "c2", session.ConversationID())

	source.pushMessages("c1", []*domain.Message{{ID: "m1", ConversationID: "c1"}})
	source.pushMessages("c2", []*domain.Message{{ID: "m2", ConversationID: "c2"}})

	mu.Lock()
	assert.Equal(t, []string{"c2/m2"}, seen)
	mu.Unlock()

	session.Close()
	assert.Equal(t, int32(4), source.unsubbed.Load())
	assert.Empty(t, session.ConversationID())

	source.pushMessages("c2", []*domain.Message{{ID: "m3", ConversationID: "c2"}})
	mu.Lock()
	assert.Equal(t, []string{"c2/m2"}, seen, "no callbacks after close")
	mu.Unlock()
}

func TestConversationSession_InitialSnapshotDelivered(t *testing.T) {
	source := newFakeSource()
	var got atomic.Value
	session := NewConversationSession(source, SessionHandlers{
		OnConversation: func(c *domain.Conversation) { got.Store(c.ID) },
	})

	require.NoError(t, session.Open(context.Background(), "c9"))
	assert.Equal(t, "c9", got.Load())
}

func TestCallObserver_DeletionMeansEnded(t *testing.T) {
	source := newFakeSource()
	var updates []CallUpdate
	var mu sync.Mutex
	obs := NewCallObserver(clock.NewMock(), func(u CallUpdate) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, u)
	})

	require.NoError(t, obs.Observe(context.Background(), source, "call1"))
	source.pushCall("call1", &domain.Call{ID: "call1", Status: domain.CallStatusRinging})
	assert.Equal(t, domain.CallStatusRinging, obs.Status())

	source.pushCall("call1", nil)
	assert.Equal(t, domain.CallStatusEnded, obs.Status())

	select {
	case <-obs.Ended():
	case <-time.After(time.Second):
		t.Fatal("ended channel not closed")
	}
	assert.Eventually(t, func() bool { return source.unsubbed.Load() == 1 }, time.Second, 5*time.Millisecond)

	// после конечного статуса обновления не доходят
	source.pushCall("call1", &domain.Call{ID: "call1", Status: domain.CallStatusAnswered})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 2)
	assert.Nil(t, updates[1].Call)
	assert.Equal(t, domain.CallStatusEnded, updates[1].Status)
}

// streamCallSource доставляет снимки из своей горутины, а снятие подписки
// отменяет ее и ждет выхода, как change stream
type streamCallSource struct {
	updates chan *domain.Call
	stopped atomic.Bool
}

func (s *streamCallSource) WatchCall(_ context.Context, _ string, fn func(*domain.Call)) (docstore.Unsubscribe, error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				s.stopped.Store(true)
				return
			case call := <-s.updates:
				fn(call)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func TestCallObserver_TerminalStatusFromStreamGoroutine(t *testing.T) {
	source := &streamCallSource{updates: make(chan *domain.Call)}
	obs := NewCallObserver(clock.NewMock(), nil)
	require.NoError(t, obs.Observe(context.Background(), source, "call1"))

	source.updates <- &domain.Call{ID: "call1", Status: domain.CallStatusRinging}
	source.updates <- &domain.Call{ID: "call1", Status: domain.CallStatusDeclined}

	select {
	case <-obs.Ended():
	case <-time.After(time.Second):
		t.Fatal("ended channel not closed")
	}

	closed := make(chan struct{})
	go func() {
		obs.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after a terminal status")
	}
	assert.True(t, source.stopped.Load(), "stream goroutine exited")
	assert.Equal(t, domain.CallStatusDeclined, obs.Status())
}

type failingSource struct {
	*fakeSource
	failID string
}

func (s *failingSource) WatchMessages(ctx context.Context, id string, fn func([]*domain.Message)) (docstore.Unsubscribe, error) {
	if id == s.failID {
		return nil, errors.New("watch failed")
	}
	return s.fakeSource.WatchMessages(ctx, id, fn)
}

func TestConversationSession_FailedSwitchForgetsOldConversation(t *testing.T) {
	ctx := context.Background()
	source := &failingSource{fakeSource: newFakeSource(), failID: "c2"}
	session := NewConversationSession(source, SessionHandlers{})

	require.NoError(t, session.Open(ctx, "c1"))
	require.Error(t, session.Open(ctx, "c2"))

	// c1 уже отписан, c2 не открылся: сессия не указывает ни на одну беседу
	assert.Empty(t, session.ConversationID())
	assert.Equal(t, int32(3), source.unsubbed.Load())

	require.NoError(t, session.Open(ctx, "c1"))
	assert.Equal(t, "c1", session.ConversationID())
}

func TestCallObserver_ElapsedFromAnswer(t *testing.T) {
	clk := clock.NewMock()
	source := newFakeSource()
	obs := NewCallObserver(clk, nil)
	require.NoError(t, obs.Observe(context.Background(), source, "call1"))

	answered := clk.Now()
	source.pushCall("call1", &domain.Call{ID: "call1", Status: domain.CallStatusAnswered, AnsweredAt: &answered})
	clk.Add(42 * time.Second)
	assert.Equal(t, 42*time.Second, obs.Elapsed())

	source.pushCall("call1", &domain.Call{ID: "call1", Status: domain.CallStatusDeclined})
	select {
	case <-obs.Ended():
	default:
		t.Fatal("declined is terminal")
	}
	obs.Close()
}

func TestSpeakingTracker(t *testing.T) {
	tr := NewSpeakingTracker(0)

	assert.True(t, tr.Update([]VolumeInfo{{UserID: "a", Volume: 30}, {UserID: "b", Volume: 5}}))
	assert.Equal(t, []string{"a"}, tr.Speaking(), "threshold is exclusive")
	assert.False(t, tr.Update([]VolumeInfo{{UserID: "a", Volume: 12}}))

	tr.SetMuted("a", true)
	assert.False(t, tr.IsSpeaking("a"))
	assert.True(t, tr.IsMuted("a"))
	tr.Update([]VolumeInfo{{UserID: "a", Volume: 80}})
	assert.Empty(t, tr.Speaking(), "muted users never speak")

	tr.SetMuted("a", false)
	assert.True(t, tr.Update([]VolumeInfo{{UserID: "a", Volume: 80}}))
	assert.True(t, tr.IsSpeaking("a"))
}
