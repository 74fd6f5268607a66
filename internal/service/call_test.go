package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social_chat/internal/chatstate"
	"social_chat/internal/docstore"
	"social_chat/internal/domain"
	"social_chat/internal/config"
	"social_chat/internal/events"
	"social_chat/internal/repository"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

func voiceCall(caller, receiver string) domain.CallRequest {
	return domain.CallRequest{CallerID: caller, CallerName: caller, ReceiverID: receiver, CallType: domain.CallTypeVoice}
}

func groupCall(caller, group string) domain.CallRequest {
	return domain.CallRequest{CallerID: caller, CallerName: caller, GroupID: group, CallType: domain.CallTypeGroupVoice}
}

func TestCallService_InitiateAndAnswer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	call, err := f.calls.InitiateCall(ctx, voiceCall("alice", "bob"))
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, call.Status)
	assert.Equal(t, call.ID, call.ChannelName)
	assert.True(t, call.IsActive)

	_, err = f.calls.AnswerCall(ctx, call.ID, "alice")
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant, "only the receiver answers")

	f.clock.Add(time.Second)
	answered, err := f.calls.AnswerCall(ctx, call.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusAnswered, answered.Status)
	require.NotNil(t, answered.AnsweredAt)

	_, err = f.calls.DeclineCall(ctx, call.ID, "bob")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	ended, err := f.calls.EndCall(ctx, call.ID, "alice", 42)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, ended.Status)
	assert.Equal(t, 42, ended.Duration)
	assert.False(t, ended.IsActive)
	assert.NotNil(t, ended.EndedAt)

	again, err := f.calls.EndCall(ctx, call.ID, "bob", 99)
	require.NoError(t, err)
	assert.Equal(t, 42, again.Duration, "ending twice is a no-op")

	assert.Equal(t, []string{events.TypeCallInitiated, events.TypeCallStatus, events.TypeCallStatus}, f.publisher.types())
}

func TestCallService_EndWhileRinging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	byCaller, err := f.calls.InitiateCall(ctx, voiceCall("alice", "bob"))
	require.NoError(t, err)
	got, err := f.calls.EndCall(ctx, byCaller.ID, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusMissed, got.Status)

	byReceiver, err := f.calls.InitiateCall(ctx, voiceCall("alice", "bob"))
	require.NoError(t, err)
	got, err = f.calls.EndCall(ctx, byReceiver.ID, "bob", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusDeclined, got.Status)

	// из конечного статуса возможен только ended
	_, err = f.calls.AnswerCall(ctx, byReceiver.ID, "bob")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	got, err = f.calls.EndCall(ctx, byReceiver.ID, "bob", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, got.Status)
}

func TestCallService_BusyReceiver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	call, err := f.calls.InitiateCall(ctx, voiceCall("alice", "carol"))
	require.NoError(t, err)
	_, err = f.calls.AnswerCall(ctx, call.ID, "carol")
	require.NoError(t, err)

	before, err := f.calls.ListRecent(ctx, "bob", 0)
	require.NoError(t, err)

	_, err = f.calls.InitiateCall(ctx, voiceCall("bob", "alice"))
	assert.ErrorIs(t, err, apperrors.ErrUserBusy)

	after, err := f.calls.ListRecent(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after), "no call document is created")

	_, err = f.calls.InitiateCall(ctx, voiceCall("alice", "bob"))
	assert.ErrorIs(t, err, apperrors.ErrAlreadyInCall)
}

// Проверка занятости не транзакционна: встречные вызовы, пока ни один не принят, проходят оба
func TestCallService_CrossedInitiationsBothRing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ab, err := f.calls.InitiateCall(ctx, voiceCall("alice", "bob"))
	require.NoError(t, err)
	ba, err := f.calls.InitiateCall(ctx, voiceCall("bob", "alice"))
	require.NoError(t, err)

	assert.NotEqual(t, ab.ID, ba.ID)
	assert.Equal(t, domain.CallStatusRinging, ab.Status)
	assert.Equal(t, domain.CallStatusRinging, ba.Status)
}

func TestCallService_BlockedCaller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.conversations.Block(ctx, "bob", "alice"))

	_, err := f.calls.InitiateCall(ctx, voiceCall("alice", "bob"))
	assert.ErrorIs(t, err, apperrors.ErrBlocked)
}

func TestCallService_MissingParams(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.calls.InitiateCall(ctx, domain.CallRequest{CallerID: "alice", CallerName: "alice", CallType: domain.CallTypeVideo})
	assert.ErrorIs(t, err, apperrors.ErrMissingCallParams)
	_, err = f.calls.InitiateCall(ctx, voiceCall("alice", "alice"))
	assert.ErrorIs(t, err, apperrors.ErrMissingCallParams)
}

func TestCallService_GroupCallLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	call, err := f.calls.InitiateCall(ctx, groupCall("alice", "g1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, call.ParticipantIDs)

	joined, err := f.calls.JoinGroupCall(ctx, call.ID, domain.CallParticipant{UserID: "bob", UserName: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusAnswered, joined.Status, "first joiner answers the call")
	assert.ElementsMatch(t, []string{"alice", "bob"}, joined.ParticipantIDs)

	again, err := f.calls.JoinGroupCall(ctx, call.ID, domain.CallParticipant{UserID: "bob", UserName: "Bob"})
	require.NoError(t, err)
	assert.Len(t, again.Participants, 2)

	f.clock.Add(30 * time.Second)
	left, err := f.calls.LeaveGroupCall(ctx, call.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusAnswered, left.Status)
	assert.Equal(t, []string{"bob"}, left.ParticipantIDs)
	require.Len(t, left.Participants, 1)
	assert.Equal(t, "bob", left.Participants[0].UserID)

	last, err := f.calls.LeaveGroupCall(ctx, call.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, last.Status, "last participant out ends the call")
	assert.False(t, last.IsActive)
	assert.Equal(t, 30, last.Duration)
	assert.Empty(t, last.ParticipantIDs)
}

func TestCallService_UnansweredGroupCallEndsOnLeave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	call, err := f.calls.InitiateCall(ctx, groupCall("alice", "g1"))
	require.NoError(t, err)

	got, err := f.calls.LeaveGroupCall(ctx, call.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, got.Status)
	assert.Zero(t, got.Duration)
}

// interleavedCallRepo выполняет before перед первой записью: чужая запись
// успевает попасть между чтением и записью сервиса
type interleavedCallRepo struct {
	repository.CallRepository
	once   sync.Once
	before func()
}

func (r *interleavedCallRepo) Update(ctx context.Context, id string, updates ...docstore.Update) error {
	r.once.Do(r.before)
	return r.CallRepository.Update(ctx, id, updates...)
}

func TestCallService_ConcurrentLastLeaversEndCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	call, err := f.calls.InitiateCall(ctx, groupCall("alice", "g1"))
	require.NoError(t, err)
	_, err = f.calls.JoinGroupCall(ctx, call.ID, domain.CallParticipant{UserID: "bob", UserName: "Bob"})
	require.NoError(t, err)

	// bob выходит, пока alice уже прочитала состав из двух человек
	repo := &interleavedCallRepo{CallRepository: f.callRepo}
	repo.before = func() {
		require.NoError(t, f.callRepo.Update(ctx, call.ID,
			docstore.ArrayRemove("participantIds", "bob"),
			docstore.ArrayRemoveWhere("participants", "userId", "bob"),
		))
	}
	log := logger.NewNop()
	calls := NewCallService(repo, f.history, repository.NewBlockRepository(f.store, log), NewAuditService(f.audit, log),
		f.publisher, f.clock, config.CallsConfig{Retention: time.Hour}, log)

	got, err := calls.LeaveGroupCall(ctx, call.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, got.Status, "empty roster after the write ends the call")
	assert.Empty(t, got.ParticipantIDs)
	assert.Empty(t, got.Participants)
}

func TestCallService_LeaveRemovesChangedParticipantEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	call, err := f.calls.InitiateCall(ctx, groupCall("alice", "g1"))
	require.NoError(t, err)
	_, err = f.calls.JoinGroupCall(ctx, call.ID, domain.CallParticipant{UserID: "bob", UserName: "Bob"})
	require.NoError(t, err)
	_, err = f.calls.JoinGroupCall(ctx, call.ID, domain.CallParticipant{UserID: "carol", UserName: "Carol"})
	require.NoError(t, err)

	// запись участника в документе отличается от той, что добавлялась при входе
	require.NoError(t, f.store.Update(ctx, docstore.Doc("calls", call.ID), docstore.Set("participants", []map[string]interface{}{
		{"userId": "alice", "userName": "alice"},
		{"isSpeaking": true, "userName": "Bob (renamed)", "userId": "bob", "isMuted": true},
		{"userId": "carol", "userName": "Carol"},
	})))

	got, err := f.calls.LeaveGroupCall(ctx, call.ID, "bob")
	require.NoError(t, err)
	require.Len(t, got.Participants, 2)
	for _, p := range got.Participants {
		assert.NotEqual(t, "bob", p.UserID)
	}
	assert.ElementsMatch(t, []string{"alice", "carol"}, got.ParticipantIDs)
}

func TestCallService_ObserverSeesDeletionAsEnded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	call, err := f.calls.InitiateCall(ctx, voiceCall("alice", "bob"))
	require.NoError(t, err)

	source := userCallSource{calls: f.calls, userID: "bob"}
	obs := chatstate.NewCallObserver(f.clock, nil)
	require.NoError(t, obs.Observe(ctx, source, call.ID))
	defer obs.Close()
	assert.Equal(t, domain.CallStatusRinging, obs.Status())

	require.NoError(t, f.callRepo.Delete(ctx, call.ID))
	select {
	case <-obs.Ended():
	case <-time.After(time.Second):
		t.Fatal("observer did not treat deletion as ended")
	}
	assert.Equal(t, domain.CallStatusEnded, obs.Status())
}

type userCallSource struct {
	calls  CallService
	userID string
}

func (s userCallSource) WatchCall(ctx context.Context, callID string, fn func(*domain.Call)) (docstore.Unsubscribe, error) {
	return s.calls.WatchCall(ctx, callID, s.userID, fn)
}

func TestCallService_CleanupArchivesBeforeDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	done, err := f.calls.InitiateCall(ctx, voiceCall("alice", "bob"))
	require.NoError(t, err)
	_, err = f.calls.DeclineCall(ctx, done.ID, "bob")
	require.NoError(t, err)

	live, err := f.calls.InitiateCall(ctx, voiceCall("carol", "dave"))
	require.NoError(t, err)

	removed, err := f.calls.CleanupEndedCalls(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed, "retention window not passed yet")

	f.clock.Add(2 * time.Hour)

	f.history.err = errStore
	removed, err = f.calls.CleanupEndedCalls(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
	_, err = f.callRepo.GetByID(ctx, done.ID)
	require.NoError(t, err, "call is kept when archiving fails")

	f.history.err = nil
	removed, err = f.calls.CleanupEndedCalls(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = f.callRepo.GetByID(ctx, done.ID)
	assert.ErrorIs(t, err, apperrors.ErrCallNotFound)
	_, err = f.callRepo.GetByID(ctx, live.ID)
	assert.NoError(t, err)

	history, err := f.calls.ListHistory(ctx, "bob", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.CallStatusDeclined, history[0].Status)
	assert.Contains(t, f.audit.eventTypes(), domain.EventTypeCallArchived)
}
