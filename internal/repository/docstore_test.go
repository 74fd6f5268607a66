package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social_chat/internal/docstore"
	"social_chat/internal/domain"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

func newTestStore(t *testing.T) (*docstore.MemoryStore, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return docstore.NewMemoryStore(clk), clk
}

func TestConversationRepository_LastMessageAndUnread(t *testing.T) {
	ctx := context.Background()
	store, clk := newTestStore(t)
	repo := NewConversationRepository(store, logger.NewNop())

	conv := &domain.Conversation{ID: "a_b", Type: domain.ConversationTypeOneToOne, Participants: []string{"a", "b"}}
	require.NoError(t, repo.Create(ctx, conv))

	clk.Add(time.Second)
	require.NoError(t, repo.SetLastMessage(ctx, "a_b", domain.LastMessage{Text: "hello", SenderID: "a", Type: domain.MessageTypeText}, []string{"b"}))
	require.NoError(t, repo.SetLastMessage(ctx, "a_b", domain.LastMessage{Text: "again", SenderID: "a", Type: domain.MessageTypeText}, []string{"b"}))

	got, err := repo.GetByID(ctx, "a_b")
	require.NoError(t, err)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "again", got.LastMessage.Text)
	assert.Equal(t, 2, got.UnreadCount["b"])
	assert.Equal(t, 0, got.UnreadCount["a"])
	require.NotNil(t, got.LastMessageTime)
	assert.True(t, got.LastMessageTime.Equal(clk.Now()))
	assert.Equal(t, domain.NotifyAll, got.UserSettings["a"].CustomNotifications)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, errors.Is(err, apperrors.ErrConversationNotFound))
}

func TestConversationRepository_ParticipantsKeepAdminsSubset(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	repo := NewConversationRepository(store, logger.NewNop())

	require.NoError(t, repo.Create(ctx, &domain.Conversation{
		ID: "g1", Type: domain.ConversationTypeGroup, Participants: []string{"a", "b"}, Admins: []string{"a"},
	}))
	require.NoError(t, repo.AddParticipants(ctx, "g1", "c"))
	require.NoError(t, repo.AddAdmin(ctx, "g1", "c"))
	require.NoError(t, repo.RemoveParticipant(ctx, "g1", "c"))

	got, err := repo.GetByID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Participants)
	assert.Equal(t, []string{"a"}, got.Admins)
	assert.NoError(t, got.Validate())
	assert.NotContains(t, got.UserSettings, "c")
}

func TestMessageRepository_ListIsChronological(t *testing.T) {
	ctx := context.Background()
	store, clk := newTestStore(t)
	repo := NewMessageRepository(store, logger.NewNop())

	for _, id := range []string{"m1", "m2", "m3"} {
		clk.Add(time.Second)
		text := id
		require.NoError(t, repo.Create(ctx, &domain.Message{ID: id, ConversationID: "c1", SenderID: "a", Type: domain.MessageTypeText, Text: &text}))
	}

	list, err := repo.List(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "m2", list[0].ID)
	assert.Equal(t, "m3", list[1].ID)
	require.NotNil(t, list[1].Status.Sent)
	assert.True(t, list[1].CreatedAt.Equal(clk.Now()))
}

func TestCallRepository_FindActiveAndEndedBefore(t *testing.T) {
	ctx := context.Background()
	store, clk := newTestStore(t)
	repo := NewCallRepository(store, logger.NewNop())

	require.NoError(t, repo.Create(ctx, &domain.Call{ID: "k1", CallerID: "a", ReceiverID: "b", CallType: domain.CallTypeVoice, Status: domain.CallStatusAnswered}))
	require.NoError(t, repo.Create(ctx, &domain.Call{ID: "k2", CallerID: "c", GroupID: "g", CallType: domain.CallTypeGroupVoice, Status: domain.CallStatusAnswered, ParticipantIDs: []string{"c", "d"}}))

	for user, want := range map[string]string{"a": "k1", "b": "k1", "d": "k2"} {
		active, err := repo.FindActive(ctx, user)
		require.NoError(t, err)
		require.NotNil(t, active, user)
		assert.Equal(t, want, active.ID)
	}
	none, err := repo.FindActive(ctx, "z")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, repo.Update(ctx, "k1", docstore.Set("status", string(domain.CallStatusEnded)), docstore.ServerTimestamp("endedAt")))
	clk.Add(25 * time.Hour)

	old, err := repo.ListEndedBefore(ctx, clk.Now().Add(-24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "k1", old[0].ID)

	var seen []*domain.Call
	unsubscribe, err := repo.Watch(ctx, "k1", func(c *domain.Call) { seen = append(seen, c) })
	require.NoError(t, err)
	defer unsubscribe()
	require.NoError(t, repo.Delete(ctx, "k1"))
	require.Len(t, seen, 2)
	assert.Nil(t, seen[1], "deleted call is reported as nil")
}

func TestBlockRepository(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	repo := NewBlockRepository(store, logger.NewNop())

	require.NoError(t, repo.Block(ctx, "a", "b"))
	require.NoError(t, repo.Block(ctx, "a", "b"))

	blocked, err := repo.IsBlocked(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, blocked)

	blocked, err = repo.IsBlocked(ctx, "b", "a")
	require.NoError(t, err)
	assert.False(t, blocked, "blocking is one-directional")

	list, err := repo.List(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, list)

	require.NoError(t, repo.Unblock(ctx, "a", "b"))
	blocked, err = repo.IsBlocked(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, blocked)
}
