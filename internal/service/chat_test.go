package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social_chat/internal/chatstate"
	"social_chat/internal/domain"
	"social_chat/internal/events"
	"social_chat/internal/repository"
	apperrors "social_chat/pkg/errors"
	"social_chat/pkg/logger"
)

func TestChatService_SendUpdatesConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conv := f.direct(t, "alice", "bob")

	msg := f.sendText(t, conv.ID, "alice", "  hello  ")
	assert.Equal(t, "hello", msg.TextValue())
	require.NotNil(t, msg.CreatedAt, "server timestamp is read back")

	got, err := f.conversations.Get(ctx, conv.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "hello", got.LastMessage.Text)
	assert.Equal(t, "alice", got.LastMessage.SenderID)
	assert.Equal(t, 1, got.UnreadCount["bob"])
	assert.Equal(t, 0, got.UnreadCount["alice"])

	assert.Contains(t, f.publisher.types(), events.TypeMessageSent)
}

func TestChatService_ActiveViewerGetsNoUnread(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conv := f.direct(t, "alice", "bob")

	require.NoError(t, f.presence.SetStatus(ctx, "bob", domain.PresenceOnline, "ios"))
	f.presence.EnterConversation(ctx, "bob", conv.ID)

	f.sendText(t, conv.ID, "alice", "are you there")
	got, err := f.conversations.Get(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadCount["bob"])

	// просмотр устарел: окно активности прошло
	f.clock.Add(2 * time.Minute)
	f.sendText(t, conv.ID, "alice", "hello?")
	got, err = f.conversations.Get(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnreadCount["bob"])
}

func TestChatService_SendValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conv := f.direct(t, "alice", "bob")

	_, err := f.chat.SendMessage(ctx, conv.ID, "alice", domain.MessagePayload{Type: domain.MessageTypeText, Text: "   "})
	assert.ErrorIs(t, err, apperrors.ErrEmptyMessage)

	_, err = f.chat.SendMessage(ctx, conv.ID, "alice", domain.MessagePayload{Type: domain.MessageTypeImage})
	assert.ErrorIs(t, err, apperrors.ErrMediaRequired)

	_, err = f.chat.SendMessage(ctx, conv.ID, "mallory", domain.MessagePayload{Text: "hi"})
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)

	msgs, err := f.chat.ListMessages(ctx, conv.ID, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "rejected sends write nothing")
}

func TestChatService_BlockedSender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conv := f.direct(t, "alice", "bob")

	require.NoError(t, f.conversations.Block(ctx, "bob", "alice"))
	_, err := f.chat.SendMessage(ctx, conv.ID, "alice", domain.MessagePayload{Text: "hi"})
	assert.ErrorIs(t, err, apperrors.ErrBlocked)

	require.NoError(t, f.conversations.Unblock(ctx, "bob", "alice"))
	f.sendText(t, conv.ID, "alice", "hi again")
}

func TestChatService_SoftDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conv := f.direct(t, "alice", "bob")
	msg := f.sendText(t, conv.ID, "alice", "secret")

	require.NoError(t, f.chat.DeleteMessageForMe(ctx, conv.ID, msg.ID, "alice"))

	forAlice, err := f.chat.ListMessages(ctx, conv.ID, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, forAlice)

	forBob, err := f.chat.ListMessages(ctx, conv.ID, "bob", 0)
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	assert.Equal(t, "secret", forBob[0].TextValue(), "other participants keep the message intact")

	err = f.chat.DeleteMessageForEveryone(ctx, conv.ID, msg.ID, "bob")
	assert.ErrorIs(t, err, apperrors.ErrNotSender)

	require.NoError(t, f.chat.DeleteMessageForEveryone(ctx, conv.ID, msg.ID, "alice"))
	require.NoError(t, f.chat.DeleteMessageForEveryone(ctx, conv.ID, msg.ID, "alice"))

	forBob, err = f.chat.ListMessages(ctx, conv.ID, "bob", 0)
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	assert.True(t, forBob[0].IsDeleted)
	assert.Equal(t, domain.DeletedPlaceholder, forBob[0].TextValue())
	assert.Empty(t, forBob[0].MediaURL)

	assert.Equal(t, []string{domain.EventTypeMessageDeleted}, f.audit.eventTypes(), "repeat delete is a no-op")
}

func TestChatService_EditRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conv := f.direct(t, "alice", "bob")
	msg := f.sendText(t, conv.ID, "alice", "helo")

	_, err := f.chat.EditMessage(ctx, conv.ID, msg.ID, "bob", "hijack")
	assert.ErrorIs(t, err, apperrors.ErrNotSender)

	_, err = f.chat.EditMessage(ctx, conv.ID, msg.ID, "alice", "  ")
	assert.ErrorIs(t, err, apperrors.ErrEmptyMessage)

	edited, err := f.chat.EditMessage(ctx, conv.ID, msg.ID, "alice", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", edited.TextValue())
	assert.True(t, edited.IsEdited)
	assert.NotNil(t, edited.EditedAt)

	require.NoError(t, f.chat.DeleteMessageForEveryone(ctx, conv.ID, msg.ID, "alice"))
	_, err = f.chat.EditMessage(ctx, conv.ID, msg.ID, "alice", "again")
	assert.ErrorIs(t, err, apperrors.ErrMessageDeleted)
}

func TestChatService_IdempotentReadReceipts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conv := f.direct(t, "alice", "bob")
	m1 := f.sendText(t, conv.ID, "alice", "one")
	m2 := f.sendText(t, conv.ID, "alice", "two")

	require.NoError(t, f.chat.MarkAsRead(ctx, conv.ID, "bob", []string{m1.ID, m2.ID}))
	first, err := f.messageRepo.GetMany(ctx, conv.ID, []string{m1.ID, m2.ID})
	require.NoError(t, err)
	require.Len(t, first, 2)
	readAt := map[string]time.Time{}
	for _, m := range first {
		at, ok := m.Status.Read["bob"]
		require.True(t, ok)
		readAt[m.ID] = at
	}

	f.clock.Add(time.Minute)
	require.NoError(t, f.chat.MarkAsRead(ctx, conv.ID, "bob", []string{m1.ID, m2.ID}))

	second, err := f.messageRepo.GetMany(ctx, conv.ID, []string{m1.ID, m2.ID})
	require.NoError(t, err)
	for _, m := range second {
		assert.True(t, m.Status.Read["bob"].Equal(readAt[m.ID]), "second call leaves receipts untouched")
	}

	got, err := f.conversations.Get(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadCount["bob"])
}

func TestChatService_ReplySnapshotIsImmutable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conv := f.direct(t, "alice", "bob")
	original := f.sendText(t, conv.ID, "alice", "original")

	reply, err := f.chat.ReplyToMessage(ctx, conv.ID, original.ID, "bob", domain.MessagePayload{Text: "got it"})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, original.ID, reply.ReplyTo.MessageID)
	assert.Equal(t, "alice", reply.ReplyTo.SenderID)

	_, err = f.chat.EditMessage(ctx, conv.ID, original.ID, "alice", "changed")
	require.NoError(t, err)

	stored, err := f.messageRepo.GetByID(ctx, conv.ID, reply.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ReplyTo)
	assert.Equal(t, "original", stored.ReplyTo.Text)
}

func TestChatService_Reactions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conv := f.direct(t, "alice", "bob")
	msg := f.sendText(t, conv.ID, "alice", "nice")

	on, err := f.chat.ToggleReaction(ctx, conv.ID, msg.ID, "bob", "👍")
	require.NoError(t, err)
	assert.True(t, on)
	require.NoError(t, f.chat.AddReaction(ctx, conv.ID, msg.ID, "alice", "👍"))

	got, err := f.messageRepo.GetByID(ctx, conv.ID, msg.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "alice"}, got.Reactions["👍"])

	on, err = f.chat.ToggleReaction(ctx, conv.ID, msg.ID, "bob", "👍")
	require.NoError(t, err)
	assert.False(t, on)

	got, err = f.messageRepo.GetByID(ctx, conv.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, got.Reactions["👍"])

	assert.ErrorIs(t, f.chat.AddReaction(ctx, conv.ID, msg.ID, "bob", "a.b"), apperrors.ErrBadRequest)
}

func TestChatService_Forward(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := f.direct(t, "alice", "bob")
	dst := f.direct(t, "alice", "carol")
	msg := f.sendText(t, src.ID, "bob", "pass it on")

	fwd, err := f.chat.ForwardMessage(ctx, src.ID, msg.ID, dst.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, dst.ID, fwd.ConversationID)
	assert.Equal(t, "alice", fwd.SenderID)
	assert.Equal(t, "pass it on", fwd.TextValue())
	require.NotNil(t, fwd.ForwardedFrom)
	assert.Equal(t, "bob", fwd.ForwardedFrom.SenderID)

	_, err = f.chat.ForwardMessage(ctx, src.ID, msg.ID, dst.ID, "bob")
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)
}

func TestChatService_ClearHistoryHidesOlderMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conv := f.direct(t, "alice", "bob")
	f.sendText(t, conv.ID, "alice", "old")

	f.clock.Add(time.Second)
	require.NoError(t, f.conversations.ClearHistory(ctx, conv.ID, "bob"))
	f.clock.Add(time.Second)
	f.sendText(t, conv.ID, "alice", "new")

	forBob, err := f.chat.ListMessages(ctx, conv.ID, "bob", 0)
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	assert.Equal(t, "new", forBob[0].TextValue())

	forAlice, err := f.chat.ListMessages(ctx, conv.ID, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, forAlice, 2)
}

type chatSender struct {
	chat           ChatService
	conversationID string
	userID         string
}

func (s chatSender) Send(ctx context.Context, payload domain.MessagePayload) error {
	_, err := s.chat.SendMessage(ctx, s.conversationID, s.userID, payload)
	return err
}

func TestComposerSendsThroughChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conv := f.direct(t, "alice", "bob")

	drafts := chatstate.NewDraftStore(repository.NewRedisKeyValueStore(f.redis, logger.NewNop()).Scoped("alice"))
	composer := chatstate.NewComposer(conv.ID, chatstate.ComposerDeps{
		Clock:  f.clock,
		Sender: chatSender{chat: f.chat, conversationID: conv.ID, userID: "alice"},
		Drafts: drafts,
	})
	defer composer.Close()

	assert.Equal(t, chatstate.ModeMic, composer.Mode())
	composer.SetText(ctx, "hello")
	assert.Equal(t, chatstate.ModeSend, composer.Mode())

	require.NoError(t, composer.Send(ctx))
	assert.Equal(t, chatstate.ModeMic, composer.Mode())

	msgs, err := f.chat.ListMessages(ctx, conv.ID, "bob", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].SenderID)
	assert.Equal(t, domain.MessageTypeText, msgs[0].Type)
	assert.Equal(t, "hello", msgs[0].TextValue())

	got, err := f.conversations.Get(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.LastMessage.Text)

	draft, err := drafts.Load(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, draft)
}
