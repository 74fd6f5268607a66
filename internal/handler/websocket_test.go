package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social_chat/internal/chatstate"
	"social_chat/internal/domain"
)

type rawFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server, userID, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path + "?token=" + token(t, userID)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitFrame читает кадры, пока match не вернет true
func waitFrame(t *testing.T, conn *websocket.Conn, match func(rawFrame) bool) rawFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f rawFrame
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func ofType(typ string) func(rawFrame) bool {
	return func(f rawFrame) bool { return f.Type == typ }
}

func TestConversationStream_DeliversNewMessages(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx := context.Background()
	_, err := env.services.Conversation.GetOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	conn := dial(t, srv, "bob", "/ws/conversations/alice_bob")
	waitFrame(t, conn, ofType("conversation"))
	waitFrame(t, conn, ofType("messages"))

	_, err = env.services.Chat.SendMessage(ctx, "alice_bob", "alice", domain.MessagePayload{Type: domain.MessageTypeText, Text: "ping"})
	require.NoError(t, err)

	f := waitFrame(t, conn, func(f rawFrame) bool {
		if f.Type != "messages" {
			return false
		}
		var msgs []*domain.Message
		_ = json.Unmarshal(f.Data, &msgs)
		return len(msgs) == 1
	})
	var msgs []*domain.Message
	require.NoError(t, json.Unmarshal(f.Data, &msgs))
	assert.Equal(t, "ping", msgs[0].TextValue())

	// набор текста через поток отражается в снимке беседы
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "typing"}))
	waitFrame(t, conn, func(f rawFrame) bool {
		if f.Type != "conversation" {
			return false
		}
		var conv domain.Conversation
		_ = json.Unmarshal(f.Data, &conv)
		_, typing := conv.Typing["bob"]
		return typing
	})
}

func TestConversationStream_RejectsOutsiders(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	_, err := env.services.Conversation.GetOrCreateDirect(context.Background(), "alice", "bob")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/conversations/alice_bob?token=" + token(t, "mallory")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestConversationStream_FailedSwitchDetaches(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx := context.Background()
	_, err := env.services.Conversation.GetOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = env.services.Conversation.GetOrCreateDirect(ctx, "carol", "dave")
	require.NoError(t, err)

	conn := dial(t, srv, "bob", "/ws/conversations/alice_bob")
	waitFrame(t, conn, ofType("conversation"))

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "open", ConversationID: "carol_dave"}))
	waitFrame(t, conn, ofType("error"))

	// после неудачного переключения кадры не уходят в прежнюю беседу
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "typing"}))
	waitFrame(t, conn, func(f rawFrame) bool {
		return f.Type == "error" && strings.Contains(string(f.Data), "no open conversation")
	})

	conv, err := env.services.Conversation.Get(ctx, "alice_bob", "alice")
	require.NoError(t, err)
	assert.NotContains(t, conv.Typing, "bob")
}

func TestCallStream_EndsOnDecline(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx := context.Background()
	call, err := env.services.Call.InitiateCall(ctx, domain.CallRequest{
		CallerID: "alice", CallerName: "Alice", ReceiverID: "bob", CallType: domain.CallTypeVoice,
	})
	require.NoError(t, err)

	conn := dial(t, srv, "alice", "/ws/calls/"+call.ID)
	waitFrame(t, conn, ofType("call"))

	_, err = env.services.Call.DeclineCall(ctx, call.ID, "bob")
	require.NoError(t, err)

	f := waitFrame(t, conn, ofType("call_ended"))
	var data struct {
		Status domain.CallStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &data))
	assert.Equal(t, domain.CallStatusDeclined, data.Status)

	// после конечного статуса сервер закрывает поток
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestRoomStream_SpeakingIndicator(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	room, err := env.services.VoiceRoom.CreateRoom(context.Background(), "comm1", "", "Lobby", "alice")
	require.NoError(t, err)

	conn := dial(t, srv, "alice", "/ws/communities/comm1/rooms/"+room.ID)
	waitFrame(t, conn, ofType("room"))

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "volumes", Volumes: []chatstate.VolumeInfo{{UserID: "alice", Volume: 40}}}))
	f := waitFrame(t, conn, ofType("speaking"))
	var speaking []string
	require.NoError(t, json.Unmarshal(f.Data, &speaking))
	assert.Equal(t, []string{"alice"}, speaking)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "mute", Muted: true}))
	f = waitFrame(t, conn, ofType("speaking"))
	require.NoError(t, json.Unmarshal(f.Data, &speaking))
	assert.Empty(t, speaking)

	require.NoError(t, env.services.VoiceRoom.EndRoom(context.Background(), "comm1", room.ID, "alice"))
	waitFrame(t, conn, ofType("room_ended"))
}
