package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"social_chat/internal/chatstate"
	"social_chat/internal/docstore"
	"social_chat/internal/domain"
	"social_chat/internal/metrics"
	"social_chat/internal/middleware"
	"social_chat/internal/service"
	"social_chat/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 64

	// сколько последних сообщений держит подписка открытой беседы
	streamMessageLimit = 50
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // В продакшене нужно проверять origin
	},
}

// Frame - сообщение сервера в поток
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// ClientFrame - команда клиента; поля заполняются в зависимости от type
type ClientFrame struct {
	Type           string                 `json:"type"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	MessageIDs     []string               `json:"message_ids,omitempty"`
	Volumes        []chatstate.VolumeInfo `json:"volumes,omitempty"`
	UserID         string                 `json:"user_id,omitempty"`
	Muted          bool                   `json:"muted,omitempty"`
	Text           string                 `json:"text,omitempty"`
}

// stream - одно WebSocket-соединение: читающий цикл в горутине обработчика и пишущий в своей.
// Колбэки подписок пишут только в буфер send и никогда не блокируются.
type stream struct {
	conn *websocket.Conn
	send chan Frame
	done chan struct{}
	once sync.Once
	log  logger.Logger
}

func newStream(conn *websocket.Conn, log logger.Logger) *stream {
	return &stream{
		conn: conn,
		send: make(chan Frame, sendBufferSize),
		done: make(chan struct{}),
		log:  log,
	}
}

func (s *stream) push(f Frame) {
	select {
	case <-s.done:
	case s.send <- f:
	default:
		s.log.Warn("Stream buffer overflow, closing connection", "frame", f.Type)
		s.close()
	}
}

func (s *stream) pushError(err error) {
	s.push(Frame{Type: "error", Data: gin.H{"error": err.Error()}})
}

func (s *stream) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *stream) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case f := <-s.send:
			if err := s.write(f); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.close()
				return
			}
		case <-s.done:
			// последний кадр (например, ended) уходит до закрытия
			for {
				select {
				case f := <-s.send:
					if err := s.write(f); err != nil {
						return
					}
				default:
					_ = s.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}

func (s *stream) write(f Frame) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}

func (s *stream) readPump(handle func(ClientFrame)) {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f ClientFrame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("Websocket closed unexpectedly", "error", err)
			}
			return
		}
		// любое сообщение клиента продлевает соединение
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if handle != nil {
			handle(f)
		}
	}
}

// run блокирует до закрытия соединения
func (s *stream) run(handle func(ClientFrame)) {
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	go s.writePump()
	s.readPump(handle)
}

type WebSocketHandler struct {
	services *service.Services
	clock    clock.Clock
	log      logger.Logger
}

func NewWebSocketHandler(services *service.Services, clk clock.Clock, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		services: services,
		clock:    clk,
		log:      log,
	}
}

func (h *WebSocketHandler) upgrade(c *gin.Context) (*stream, bool) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return nil, false
	}
	return newStream(conn, h.log), true
}

// userConversationSource привязывает подписки беседы к пользователю потока
type userConversationSource struct {
	conversations service.ConversationService
	chat          service.ChatService
	userID        string
}

func (s userConversationSource) WatchConversation(ctx context.Context, id string, fn func(*domain.Conversation)) (docstore.Unsubscribe, error) {
	return s.conversations.Watch(ctx, id, s.userID, fn)
}

func (s userConversationSource) WatchMessages(ctx context.Context, id string, fn func([]*domain.Message)) (docstore.Unsubscribe, error) {
	return s.chat.WatchMessages(ctx, id, s.userID, streamMessageLimit, fn)
}

type userCallSource struct {
	calls  service.CallService
	userID string
}

func (s userCallSource) WatchCall(ctx context.Context, id string, fn func(*domain.Call)) (docstore.Unsubscribe, error) {
	return s.calls.WatchCall(ctx, id, s.userID, fn)
}

// ConversationStream - открытый экран беседы: снимки беседы и сообщений, набор, квитанции.
// Кадр open переключает поток на другую беседу без переподключения.
func (h *WebSocketHandler) ConversationStream(c *gin.Context) {
	userID := middleware.UserID(c)
	conversationID := c.Param("id")
	if _, err := h.services.Conversation.Get(c.Request.Context(), conversationID, userID); err != nil {
		respondError(c, h.log, err)
		return
	}

	st, ok := h.upgrade(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := chatstate.NewConversationSession(userConversationSource{
		conversations: h.services.Conversation,
		chat:          h.services.Chat,
		userID:        userID,
	}, chatstate.SessionHandlers{
		OnConversation: func(conv *domain.Conversation) {
			if conv == nil {
				st.push(Frame{Type: "conversation_deleted"})
				return
			}
			st.push(Frame{Type: "conversation", Data: conv})
		},
		OnMessages: func(msgs []*domain.Message) {
			st.push(Frame{Type: "messages", Data: msgs})
		},
	})
	defer session.Close()

	if err := session.Open(ctx, conversationID); err != nil {
		h.log.Error("Failed to open conversation stream", "error", err, "conversation_id", conversationID)
		st.pushError(err)
		st.close()
	} else {
		h.services.Presence.EnterConversation(ctx, userID, conversationID)
	}
	defer func() {
		if current := session.ConversationID(); current != "" {
			h.services.Presence.LeaveConversation(ctx, userID, current)
		}
	}()

	st.run(func(f ClientFrame) {
		current := session.ConversationID()
		var err error
		if f.Type == "open" {
			if f.ConversationID == "" || f.ConversationID == current {
				return
			}
			err = session.Open(ctx, f.ConversationID)
			// старая беседа закрыта в любом случае
			if current != "" {
				h.services.Presence.LeaveConversation(ctx, userID, current)
			}
			if err != nil {
				st.pushError(err)
				return
			}
			h.services.Presence.EnterConversation(ctx, userID, f.ConversationID)
			return
		}
		if current == "" {
			st.push(Frame{Type: "error", Data: gin.H{"error": "no open conversation"}})
			return
		}
		switch f.Type {
		case "touch":
			h.services.Presence.TouchConversation(ctx, userID, current)
		case "typing":
			err = h.services.Typing.StartTyping(ctx, current, userID)
		case "stop_typing":
			err = h.services.Typing.StopTyping(ctx, current, userID)
		case "read":
			err = h.services.Chat.MarkAsRead(ctx, current, userID, f.MessageIDs)
		case "delivered":
			err = h.services.Chat.MarkAsDelivered(ctx, current, userID, f.MessageIDs)
		default:
			st.push(Frame{Type: "error", Data: gin.H{"error": "unknown frame type"}})
		}
		if err != nil {
			st.pushError(err)
		}
	})
}

// ConversationListStream - список бесед пользователя для главного экрана
func (h *WebSocketHandler) ConversationListStream(c *gin.Context) {
	userID := middleware.UserID(c)
	st, ok := h.upgrade(c)
	if !ok {
		return
	}

	unsub, err := h.services.Conversation.WatchList(context.Background(), userID, func(list []*domain.Conversation) {
		st.push(Frame{Type: "conversations", Data: list})
	})
	if err != nil {
		h.log.Error("Failed to watch conversations", "error", err, "user_id", userID)
		st.pushError(err)
		st.close()
	} else {
		defer unsub()
	}

	st.run(nil)
}

// CallStream сопровождает звонок до конечного статуса. Удаление документа звонка
// приходит как ended; после него поток закрывается.
func (h *WebSocketHandler) CallStream(c *gin.Context) {
	userID := middleware.UserID(c)
	callID := c.Param("id")
	if _, err := h.services.Call.GetCall(c.Request.Context(), callID, userID); err != nil {
		respondError(c, h.log, err)
		return
	}

	st, ok := h.upgrade(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := chatstate.NewCallObserver(h.clock, func(u chatstate.CallUpdate) {
		st.push(Frame{Type: "call", Data: gin.H{"status": u.Status, "call": u.Call}})
	})
	defer obs.Close()

	if err := obs.Observe(ctx, userCallSource{calls: h.services.Call, userID: userID}, callID); err != nil {
		h.log.Error("Failed to observe call", "error", err, "call_id", callID)
		st.pushError(err)
		st.close()
	}

	go func() {
		select {
		case <-obs.Ended():
			st.push(Frame{Type: "call_ended", Data: gin.H{"status": obs.Status()}})
			st.close()
		case <-st.done:
		}
	}()

	st.run(func(f ClientFrame) {
		switch f.Type {
		case "elapsed":
			st.push(Frame{Type: "elapsed", Data: gin.H{"seconds": int(obs.Elapsed().Seconds())}})
		case "end":
			// длительность считает сервер от момента ответа
			if _, err := h.services.Call.EndCall(ctx, callID, userID, int(obs.Elapsed().Seconds())); err != nil {
				st.pushError(err)
			}
		default:
			st.push(Frame{Type: "error", Data: gin.H{"error": "unknown frame type"}})
		}
	})
}

// IncomingCallsStream - звонки в статусе ringing, где пользователь получатель
func (h *WebSocketHandler) IncomingCallsStream(c *gin.Context) {
	userID := middleware.UserID(c)
	st, ok := h.upgrade(c)
	if !ok {
		return
	}

	unsub, err := h.services.Call.WatchIncoming(context.Background(), userID, func(calls []*domain.Call) {
		st.push(Frame{Type: "incoming", Data: calls})
	})
	if err != nil {
		h.log.Error("Failed to watch incoming calls", "error", err, "user_id", userID)
		st.pushError(err)
		st.close()
	} else {
		defer unsub()
	}

	st.run(nil)
}

// RoomStream - голосовая комната: состав, чат и индикатор говорящих по громкостям от клиента
func (h *WebSocketHandler) RoomStream(c *gin.Context) {
	userID := middleware.UserID(c)
	communityID, roomID := c.Param("communityId"), c.Param("roomId")
	if _, err := h.services.VoiceRoom.GetRoom(c.Request.Context(), communityID, roomID); err != nil {
		respondError(c, h.log, err)
		return
	}
	displayName := middleware.DisplayName(c)

	st, ok := h.upgrade(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unsubRoom, err := h.services.VoiceRoom.WatchRoom(ctx, communityID, roomID, func(room *domain.VoiceRoom) {
		if room == nil {
			st.push(Frame{Type: "room_ended"})
			st.close()
			return
		}
		st.push(Frame{Type: "room", Data: room})
	})
	if err != nil {
		h.log.Error("Failed to watch room", "error", err, "room_id", roomID)
		st.pushError(err)
		st.close()
	} else {
		defer unsubRoom()
	}

	unsubChat, err := h.services.VoiceRoom.WatchChat(ctx, communityID, roomID, func(msgs []*domain.RoomChatMessage) {
		st.push(Frame{Type: "chat", Data: msgs})
	})
	if err != nil {
		h.log.Error("Failed to watch room chat", "error", err, "room_id", roomID)
		st.pushError(err)
		st.close()
	} else {
		defer unsubChat()
	}

	speaking := chatstate.NewSpeakingTracker(0)
	pushSpeaking := func() {
		st.push(Frame{Type: "speaking", Data: speaking.Speaking()})
	}

	st.run(func(f ClientFrame) {
		switch f.Type {
		case "volumes":
			if speaking.Update(f.Volumes) {
				pushSpeaking()
			}
		case "mute":
			target := f.UserID
			if target == "" {
				target = userID
			}
			speaking.SetMuted(target, f.Muted)
			pushSpeaking()
		case "chat":
			if _, err := h.services.VoiceRoom.SendChatMessage(ctx, communityID, roomID, userID, displayName, f.Text); err != nil {
				st.pushError(err)
			}
		default:
			st.push(Frame{Type: "error", Data: gin.H{"error": "unknown frame type"}})
		}
	})
}
