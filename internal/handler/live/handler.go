package live

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/novavoice/companion/backend/internal/convo"
	"github.com/novavoice/companion/backend/internal/model/avatar"
)

const (
	readTimeout     = 60 * time.Second
	pingInterval    = 54 * time.Second
	maxMessageBytes = 1 << 20
)

// Handler 实时语音对话的WebSocket入口。每条连接至多承载一条会话，
// 连接断开则会话随之销毁。
type Handler struct {
	registry *convo.Registry
	avatars  avatar.Store
	upgrader websocket.Upgrader
}

// New 创建live处理器
func New(registry *convo.Registry, avatars avatar.Store) *Handler {
	return &Handler{
		registry: registry,
		avatars:  avatars,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册live相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/live/ws", h.handleWebSocket)
}

// connWriter 串行化同一连接上的并发下行写入。读循环与会话的
// 异步回调都会调用它,gorilla连接本身不允许并发写。
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) SendEvent(event string, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(outgoingMessage{
		Type:      event,
		Data:      payload,
		Timestamp: time.Now().Unix(),
	})
}

func (w *connWriter) SendAudio(epoch uint32, pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, EncodeAudioFrame(epoch, pcm))
}

func (w *connWriter) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[live] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[live] new connection from %s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	writer := &connWriter{conn: conn}
	go h.pingLoop(ctx, writer)

	var session *convo.Session
	defer func() {
		if session != nil {
			h.registry.Remove(session.ID, "connection closed")
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[live] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msgType {
		case websocket.BinaryMessage:
			if session == nil {
				h.sendError(writer, "no active session for audio")
				continue
			}
			if err := session.ForwardAudio(data); err != nil {
				log.Printf("[live] forward audio failed session=%s: %v", session.ID, err)
				h.sendError(writer, "audio forwarding failed")
			}
		case websocket.TextMessage:
			var msg inboundMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				h.sendError(writer, "invalid control message")
				continue
			}
			session = h.handleControl(ctx, writer, session, &msg)
		}
	}
}

// handleControl 处理一条控制消息，返回之后生效的会话。
func (h *Handler) handleControl(ctx context.Context, writer *connWriter, session *convo.Session, msg *inboundMessage) *convo.Session {
	switch msg.Type {
	case msgStartSession:
		return h.handleStartSession(ctx, writer, session, msg.Data)
	case msgEndSession:
		if session != nil {
			h.registry.Remove(session.ID, "client request")
		}
		return nil
	case msgSendText:
		if session == nil {
			h.sendError(writer, "no active session")
			return nil
		}
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil || text.Text == "" {
			h.sendError(writer, "invalid text payload")
			return session
		}
		session.HandleUserText(text.Text)
		return session
	case msgClientEvent:
		// 目前仅作保活，读超时已在读循环里续期
		return session
	default:
		h.sendError(writer, "unsupported message type: "+msg.Type)
		return session
	}
}

func (h *Handler) handleStartSession(ctx context.Context, writer *connWriter, current *convo.Session, raw json.RawMessage) *convo.Session {
	if current != nil {
		h.sendError(writer, "session already started")
		return current
	}

	var start StartSessionMessage
	if err := json.Unmarshal(raw, &start); err != nil {
		h.sendError(writer, "invalid session payload")
		return nil
	}
	if start.UserID == "" {
		h.sendError(writer, "userId is required")
		return nil
	}

	av, ok := h.avatars.FindByID(start.AvatarID)
	if !ok {
		h.sendError(writer, "avatar not found: "+start.AvatarID)
		return nil
	}

	cfg := convo.SessionConfig{
		UserID:        start.UserID,
		AvatarID:      av.ID,
		MemoryEnabled: start.MemoryEnabled,
		SampleRate:    start.SampleRate,
		Language:      start.LanguageCode,
		AudioOnly:     start.AudioOnly,
	}
	session, err := h.registry.Create(ctx, cfg, av, writer)
	if err != nil {
		log.Printf("[live] create session failed avatar=%s: %v", av.ID, err)
		h.sendError(writer, "failed to start session")
		return nil
	}

	if err := writer.SendEvent(convo.EventSessionStarted, map[string]any{
		"sessionId": session.ID,
		"avatarId":  av.ID,
		"greeting":  av.Greeting,
	}); err != nil {
		log.Printf("[live] send session started failed: %v", err)
	}
	return session
}

func (h *Handler) sendError(writer *connWriter, message string) {
	if err := writer.SendEvent(convo.EventError, convo.ErrorPayload{Message: message}); err != nil {
		log.Printf("[live] write error failed: %v", err)
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, writer *connWriter) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.ping(); err != nil {
				return
			}
		}
	}
}
