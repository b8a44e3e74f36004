package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sudooom.mathrush/internal/middleware"
	"sudooom.mathrush/internal/room"
	"sudooom.mathrush/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// 推送消息类型
const (
	MessageSnapshot = "snapshot"
	MessageEvent    = "event"
)

// StreamMessage 推送给客户端的一条消息
type StreamMessage struct {
	Type     string          `json:"type"`
	Snapshot *store.Snapshot `json:"snapshot,omitempty"`
	Event    *room.Event     `json:"event,omitempty"`
}

// StreamHandler 房间 WebSocket 推送
type StreamHandler struct {
	roomService *room.Service
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewStreamHandler 创建推送处理器
func NewStreamHandler(roomService *room.Service, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		roomService: roomService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: slog.Default().With("component", "room_stream"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Stream 订阅房间快照与生命周期事件
// GET /api/v1/rooms/:code/ws
func (h *StreamHandler) Stream(c *gin.Context) {
	code := room.NormalizeCode(c.Param("code"))
	who := middleware.GetIdentity(c)

	// 升级前确认房间存在，错误仍走统一响应
	if _, err := h.roomService.GetRoom(c.Request.Context(), code); err != nil {
		fail(c, h.logger, "stream", err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "code", code, "error", err)
		return
	}
	defer conn.Close()

	connID := uuid.New().String()
	logger := h.logger.With("conn_id", connID, "code", code, "uid", who.UID)
	logger.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	snaps, err := h.roomService.Observe(ctx, code)
	if err != nil {
		logger.Error("Failed to observe room", "error", err)
		closeWith(conn, websocket.CloseInternalServerErr, "observe failed")
		return
	}

	go readPump(conn, cancel)

	if err := h.writePump(ctx, conn, code, snaps); err != nil {
		logger.Info("WebSocket connection closed", "error", err)
		return
	}
	logger.Info("WebSocket connection closed")
}

// readPump 只处理控制帧，连接断开时取消订阅
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump 唯一的写协程：快照、事件与心跳
func (h *StreamHandler) writePump(ctx context.Context, conn *websocket.Conn, code string, snaps <-chan store.Snapshot) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	tracker := room.NewTracker(code)
	maxPlayers := h.roomService.Config().MaxPlayers

	for {
		select {
		case <-ctx.Done():
			closeWith(conn, websocket.CloseGoingAway, "")
			return nil

		case snap, ok := <-snaps:
			if !ok {
				closeWith(conn, websocket.CloseGoingAway, "")
				return nil
			}
			events := tracker.Apply(snap)

			snap.Players = store.Limit(snap.Players, maxPlayers)
			if err := writeJSON(conn, StreamMessage{Type: MessageSnapshot, Snapshot: &snap}); err != nil {
				return err
			}
			for i := range events {
				if err := writeJSON(conn, StreamMessage{Type: MessageEvent, Event: &events[i]}); err != nil {
					return err
				}
			}
			if tracker.Closed() {
				closeWith(conn, websocket.CloseNormalClosure, string(room.EventClosed))
				return nil
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func closeWith(conn *websocket.Conn, code int, text string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
}
