package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"streamhub/internal/models"
)

const (
	defaultHeartbeat = 50 * time.Second
	writeWait        = 10 * time.Second
	maxFrameBytes    = 64 << 10
)

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	wildcard := false
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			wildcard = true
		}
		if origin != "" {
			allowed[strings.ToLower(origin)] = struct{}{}
		}
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || wildcard {
				return true
			}
			if _, ok := allowed[strings.ToLower(strings.TrimRight(origin, "/"))]; ok {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		},
	}
}

// HandleConnection upgrades the request for the already authenticated user
// and serves the connection until it closes.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request, user models.User) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	ctx := context.WithoutCancel(r.Context())
	c := NewClient(user, h.sendBuffer)
	h.Connect(ctx, c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(conn, c)
	}()
	h.readLoop(ctx, conn, c)
	h.Disconnect(ctx, c)
	<-done
}

func (h *Hub) writeLoop(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(h.heartbeat)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, c *Client) {
	readTimeout := h.heartbeat + h.heartbeat/2
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket closed unexpectedly", "user_id", c.user.ID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		h.handleFrame(ctx, c, payload)
	}
}

func (h *Hub) handleFrame(ctx context.Context, c *Client, payload []byte) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Event == "" {
		h.sendError(c, "invalid payload")
		return
	}
	switch frame.Event {
	case EventJoinChat:
		if err := h.Join(ctx, c, roomIDFrom(frame.Data)); err != nil {
			h.sendError(c, joinErrorReason(err))
		}
	case EventLeaveChat:
		h.Leave(c, roomIDFrom(frame.Data))
	case EventSendMessage:
		var msg sendMessagePayload
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			h.sendError(c, "invalid payload")
			return
		}
		body := msg.Message
		if len(body) == 0 {
			body = frame.Data
		}
		if err := h.SendFrom(ctx, c, msg.ChatID, body); err != nil {
			h.sendError(c, sendErrorReason(err))
		}
	default:
		h.sendError(c, "unknown event")
	}
}

func joinErrorReason(err error) string {
	switch {
	case errors.Is(err, ErrRoomRequired), errors.Is(err, ErrRoomForbidden), errors.Is(err, ErrRoomNotFound):
		return err.Error()
	default:
		return "unable to join chat"
	}
}

func sendErrorReason(err error) string {
	switch {
	case errors.Is(err, ErrRoomRequired), errors.Is(err, ErrRoomForbidden), errors.Is(err, ErrRoomNotFound), errors.Is(err, errInvalidMessage):
		return err.Error()
	default:
		return "unable to send message"
	}
}

func (h *Hub) sendError(c *Client, reason string) {
	frame, err := encodeFrame(EventError, reason)
	if err != nil {
		return
	}
	c.deliver(frame)
	h.metrics.ObserveChatEvent(EventError)
}
