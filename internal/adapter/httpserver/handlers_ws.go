package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/broadcast"
	apperrors "github.com/LAAOUAFIFATIHA/taskstream/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	maxClientMessageSize = 4096
	joinTimeout          = 5 * time.Second
)

// clientMessage is a viewer-to-server websocket frame.
type clientMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// handleWebSocket upgrades the request and runs the read pump. Writes belong to
// the broadcaster's per-connection writer, so this goroutine never writes.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()
	if ok, reason := s.wsLimits.acquire(ip); !ok {
		return apperrors.RateLimitedError("too many websocket connections").WithField("reason", string(reason))
	}
	defer s.wsLimits.release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already answered the request.
		slog.InfoContext(c.Request().Context(), "WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return nil
	}

	connID := uuid.NewString()
	logger := slog.With("connection_id", connID, "remote_ip", ip)
	logger.DebugContext(c.Request().Context(), "WebSocket connected")

	defer func() {
		s.rooms.Leave(conn)
		_ = conn.Close()
		logger.Debug("WebSocket disconnected")
	}()

	conn.SetReadLimit(maxClientMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(broadcast.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(broadcast.PongWait))
	})

	ctx := context.WithoutCancel(c.Request().Context())
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Info("WebSocket read failed", "error", err)
			}
			return nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(broadcast.PongWait))

		s.handleClientMessage(ctx, logger, conn, raw)
	}
}

func (s *Server) handleClientMessage(ctx context.Context, logger *slog.Logger, conn *websocket.Conn, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.DebugContext(ctx, "Ignoring malformed websocket message", "error", err)
		return
	}
	if msg.Type != "join" {
		logger.DebugContext(ctx, "Ignoring websocket message", "type", msg.Type)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	if _, err := s.app.LookupStream(ctx, msg.Room); err != nil {
		if apperrors.IsType(err, apperrors.TypeNotFound) {
			logger.InfoContext(ctx, "Ignoring join for unknown stream", "stream_id", msg.Room)
		} else {
			logger.ErrorContext(ctx, "Failed to look up stream for join", "stream_id", msg.Room, "error", err)
		}
		return
	}

	// On success the registry queues the joined acknowledgement itself.
	if err := s.rooms.Join(conn, msg.Room); err != nil {
		logger.WarnContext(ctx, "Join rejected", "stream_id", msg.Room, "error", err)
		return
	}
	logger.DebugContext(ctx, "Joined stream", "stream_id", msg.Room)
}
