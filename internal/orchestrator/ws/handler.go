// Package ws implements the session streaming endpoint: one WebSocket
// connection per browser tab, pushed agent.start/agent.chunk/agent.end
// frames for whichever session it names, with no client-to-server frames
// of its own beyond the protocol-level ping/pong keepalive.
package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/personaorch/internal/common/errors"
	"github.com/kandev/personaorch/internal/common/logger"
	"github.com/kandev/personaorch/internal/orchestrator/session"
	"github.com/kandev/personaorch/internal/orchestrator/streaming"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// sessionNotFoundCloseCode is the WS close status a client sees when it
	// names a session with no session row or no running worker.
	sessionNotFoundCloseCode = 1008
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades and drives the per-session streaming connection.
type Handler struct {
	manager *session.Manager
	log     *logger.Logger
}

// NewHandler returns a Handler backed by manager.
func NewHandler(manager *session.Manager, log *logger.Logger) *Handler {
	return &Handler{manager: manager, log: log.WithFields(zap.String("component", "ws_handler"))}
}

// SetupRoutes registers the session stream endpoint under router.
func SetupRoutes(router *gin.RouterGroup, manager *session.Manager, log *logger.Logger) {
	handler := NewHandler(manager, log)
	router.GET("/ws/sessions/:sessionId", handler.StreamSession)
}

// frame is the fixed WS message shape pushed to every subscriber.
type frame struct {
	Event string         `json:"event"`
	Data  v1.StreamEvent `json:"data"`
}

// StreamSession upgrades the connection and forwards sessionId's events
// until the client disconnects or the worker closes the subscriber.
// WS /api/ws/sessions/:sessionId
func (h *Handler) StreamSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	clientID := uuid.New().String()

	sub, err := h.manager.Subscribe(c.Request.Context(), sessionID, clientID)
	if err != nil {
		h.rejectUnknownSession(c, sessionID, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade websocket connection", zap.Error(err))
		h.manager.Unsubscribe(sessionID, clientID)
		return
	}

	h.log.Info("session stream connected", zap.String("session_id", sessionID), zap.String("client_id", clientID))

	go h.readPump(conn, sessionID, clientID)
	h.writePump(conn, sub)
}

// rejectUnknownSession upgrades just far enough to send a close frame with
// sessionNotFoundCloseCode, per the exact-close-code contract, rather than
// failing the upgrade with a bare HTTP error.
func (h *Handler) rejectUnknownSession(c *gin.Context, sessionID string, cause error) {
	if !errors.IsNotFound(cause) {
		h.log.Error("failed to subscribe to session", zap.String("session_id", sessionID), zap.Error(cause))
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	closeMsg := websocket.FormatCloseMessage(sessionNotFoundCloseCode, "session not found")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
}

// readPump only exists to detect client-initiated disconnects; this
// endpoint accepts no client frames of its own.
func (h *Handler) readPump(conn *websocket.Conn, sessionID, clientID string) {
	defer func() {
		h.manager.Unsubscribe(sessionID, clientID)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket read error", zap.String("session_id", sessionID), zap.Error(err))
			}
			return
		}
	}
}

// writePump forwards sub's events as frames until the subscriber mailbox
// closes (eviction or slow-consumer drop) or a write fails.
func (h *Handler) writePump(conn *websocket.Conn, sub *streaming.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case evt, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(frame{Event: string(evt.Event), Data: evt}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
