// Package api exposes the conversation orchestrator's REST surface: session
// creation, listing, message submission, and history replay. Turn-by-turn
// streaming lives in the sibling ws package.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/personaorch/internal/common/errors"
	"github.com/kandev/personaorch/internal/common/logger"
	"github.com/kandev/personaorch/internal/orchestrator/session"
	"github.com/kandev/personaorch/internal/persona"
	"github.com/kandev/personaorch/internal/runtime"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

const defaultMessageLimit = 50

// Handler holds the HTTP handlers for the session/messages surface.
type Handler struct {
	manager  *session.Manager
	registry persona.Registry
	adapter  *runtime.Adapter
	log      *logger.Logger
}

// NewHandler returns a Handler backed by manager, registry, and adapter.
func NewHandler(manager *session.Manager, registry persona.Registry, adapter *runtime.Adapter, log *logger.Logger) *Handler {
	return &Handler{
		manager:  manager,
		registry: registry,
		adapter:  adapter,
		log:      log.WithFields(zap.String("component", "orchestrator-api")),
	}
}

// SetupRoutes registers the session/messages endpoints under router.
func SetupRoutes(router *gin.RouterGroup, manager *session.Manager, registry persona.Registry, adapter *runtime.Adapter, log *logger.Logger) {
	handler := NewHandler(manager, registry, adapter, log)

	sessions := router.Group("/sessions")
	{
		sessions.POST("", handler.CreateSession)
		sessions.GET("", handler.ListSessions)
		sessions.POST("/:sessionId/messages", handler.PostMessage)
		sessions.GET("/:sessionId/messages", handler.ListMessages)
		sessions.GET("/:sessionId/queue", handler.QueueStatus)
	}

	router.GET("/tenants/:tenantId/personas/:handle/health", handler.PersonaHealth)
}

// CreateSessionResponse is the 201 body for POST /api/sessions.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// CreateSession creates a new session for the caller's (tenant_id, user_id).
// POST /api/sessions?tenant_id=...&user_id=...
func (h *Handler) CreateSession(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	userID := c.Query("user_id")
	if tenantID == "" || userID == "" {
		writeError(c, errors.Validation("tenant_id and user_id are required"))
		return
	}

	sess, err := h.manager.CreateSession(c.Request.Context(), tenantID, userID, c.Query("title"))
	if err != nil {
		h.log.Error("failed to create session", zap.Error(err))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateSessionResponse{SessionID: sess.ID})
}

// ListSessions lists every session owned by the caller's (tenant_id, user_id).
// GET /api/sessions?tenant_id=...&user_id=...
func (h *Handler) ListSessions(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	userID := c.Query("user_id")
	if tenantID == "" || userID == "" {
		writeError(c, errors.Validation("tenant_id and user_id are required"))
		return
	}

	sessions, err := h.manager.ListSessions(c.Request.Context(), tenantID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// PostMessageRequest is the body for POST /api/sessions/{id}/messages.
type PostMessageRequest struct {
	Content        string   `json:"content" binding:"required"`
	TargetPersonas []string `json:"target_personas"`
}

// PostMessageResponse is the 202 body acknowledging a queued message.
type PostMessageResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// PostMessage enqueues a user message onto sessionId's worker.
// POST /api/sessions/:sessionId/messages
func (h *Handler) PostMessage(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.Validation(err.Error()))
		return
	}

	err := h.manager.Enqueue(c.Request.Context(), sessionID, req.Content, v1.MessageSenderUser, req.TargetPersonas)
	if err != nil {
		if !errors.IsOverloaded(err) {
			h.log.Error("failed to enqueue message", zap.String("session_id", sessionID), zap.Error(err))
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, PostMessageResponse{SessionID: sessionID, Status: "queued"})
}

// MessagesResponse is the body for GET /api/sessions/{id}/messages.
type MessagesResponse struct {
	SessionID string      `json:"session_id"`
	Messages  []v1.Message `json:"messages"`
}

// ListMessages replays the most recent messages for sessionId.
// GET /api/sessions/:sessionId/messages?limit=N
func (h *Handler) ListMessages(c *gin.Context) {
	sessionID := c.Param("sessionId")

	limit := defaultMessageLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, errors.Validation("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	messages, err := h.manager.ListMessages(c.Request.Context(), sessionID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessagesResponse{SessionID: sessionID, Messages: messages})
}

// QueueStatus reports a live session worker's queue depth and scheduler
// state, for operator introspection. 404 if no worker is currently running
// for the session (nothing enqueued yet, or its run loop has exited).
// GET /api/sessions/:sessionId/queue
func (h *Handler) QueueStatus(c *gin.Context) {
	sessionID := c.Param("sessionId")

	status, err := h.manager.QueueStatus(sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// PersonaHealthResponse reports whether a persona's configured provider
// endpoint is reachable.
type PersonaHealthResponse struct {
	Handle  string `json:"handle"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// PersonaHealth checks the configured provider endpoint for one persona,
// without generating a completion. Surfaces the Runtime Adapter's
// health(profile) collaborator operation as a real endpoint rather than a
// stub.
// GET /api/tenants/:tenantId/personas/:handle/health
func (h *Handler) PersonaHealth(c *gin.Context) {
	tenantID := c.Param("tenantId")
	handle := c.Param("handle")

	profile, err := h.registry.ResolveProfile(c.Request.Context(), tenantID, handle)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := PersonaHealthResponse{Handle: handle, Healthy: true}
	if err := h.adapter.Health(c.Request.Context(), profile); err != nil {
		resp.Healthy = false
		resp.Detail = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// writeError maps err to its AppError-derived HTTP status and body.
func writeError(c *gin.Context, err error) {
	c.JSON(errors.GetHTTPStatus(err), gin.H{"error": err.Error()})
}
