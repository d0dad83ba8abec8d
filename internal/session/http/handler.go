package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/intelliexo/intelliexo-backend/internal/auth"
	"github.com/intelliexo/intelliexo-backend/internal/logging"
	"github.com/intelliexo/intelliexo-backend/internal/projects/domain"
	"github.com/intelliexo/intelliexo-backend/internal/session"
)

// Handler exposes the caller's session over HTTP. The caller is whoever the
// auth middleware put on the gin context.
type Handler struct {
	sessions  Sessions
	logger    *zap.Logger
	keepAlive time.Duration
}

func New(sessions Sessions, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, logger: logger, keepAlive: 15 * time.Second}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("", h.GetView)
	rg.GET("/events", h.StreamView)
	rg.PUT("/project", h.SelectProject)
	rg.DELETE("/project", h.ClearProject)
	rg.POST("/messages", h.Submit)
	rg.POST("/suggested/:index", h.SubmitSuggested)
	rg.POST("/files/refresh", h.RefreshFiles)
}

func (h *Handler) session(c *gin.Context) (Session, bool) {
	uid, ok := auth.IdentityFrom(c).UID()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "user not authenticated"})
		return nil, false
	}
	s, err := h.sessions.Get(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return s, true
}

// GET /api/v1/session
func (h *Handler) GetView(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.respondView(c, s, http.StatusOK)
}

// PUT /api/v1/session/project
func (h *Handler) SelectProject(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var body selectProjectRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "project_id is required"})
		return
	}
	if err := s.SelectProject(c.Request.Context(), body.ProjectID); err != nil {
		h.fail(c, err)
		return
	}
	h.respondView(c, s, http.StatusOK)
}

// DELETE /api/v1/session/project
func (h *Handler) ClearProject(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.ClearProject(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	h.respondView(c, s, http.StatusOK)
}

// POST /api/v1/session/messages
// The reply arrives later through GET /events.
func (h *Handler) Submit(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body"})
		return
	}
	if err := s.Submit(c.Request.Context(), body.Message); err != nil {
		h.fail(c, err)
		return
	}
	h.respondView(c, s, http.StatusAccepted)
}

// POST /api/v1/session/suggested/:index
func (h *Handler) SubmitSuggested(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "index must be a number"})
		return
	}
	if err := s.SubmitSuggested(c.Request.Context(), index); err != nil {
		h.fail(c, err)
		return
	}
	h.respondView(c, s, http.StatusAccepted)
}

// POST /api/v1/session/files/refresh
func (h *Handler) RefreshFiles(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.RefreshFiles(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	h.respondView(c, s, http.StatusAccepted)
}

func (h *Handler) respondView(c *gin.Context, s Session, status int) {
	v, err := s.View(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(status, gin.H{"ok": true, "view": v})
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(c.Request.Context(), h.logger).Error("session request failed",
			zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"ok": false, "error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrEmptyInput),
		errors.Is(err, session.ErrInvalidSuggestion):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrIdentityNotPresent):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrTurnInFlight),
		errors.Is(err, session.ErrNoActiveProject):
		return http.StatusConflict
	case errors.Is(err, session.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
