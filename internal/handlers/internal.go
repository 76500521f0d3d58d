package handlers

import (
	"net/http"

	"family-planner-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// InternalHandler serves dashboards and report screens. Read only.
type InternalHandler struct {
	sessionService  *services.SessionService
	progressService *services.ProgressService
}

func NewInternalHandler(sessionService *services.SessionService, progressService *services.ProgressService) *InternalHandler {
	return &InternalHandler{sessionService: sessionService, progressService: progressService}
}

// GetSession godoc
// @Summary      Read a session (service)
// @Tags         internal
// @Produce      json
// @Param        X-Service-Key header string true "Service API key"
// @Param        id path int true "Session ID"
// @Success      200 {object} services.SessionState
// @Failure      404 {object} ErrorResponse
// @Router       /internal/planning-sessions/{id} [get]
func (h *InternalHandler) GetSession(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	state, err := h.sessionService.Read(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetProgress godoc
// @Summary      Read progress (service)
// @Tags         internal
// @Produce      json
// @Param        X-Service-Key header string true "Service API key"
// @Param        id path int true "Session ID"
// @Success      200 {object} services.ProgressView
// @Failure      404 {object} ErrorResponse
// @Router       /internal/planning-sessions/{id}/progress [get]
func (h *InternalHandler) GetProgress(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	view, err := h.progressService.ReadProgress(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
