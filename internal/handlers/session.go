package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"family-planner-backend/internal/models"
	"family-planner-backend/internal/services"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	sessionService *services.SessionService
}

func NewSessionHandler(sessionService *services.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

type StartSessionRequest struct {
	FamilyID     uint             `json:"family_id" binding:"required" example:"1"`
	Participants []uint           `json:"participants" example:"11,12"`
	Settings     *models.Settings `json:"settings"`
}

type CompleteSessionRequest struct {
	Progress map[string]services.PhaseUpdate `json:"progress"`
}

// StartSession godoc
// @Summary      Start or resume a planning session
// @Description  Creates an active session for the family. If one is already active or paused, it is returned with resumed=true.
// @Tags         planning-sessions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body StartSessionRequest true "Session data"
// @Success      201 {object} services.SessionState
// @Success      200 {object} services.SessionState
// @Failure      400 {object} ErrorResponse
// @Failure      403 {object} ErrorResponse
// @Router       /api/v1/planning-sessions [post]
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	state, err := h.sessionService.Start(c.Request.Context(), services.StartRequest{
		FamilyID:     req.FamilyID,
		CallerID:     callerID(c),
		Participants: req.Participants,
		Settings:     req.Settings,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if state.Resumed {
		status = http.StatusOK
	}
	c.JSON(status, state)
}

// LatestSession godoc
// @Summary      Latest session for a family
// @Description  Returns the family's most recent session in any status, or null
// @Tags         planning-sessions
// @Produce      json
// @Security     BearerAuth
// @Param        family_id query int true "Family ID"
// @Success      200 {object} services.SessionState
// @Failure      403 {object} ErrorResponse
// @Router       /api/v1/planning-sessions/latest [get]
func (h *SessionHandler) LatestSession(c *gin.Context) {
	familyID, ok := queryUint(c, "family_id")
	if !ok {
		return
	}

	state, err := h.sessionService.Latest(c.Request.Context(), familyID, callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if state == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, state)
}

// SessionHistory godoc
// @Summary      Family session history
// @Description  Newest first, paginated
// @Tags         planning-sessions
// @Produce      json
// @Security     BearerAuth
// @Param        family_id query int true "Family ID"
// @Param        limit query int false "Page size (max 100)"
// @Param        offset query int false "Offset"
// @Success      200 {object} services.HistoryPage
// @Failure      403 {object} ErrorResponse
// @Router       /api/v1/planning-sessions/history [get]
func (h *SessionHandler) SessionHistory(c *gin.Context) {
	familyID, ok := queryUint(c, "family_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	page, err := h.sessionService.History(c.Request.Context(), familyID, callerID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetSession godoc
// @Summary      Get session state
// @Description  Authoritative session, per-phase progress, overall progress and claims
// @Tags         planning-sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} services.SessionState
// @Failure      403 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/planning-sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	state, err := h.sessionService.Get(c.Request.Context(), id, callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// PauseSession godoc
// @Summary      Pause a session
// @Tags         planning-sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} services.SessionState
// @Failure      403 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /api/v1/planning-sessions/{id}/pause [post]
func (h *SessionHandler) PauseSession(c *gin.Context) {
	h.transition(c, h.sessionService.Pause)
}

// ResumeSession godoc
// @Summary      Resume a paused session
// @Tags         planning-sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} services.SessionState
// @Failure      403 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /api/v1/planning-sessions/{id}/resume [post]
func (h *SessionHandler) ResumeSession(c *gin.Context) {
	h.transition(c, h.sessionService.Resume)
}

// CancelSession godoc
// @Summary      Cancel an active session
// @Tags         planning-sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} services.SessionState
// @Failure      403 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /api/v1/planning-sessions/{id}/cancel [post]
func (h *SessionHandler) CancelSession(c *gin.Context) {
	h.transition(c, h.sessionService.Cancel)
}

func (h *SessionHandler) transition(c *gin.Context, op func(ctx context.Context, id, caller uint) (*services.SessionState, error)) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	state, err := op(c.Request.Context(), id, callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// CompleteSession godoc
// @Summary      Complete a session
// @Description  Saves the final progress, then completes the session and returns the completion report
// @Tags         planning-sessions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Param        request body CompleteSessionRequest false "Final progress"
// @Success      200 {object} services.SessionState
// @Failure      403 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /api/v1/planning-sessions/{id}/complete [post]
func (h *SessionHandler) CompleteSession(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req CompleteSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, err.Error())
			return
		}
	}

	state, err := h.sessionService.Complete(c.Request.Context(), id, callerID(c), req.Progress)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
