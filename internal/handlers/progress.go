package handlers

import (
	"encoding/json"
	"net/http"

	"family-planner-backend/internal/services"

	"github.com/gin-gonic/gin"
)

type ProgressHandler struct {
	progressService *services.ProgressService
}

func NewProgressHandler(progressService *services.ProgressService) *ProgressHandler {
	return &ProgressHandler{progressService: progressService}
}

type SaveProgressRequest struct {
	Progress map[string]services.PhaseUpdate `json:"progress" binding:"required"`
}

type SetPhaseRequest struct {
	Fraction *float64        `json:"fraction" binding:"required" example:"0.4"`
	Payload  json.RawMessage `json:"payload" swaggertype:"object"`
}

type MovePhaseRequest struct {
	Phase string `json:"phase" binding:"required" example:"inbox"`
}

type CursorResponse struct {
	Phase       string `json:"phase" example:"inbox"`
	PhaseCursor int    `json:"phase_cursor" example:"1"`
}

// SaveProgress godoc
// @Summary      Save phase progress
// @Description  Batch write keyed by phase. Each phase keeps the write with the latest written_at. Allowed while active or paused.
// @Tags         progress
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Param        request body SaveProgressRequest true "Progress by phase"
// @Success      200 {object} services.SaveResult
// @Failure      400 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Router       /api/v1/planning-sessions/{id}/save [post]
func (h *ProgressHandler) SaveProgress(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req SaveProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.progressService.SaveProgress(c.Request.Context(), id, callerID(c), req.Progress)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SetPhaseProgress godoc
// @Summary      Set one phase's progress
// @Tags         progress
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Param        phase path string true "Phase" Enums(review, inbox, commitment, calendar, actions)
// @Param        request body SetPhaseRequest true "Fraction and payload"
// @Success      200 {object} services.SaveResult
// @Failure      400 {object} ErrorResponse
// @Router       /api/v1/planning-sessions/{id}/phases/{phase} [put]
func (h *ProgressHandler) SetPhaseProgress(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req SetPhaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.progressService.SetPhaseProgress(c.Request.Context(), id, c.Param("phase"), *req.Fraction, req.Payload, callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// MovePhase godoc
// @Summary      Move to a phase
// @Description  A participant may move to any reached phase or the next one
// @Tags         progress
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Param        request body MovePhaseRequest true "Target phase"
// @Success      200 {object} CursorResponse
// @Failure      400 {object} ErrorResponse
// @Router       /api/v1/planning-sessions/{id}/cursor [post]
func (h *ProgressHandler) MovePhase(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req MovePhaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	cursor, err := h.progressService.MovePhase(c.Request.Context(), id, callerID(c), req.Phase)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, CursorResponse{Phase: req.Phase, PhaseCursor: cursor})
}

// GetProgress godoc
// @Summary      Get progress
// @Description  Per-phase progress and the overall mean
// @Tags         progress
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} services.ProgressView
// @Failure      403 {object} ErrorResponse
// @Router       /api/v1/planning-sessions/{id}/progress [get]
func (h *ProgressHandler) GetProgress(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	view, err := h.progressService.GetProgress(c.Request.Context(), id, callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
