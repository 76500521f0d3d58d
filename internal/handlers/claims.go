package handlers

import (
	"net/http"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/services"
	"family-planner-backend/internal/tasks"

	"github.com/gin-gonic/gin"
)

type ClaimHandler struct {
	claimService *services.ClaimService
}

func NewClaimHandler(claimService *services.ClaimService) *ClaimHandler {
	return &ClaimHandler{claimService: claimService}
}

type ClaimRequest struct {
	ItemType string `json:"item_type" binding:"required" example:"task"`
	ItemID   string `json:"item_id" binding:"required" example:"7"`
}

type CommitTasksRequest struct {
	Tasks []tasks.NewTask `json:"tasks" binding:"required,dive"`
}

// ClaimItem godoc
// @Summary      Claim an item
// @Description  Exclusive for the rest of the session. A lost race answers 409 with code=conflict and the winner in claimed_by.
// @Tags         claims
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Param        request body ClaimRequest true "Item"
// @Success      200 {object} services.ClaimResult
// @Failure      409 {object} ErrorResponse
// @Router       /api/v1/planning-sessions/{id}/claims [post]
func (h *ClaimHandler) ClaimItem(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.claimService.Claim(c.Request.Context(), id, req.ItemType, req.ItemID, callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if res.Conflict {
		respondError(c, &apperrors.ConflictError{ClaimedBy: res.ClaimedBy})
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListClaims godoc
// @Summary      List claims
// @Tags         claims
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {array} ClaimRecord
// @Router       /api/v1/planning-sessions/{id}/claims [get]
func (h *ClaimHandler) ListClaims(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	claims, err := h.claimService.List(c.Request.Context(), id, callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, claims)
}

// UpdateItem godoc
// @Summary      Update a task or event
// @Description  Forwarded to the task service. Refused with 409 when another participant holds the claim.
// @Tags         claims
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Param        type path string true "Item type" Enums(task, event)
// @Param        item_id path string true "Item ID"
// @Param        request body object true "Fields to update"
// @Success      200 {object} object
// @Failure      409 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Router       /api/v1/planning-sessions/{id}/items/{type}/{item_id} [put]
func (h *ClaimHandler) UpdateItem(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		badRequest(c, err.Error())
		return
	}

	item, err := h.claimService.UpdateItem(c.Request.Context(), id, c.Param("type"), c.Param("item_id"), callerID(c), fields)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// CommitTasks godoc
// @Summary      Commit tasks
// @Description  Creates the tasks agreed during the commitment phase
// @Tags         claims
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Param        request body CommitTasksRequest true "Tasks"
// @Success      201 {array} object
// @Failure      400 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Router       /api/v1/planning-sessions/{id}/commitments [post]
func (h *ClaimHandler) CommitTasks(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req CommitTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	items, err := h.claimService.CommitTasks(c.Request.Context(), id, callerID(c), req.Tasks)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, items)
}
