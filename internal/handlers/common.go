package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/middleware"
	"family-planner-backend/internal/models"

	"github.com/gin-gonic/gin"
)

type ErrorResponse struct {
	Error     string `json:"error" example:"something went wrong"`
	Code      string `json:"code,omitempty" example:"invalid_transition"`
	ClaimedBy uint   `json:"claimed_by,omitempty" example:"10"`
}

// Type aliases so swag can resolve models in annotations.
type PlanningSession = models.PlanningSession
type PhaseProgress = models.PhaseProgress
type ClaimRecord = models.ClaimRecord

var statusByCode = map[string]int{
	apperrors.CodeInvalidInput:            http.StatusBadRequest,
	apperrors.CodeNotFound:                http.StatusNotFound,
	apperrors.CodePermissionDenied:        http.StatusForbidden,
	apperrors.CodeInvalidTransition:       http.StatusConflict,
	apperrors.CodeConflict:                http.StatusConflict,
	apperrors.CodePersistenceUnavailable:  http.StatusServiceUnavailable,
	apperrors.CodeCollaboratorUnavailable: http.StatusServiceUnavailable,
}

func respondError(c *gin.Context, err error) {
	code := apperrors.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	var conflict *apperrors.ConflictError
	if errors.As(err, &conflict) {
		resp.ClaimedBy = conflict.ClaimedBy
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
		if status == http.StatusInternalServerError {
			resp.Error = "internal error"
		}
	}
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: apperrors.CodeInvalidInput})
}

func parseID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid "+param)
		return 0, false
	}
	return uint(id), true
}

func queryUint(c *gin.Context, key string) (uint, bool) {
	v, err := strconv.ParseUint(c.Query(key), 10, 64)
	if err != nil || v == 0 {
		badRequest(c, key+" is required")
		return 0, false
	}
	return uint(v), true
}

func callerID(c *gin.Context) uint {
	return c.GetUint(middleware.UserIDKey)
}
