// Package client is the participant side of a planning session: a typed API
// client, a reconnecting live channel and the Proxy that keeps optimistic
// local state in step with the coordinator.
package client

import (
	"context"
	"errors"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/models"
	"family-planner-backend/internal/services"
)

// API is the request/response surface of the coordinator.
type API interface {
	StartSession(ctx context.Context, familyID uint, participants []uint, settings *models.Settings) (*services.SessionState, error)
	GetSession(ctx context.Context, id uint) (*services.SessionState, error)
	LatestSession(ctx context.Context, familyID uint) (*services.SessionState, error)
	History(ctx context.Context, familyID uint, limit, offset int) (*services.HistoryPage, error)

	Pause(ctx context.Context, id uint) (*services.SessionState, error)
	Resume(ctx context.Context, id uint) (*services.SessionState, error)
	Cancel(ctx context.Context, id uint) (*services.SessionState, error)
	Complete(ctx context.Context, id uint, final map[string]services.PhaseUpdate) (*services.SessionState, error)

	SaveProgress(ctx context.Context, id uint, progress map[string]services.PhaseUpdate) (*services.SaveResult, error)
	MovePhase(ctx context.Context, id uint, phase string) (int, error)
	GetProgress(ctx context.Context, id uint) (*services.ProgressView, error)

	Claim(ctx context.Context, id uint, itemType, itemID string) (*services.ClaimResult, error)
	ListClaims(ctx context.Context, id uint) ([]models.ClaimRecord, error)
}

// Retryable reports whether a failed call may succeed when repeated.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnreachable) || apperrors.Retryable(err)
}
