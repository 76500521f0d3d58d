// Package store defines the persistence boundary for planning sessions.
//
// Implementations must provide three atomic guarantees the services rely on:
// at most one open (active or paused) session per family, at most one claim
// per (session, item type, item id), and last-writer-wins phase progress
// ordered by written_at.
package store

import (
	"context"
	"time"

	"family-planner-backend/internal/models"
)

type Store interface {
	// CreateSession inserts the session, its participants and zeroed progress
	// for every phase. Seed rows carry a zero written_at so any real write
	// outranks them. Returns apperrors.ErrActiveSessionExists when the family
	// already has an open session.
	CreateSession(ctx context.Context, s *models.PlanningSession) error
	GetSession(ctx context.Context, id uint) (*models.PlanningSession, error)
	// FindOpenSession returns apperrors.ErrNotFound when the family has no
	// active or paused session.
	FindOpenSession(ctx context.Context, familyID uint) (*models.PlanningSession, error)
	LatestSession(ctx context.Context, familyID uint) (*models.PlanningSession, error)
	ListSessions(ctx context.Context, familyID uint, limit, offset int) ([]models.PlanningSession, int64, error)
	// TransitionSession moves the session from one status to another and
	// applies the given timestamps. apperrors.ErrInvalidTransition is returned
	// when the stored status is no longer from.
	TransitionSession(ctx context.Context, id uint, from, to string, stamp Stamp) (*models.PlanningSession, error)
	AdvancePhaseCursor(ctx context.Context, id uint, cursor int) error

	// SaveProgress applies each row only when its WrittenAt is not older than
	// the stored one, then stamps last_saved_at and raises the phase cursor to
	// at least cursor, all in one transaction. Returns the rows applied.
	SaveProgress(ctx context.Context, sessionID uint, rows []models.PhaseProgress, cursor int, savedAt time.Time) ([]models.PhaseProgress, error)
	GetProgress(ctx context.Context, sessionID uint) ([]models.PhaseProgress, error)

	// CreateClaim never overwrites. When the item is already held, the stored
	// record is returned with created=false.
	CreateClaim(ctx context.Context, c *models.ClaimRecord) (winner *models.ClaimRecord, created bool, err error)
	GetClaim(ctx context.Context, sessionID uint, itemType, itemID string) (*models.ClaimRecord, error)
	ListClaims(ctx context.Context, sessionID uint) ([]models.ClaimRecord, error)

	RecordAction(ctx context.Context, a *models.SessionAction) error
	RecordMetric(ctx context.Context, m *models.SessionMetric) error

	Close() error
}

// Stamp carries the timestamps a transition sets; zero fields are left alone.
type Stamp struct {
	EndTime   time.Time
	PausedAt  time.Time
	ResumedAt time.Time
}
