package services

import (
	"context"
	"log/slog"
	"time"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/clock"
	"family-planner-backend/internal/directory"
	"family-planner-backend/internal/models"
	"family-planner-backend/internal/store"
	"family-planner-backend/internal/ws"
)

// EventPublisher announces session events to the live room. *ws.Hub satisfies it.
type EventPublisher interface {
	Broadcast(sessionID uint, msg ws.WSMessage)
}

type noopPublisher struct{}

func (noopPublisher) Broadcast(uint, ws.WSMessage) {}

// Deps is shared by the session, progress and claim services so they
// serialize on the same locks and invalidate the same cache.
type Deps struct {
	Store     store.Store
	Directory directory.Directory
	Events    EventPublisher
	Locks     *KeyedMutex
	Cache     *StateCache
	Clock     clock.Clock
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = noopPublisher{}
	}
	if d.Locks == nil {
		d.Locks = NewKeyedMutex()
	}
	if d.Cache == nil {
		d.Cache = NewStateCache(0, 0)
	}
	if d.Clock == nil {
		d.Clock = clock.SystemClock{}
	}
	if d.Directory == nil {
		d.Directory = directory.NewStatic()
	}
	return d
}

// SessionState is the authoritative view a participant reconciles against.
type SessionState struct {
	Session         models.PlanningSession `json:"session"`
	Progress        []models.PhaseProgress `json:"progress"`
	OverallProgress float64                `json:"overall_progress"`
	Claims          []models.ClaimRecord   `json:"claims"`
	Resumed         bool                   `json:"resumed"`
	Completion      *CompletionReport      `json:"completion,omitempty"`
}

type CompletionReport struct {
	CompletionRate        float64 `json:"completion_rate"`
	CompletedPhases       int     `json:"completed_phases"`
	TotalPhases           int     `json:"total_phases"`
	ActualDurationMinutes int     `json:"actual_duration_minutes"`
}

func (d Deps) now() time.Time {
	return d.Clock.Now().UTC()
}

// loadState assembles the full view from the store, bypassing the cache.
func (d Deps) loadState(ctx context.Context, sess *models.PlanningSession) (*SessionState, error) {
	progress, err := d.Store.GetProgress(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	claims, err := d.Store.ListClaims(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return &SessionState{
		Session:         *sess,
		Progress:        progress,
		OverallProgress: models.OverallFraction(progress),
		Claims:          claims,
	}, nil
}

// participantSession loads the session and checks that caller may see it.
func (d Deps) participantSession(ctx context.Context, id, caller uint) (*models.PlanningSession, error) {
	sess, err := d.Store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsParticipant(caller) {
		return nil, apperrors.ErrPermissionDenied
	}
	return sess, nil
}

// logAction records an audit entry; failures never reach the caller.
func (d Deps) logAction(ctx context.Context, sessionID, userID uint, action, itemType, itemID string) {
	err := d.Store.RecordAction(ctx, &models.SessionAction{
		SessionID:   sessionID,
		UserID:      userID,
		ActionType:  action,
		ItemType:    itemType,
		ItemID:      itemID,
		PerformedAt: d.now(),
	})
	if err != nil {
		slog.Warn("session action not recorded", "session_id", sessionID, "action", action, "err", err)
	}
}

func (d Deps) publish(sessionID, userID uint, eventType string, data interface{}) {
	msg := ws.NewMessage(eventType, sessionID, userID, data)
	msg.Timestamp = d.now()
	d.Events.Broadcast(sessionID, msg)
}
