package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/models"
	"family-planner-backend/internal/ws"
)

// PhaseUpdate is one phase's entry in a save. WrittenAt defaults to the
// server time and is clamped to it, so a skewed client clock cannot pin a
// phase against later writes.
type PhaseUpdate struct {
	Fraction  float64         `json:"fraction"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	WrittenAt *time.Time      `json:"written_at,omitempty"`
}

type SaveResult struct {
	LastSaved       time.Time              `json:"last_saved"`
	Applied         []models.PhaseProgress `json:"applied"`
	PhaseCursor     int                    `json:"phase_cursor"`
	OverallProgress float64                `json:"overall_progress"`
}

type ProgressView struct {
	SessionID       uint                   `json:"session_id"`
	Phases          []models.PhaseProgress `json:"phases"`
	OverallProgress float64                `json:"overall_progress"`
	PhaseCursor     int                    `json:"phase_cursor"`
	LastSavedAt     *time.Time             `json:"last_saved_at,omitempty"`
}

type ProgressService struct {
	Deps
}

func NewProgressService(d Deps) *ProgressService {
	return &ProgressService{Deps: d.withDefaults()}
}

// SetPhaseProgress writes a single phase. The later written_at wins; the
// payload is replaced whole, never merged.
func (s *ProgressService) SetPhaseProgress(ctx context.Context, sessionID uint, phase string, fraction float64,
	payload json.RawMessage, updaterID uint) (*SaveResult, error) {
	return s.SaveProgress(ctx, sessionID, updaterID, map[string]PhaseUpdate{
		phase: {Fraction: fraction, Payload: payload},
	})
}

// SaveProgress applies a batch of phase writes in phase order. Saves are
// accepted while the session is active or paused.
func (s *ProgressService) SaveProgress(ctx context.Context, sessionID, caller uint, updates map[string]PhaseUpdate) (*SaveResult, error) {
	unlock := s.Locks.Lock(sessionKey(sessionID))
	defer unlock()

	sess, err := s.participantSession(ctx, sessionID, caller)
	if err != nil {
		return nil, err
	}
	if !sess.IsOpen() {
		return nil, fmt.Errorf("session is %s: %w", sess.Status, apperrors.ErrInvalidTransition)
	}
	return s.saveLocked(ctx, sess, caller, updates)
}

// MovePhase records that caller navigated to phase and returns the session cursor.
func (s *ProgressService) MovePhase(ctx context.Context, sessionID, caller uint, phase string) (int, error) {
	idx := models.PhaseIndex(phase)
	if idx < 0 {
		return 0, fmt.Errorf("unknown phase %q: %w", phase, apperrors.ErrInvalidInput)
	}

	unlock := s.Locks.Lock(sessionKey(sessionID))
	defer unlock()

	sess, err := s.participantSession(ctx, sessionID, caller)
	if err != nil {
		return 0, err
	}
	if !sess.IsOpen() {
		return 0, fmt.Errorf("session is %s: %w", sess.Status, apperrors.ErrInvalidTransition)
	}
	if idx > sess.PhaseCursor+1 {
		return 0, fmt.Errorf("phase %q is ahead of the session: %w", phase, apperrors.ErrInvalidInput)
	}

	cursor := sess.PhaseCursor
	if idx > cursor {
		if err := s.Store.AdvancePhaseCursor(ctx, sessionID, idx); err != nil {
			return 0, err
		}
		s.Cache.Invalidate(sessionID)
		cursor = idx
	}
	s.publish(sessionID, caller, ws.EventQuadrantChanged, map[string]interface{}{
		"phase":        phase,
		"phase_cursor": cursor,
	})
	return cursor, nil
}

func (s *ProgressService) GetProgress(ctx context.Context, sessionID, caller uint) (*ProgressView, error) {
	sess, err := s.participantSession(ctx, sessionID, caller)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, sess)
}

// ReadProgress is GetProgress for service callers.
func (s *ProgressService) ReadProgress(ctx context.Context, sessionID uint) (*ProgressView, error) {
	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, sess)
}

// GetOverallProgress is the equal-weight mean over all five phases.
func (s *ProgressService) GetOverallProgress(ctx context.Context, sessionID uint) (float64, error) {
	rows, err := s.Store.GetProgress(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return models.OverallFraction(rows), nil
}

func (s *ProgressService) view(ctx context.Context, sess *models.PlanningSession) (*ProgressView, error) {
	rows, err := s.Store.GetProgress(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return &ProgressView{
		SessionID:       sess.ID,
		Phases:          rows,
		OverallProgress: models.OverallFraction(rows),
		PhaseCursor:     sess.PhaseCursor,
		LastSavedAt:     sess.LastSavedAt,
	}, nil
}

// saveLocked validates and persists updates, then announces them. The caller
// holds the session lock and has checked the session status.
func (d Deps) saveLocked(ctx context.Context, sess *models.PlanningSession, caller uint, updates map[string]PhaseUpdate) (*SaveResult, error) {
	phases := make([]string, 0, len(updates))
	for phase, u := range updates {
		if models.PhaseIndex(phase) < 0 {
			return nil, fmt.Errorf("unknown phase %q: %w", phase, apperrors.ErrInvalidInput)
		}
		if math.IsNaN(u.Fraction) || u.Fraction < 0 || u.Fraction > 1 {
			return nil, fmt.Errorf("fraction for %s must be within [0,1]: %w", phase, apperrors.ErrInvalidInput)
		}
		if len(u.Payload) > 0 && !json.Valid(u.Payload) {
			return nil, fmt.Errorf("payload for %s is not JSON: %w", phase, apperrors.ErrInvalidInput)
		}
		phases = append(phases, phase)
	}
	sort.Slice(phases, func(i, j int) bool {
		return models.PhaseIndex(phases[i]) < models.PhaseIndex(phases[j])
	})

	now := d.now()
	cursor := sess.PhaseCursor
	rows := make([]models.PhaseProgress, 0, len(phases))
	for _, phase := range phases {
		idx := models.PhaseIndex(phase)
		if idx > cursor+1 {
			return nil, fmt.Errorf("phase %q is ahead of the session: %w", phase, apperrors.ErrInvalidInput)
		}
		if idx > cursor {
			cursor = idx
		}

		u := updates[phase]
		written := now
		if u.WrittenAt != nil && u.WrittenAt.Before(now) {
			written = u.WrittenAt.UTC()
		}
		rows = append(rows, models.PhaseProgress{
			SessionID: sess.ID,
			Phase:     phase,
			Fraction:  u.Fraction,
			Payload:   u.Payload,
			WrittenAt: written,
			UpdatedBy: caller,
		})
	}

	applied, err := d.Store.SaveProgress(ctx, sess.ID, rows, cursor, now)
	d.Cache.Invalidate(sess.ID)
	if err != nil {
		return nil, err
	}

	current, err := d.Store.GetProgress(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	res := &SaveResult{
		LastSaved:       now,
		Applied:         applied,
		PhaseCursor:     cursor,
		OverallProgress: models.OverallFraction(current),
	}
	if len(applied) > 0 {
		d.publish(sess.ID, caller, ws.EventProgressUpdated, res)
	}
	return res, nil
}
