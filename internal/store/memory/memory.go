// Package memory is an in-process store used for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/models"
	"family-planner-backend/internal/store"
)

type claimKey struct {
	sessionID uint
	itemType  string
	itemID    string
}

type Store struct {
	mu       sync.RWMutex
	nextID   uint
	sessions map[uint]*models.PlanningSession
	progress map[uint]map[string]models.PhaseProgress
	claims   map[claimKey]models.ClaimRecord
	actions  []models.SessionAction
	metrics  []models.SessionMetric
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		sessions: make(map[uint]*models.PlanningSession),
		progress: make(map[uint]map[string]models.PhaseProgress),
		claims:   make(map[claimKey]models.ClaimRecord),
	}
}

func (s *Store) id() uint {
	s.nextID++
	return s.nextID
}

func (s *Store) CreateSession(_ context.Context, sess *models.PlanningSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.FamilyID == sess.FamilyID && existing.IsOpen() {
			return apperrors.ErrActiveSessionExists
		}
	}

	sess.ID = s.id()
	sess.CreatedAt = sess.StartTime
	sess.UpdatedAt = sess.StartTime
	for i := range sess.Participants {
		sess.Participants[i].ID = s.id()
		sess.Participants[i].SessionID = sess.ID
	}
	s.sessions[sess.ID] = cloneSession(sess)

	rows := make(map[string]models.PhaseProgress, len(models.Phases))
	for _, phase := range models.Phases {
		rows[phase] = models.PhaseProgress{SessionID: sess.ID, Phase: phase}
	}
	s.progress[sess.ID] = rows
	return nil
}

func (s *Store) GetSession(_ context.Context, id uint) (*models.PlanningSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %d: %w", id, apperrors.ErrNotFound)
	}
	return cloneSession(sess), nil
}

func (s *Store) FindOpenSession(_ context.Context, familyID uint) (*models.PlanningSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.FamilyID == familyID && sess.IsOpen() {
			return cloneSession(sess), nil
		}
	}
	return nil, fmt.Errorf("open session for family %d: %w", familyID, apperrors.ErrNotFound)
}

func (s *Store) LatestSession(ctx context.Context, familyID uint) (*models.PlanningSession, error) {
	list, _, err := s.ListSessions(ctx, familyID, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("sessions for family %d: %w", familyID, apperrors.ErrNotFound)
	}
	return &list[0], nil
}

func (s *Store) ListSessions(_ context.Context, familyID uint, limit, offset int) ([]models.PlanningSession, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []models.PlanningSession
	for _, sess := range s.sessions {
		if sess.FamilyID == familyID {
			all = append(all, *cloneSession(sess))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].StartTime.Equal(all[j].StartTime) {
			return all[i].ID > all[j].ID
		}
		return all[i].StartTime.After(all[j].StartTime)
	})

	total := int64(len(all))
	if offset >= len(all) {
		return []models.PlanningSession{}, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (s *Store) TransitionSession(_ context.Context, id uint, from, to string, stamp store.Stamp) (*models.PlanningSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %d: %w", id, apperrors.ErrNotFound)
	}
	if sess.Status != from {
		return nil, fmt.Errorf("session %d is %s, not %s: %w", id, sess.Status, from, apperrors.ErrInvalidTransition)
	}

	sess.Status = to
	if !stamp.EndTime.IsZero() {
		t := stamp.EndTime
		sess.EndTime = &t
	}
	if !stamp.PausedAt.IsZero() {
		t := stamp.PausedAt
		sess.PausedAt = &t
	}
	if !stamp.ResumedAt.IsZero() {
		t := stamp.ResumedAt
		sess.ResumedAt = &t
	}
	sess.UpdatedAt = time.Now().UTC()
	return cloneSession(sess), nil
}

func (s *Store) AdvancePhaseCursor(_ context.Context, id uint, cursor int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %d: %w", id, apperrors.ErrNotFound)
	}
	if cursor > sess.PhaseCursor {
		sess.PhaseCursor = cursor
	}
	return nil
}

func (s *Store) SaveProgress(_ context.Context, sessionID uint, rows []models.PhaseProgress, cursor int, savedAt time.Time) ([]models.PhaseProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %d: %w", sessionID, apperrors.ErrNotFound)
	}

	stored := s.progress[sessionID]
	var applied []models.PhaseProgress
	for _, row := range rows {
		if cur, ok := stored[row.Phase]; ok && row.WrittenAt.Before(cur.WrittenAt) {
			continue
		}
		row.SessionID = sessionID
		row.Payload = append([]byte(nil), row.Payload...)
		stored[row.Phase] = row
		applied = append(applied, row)
	}
	t := savedAt
	sess.LastSavedAt = &t
	if cursor > sess.PhaseCursor {
		sess.PhaseCursor = cursor
	}
	return applied, nil
}

func (s *Store) GetProgress(_ context.Context, sessionID uint) ([]models.PhaseProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.progress[sessionID]
	if !ok {
		return nil, fmt.Errorf("progress for session %d: %w", sessionID, apperrors.ErrNotFound)
	}
	out := make([]models.PhaseProgress, 0, len(stored))
	for _, phase := range models.Phases {
		if row, ok := stored[phase]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *Store) CreateClaim(_ context.Context, c *models.ClaimRecord) (*models.ClaimRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := claimKey{c.SessionID, c.ItemType, c.ItemID}
	if existing, ok := s.claims[key]; ok {
		winner := existing
		return &winner, false, nil
	}
	c.ID = s.id()
	s.claims[key] = *c
	winner := *c
	return &winner, true, nil
}

func (s *Store) GetClaim(_ context.Context, sessionID uint, itemType, itemID string) (*models.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.claims[claimKey{sessionID, itemType, itemID}]
	if !ok {
		return nil, fmt.Errorf("claim %s/%s: %w", itemType, itemID, apperrors.ErrNotFound)
	}
	return &c, nil
}

func (s *Store) ListClaims(_ context.Context, sessionID uint) ([]models.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.ClaimRecord{}
	for k, c := range s.claims {
		if k.sessionID == sessionID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RecordAction(_ context.Context, a *models.SessionAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id()
	s.actions = append(s.actions, *a)
	return nil
}

func (s *Store) RecordMetric(_ context.Context, m *models.SessionMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id()
	s.metrics = append(s.metrics, *m)
	return nil
}

// Actions returns the recorded action log for a session.
func (s *Store) Actions(sessionID uint) []models.SessionAction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SessionAction
	for _, a := range s.actions {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return out
}

// Metrics returns the recorded metrics for a session.
func (s *Store) Metrics(sessionID uint) []models.SessionMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SessionMetric
	for _, m := range s.metrics {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) Close() error { return nil }

func cloneSession(in *models.PlanningSession) *models.PlanningSession {
	out := *in
	out.Participants = append([]models.SessionParticipant(nil), in.Participants...)
	return &out
}
