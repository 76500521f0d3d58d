package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/archive"
	"family-planner-backend/internal/directory"
	"family-planner-backend/internal/models"
	"family-planner-backend/internal/notify"
	"family-planner-backend/internal/store"
	"family-planner-backend/internal/ws"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	sideEffectTimeout   = 30 * time.Second
)

type StartRequest struct {
	FamilyID     uint             `json:"family_id" binding:"required"`
	CallerID     uint             `json:"-"`
	Participants []uint           `json:"participants"`
	Settings     *models.Settings `json:"settings"`
}

type HistoryPage struct {
	Sessions []models.PlanningSession `json:"sessions"`
	Total    int64                    `json:"total"`
	Limit    int                      `json:"limit"`
	Offset   int                      `json:"offset"`
}

// SessionService owns the session state machine:
//
//	active -> paused -> active
//	active -> completed | cancelled
type SessionService struct {
	Deps
	notifier     notify.Notifier
	archiver     archive.Archiver
	reportPrefix string

	background sync.WaitGroup
}

func NewSessionService(d Deps, notifier notify.Notifier, archiver archive.Archiver, reportPrefix string) *SessionService {
	d = d.withDefaults()
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	if archiver == nil {
		archiver = archive.NoopArchiver{}
	}
	return &SessionService{
		Deps:         d,
		notifier:     notifier,
		archiver:     archiver,
		reportPrefix: reportPrefix,
	}
}

// Start creates a session for the family, or hands back the open one when
// the caller already belongs to it.
func (s *SessionService) Start(ctx context.Context, req StartRequest) (*SessionState, error) {
	if req.FamilyID == 0 || req.CallerID == 0 {
		return nil, fmt.Errorf("family and caller are required: %w", apperrors.ErrInvalidInput)
	}
	settings := models.DefaultSettings()
	if req.Settings != nil {
		settings = *req.Settings
		if settings.DurationMinutes == 0 {
			settings.DurationMinutes = models.DefaultSettings().DurationMinutes
		}
	}
	if settings.DurationMinutes < 0 {
		return nil, fmt.Errorf("duration_minutes must be positive: %w", apperrors.ErrInvalidInput)
	}

	unlock := s.Locks.Lock(familyKey(req.FamilyID))
	defer unlock()

	members, err := s.Directory.Members(ctx, req.FamilyID)
	if err != nil {
		return nil, err
	}
	if !hasMember(members, req.CallerID) {
		return nil, apperrors.ErrPermissionDenied
	}
	for _, uid := range req.Participants {
		if !hasMember(members, uid) {
			return nil, fmt.Errorf("user %d is not in family %d: %w", uid, req.FamilyID, apperrors.ErrInvalidInput)
		}
	}

	open, err := s.Store.FindOpenSession(ctx, req.FamilyID)
	switch {
	case err == nil:
		return s.resume(ctx, open, req.CallerID)
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, err
	}

	now := s.now()
	sess := &models.PlanningSession{
		FamilyID:        req.FamilyID,
		OrganizerID:     req.CallerID,
		Status:          models.SessionStatusActive,
		StartTime:       now,
		DurationMinutes: settings.DurationMinutes,
		Settings:        settings,
		Participants:    participantRows(req.CallerID, req.Participants, now),
	}
	if err := s.Store.CreateSession(ctx, sess); err != nil {
		if !errors.Is(err, apperrors.ErrActiveSessionExists) {
			return nil, err
		}
		// another instance won the race at the unique index
		open, ferr := s.Store.FindOpenSession(ctx, req.FamilyID)
		if ferr != nil {
			return nil, ferr
		}
		return s.resume(ctx, open, req.CallerID)
	}

	slog.Info("planning session started",
		"session_id", sess.ID, "family_id", sess.FamilyID, "organizer_id", sess.OrganizerID)
	s.logAction(ctx, sess.ID, req.CallerID, models.ActionStart, "", "")

	gen := s.Cache.Generation(sess.ID)
	state, err := s.loadState(ctx, sess)
	if err != nil {
		return nil, err
	}
	s.Cache.Add(sess.ID, gen, state)

	if settings.Notifications {
		s.notifyAsync(sess, func(members []models.FamilyMember) string {
			return notify.StartedText(sess, members)
		})
	}
	return state, nil
}

func (s *SessionService) resume(ctx context.Context, open *models.PlanningSession, caller uint) (*SessionState, error) {
	if !open.IsParticipant(caller) {
		return nil, apperrors.ErrPermissionDenied
	}
	state, err := s.loadState(ctx, open)
	if err != nil {
		return nil, err
	}
	s.logAction(ctx, open.ID, caller, models.ActionResumeJoin, "", "")
	state.Resumed = true
	return state, nil
}

// Get returns the authoritative state of a session the caller takes part in.
func (s *SessionService) Get(ctx context.Context, id, caller uint) (*SessionState, error) {
	if state, ok := s.Cache.Get(id); ok {
		if !state.Session.IsParticipant(caller) {
			return nil, apperrors.ErrPermissionDenied
		}
		return state, nil
	}
	gen := s.Cache.Generation(id)
	sess, err := s.participantSession(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	state, err := s.loadState(ctx, sess)
	if err != nil {
		return nil, err
	}
	s.Cache.Add(id, gen, state)
	return state, nil
}

// Read serves dashboards that authenticate as a service, not as a member.
func (s *SessionService) Read(ctx context.Context, id uint) (*SessionState, error) {
	if state, ok := s.Cache.Get(id); ok {
		return state, nil
	}
	gen := s.Cache.Generation(id)
	sess, err := s.Store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	state, err := s.loadState(ctx, sess)
	if err != nil {
		return nil, err
	}
	s.Cache.Add(id, gen, state)
	return state, nil
}

// Authorize checks that caller may join the session's live room.
func (s *SessionService) Authorize(ctx context.Context, id, caller uint) (*models.PlanningSession, error) {
	return s.participantSession(ctx, id, caller)
}

// Latest returns the family's most recent session in any status, or nil.
func (s *SessionService) Latest(ctx context.Context, familyID, caller uint) (*SessionState, error) {
	if err := s.requireMember(ctx, familyID, caller); err != nil {
		return nil, err
	}
	sess, err := s.Store.LatestSession(ctx, familyID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.loadState(ctx, sess)
}

func (s *SessionService) History(ctx context.Context, familyID, caller uint, limit, offset int) (*HistoryPage, error) {
	if err := s.requireMember(ctx, familyID, caller); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	sessions, total, err := s.Store.ListSessions(ctx, familyID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &HistoryPage{Sessions: sessions, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *SessionService) Pause(ctx context.Context, id, caller uint) (*SessionState, error) {
	return s.transition(ctx, id, caller, models.SessionStatusActive, models.SessionStatusPaused,
		models.ActionPause, ws.EventSessionPaused, func(now time.Time) store.Stamp {
			return store.Stamp{PausedAt: now}
		})
}

func (s *SessionService) Resume(ctx context.Context, id, caller uint) (*SessionState, error) {
	return s.transition(ctx, id, caller, models.SessionStatusPaused, models.SessionStatusActive,
		models.ActionResume, ws.EventSessionResumed, func(now time.Time) store.Stamp {
			return store.Stamp{ResumedAt: now}
		})
}

// Cancel ends an active session without a completion report. It cannot be undone.
func (s *SessionService) Cancel(ctx context.Context, id, caller uint) (*SessionState, error) {
	state, err := s.transition(ctx, id, caller, models.SessionStatusActive, models.SessionStatusCancelled,
		models.ActionCancel, ws.EventSessionCancelled, func(now time.Time) store.Stamp {
			return store.Stamp{EndTime: now}
		})
	if err != nil {
		return nil, err
	}
	if state.Session.Settings.Notifications {
		sess := state.Session
		s.notifyAsync(&sess, func(members []models.FamilyMember) string {
			return notify.CancelledText(&sess, members)
		})
	}
	return state, nil
}

func (s *SessionService) transition(ctx context.Context, id, caller uint, from, to, action, event string,
	stamp func(time.Time) store.Stamp) (*SessionState, error) {
	unlock := s.Locks.Lock(sessionKey(id))
	defer unlock()

	sess, err := s.Store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsOrganizer(caller) {
		return nil, apperrors.ErrPermissionDenied
	}
	if sess.Status != from {
		return nil, fmt.Errorf("cannot %s a %s session: %w", action, sess.Status, apperrors.ErrInvalidTransition)
	}

	updated, err := s.Store.TransitionSession(ctx, id, from, to, stamp(s.now()))
	s.Cache.Invalidate(id)
	if err != nil {
		return nil, err
	}
	s.logAction(ctx, id, caller, action, "", "")

	state, err := s.loadState(ctx, updated)
	if err != nil {
		return nil, err
	}
	s.publish(id, caller, event, state.Session)
	slog.Info("planning session transitioned", "session_id", id, "from", from, "to", to, "by", caller)
	return state, nil
}

// Complete saves the final progress and closes the session. The session is
// only completed when that save succeeds.
func (s *SessionService) Complete(ctx context.Context, id, caller uint, final map[string]PhaseUpdate) (*SessionState, error) {
	unlock := s.Locks.Lock(sessionKey(id))
	defer unlock()

	sess, err := s.Store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsOrganizer(caller) {
		return nil, apperrors.ErrPermissionDenied
	}
	if sess.Status != models.SessionStatusActive {
		return nil, fmt.Errorf("cannot complete a %s session: %w", sess.Status, apperrors.ErrInvalidTransition)
	}

	if _, err := s.saveLocked(ctx, sess, caller, final); err != nil {
		return nil, fmt.Errorf("final save: %w", err)
	}

	now := s.now()
	updated, err := s.Store.TransitionSession(ctx, id, models.SessionStatusActive, models.SessionStatusCompleted,
		store.Stamp{EndTime: now})
	s.Cache.Invalidate(id)
	if err != nil {
		return nil, err
	}
	s.logAction(ctx, id, caller, models.ActionComplete, "", "")

	state, err := s.loadState(ctx, updated)
	if err != nil {
		return nil, err
	}
	report := completionReport(updated, state.Progress, now)
	state.Completion = report
	s.recordCompletion(ctx, id, report, now)

	s.publish(id, caller, ws.EventSessionCompleted, map[string]interface{}{
		"session":    state.Session,
		"completion": report,
	})
	slog.Info("planning session completed", "session_id", id, "completion_rate", report.CompletionRate)

	s.archiveAsync(state)
	if updated.Settings.Notifications {
		s.notifyAsync(updated, func([]models.FamilyMember) string {
			return notify.CompletedText(updated, report.CompletionRate)
		})
	}
	return state, nil
}

// Invalidate drops cached state, used when another instance changed the session.
func (s *SessionService) Invalidate(id uint) {
	s.Cache.Invalidate(id)
}

// Wait blocks until background notifications and archiving have finished.
func (s *SessionService) Wait() {
	s.background.Wait()
}

func completionReport(sess *models.PlanningSession, progress []models.PhaseProgress, end time.Time) *CompletionReport {
	done := 0
	for _, p := range progress {
		if p.Complete() {
			done++
		}
	}
	total := len(models.Phases)
	return &CompletionReport{
		CompletionRate:        float64(done) * 100 / float64(total),
		CompletedPhases:       done,
		TotalPhases:           total,
		ActualDurationMinutes: int(end.Sub(sess.StartTime).Minutes()),
	}
}

func (s *SessionService) recordCompletion(ctx context.Context, id uint, r *CompletionReport, at time.Time) {
	meta, _ := json.Marshal(map[string]int{
		"completed_phases":        r.CompletedPhases,
		"total_phases":            r.TotalPhases,
		"actual_duration_minutes": r.ActualDurationMinutes,
	})
	err := s.Store.RecordMetric(ctx, &models.SessionMetric{
		SessionID:   id,
		Scope:       "session",
		MetricName:  "completion_rate",
		MetricValue: r.CompletionRate,
		Metadata:    meta,
		RecordedAt:  at,
	})
	if err != nil {
		slog.Warn("completion metric not recorded", "session_id", id, "err", err)
	}
}

func (s *SessionService) notifyAsync(sess *models.PlanningSession, text func([]models.FamilyMember) string) {
	familyID, sessionID := sess.FamilyID, sess.ID
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()

		members, err := s.Directory.Members(ctx, familyID)
		if err != nil {
			slog.Warn("notify: family lookup failed", "session_id", sessionID, "err", err)
			return
		}
		if err := s.notifier.Notify(ctx, members, text(members)); err != nil {
			slog.Warn("notify: delivery failed", "session_id", sessionID, "err", err)
		}
	}()
}

func (s *SessionService) archiveAsync(state *SessionState) {
	data, err := json.Marshal(state)
	if err != nil {
		slog.Warn("archive: marshal report", "session_id", state.Session.ID, "err", err)
		return
	}
	key := archive.ReportKey(s.reportPrefix, state.Session.FamilyID, state.Session.ID)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := s.archiver.Archive(ctx, key, data); err != nil {
			slog.Warn("archive: upload failed", "key", key, "err", err)
		}
	}()
}

func (s *SessionService) requireMember(ctx context.Context, familyID, caller uint) error {
	ok, err := directory.IsMember(ctx, s.Directory, familyID, caller)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrPermissionDenied
	}
	return nil
}

func hasMember(members []models.FamilyMember, userID uint) bool {
	for _, m := range members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// participantRows always includes the organizer as host, once.
func participantRows(organizer uint, participants []uint, joined time.Time) []models.SessionParticipant {
	rows := []models.SessionParticipant{{UserID: organizer, IsHost: true, JoinedAt: joined}}
	seen := map[uint]bool{organizer: true}
	for _, uid := range participants {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		rows = append(rows, models.SessionParticipant{UserID: uid, JoinedAt: joined})
	}
	return rows
}
