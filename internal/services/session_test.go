package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/models"
	"family-planner-backend/internal/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_CreatesActiveSessionWithZeroProgress(t *testing.T) {
	e := newEnv(t)
	state := e.start(t)

	assert.False(t, state.Resumed)
	assert.Equal(t, models.SessionStatusActive, state.Session.Status)
	assert.Equal(t, alice, state.Session.OrganizerID)
	assert.Equal(t, models.DefaultSettings(), state.Session.Settings)
	assert.Equal(t, 90, state.Session.DurationMinutes)
	assert.ElementsMatch(t, []uint{alice, bob}, state.Session.ParticipantIDs())

	require.Len(t, state.Progress, len(models.Phases))
	for _, row := range state.Progress {
		assert.Zero(t, row.Fraction)
	}
	assert.Zero(t, state.OverallProgress)
	assert.Empty(t, state.Claims)

	actions := e.store.Actions(state.Session.ID)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionStart, actions[0].ActionType)
}

func TestStart_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  StartRequest
		want error
	}{
		{"missing family", StartRequest{CallerID: alice}, apperrors.ErrInvalidInput},
		{"caller outside family", StartRequest{FamilyID: family, CallerID: outsider}, apperrors.ErrPermissionDenied},
		{"participant outside family", StartRequest{FamilyID: family, CallerID: alice, Participants: []uint{outsider}}, apperrors.ErrInvalidInput},
		{"negative duration", StartRequest{FamilyID: family, CallerID: alice, Settings: &models.Settings{DurationMinutes: -5}}, apperrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.sessions.Start(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStart_ClosedSettingsRecord(t *testing.T) {
	e := newEnv(t)
	state, err := e.sessions.Start(context.Background(), StartRequest{
		FamilyID: family,
		CallerID: alice,
		Settings: &models.Settings{AutoSave: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 90, state.Session.Settings.DurationMinutes)
	assert.True(t, state.Session.Settings.AutoSave)
	assert.False(t, state.Session.Settings.PartnerSync)
	assert.False(t, state.Session.Settings.Notifications)
}

func TestStart_ResumesOpenSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := e.start(t)

	again, err := e.sessions.Start(ctx, StartRequest{FamilyID: family, CallerID: bob})
	require.NoError(t, err)
	assert.True(t, again.Resumed)
	assert.Equal(t, first.Session.ID, again.Session.ID)
	assert.Equal(t, alice, again.Session.OrganizerID)

	// carol is family but was not invited
	_, err = e.sessions.Start(ctx, StartRequest{FamilyID: family, CallerID: carol})
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	// a paused session is still resumed rather than replaced
	_, err = e.sessions.Pause(ctx, first.Session.ID, alice)
	require.NoError(t, err)
	again, err = e.sessions.Start(ctx, StartRequest{FamilyID: family, CallerID: alice})
	require.NoError(t, err)
	assert.True(t, again.Resumed)
	assert.Equal(t, models.SessionStatusPaused, again.Session.Status)
}

func TestStart_ConcurrentCallsCreateOneSession(t *testing.T) {
	e := newEnv(t)

	// a second service with its own locks stands in for another instance
	other := NewSessionService(Deps{
		Store:     e.store,
		Directory: e.deps.Directory,
		Clock:     e.clock,
	}, nil, nil, "")

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[uint]int{}
		created int
	)
	gate := make(chan struct{})
	for i := 0; i < callers; i++ {
		svc := e.sessions
		if i%2 == 1 {
			svc = other
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			state, err := svc.Start(context.Background(), StartRequest{FamilyID: family, CallerID: alice})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[state.Session.ID]++
			if !state.Resumed {
				created++
			}
			mu.Unlock()
		}()
	}
	close(gate)
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)

	sessions, total, err := e.store.ListSessions(context.Background(), family, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.True(t, sessions[0].IsOpen())
}

func TestPauseResume_KeepsProgress(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.start(t).Session.ID

	_, err := e.progress.SetPhaseProgress(ctx, id, models.PhaseReview, 0.6, nil, alice)
	require.NoError(t, err)

	paused, err := e.sessions.Pause(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusPaused, paused.Session.Status)
	require.NotNil(t, paused.Session.PausedAt)

	e.clock.Advance(10 * time.Minute)
	resumed, err := e.sessions.Resume(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, resumed.Session.Status)
	require.NotNil(t, resumed.Session.ResumedAt)
	assert.Equal(t, 0.6, phaseFraction(resumed.Progress, models.PhaseReview))
	assert.InDelta(t, 0.12, resumed.OverallProgress, 1e-9)

	assert.Equal(t, []string{ws.EventProgressUpdated, ws.EventSessionPaused, ws.EventSessionResumed}, e.events.types())
}

func TestTransitions_OrganizerOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.start(t).Session.ID

	for name, op := range map[string]func(context.Context, uint, uint) (*SessionState, error){
		"pause":  e.sessions.Pause,
		"cancel": e.sessions.Cancel,
	} {
		_, err := op(ctx, id, bob)
		assert.ErrorIs(t, err, apperrors.ErrPermissionDenied, name)
	}
	_, err := e.sessions.Complete(ctx, id, bob, nil)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	state, err := e.sessions.Get(ctx, id, bob)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, state.Session.Status)
}

func TestTransitions_IllegalEdges(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.start(t).Session.ID

	_, err := e.sessions.Resume(ctx, id, alice)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = e.sessions.Pause(ctx, id, alice)
	require.NoError(t, err)
	_, err = e.sessions.Pause(ctx, id, alice)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, err = e.sessions.Cancel(ctx, id, alice)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = e.sessions.Pause(ctx, 404, alice)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestComplete_WhilePausedFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.start(t).Session.ID

	_, err := e.sessions.Pause(ctx, id, alice)
	require.NoError(t, err)

	_, err = e.sessions.Complete(ctx, id, alice, map[string]PhaseUpdate{
		models.PhaseReview: {Fraction: 1},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	state, err := e.sessions.Get(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusPaused, state.Session.Status)
	assert.Zero(t, phaseFraction(state.Progress, models.PhaseReview))
}

func TestComplete_SavesFinalProgressAndReports(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.start(t).Session.ID

	e.clock.Advance(45 * time.Minute)
	state, err := e.sessions.Complete(ctx, id, alice, map[string]PhaseUpdate{
		models.PhaseReview: {Fraction: 1},
		models.PhaseInbox:  {Fraction: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, state.Session.Status)
	require.NotNil(t, state.Session.EndTime)
	require.NotNil(t, state.Session.LastSavedAt)
	require.NotNil(t, state.Completion)
	assert.Equal(t, 40.0, state.Completion.CompletionRate)
	assert.Equal(t, 2, state.Completion.CompletedPhases)
	assert.Equal(t, 5, state.Completion.TotalPhases)
	assert.Equal(t, 45, state.Completion.ActualDurationMinutes)

	metrics := e.store.Metrics(id)
	require.Len(t, metrics, 1)
	assert.Equal(t, "completion_rate", metrics[0].MetricName)
	assert.Equal(t, 40.0, metrics[0].MetricValue)
	assert.JSONEq(t, `{"completed_phases":2,"total_phases":5,"actual_duration_minutes":45}`, string(metrics[0].Metadata))

	// progress is announced before the terminal event
	assert.Equal(t, []string{ws.EventProgressUpdated, ws.EventSessionCompleted}, e.events.types())

	_, err = e.sessions.Complete(ctx, id, alice, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestComplete_EmptyFinalSaveStampsLastSaved(t *testing.T) {
	e := newEnv(t)
	id := e.start(t).Session.ID

	state, err := e.sessions.Complete(context.Background(), id, alice, nil)
	require.NoError(t, err)
	require.NotNil(t, state.Session.LastSavedAt)
	assert.Zero(t, state.Completion.CompletionRate)
	assert.Equal(t, []string{ws.EventSessionCompleted}, e.events.types())
}

func TestComplete_InvalidFinalProgressLeavesSessionActive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.start(t).Session.ID

	_, err := e.sessions.Complete(ctx, id, alice, map[string]PhaseUpdate{"retro": {Fraction: 1}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	state, err := e.sessions.Get(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, state.Session.Status)
}

func TestCancel_IsTerminal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.start(t).Session.ID

	state, err := e.sessions.Cancel(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCancelled, state.Session.Status)
	require.NotNil(t, state.Session.EndTime)

	_, err = e.sessions.Resume(ctx, id, alice)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	// a stale debounced save must not touch a terminated session
	_, err = e.progress.SaveProgress(ctx, id, bob, map[string]PhaseUpdate{models.PhaseReview: {Fraction: 0.5}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	// and the family is free to start over
	next := e.start(t)
	assert.NotEqual(t, id, next.Session.ID)
	assert.False(t, next.Resumed)
}

func TestGet_Authorization(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.start(t).Session.ID

	_, err := e.sessions.Get(ctx, id, carol)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
	_, err = e.sessions.Get(ctx, 404, alice)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	sess, err := e.sessions.Authorize(ctx, id, bob)
	require.NoError(t, err)
	assert.Equal(t, id, sess.ID)
	_, err = e.sessions.Authorize(ctx, id, outsider)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

func TestGet_SeesWritesThroughCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.start(t).Session.ID

	before, err := e.sessions.Get(ctx, id, bob)
	require.NoError(t, err)
	assert.Zero(t, before.OverallProgress)

	_, err = e.progress.SetPhaseProgress(ctx, id, models.PhaseReview, 1, nil, alice)
	require.NoError(t, err)

	after, err := e.sessions.Get(ctx, id, bob)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, after.OverallProgress, 1e-9)
}

func TestGet_ReadRacingAWriteIsNotCached(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.start(t).Session.ID
	e.deps.Cache.Invalidate(id)

	gated := newGatedStore(e.store)
	d := e.deps
	d.Store = gated
	reader := NewSessionService(d, nil, nil, "")

	gated.armed.Store(true)
	done := make(chan error, 1)
	go func() {
		_, err := reader.Get(ctx, id, bob)
		done <- err
	}()
	<-gated.parked

	// the write lands between the reader's store read and its cache fill
	_, err := e.progress.SetPhaseProgress(ctx, id, models.PhaseInbox, 0.4, nil, alice)
	require.NoError(t, err)
	close(gated.release)
	require.NoError(t, <-done)

	state, err := e.sessions.Get(ctx, id, bob)
	require.NoError(t, err)
	assert.Equal(t, 0.4, phaseFraction(state.Progress, models.PhaseInbox))
	assert.InDelta(t, 0.08, state.OverallProgress, 1e-9)
}

func TestLatestAndHistory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	latest, err := e.sessions.Latest(ctx, family, alice)
	require.NoError(t, err)
	assert.Nil(t, latest)

	first := e.start(t).Session.ID
	_, err = e.sessions.Cancel(ctx, first, alice)
	require.NoError(t, err)
	e.clock.Advance(time.Hour)
	second := e.start(t).Session.ID

	latest, err = e.sessions.Latest(ctx, family, carol)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second, latest.Session.ID)

	_, err = e.sessions.Latest(ctx, family, outsider)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	page, err := e.sessions.History(ctx, family, alice, 1, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	require.Len(t, page.Sessions, 1)
	assert.Equal(t, second, page.Sessions[0].ID)

	page, err = e.sessions.History(ctx, family, alice, 500, 1)
	require.NoError(t, err)
	assert.Equal(t, maxHistoryLimit, page.Limit)
	require.Len(t, page.Sessions, 1)
	assert.Equal(t, first, page.Sessions[0].ID)
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) Notify(_ context.Context, _ []models.FamilyMember, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

type recordingArchiver struct {
	mu   sync.Mutex
	keys []string
	data [][]byte
}

func (a *recordingArchiver) Archive(_ context.Context, key string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	a.data = append(a.data, data)
	return errors.New("bucket unreachable")
}

func TestSideEffects_NotifyAndArchive(t *testing.T) {
	e := newEnv(t)
	n := &recordingNotifier{}
	a := &recordingArchiver{}
	svc := NewSessionService(e.deps, n, a, "reports")
	ctx := context.Background()

	state, err := svc.Start(ctx, StartRequest{FamilyID: family, CallerID: alice})
	require.NoError(t, err)

	// an archive failure does not affect the result
	done, err := svc.Complete(ctx, state.Session.ID, alice, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, done.Session.Status)

	svc.Wait()
	assert.Len(t, n.texts, 2)
	require.Len(t, a.keys, 1)
	assert.Equal(t, "reports/family-1/session-1.json", a.keys[0])
	assert.Contains(t, string(a.data[0]), `"completion_rate"`)
}

func TestSideEffects_NotificationsOff(t *testing.T) {
	e := newEnv(t)
	n := &recordingNotifier{}
	svc := NewSessionService(e.deps, n, nil, "")

	_, err := svc.Start(context.Background(), StartRequest{
		FamilyID: family,
		CallerID: alice,
		Settings: &models.Settings{DurationMinutes: 30, AutoSave: true},
	})
	require.NoError(t, err)
	svc.Wait()
	assert.Empty(t, n.texts)
}
