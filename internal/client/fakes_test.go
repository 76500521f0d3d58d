package client

import (
	"context"
	"sync"
	"time"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/models"
	"family-planner-backend/internal/services"
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

// fakeAPI keeps one session in memory.
type fakeAPI struct {
	mu         sync.Mutex
	state      services.SessionState
	saves      []map[string]services.PhaseUpdate
	final      map[string]services.PhaseUpdate
	failSaves  int
	saveErr    error
	completed  bool
	cancelled  bool
	claimOwner map[string]uint
	caller     uint
}

func newFakeAPI(caller uint) *fakeAPI {
	sess := models.PlanningSession{
		ID:          7,
		FamilyID:    1,
		OrganizerID: caller,
		Status:      models.SessionStatusActive,
		StartTime:   t0,
		Settings:    models.DefaultSettings(),
	}
	progress := make([]models.PhaseProgress, 0, len(models.Phases))
	for _, p := range models.Phases {
		progress = append(progress, models.PhaseProgress{SessionID: 7, Phase: p})
	}
	return &fakeAPI{
		state:      services.SessionState{Session: sess, Progress: progress},
		claimOwner: make(map[string]uint),
		caller:     caller,
	}
}

func (f *fakeAPI) snapshot() *services.SessionState {
	st := f.state
	st.Progress = append([]models.PhaseProgress(nil), f.state.Progress...)
	st.Claims = append([]models.ClaimRecord(nil), f.state.Claims...)
	return &st
}

func (f *fakeAPI) setServerPhase(phase string, fraction float64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.state.Progress {
		if f.state.Progress[i].Phase == phase {
			f.state.Progress[i].Fraction = fraction
			f.state.Progress[i].WrittenAt = at
		}
	}
}

func (f *fakeAPI) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func (f *fakeAPI) lastSave() map[string]services.PhaseUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saves) == 0 {
		return nil
	}
	return f.saves[len(f.saves)-1]
}

func (f *fakeAPI) StartSession(_ context.Context, _ uint, _ []uint, _ *models.Settings) (*services.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot(), nil
}

func (f *fakeAPI) GetSession(_ context.Context, id uint) (*services.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.state.Session.ID {
		return nil, apperrors.ErrNotFound
	}
	return f.snapshot(), nil
}

func (f *fakeAPI) LatestSession(_ context.Context, _ uint) (*services.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot(), nil
}

func (f *fakeAPI) History(_ context.Context, _ uint, limit, offset int) (*services.HistoryPage, error) {
	return &services.HistoryPage{Limit: limit, Offset: offset}, nil
}

func (f *fakeAPI) setStatus(status string) *services.SessionState {
	f.state.Session.Status = status
	return f.snapshot()
}

func (f *fakeAPI) Pause(_ context.Context, _ uint) (*services.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setStatus(models.SessionStatusPaused), nil
}

func (f *fakeAPI) Resume(_ context.Context, _ uint) (*services.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setStatus(models.SessionStatusActive), nil
}

func (f *fakeAPI) Cancel(_ context.Context, _ uint) (*services.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
	return f.setStatus(models.SessionStatusCancelled), nil
}

func (f *fakeAPI) Complete(_ context.Context, _ uint, final map[string]services.PhaseUpdate) (*services.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = true
	f.final = final
	f.applyLocked(final)
	st := f.setStatus(models.SessionStatusCompleted)
	st.Completion = &services.CompletionReport{TotalPhases: len(models.Phases)}
	return st, nil
}

// applyLocked keeps the later write per phase, like the server.
func (f *fakeAPI) applyLocked(batch map[string]services.PhaseUpdate) []models.PhaseProgress {
	var applied []models.PhaseProgress
	for i := range f.state.Progress {
		u, ok := batch[f.state.Progress[i].Phase]
		if !ok {
			continue
		}
		written := t0
		if u.WrittenAt != nil {
			written = *u.WrittenAt
		}
		if written.Before(f.state.Progress[i].WrittenAt) {
			continue
		}
		f.state.Progress[i].Fraction = u.Fraction
		f.state.Progress[i].Payload = u.Payload
		f.state.Progress[i].WrittenAt = written
		applied = append(applied, f.state.Progress[i])
	}
	return applied
}

func (f *fakeAPI) SaveProgress(_ context.Context, _ uint, progress map[string]services.PhaseUpdate) (*services.SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, progress)
	if f.failSaves > 0 {
		f.failSaves--
		return nil, f.saveErr
	}
	applied := f.applyLocked(progress)
	saved := t0.Add(time.Duration(len(f.saves)) * time.Second)
	f.state.Session.LastSavedAt = &saved
	return &services.SaveResult{LastSaved: saved, Applied: applied, PhaseCursor: f.state.Session.PhaseCursor}, nil
}

func (f *fakeAPI) MovePhase(_ context.Context, _ uint, phase string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := models.PhaseIndex(phase)
	if idx < 0 || idx > f.state.Session.PhaseCursor+1 {
		return 0, apperrors.ErrInvalidInput
	}
	if idx > f.state.Session.PhaseCursor {
		f.state.Session.PhaseCursor = idx
	}
	return f.state.Session.PhaseCursor, nil
}

func (f *fakeAPI) GetProgress(_ context.Context, id uint) (*services.ProgressView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &services.ProgressView{SessionID: id, Phases: f.snapshot().Progress}, nil
}

func (f *fakeAPI) Claim(_ context.Context, _ uint, itemType, itemID string) (*services.ClaimResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := claimKey(itemType, itemID)
	if owner, ok := f.claimOwner[key]; ok && owner != f.caller {
		return &services.ClaimResult{ItemType: itemType, ItemID: itemID, ClaimedBy: owner, Conflict: true}, nil
	}
	f.claimOwner[key] = f.caller
	return &services.ClaimResult{ItemType: itemType, ItemID: itemID, ClaimedBy: f.caller, Claimed: true, ClaimedAt: t0}, nil
}

func (f *fakeAPI) ListClaims(_ context.Context, _ uint) ([]models.ClaimRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ClaimRecord(nil), f.state.Claims...), nil
}

// fakeChannel records hints and lets tests inject events.
type fakeChannel struct {
	mu        sync.Mutex
	handlers  ChannelHandlers
	connected bool
	closed    bool
	sent      []string
}

func (c *fakeChannel) Connect(_ context.Context, _ uint, h ChannelHandlers) error {
	c.mu.Lock()
	c.handlers = h
	c.connected = true
	c.mu.Unlock()
	if h.OnConnect != nil {
		h.OnConnect()
	}
	return nil
}

func (c *fakeChannel) Send(msgType string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return apperrors.ErrChannelDisconnected
	}
	c.sent = append(c.sent, msgType)
	return nil
}

func (c *fakeChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeChannel) emit(ev Event) {
	c.mu.Lock()
	h := c.handlers
	c.mu.Unlock()
	h.OnEvent(ev)
}

// reconnect simulates a drop followed by a successful redial.
func (c *fakeChannel) reconnect() {
	c.mu.Lock()
	h := c.handlers
	c.connected = false
	c.mu.Unlock()
	h.OnDisconnect(nil)

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	h.OnConnect()
}
