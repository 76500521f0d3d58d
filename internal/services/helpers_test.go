package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"family-planner-backend/internal/clock"
	"family-planner-backend/internal/directory"
	"family-planner-backend/internal/models"
	"family-planner-backend/internal/store/memory"
	"family-planner-backend/internal/tasks"
	"family-planner-backend/internal/ws"

	"github.com/stretchr/testify/require"
)

const (
	family   uint = 1
	alice    uint = 10
	bob      uint = 11
	carol    uint = 12
	outsider uint = 99
)

type recorder struct {
	mu   sync.Mutex
	msgs []ws.WSMessage
}

func (r *recorder) Broadcast(_ uint, msg ws.WSMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Type)
	}
	return out
}

type fakeTasks struct {
	mu      sync.Mutex
	updates []string
	created []tasks.NewTask
	err     error
}

func (f *fakeTasks) CreateTask(_ context.Context, _ uint, t tasks.NewTask) (tasks.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, t)
	return tasks.Item{"id": len(f.created), "title": t.Title}, nil
}

func (f *fakeTasks) UpdateItem(_ context.Context, itemType, itemID string, fields map[string]interface{}) (tasks.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.updates = append(f.updates, itemType+"/"+itemID)
	item := tasks.Item{"id": itemID}
	for k, v := range fields {
		item[k] = v
	}
	return item, nil
}

type env struct {
	deps     Deps
	store    *memory.Store
	events   *recorder
	clock    *clock.Manual
	sessions *SessionService
	progress *ProgressService
	claims   *ClaimService
	tasks    *fakeTasks
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := directory.NewStatic()
	for _, uid := range []uint{alice, bob, carol} {
		dir.Add(models.FamilyMember{FamilyID: family, UserID: uid, Role: "parent"})
	}
	dir.Add(models.FamilyMember{FamilyID: 2, UserID: outsider})

	e := &env{
		store:  memory.New(),
		events: &recorder{},
		clock:  clock.NewManual(time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)),
		tasks:  &fakeTasks{},
	}
	e.deps = Deps{
		Store:     e.store,
		Directory: dir,
		Events:    e.events,
		Locks:     NewKeyedMutex(),
		Cache:     NewStateCache(64, time.Minute),
		Clock:     e.clock,
	}
	e.sessions = NewSessionService(e.deps, nil, nil, "")
	e.progress = NewProgressService(e.deps)
	e.claims = NewClaimService(e.deps, e.tasks)
	return e
}

// start opens a session organized by alice with bob participating.
func (e *env) start(t *testing.T) *SessionState {
	t.Helper()
	state, err := e.sessions.Start(context.Background(), StartRequest{
		FamilyID:     family,
		CallerID:     alice,
		Participants: []uint{bob},
	})
	require.NoError(t, err)
	return state
}

func phaseFraction(rows []models.PhaseProgress, phase string) float64 {
	for _, r := range rows {
		if r.Phase == phase {
			return r.Fraction
		}
	}
	return -1
}

// gatedStore parks the next GetProgress after it has read from the store,
// until release is closed.
type gatedStore struct {
	*memory.Store
	armed   atomic.Bool
	parked  chan struct{}
	release chan struct{}
}

func newGatedStore(s *memory.Store) *gatedStore {
	return &gatedStore{Store: s, parked: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) GetProgress(ctx context.Context, sessionID uint) ([]models.PhaseProgress, error) {
	rows, err := g.Store.GetProgress(ctx, sessionID)
	if g.armed.CompareAndSwap(true, false) {
		close(g.parked)
		<-g.release
	}
	return rows, err
}
