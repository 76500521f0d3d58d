package client

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/directory"
	"family-planner-backend/internal/handlers"
	"family-planner-backend/internal/models"
	"family-planner-backend/internal/services"
	"family-planner-backend/internal/store/memory"
	"family-planner-backend/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roomGate wraps the router so a test can drop live connections and refuse
// new ones, the way a network partition would.
type roomGate struct {
	next    http.Handler
	blocked atomic.Bool

	mu    sync.Mutex
	conns []net.Conn
}

func (g *roomGate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/ws/") {
		if g.blocked.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w = &trackingWriter{ResponseWriter: w, gate: g}
	}
	g.next.ServeHTTP(w, r)
}

func (g *roomGate) dropAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		_ = c.Close()
	}
	g.conns = nil
}

type trackingWriter struct {
	http.ResponseWriter
	gate *roomGate
}

func (w *trackingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := w.ResponseWriter.(http.Hijacker).Hijack()
	if err == nil {
		w.gate.mu.Lock()
		w.gate.conns = append(w.gate.conns, conn)
		w.gate.mu.Unlock()
	}
	return conn, rw, err
}

type liveServer struct {
	url  string
	auth *services.AuthService
	gate *roomGate
}

func newLiveServer(t *testing.T) *liveServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := directory.NewStatic()
	for _, uid := range []uint{alice, bob} {
		dir.Add(models.FamilyMember{FamilyID: 1, UserID: uid})
	}
	hub := ws.NewHub(ws.DefaultConfig(), nil, nil)
	t.Cleanup(hub.Close)

	deps := services.Deps{
		Store:     memory.New(),
		Directory: dir,
		Events:    hub,
		Locks:     services.NewKeyedMutex(),
		Cache:     services.NewStateCache(16, time.Second),
	}
	auth := services.NewAuthService("test-secret")
	router := handlers.NewRouter(handlers.RouterConfig{
		Auth:     auth,
		Sessions: services.NewSessionService(deps, nil, nil, ""),
		Progress: services.NewProgressService(deps),
		Claims:   services.NewClaimService(deps, nil),
		Hub:      hub,
	})

	gate := &roomGate{next: router}
	srv := httptest.NewServer(gate)
	t.Cleanup(srv.Close)
	return &liveServer{url: srv.URL, auth: auth, gate: gate}
}

func (s *liveServer) client(t *testing.T, user uint) *HTTPClient {
	t.Helper()
	tok, err := s.auth.GenerateToken(user)
	require.NoError(t, err)
	return NewHTTPClient(s.url+"/", tok)
}

func (s *liveServer) proxy(t *testing.T, user uint, opts Options) (*Proxy, *WSChannel) {
	t.Helper()
	tok, err := s.auth.GenerateToken(user)
	require.NoError(t, err)
	ch := NewWSChannel(s.url, tok, Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond})
	p := NewProxy(NewHTTPClient(s.url, tok), ch, user, opts)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, ch
}

func TestProxy_LaggingClockSaveIsKept(t *testing.T) {
	srv := newLiveServer(t)
	ctx := context.Background()

	p := NewProxy(srv.client(t, alice), nil, alice, fastOptions())
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	state, err := p.Start(ctx, 1, []uint{bob}, nil)
	require.NoError(t, err)

	// alice's clock runs behind the server's, so her edit predates the start
	p.now = func() time.Time { return time.Now().UTC().Add(-5 * time.Second) }
	require.NoError(t, p.UpdatePhaseProgress(models.PhaseReview, 0.4, nil))
	require.NoError(t, p.Flush(ctx))
	assert.False(t, p.State().Progress[models.PhaseReview].Dirty)

	view, err := srv.client(t, bob).GetProgress(ctx, state.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.4, view.Phases[0].Fraction)
	assert.InDelta(t, 0.08, view.OverallProgress, 1e-9)

	require.NoError(t, p.Reconcile(ctx))
	assert.Equal(t, 0.4, p.State().Progress[models.PhaseReview].Fraction)
}

func TestHTTPClient_ErrorsAndConflicts(t *testing.T) {
	srv := newLiveServer(t)
	ctx := context.Background()
	ac, bc := srv.client(t, alice), srv.client(t, bob)

	latest, err := ac.LatestSession(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, latest)

	state, err := ac.StartSession(ctx, 1, []uint{bob}, nil)
	require.NoError(t, err)
	id := state.Session.ID

	_, err = srv.client(t, 99).GetSession(ctx, id)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	_, err = ac.GetSession(ctx, 9999)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = bc.Pause(ctx, id)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied, "only the organizer pauses")

	res, err := ac.Claim(ctx, id, models.ItemTypeTask, "7")
	require.NoError(t, err)
	assert.True(t, res.Claimed)

	res, err = bc.Claim(ctx, id, models.ItemTypeTask, "7")
	require.NoError(t, err, "a lost race is a result, not an error")
	assert.True(t, res.Conflict)
	assert.Equal(t, alice, res.ClaimedBy)

	claims, err := bc.ListClaims(ctx, id)
	require.NoError(t, err)
	require.Len(t, claims, 1)

	_, err = ac.MovePhase(ctx, id, models.PhaseActions)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	page, err := ac.History(ctx, 1, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}

func TestHTTPClient_Unreachable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", "tok")
	_, err := c.GetSession(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.True(t, Retryable(err))
}

func TestProxy_PartnersSeeEachOther(t *testing.T) {
	srv := newLiveServer(t)
	ctx := context.Background()

	ap, _ := srv.proxy(t, alice, fastOptions())
	state, err := ap.Start(ctx, 1, []uint{bob}, nil)
	require.NoError(t, err)

	bp, bch := srv.proxy(t, bob, fastOptions())
	_, err = bp.Attach(ctx, state.Session.ID)
	require.NoError(t, err)
	require.Eventually(t, bch.Connected, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return len(ap.State().Presence) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ap.UpdatePhaseProgress(models.PhaseReview, 0.4, nil))
	require.Eventually(t, func() bool {
		return bp.State().Progress[models.PhaseReview].Fraction == 0.4
	}, 2*time.Second, 10*time.Millisecond)

	res, err := bp.Claim(ctx, models.ItemTypeEvent, "e1")
	require.NoError(t, err)
	require.True(t, res.Claimed)
	require.Eventually(t, func() bool {
		_, ok := ap.State().Claims["event:e1"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ap.Pause(ctx))
	require.Eventually(t, func() bool {
		return bp.State().Session.Status == models.SessionStatusPaused
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProxy_ReconnectRecoversMissedSave(t *testing.T) {
	srv := newLiveServer(t)
	ctx := context.Background()
	ac := srv.client(t, alice)

	state, err := ac.StartSession(ctx, 1, []uint{bob}, nil)
	require.NoError(t, err)
	id := state.Session.ID

	bp, bch := srv.proxy(t, bob, fastOptions())
	_, err = bp.Attach(ctx, id)
	require.NoError(t, err)
	require.Eventually(t, bch.Connected, time.Second, 5*time.Millisecond)

	srv.gate.blocked.Store(true)
	srv.gate.dropAll()
	require.Eventually(t, func() bool { return !bch.Connected() }, 2*time.Second, 5*time.Millisecond)

	// Saved while bob is offline: the broadcast never reaches him.
	_, err = ac.SaveProgress(ctx, id, map[string]services.PhaseUpdate{
		models.PhaseReview: {Fraction: 1},
		models.PhaseInbox:  {Fraction: 0.5},
	})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0.0, bp.State().Progress[models.PhaseInbox].Fraction)

	srv.gate.blocked.Store(false)
	require.Eventually(t, func() bool {
		st := bp.State()
		return st.Connected && st.Progress[models.PhaseInbox].Fraction == 0.5
	}, 3*time.Second, 10*time.Millisecond)

	st := bp.State()
	assert.Equal(t, 1.0, st.Progress[models.PhaseReview].Fraction)
	assert.Equal(t, 1, st.Session.PhaseCursor)
}

func TestProxy_CompleteEndToEnd(t *testing.T) {
	srv := newLiveServer(t)
	ctx := context.Background()

	ap, ach := srv.proxy(t, alice, Options{
		DebounceWait:    time.Second,
		DebounceMaxWait: time.Second,
	})
	_, err := ap.Start(ctx, 1, []uint{bob}, nil)
	require.NoError(t, err)
	require.Eventually(t, ach.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, ap.UpdatePhaseProgress(models.PhaseReview, 1, nil))
	report, err := ap.Complete(ctx)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 20.0, report.CompletionRate)
	assert.Equal(t, 1, report.CompletedPhases)
	assert.False(t, ach.Connected())

	assert.ErrorIs(t, ap.UpdatePhaseProgress(models.PhaseReview, 0.5, nil), apperrors.ErrInvalidTransition)
}
