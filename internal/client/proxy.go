package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/models"
	"family-planner-backend/internal/presence"
	"family-planner-backend/internal/services"
	"family-planner-backend/internal/ws"
)

type Options struct {
	DebounceWait    time.Duration
	DebounceMaxWait time.Duration
	Backoff         Backoff
	// SaveAttempts bounds retries of one flush; 0 means 5.
	SaveAttempts int
	// PollInterval is how often the session is re-fetched while the live
	// channel is down.
	PollInterval time.Duration
	// OnChange, when set, receives a snapshot after every state change.
	OnChange func(State)
}

func DefaultOptions() Options {
	return Options{
		DebounceWait:    2 * time.Second,
		DebounceMaxWait: 5 * time.Second,
		Backoff:         DefaultBackoff(),
		SaveAttempts:    5,
		PollInterval:    10 * time.Second,
	}
}

// PhaseState is the local copy of one phase.
type PhaseState struct {
	Fraction  float64         `json:"fraction"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	WrittenAt time.Time       `json:"written_at"`
	Dirty     bool            `json:"dirty"`
}

// State is a point-in-time snapshot of the proxy.
type State struct {
	Session         *models.PlanningSession       `json:"session"`
	PhaseIndex      int                           `json:"phase_index"`
	Progress        map[string]PhaseState         `json:"progress"`
	OverallProgress float64                       `json:"overall_progress"`
	Presence        []presence.Entry              `json:"presence"`
	Claims          map[string]models.ClaimRecord `json:"claims"`
	Connected       bool                          `json:"connected"`
	Reconnecting    bool                          `json:"reconnecting"`
	LastSaved       *time.Time                    `json:"last_saved,omitempty"`
	Completion      *services.CompletionReport    `json:"completion,omitempty"`
}

// progressHint is what a participant sends for a live progress preview.
type progressHint struct {
	Phase     string          `json:"phase"`
	Fraction  float64         `json:"fraction"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	WrittenAt time.Time       `json:"written_at"`
}

// Proxy holds one participant's optimistic view of a session. Local edits
// apply immediately and are persisted through a debounced save. The channel
// is optional: without it the proxy works over request/response alone.
type Proxy struct {
	api     API
	channel Channel
	userID  uint
	opts    Options
	now     func() time.Time

	saveMu   sync.Mutex
	debounce *Debouncer

	pollMu     sync.Mutex
	pollCancel context.CancelFunc

	mu           sync.Mutex
	session      *models.PlanningSession
	phase        int
	progress     map[string]*PhaseState
	presence     []presence.Entry
	claims       map[string]models.ClaimRecord
	connected    bool
	reconnecting bool
	lastSaved    *time.Time
	completion   *services.CompletionReport
}

func NewProxy(api API, channel Channel, userID uint, opts Options) *Proxy {
	def := DefaultOptions()
	if opts.DebounceWait <= 0 {
		opts.DebounceWait = def.DebounceWait
	}
	if opts.DebounceMaxWait <= 0 {
		opts.DebounceMaxWait = def.DebounceMaxWait
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff = def.Backoff
	}
	if opts.SaveAttempts <= 0 {
		opts.SaveAttempts = def.SaveAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	p := &Proxy{
		api:      api,
		channel:  channel,
		userID:   userID,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		progress: make(map[string]*PhaseState),
		claims:   make(map[string]models.ClaimRecord),
	}
	p.debounce = NewDebouncer(opts.DebounceWait, opts.DebounceMaxWait, p.autosave)
	return p
}

// Start starts or resumes the family's session and joins its room.
func (p *Proxy) Start(ctx context.Context, familyID uint, participants []uint, settings *models.Settings) (*services.SessionState, error) {
	state, err := p.api.StartSession(ctx, familyID, participants, settings)
	if err != nil {
		return nil, err
	}
	p.adopt(state, true)
	p.join(ctx)
	return state, nil
}

// Attach loads an existing session and joins its room.
func (p *Proxy) Attach(ctx context.Context, sessionID uint) (*services.SessionState, error) {
	state, err := p.api.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	p.adopt(state, true)
	p.join(ctx)
	return state, nil
}

func (p *Proxy) join(ctx context.Context) {
	id := p.sessionID()
	if id == 0 {
		return
	}
	p.startPolling()
	if p.channel == nil {
		return
	}
	// The reconcile for the first connect is covered by the state just loaded.
	first := true
	err := p.channel.Connect(ctx, id, ChannelHandlers{
		OnConnect: func() {
			p.setConnected(true)
			if first {
				first = false
				return
			}
			rctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := p.Reconcile(rctx); err != nil {
				slog.Warn("client: reconcile after reconnect failed", "session_id", id, "err", err)
			}
		},
		OnEvent: p.handleEvent,
		OnDisconnect: func(err error) {
			p.setConnected(false)
			slog.Debug("client: room disconnected", "session_id", id, "err", err)
		},
	})
	if err != nil {
		slog.Warn("client: live channel unavailable, continuing without it", "session_id", id, "err", err)
	}
}

// UpdatePhaseProgress applies an edit locally and schedules persistence.
func (p *Proxy) UpdatePhaseProgress(phase string, fraction float64, payload json.RawMessage) error {
	if models.PhaseIndex(phase) < 0 {
		return fmt.Errorf("%w: unknown phase %q", apperrors.ErrInvalidInput, phase)
	}
	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return fmt.Errorf("%w: fraction %v out of [0,1]", apperrors.ErrInvalidInput, fraction)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return fmt.Errorf("%w: payload is not valid JSON", apperrors.ErrInvalidInput)
	}

	p.mu.Lock()
	if p.session == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: no session attached", apperrors.ErrInvalidInput)
	}
	if !p.session.IsOpen() {
		p.mu.Unlock()
		return fmt.Errorf("%w: session is %s", apperrors.ErrInvalidTransition, p.session.Status)
	}
	idx := models.PhaseIndex(phase)
	if reached := max(p.phase, p.session.PhaseCursor); idx > reached+1 {
		p.mu.Unlock()
		return fmt.Errorf("%w: phase %q is ahead of the cursor", apperrors.ErrInvalidInput, phase)
	}
	written := p.now()
	p.progress[phase] = &PhaseState{Fraction: fraction, Payload: payload, WrittenAt: written, Dirty: true}
	if idx > p.phase {
		p.phase = idx
	}
	settings := p.session.Settings
	connected := p.connected
	p.mu.Unlock()
	p.changed()

	if settings.AutoSave {
		p.debounce.Trigger()
	}
	if settings.PartnerSync && connected && p.channel != nil {
		hint := progressHint{Phase: phase, Fraction: fraction, Payload: payload, WrittenAt: written}
		if err := p.channel.Send(ws.HintProgressUpdate, hint); err != nil {
			slog.Debug("client: progress hint not sent", "phase", phase, "err", err)
		}
	}
	return nil
}

// MovePhase advances the shared phase cursor on the server.
func (p *Proxy) MovePhase(ctx context.Context, phase string) error {
	id := p.sessionID()
	if id == 0 {
		return fmt.Errorf("%w: no session attached", apperrors.ErrInvalidInput)
	}
	cursor, err := p.api.MovePhase(ctx, id, phase)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.phase = models.PhaseIndex(phase)
	if p.session != nil && cursor > p.session.PhaseCursor {
		p.session.PhaseCursor = cursor
	}
	p.mu.Unlock()
	p.changed()
	return nil
}

// startPolling re-fetches the session on a timer whenever the live channel
// is not connected.
func (p *Proxy) startPolling() {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()
	if p.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.pollCancel = cancel

	go func() {
		ticker := time.NewTicker(p.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			st := p.State()
			if st.Session != nil && !st.Session.IsOpen() {
				return
			}
			if st.Connected {
				continue
			}
			rctx, rcancel := context.WithTimeout(ctx, 15*time.Second)
			if err := p.Reconcile(rctx); err != nil {
				slog.Debug("client: poll failed", "session_id", p.sessionID(), "err", err)
			}
			rcancel()
		}
	}()
}

func (p *Proxy) stopPolling() {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()
	if p.pollCancel != nil {
		p.pollCancel()
		p.pollCancel = nil
	}
}

func (p *Proxy) autosave() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		slog.Warn("client: autosave failed", "session_id", p.sessionID(), "err", err)
	}
}

// Flush persists all dirty phases now. Transient failures are retried with
// backoff while the proxy reports Reconnecting.
func (p *Proxy) Flush(ctx context.Context) error {
	p.debounce.Cancel()
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	id, batch := p.dirtyBatch()
	if id == 0 || len(batch) == 0 {
		return nil
	}

	var res *services.SaveResult
	err := retry(ctx, p.opts.Backoff, p.opts.SaveAttempts, func() error {
		var err error
		res, err = p.api.SaveProgress(ctx, id, batch)
		return err
	}, func(attempt int, err error) {
		p.setReconnecting(true)
		slog.Debug("client: save failed, retrying", "session_id", id, "attempt", attempt+1, "err", err)
	})
	if err != nil {
		if !Retryable(err) {
			p.setReconnecting(false)
		}
		return err
	}

	applied := make(map[string]bool, len(res.Applied))
	for _, row := range res.Applied {
		applied[row.Phase] = true
	}

	p.mu.Lock()
	p.reconnecting = false
	saved := res.LastSaved
	p.lastSaved = &saved
	rejected := false
	for phase, sent := range batch {
		if !applied[phase] {
			// the server holds a newer write; it stays dirty until reconciled
			rejected = true
			continue
		}
		if cur := p.progress[phase]; cur != nil && sent.WrittenAt != nil && cur.WrittenAt.Equal(*sent.WrittenAt) {
			cur.Dirty = false
		}
	}
	if p.session != nil && res.PhaseCursor > p.session.PhaseCursor {
		p.session.PhaseCursor = res.PhaseCursor
	}
	p.mu.Unlock()
	p.changed()

	if rejected {
		return p.Reconcile(ctx)
	}
	return nil
}

func (p *Proxy) dirtyBatch() (uint, map[string]services.PhaseUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return 0, nil
	}
	batch := make(map[string]services.PhaseUpdate)
	for phase, st := range p.progress {
		if !st.Dirty {
			continue
		}
		written := st.WrittenAt
		batch[phase] = services.PhaseUpdate{Fraction: st.Fraction, Payload: st.Payload, WrittenAt: &written}
	}
	return p.session.ID, batch
}

// Reconcile replaces local state with the server's, keeping dirty local
// phases that are newer than the server copy.
func (p *Proxy) Reconcile(ctx context.Context) error {
	id := p.sessionID()
	if id == 0 {
		return nil
	}
	state, err := p.api.GetSession(ctx, id)
	if err != nil {
		return err
	}
	p.adopt(state, false)
	if p.hasDirty() && p.autoSave() {
		p.debounce.Trigger()
	}
	return nil
}

// Claim asks the registry for an item. Losing the race is not an error.
func (p *Proxy) Claim(ctx context.Context, itemType, itemID string) (*services.ClaimResult, error) {
	id := p.sessionID()
	if id == 0 {
		return nil, fmt.Errorf("%w: no session attached", apperrors.ErrInvalidInput)
	}
	res, err := p.api.Claim(ctx, id, itemType, itemID)
	if err != nil {
		return nil, err
	}
	p.recordClaim(id, res)
	return res, nil
}

func (p *Proxy) Pause(ctx context.Context) error {
	return p.lifecycle(ctx, p.api.Pause)
}

func (p *Proxy) Resume(ctx context.Context) error {
	return p.lifecycle(ctx, p.api.Resume)
}

func (p *Proxy) lifecycle(ctx context.Context, op func(context.Context, uint) (*services.SessionState, error)) error {
	id := p.sessionID()
	if id == 0 {
		return fmt.Errorf("%w: no session attached", apperrors.ErrInvalidInput)
	}
	state, err := op(ctx, id)
	if err != nil {
		return err
	}
	p.adopt(state, false)
	return nil
}

// Complete sends unsaved edits as the final save, completes the session and
// leaves the room.
func (p *Proxy) Complete(ctx context.Context) (*services.CompletionReport, error) {
	p.debounce.Cancel()
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	id, final := p.dirtyBatch()
	if id == 0 {
		return nil, fmt.Errorf("%w: no session attached", apperrors.ErrInvalidInput)
	}
	state, err := p.api.Complete(ctx, id, final)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	for _, st := range p.progress {
		st.Dirty = false
	}
	p.mu.Unlock()
	p.adopt(state, true)
	p.closeChannel()
	return state.Completion, nil
}

// Cancel abandons the session. Unsaved edits are dropped.
func (p *Proxy) Cancel(ctx context.Context) error {
	p.debounce.Cancel()
	id := p.sessionID()
	if id == 0 {
		return fmt.Errorf("%w: no session attached", apperrors.ErrInvalidInput)
	}
	state, err := p.api.Cancel(ctx, id)
	if err != nil {
		return err
	}
	p.adopt(state, true)
	p.closeChannel()
	return nil
}

// Close flushes pending edits and leaves the room.
func (p *Proxy) Close(ctx context.Context) error {
	var err error
	if p.debounce.Pending() || p.hasDirty() {
		err = p.Flush(ctx)
	}
	p.closeChannel()
	return err
}

func (p *Proxy) closeChannel() {
	p.stopPolling()
	if p.channel == nil {
		return
	}
	if err := p.channel.Close(); err != nil {
		slog.Debug("client: closing channel", "err", err)
	}
	p.setConnected(false)
}

// State returns a copy of the local view.
func (p *Proxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Proxy) snapshotLocked() State {
	st := State{
		PhaseIndex:   p.phase,
		Progress:     make(map[string]PhaseState, len(p.progress)),
		Presence:     append([]presence.Entry(nil), p.presence...),
		Claims:       make(map[string]models.ClaimRecord, len(p.claims)),
		Connected:    p.connected,
		Reconnecting: p.reconnecting,
		Completion:   p.completion,
	}
	if p.session != nil {
		sess := *p.session
		st.Session = &sess
	}
	if p.lastSaved != nil {
		t := *p.lastSaved
		st.LastSaved = &t
	}
	var sum float64
	for phase, ps := range p.progress {
		st.Progress[phase] = *ps
		sum += ps.Fraction
	}
	st.OverallProgress = sum / float64(len(models.Phases))
	for k, c := range p.claims {
		st.Claims[k] = c
	}
	return st
}

func (p *Proxy) changed() {
	if p.opts.OnChange == nil {
		return
	}
	p.opts.OnChange(p.State())
}

// adopt merges a server state into the local view. With replace set the
// local phases are overwritten unconditionally.
func (p *Proxy) adopt(state *services.SessionState, replace bool) {
	if state == nil {
		return
	}
	p.mu.Lock()
	sess := state.Session
	if p.session == nil || p.session.ID != sess.ID {
		replace = true
		p.phase = sess.PhaseCursor
		p.claims = make(map[string]models.ClaimRecord)
	}
	p.session = &sess
	if sess.LastSavedAt != nil && (p.lastSaved == nil || sess.LastSavedAt.After(*p.lastSaved)) {
		t := *sess.LastSavedAt
		p.lastSaved = &t
	}
	if p.phase > sess.PhaseCursor+1 {
		p.phase = sess.PhaseCursor
	}
	for _, row := range state.Progress {
		if replace {
			p.progress[row.Phase] = &PhaseState{Fraction: row.Fraction, Payload: row.Payload, WrittenAt: row.WrittenAt}
			continue
		}
		p.applyServerRowLocked(row)
	}
	if state.Claims != nil {
		p.claims = make(map[string]models.ClaimRecord, len(state.Claims))
		for _, c := range state.Claims {
			p.claims[claimKey(c.ItemType, c.ItemID)] = c
		}
	}
	if state.Completion != nil {
		p.completion = state.Completion
	}
	p.mu.Unlock()
	p.changed()
}

// applyServerRowLocked lets the server win unless the local copy is dirty
// and strictly newer.
func (p *Proxy) applyServerRowLocked(row models.PhaseProgress) {
	cur := p.progress[row.Phase]
	if cur != nil && cur.Dirty && cur.WrittenAt.After(row.WrittenAt) {
		return
	}
	p.progress[row.Phase] = &PhaseState{Fraction: row.Fraction, Payload: row.Payload, WrittenAt: row.WrittenAt}
}

// applyHintLocked takes a partner's unsaved edit only when it is newer and
// nothing local is waiting to be saved.
func (p *Proxy) applyHintLocked(h progressHint) {
	if models.PhaseIndex(h.Phase) < 0 {
		return
	}
	cur := p.progress[h.Phase]
	if cur != nil && (cur.Dirty || !h.WrittenAt.After(cur.WrittenAt)) {
		return
	}
	p.progress[h.Phase] = &PhaseState{Fraction: h.Fraction, Payload: h.Payload, WrittenAt: h.WrittenAt}
}

func (p *Proxy) handleEvent(ev Event) {
	if id := p.sessionID(); id != 0 && ev.SessionID != 0 && ev.SessionID != id {
		return
	}

	switch ev.Type {
	case ws.EventPresenceSnapshot:
		var roster []presence.Entry
		if err := json.Unmarshal(ev.Data, &roster); err == nil {
			p.setPresence(roster)
		}

	case ws.EventPartnerJoined, ws.EventPartnerLeft:
		var body struct {
			Presence []presence.Entry `json:"presence"`
		}
		if err := json.Unmarshal(ev.Data, &body); err == nil {
			p.setPresence(body.Presence)
		}

	case ws.EventProgressUpdated:
		p.applyProgressEvent(ev)

	case ws.EventQuadrantChanged:
		var body struct {
			Phase       string `json:"phase"`
			PhaseCursor *int   `json:"phase_cursor"`
		}
		if err := json.Unmarshal(ev.Data, &body); err != nil {
			return
		}
		// Hints carry no cursor; only the server moves it.
		if body.PhaseCursor == nil {
			return
		}
		p.mu.Lock()
		if p.session != nil && *body.PhaseCursor > p.session.PhaseCursor {
			p.session.PhaseCursor = *body.PhaseCursor
		}
		p.mu.Unlock()
		p.changed()

	case ws.EventItemClaimed:
		var res services.ClaimResult
		if err := json.Unmarshal(ev.Data, &res); err == nil {
			p.recordClaim(ev.SessionID, &res)
		}

	case ws.EventSessionPaused, ws.EventSessionResumed, ws.EventSessionCancelled:
		var sess models.PlanningSession
		if err := json.Unmarshal(ev.Data, &sess); err != nil {
			return
		}
		p.setSession(sess)
		if ev.Type == ws.EventSessionCancelled {
			p.endedRemotely()
		}

	case ws.EventSessionCompleted:
		var body struct {
			Session    models.PlanningSession     `json:"session"`
			Completion *services.CompletionReport `json:"completion"`
		}
		if err := json.Unmarshal(ev.Data, &body); err != nil {
			return
		}
		p.mu.Lock()
		p.completion = body.Completion
		p.mu.Unlock()
		p.setSession(body.Session)
		p.endedRemotely()
	}
}

func (p *Proxy) applyProgressEvent(ev Event) {
	var body struct {
		services.SaveResult
		progressHint
	}
	if err := json.Unmarshal(ev.Data, &body); err != nil {
		return
	}

	p.mu.Lock()
	if body.Phase != "" {
		if ev.UserID != p.userID {
			p.applyHintLocked(body.progressHint)
		}
	} else {
		for _, row := range body.Applied {
			p.applyServerRowLocked(row)
		}
		if p.session != nil && body.PhaseCursor > p.session.PhaseCursor {
			p.session.PhaseCursor = body.PhaseCursor
		}
		if !body.LastSaved.IsZero() {
			saved := body.LastSaved
			p.lastSaved = &saved
		}
	}
	p.mu.Unlock()
	p.changed()
}

// endedRemotely drops pending saves once another participant ended the
// session. The channel is closed off the read goroutine that called us.
func (p *Proxy) endedRemotely() {
	p.debounce.Cancel()
	p.mu.Lock()
	for _, st := range p.progress {
		st.Dirty = false
	}
	p.mu.Unlock()
	if p.channel != nil {
		go p.closeChannel()
	}
}

func (p *Proxy) recordClaim(sessionID uint, res *services.ClaimResult) {
	if res == nil || res.ClaimedBy == 0 {
		return
	}
	p.mu.Lock()
	key := claimKey(res.ItemType, res.ItemID)
	if _, ok := p.claims[key]; !ok {
		p.claims[key] = models.ClaimRecord{
			SessionID: sessionID,
			ItemType:  res.ItemType,
			ItemID:    res.ItemID,
			ClaimedBy: res.ClaimedBy,
			Status:    models.ClaimStatusClaimed,
			ClaimedAt: res.ClaimedAt,
		}
	}
	p.mu.Unlock()
	p.changed()
}

func (p *Proxy) setSession(sess models.PlanningSession) {
	p.mu.Lock()
	if p.session != nil && p.session.ID == sess.ID {
		// Events carry the session without participants.
		if len(sess.Participants) == 0 {
			sess.Participants = p.session.Participants
		}
		p.session = &sess
	}
	p.mu.Unlock()
	p.changed()
}

func (p *Proxy) setPresence(roster []presence.Entry) {
	sort.Slice(roster, func(i, j int) bool { return roster[i].UserID < roster[j].UserID })
	p.mu.Lock()
	p.presence = roster
	p.mu.Unlock()
	p.changed()
}

func (p *Proxy) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
	p.changed()
}

func (p *Proxy) setReconnecting(v bool) {
	p.mu.Lock()
	p.reconnecting = v
	p.mu.Unlock()
	p.changed()
}

func (p *Proxy) sessionID() uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return 0
	}
	return p.session.ID
}

func (p *Proxy) hasDirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range p.progress {
		if st.Dirty {
			return true
		}
	}
	return false
}

func (p *Proxy) autoSave() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil && p.session.Settings.AutoSave
}

func claimKey(itemType, itemID string) string {
	return itemType + ":" + itemID
}

// IsConflict reports whether err is a claim held by someone else.
func IsConflict(err error) bool {
	var conflict *apperrors.ConflictError
	return errors.As(err, &conflict)
}
