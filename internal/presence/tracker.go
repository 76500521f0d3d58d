// Package presence tracks who is live in each planning session.
//
// A user may hold several connections to the same session (two tabs, phone
// and laptop). They are collapsed into one roster entry: Join reports true
// only for the user's first connection and Leave only for the last one, so
// the hub announces each person once. A background reaper drops connections
// that stopped heartbeating.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Entry is one person's live presence in a session.
type Entry struct {
	UserID      uint      `json:"user_id"`
	Connections int       `json:"connections"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSeen    time.Time `json:"last_seen"`
	IdleSecs    float64   `json:"idle_secs"`
}

// ReaperConfig configures the idle-connection reaper.
type ReaperConfig struct {
	// IdleTimeout is how long a connection may go without a heartbeat.
	// Default: 60 seconds.
	IdleTimeout time.Duration

	// SweepInterval is how often the reaper scans. Default: IdleTimeout / 4.
	SweepInterval time.Duration

	// OnIdle is called for each reaped connection, outside the lock.
	OnIdle func(sessionID, userID uint, connID string)
}

type Tracker struct {
	mu       sync.RWMutex
	sessions map[uint]map[uint]*userState
	now      func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type userState struct {
	joinedAt time.Time
	conns    map[string]time.Time // conn id -> last seen
}

func (u *userState) lastSeen() time.Time {
	var latest time.Time
	for _, seen := range u.conns {
		if seen.After(latest) {
			latest = seen
		}
	}
	return latest
}

func New() *Tracker {
	return &Tracker{
		sessions: make(map[uint]map[uint]*userState),
		now:      time.Now,
	}
}

// Join registers a connection and reports whether it is the user's first in
// the session.
func (t *Tracker) Join(sessionID, userID uint, connID string) bool {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.sessions[sessionID]
	if !ok {
		users = make(map[uint]*userState)
		t.sessions[sessionID] = users
	}
	state, ok := users[userID]
	if !ok {
		state = &userState{joinedAt: now, conns: make(map[string]time.Time)}
		users[userID] = state
	}
	first := len(state.conns) == 0
	state.conns[connID] = now
	return first
}

// Leave removes a connection and reports whether it was the user's last in
// the session. Unknown connections report false.
func (t *Tracker) Leave(sessionID, userID uint, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveLocked(sessionID, userID, connID)
}

func (t *Tracker) leaveLocked(sessionID, userID uint, connID string) bool {
	users, ok := t.sessions[sessionID]
	if !ok {
		return false
	}
	state, ok := users[userID]
	if !ok {
		return false
	}
	if _, ok := state.conns[connID]; !ok {
		return false
	}
	delete(state.conns, connID)
	if len(state.conns) > 0 {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.sessions, sessionID)
	}
	return true
}

// Touch records a heartbeat for a connection.
func (t *Tracker) Touch(sessionID, userID uint, connID string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.sessions[sessionID][userID]; ok {
		if _, ok := state.conns[connID]; ok {
			state.conns[connID] = now
		}
	}
}

// Roster returns the session's live users, earliest joiner first.
func (t *Tracker) Roster(sessionID uint) []Entry {
	now := t.now()
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := t.sessions[sessionID]
	entries := make([]Entry, 0, len(users))
	for userID, state := range users {
		seen := state.lastSeen()
		entries = append(entries, Entry{
			UserID:      userID,
			Connections: len(state.conns),
			JoinedAt:    state.joinedAt,
			LastSeen:    seen,
			IdleSecs:    now.Sub(seen).Seconds(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})
	return entries
}

// StartReaper launches the background sweep. Call Stop to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = cfg.IdleTimeout / 4
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	slog.Info("presence: reaper started",
		"idle_timeout", cfg.IdleTimeout,
		"sweep_interval", cfg.SweepInterval)
}

func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

type idleConn struct {
	sessionID uint
	userID    uint
	connID    string
}

// sweep only reports idle connections; the owner removes them through Leave
// so that departure announcements stay in one place.
func (t *Tracker) sweep(cfg *ReaperConfig) []idleConn {
	now := t.now()

	var idle []idleConn
	t.mu.RLock()
	for sessionID, users := range t.sessions {
		for userID, state := range users {
			for connID, seen := range state.conns {
				if now.Sub(seen) > cfg.IdleTimeout {
					idle = append(idle, idleConn{sessionID, userID, connID})
				}
			}
		}
	}
	t.mu.RUnlock()

	for _, c := range idle {
		slog.Info("presence: connection idle past heartbeat timeout",
			"session_id", c.sessionID, "user_id", c.userID, "conn_id", c.connID)
		if cfg.OnIdle != nil {
			cfg.OnIdle(c.sessionID, c.userID, c.connID)
		}
	}
	return idle
}
