package presence

import (
	"sync"
	"testing"
	"time"
)

func newTestTracker(start time.Time) (*Tracker, *time.Time) {
	tr := New()
	now := start
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestJoinLeave_CollapsesConnectionsPerUser(t *testing.T) {
	tr := New()

	if !tr.Join(1, 10, "c1") {
		t.Fatal("first connection should report first=true")
	}
	if tr.Join(1, 10, "c2") {
		t.Fatal("second connection of the same user should report first=false")
	}

	roster := tr.Roster(1)
	if len(roster) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(roster))
	}
	if roster[0].Connections != 2 {
		t.Errorf("expected 2 connections, got %d", roster[0].Connections)
	}

	if tr.Leave(1, 10, "c1") {
		t.Fatal("leaving with a connection left should report last=false")
	}
	if !tr.Leave(1, 10, "c2") {
		t.Fatal("leaving the final connection should report last=true")
	}
	if got := tr.Roster(1); len(got) != 0 {
		t.Errorf("expected empty roster, got %v", got)
	}
}

func TestLeave_UnknownConnection(t *testing.T) {
	tr := New()
	tr.Join(1, 10, "c1")

	if tr.Leave(1, 10, "nope") {
		t.Error("unknown connection must not report last=true")
	}
	if tr.Leave(2, 10, "c1") {
		t.Error("unknown session must not report last=true")
	}
	if len(tr.Roster(1)) != 1 {
		t.Error("roster should be unchanged")
	}
}

func TestRoster_SessionsAreIsolated(t *testing.T) {
	start := time.Date(2026, 1, 4, 18, 0, 0, 0, time.UTC)
	tr, now := newTestTracker(start)

	tr.Join(1, 10, "a")
	*now = start.Add(time.Second)
	tr.Join(1, 11, "b")
	tr.Join(2, 12, "c")

	roster := tr.Roster(1)
	if len(roster) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(roster))
	}
	if roster[0].UserID != 10 || roster[1].UserID != 11 {
		t.Errorf("expected join order [10 11], got [%d %d]", roster[0].UserID, roster[1].UserID)
	}
	if len(tr.Roster(2)) != 1 {
		t.Error("session 2 should have its own roster")
	}
}

func TestTouch_RefreshesLastSeen(t *testing.T) {
	start := time.Date(2026, 1, 4, 18, 0, 0, 0, time.UTC)
	tr, now := newTestTracker(start)

	tr.Join(1, 10, "c1")
	*now = start.Add(30 * time.Second)
	tr.Touch(1, 10, "c1")

	e := tr.Roster(1)[0]
	if !e.LastSeen.Equal(*now) {
		t.Errorf("LastSeen = %v, want %v", e.LastSeen, *now)
	}
	if e.IdleSecs != 0 {
		t.Errorf("IdleSecs = %v, want 0", e.IdleSecs)
	}
}

func TestSweep_ReportsOnlyIdleConnections(t *testing.T) {
	start := time.Date(2026, 1, 4, 18, 0, 0, 0, time.UTC)
	tr, now := newTestTracker(start)

	tr.Join(1, 10, "stale")
	tr.Join(1, 11, "fresh")
	*now = start.Add(50 * time.Second)
	tr.Touch(1, 11, "fresh")
	*now = start.Add(70 * time.Second)

	var mu sync.Mutex
	var reaped []string
	tr.sweep(&ReaperConfig{
		IdleTimeout: time.Minute,
		OnIdle: func(sessionID, userID uint, connID string) {
			mu.Lock()
			reaped = append(reaped, connID)
			mu.Unlock()
		},
	})

	if len(reaped) != 1 || reaped[0] != "stale" {
		t.Fatalf("expected [stale] reaped, got %v", reaped)
	}
}

func TestStartReaper_StopIsIdempotent(t *testing.T) {
	tr := New()
	tr.StartReaper(&ReaperConfig{IdleTimeout: time.Hour, SweepInterval: time.Millisecond})
	time.Sleep(5 * time.Millisecond)
	tr.Stop()
	tr.Stop()
}
