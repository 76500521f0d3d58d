package services

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// StateCache is a short-lived read-through cache of assembled session state.
// Every write path invalidates the affected session; the TTL bounds how stale
// an entry can get when another instance writes and its relay is lost.
//
// Readers take a generation before going to the store and pass it to Add.
// Invalidate bumps the generation, so a read that raced a write is never
// cached.
type StateCache struct {
	lru *expirable.LRU[uint, *SessionState]

	mu  sync.Mutex
	gen map[uint]uint64
}

// NewStateCache returns a disabled cache when ttl is not positive.
func NewStateCache(size int, ttl time.Duration) *StateCache {
	if ttl <= 0 {
		return &StateCache{}
	}
	return &StateCache{
		lru: expirable.NewLRU[uint, *SessionState](size, nil, ttl),
		gen: make(map[uint]uint64),
	}
}

func (c *StateCache) Get(id uint) (*SessionState, bool) {
	if c == nil || c.lru == nil {
		return nil, false
	}
	state, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	cp := *state
	return &cp, true
}

// Generation returns the current generation for id.
func (c *StateCache) Generation(id uint) uint64 {
	if c == nil || c.lru == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[id]
}

// Add stores state read at generation gen. It is dropped when the session was
// invalidated since.
func (c *StateCache) Add(id uint, gen uint64, state *SessionState) {
	if c == nil || c.lru == nil {
		return
	}
	cp := *state
	cp.Resumed = false
	cp.Completion = nil

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[id] != gen {
		return
	}
	c.lru.Add(id, &cp)
}

func (c *StateCache) Invalidate(id uint) {
	if c == nil || c.lru == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[id]++
	c.lru.Remove(id)
}
