package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// ContextStore holds conversation contexts between turns.
type ContextStore interface {
	// GetOrCreate returns the context for id, creating an initial one
	// if none exists. The bool reports whether it was created.
	GetOrCreate(id string) (*Context, bool)
	Get(id string) (*Context, bool)
	Put(c *Context)
	Delete(id string)
	Len() int
}

// Store defaults.
const (
	DefaultMaxContexts = 256
	DefaultIdleTimeout = 30 * time.Minute
)

// MemoryStore is an in-memory ContextStore bounded by a maximum number of
// contexts and an idle timeout. When full, the least recently updated
// context is evicted to make room.
//
// A Context may be mutated by a running turn at any time, so the store
// never reads one outside Put. Eviction, expiry and checkpoints work from
// the copy Put records.
type MemoryStore struct {
	maxContexts int
	idleTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	now func() time.Time
}

// entry is a stored context and what the store last saw of it.
type entry struct {
	ctx     *Context
	state   State
	updated time.Time

	// saved is the checkpoint encoding of ctx as of the last Put, or nil
	// when the context was not resumable.
	saved []byte
}

// NewMemoryStore creates a store. Non-positive limits take the defaults.
func NewMemoryStore(maxContexts int, idleTimeout time.Duration, logger *slog.Logger) *MemoryStore {
	if maxContexts <= 0 {
		maxContexts = DefaultMaxContexts
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		maxContexts: maxContexts,
		idleTimeout: idleTimeout,
		logger:      logger,
		entries:     make(map[string]*entry),
		now:         time.Now,
	}
}

// GetOrCreate implements [ContextStore].
func (s *MemoryStore) GetOrCreate(id string) (*Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	if e, ok := s.entries[id]; ok {
		return e.ctx, false
	}
	if len(s.entries) >= s.maxContexts {
		s.evictOldestLocked()
	}

	now := s.now()
	c := &Context{
		ID:        id,
		State:     StateInitial,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.entries[id] = &entry{ctx: c, state: StateInitial, updated: now}
	return c, true
}

// Get implements [ContextStore]. Expired contexts are not returned.
func (s *MemoryStore) Get(id string) (*Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if s.expired(e) {
		delete(s.entries, id)
		return nil, false
	}
	return e.ctx, true
}

// Put stores c and marks it updated. The caller must own c for the
// duration of the call, as the Machine does while holding the turn lock.
func (s *MemoryStore) Put(c *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.UpdatedAt = s.now()
	e := &entry{ctx: c, state: c.State, updated: c.UpdatedAt}
	if c.State.Resumable() {
		data, err := json.Marshal(c)
		if err != nil {
			s.logger.Warn("conversation will not survive a restart",
				"conversation_id", c.ID, "error", err)
		}
		e.saved = data
	}

	if _, ok := s.entries[c.ID]; !ok && len(s.entries) >= s.maxContexts {
		s.evictOldestLocked()
	}
	s.entries[c.ID] = e
}

// Delete implements [ContextStore].
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Len implements [ContextStore].
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes contexts idle longer than the timeout and returns how
// many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

// Run sweeps expired contexts periodically until ctx is done.
func (s *MemoryStore) Run(ctx context.Context) {
	interval := s.idleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("expired idle conversations", "count", n)
			}
		}
	}
}

func (s *MemoryStore) expired(e *entry) bool {
	return s.now().Sub(e.updated) > s.idleTimeout
}

func (s *MemoryStore) sweepLocked() int {
	n := 0
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

func (s *MemoryStore) evictOldestLocked() {
	var oldestID string
	var oldest *entry
	for id, e := range s.entries {
		if oldest == nil || e.updated.Before(oldest.updated) {
			oldestID, oldest = id, e
		}
	}
	if oldest != nil {
		delete(s.entries, oldestID)
		s.logger.Info("evicted conversation to stay within limit",
			"conversation_id", oldestID,
			"state", oldest.state,
			"limit", s.maxContexts,
		)
	}
}
