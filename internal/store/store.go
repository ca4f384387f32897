// Package store provides the namespaced in-memory key/value cache shared
// by the bus, handoff protocol, and learning engine. Entries carry a
// per-entry TTL and expire lazily on read.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// toolResultTTL bounds how long cached external-tool results stay fresh.
const toolResultTTL = 1 * time.Hour

// entry pairs a stored value with its expiry deadline.
// A zero expiresAt means the entry never expires.
type entry struct {
	value     any
	expiresAt time.Time
}

// expired reports whether the entry is past its deadline at now.
func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is a thread-safe key/value cache with per-entry TTL.
// Expiry is checked on read; no background sweep is required for
// correctness, but StartSweep can reclaim memory from keys that are
// never read again.
type Store struct {
	// entries maps keys to stored values with expiry deadlines.
	entries map[string]entry
	// mu protects entries.
	mu sync.Mutex
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
	}
}

// Set stores a value under key. A ttl of zero or less means the entry
// never expires.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: value, expiresAt: expiresAt}
}

// Get returns the value stored under key. An expired entry is evicted
// and reported as absent.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(s.entries, key)
		return nil, false
	}
	return e.value, true
}

// Delete removes the entry stored under key, if any.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry)
}

// Len returns the number of entries currently held, including entries
// that have expired but not yet been evicted.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep evicts every expired entry and returns how many were removed.
func (s *Store) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweep runs Sweep every interval until ctx is cancelled.
func (s *Store) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// SetToolResult caches an external-tool result for an agent under a
// composite key.
func (s *Store) SetToolResult(agent, tool string, data any) {
	s.Set(toolResultKey(agent, tool), data, toolResultTTL)
}

// GetToolResult returns a previously cached external-tool result.
func (s *Store) GetToolResult(agent, tool string) (any, bool) {
	return s.Get(toolResultKey(agent, tool))
}

// toolResultKey builds the composite key for a cached tool result.
func toolResultKey(agent, tool string) string {
	return fmt.Sprintf("tool:%s:%s", agent, tool)
}
