package token

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/livedispatch/internal/dispatch/domain"
)

// MemoryTokenStore implements the token contract in-process for tests and
// redis-less local runs. Expiry is checked lazily on read.
type MemoryTokenStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   domain.Clock
}

type memoryEntry struct {
	bookingID uuid.UUID
	expiresAt time.Time
}

// NewMemoryTokenStore constructs an empty store.
func NewMemoryTokenStore(clock domain.Clock) *MemoryTokenStore {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &MemoryTokenStore{entries: make(map[string]memoryEntry), clock: clock}
}

// Put stores token -> bookingID with the given TTL.
func (s *MemoryTokenStore) Put(_ context.Context, token string, bookingID uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = memoryEntry{bookingID: bookingID, expiresAt: s.clock.Now().Add(ttl)}
	return nil
}

// Get resolves a token, dropping it if expired.
func (s *MemoryTokenStore) Get(_ context.Context, token string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[token]
	if !ok {
		return uuid.Nil, false, nil
	}
	if !s.clock.Now().Before(entry.expiresAt) {
		delete(s.entries, token)
		return uuid.Nil, false, nil
	}
	return entry.bookingID, true, nil
}

// MemoryFixCache mirrors RedisFixCache for tests.
type MemoryFixCache struct {
	mu      sync.RWMutex
	entries map[string]memoryFix
	clock   domain.Clock
}

type memoryFix struct {
	fix       domain.LiveFix
	expiresAt time.Time
}

// NewMemoryFixCache constructs an empty cache.
func NewMemoryFixCache(clock domain.Clock) *MemoryFixCache {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &MemoryFixCache{entries: make(map[string]memoryFix), clock: clock}
}

// Put stores the fix with the given TTL.
func (c *MemoryFixCache) Put(_ context.Context, key string, fix domain.LiveFix, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryFix{fix: fix, expiresAt: c.clock.Now().Add(ttl)}
	return nil
}

// Get retrieves the fix if it has not expired.
func (c *MemoryFixCache) Get(_ context.Context, key string) (domain.LiveFix, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return domain.LiveFix{}, false, nil
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return domain.LiveFix{}, false, nil
	}
	return entry.fix, true, nil
}
