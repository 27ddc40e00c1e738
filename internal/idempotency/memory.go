// Package idempotency provides an in-process claim-once key store.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded ports.IdempotencyStore.
// IDEMPOTENCY_BACKEND=memory selects it; the sqlite adapter is the durable variant.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

// NewMemoryStore creates an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates an empty store reading time from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{keys: make(map[string]time.Time), now: now}
}

// CheckAndStore claims key for ttl. Only the first claim inside the window returns true.
func (s *MemoryStore) CheckAndStore(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.keys[key] = now.Add(ttl)
	return true, nil
}

// Prune drops expired keys.
func (s *MemoryStore) Prune(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, exp := range s.keys {
		if !now.Before(exp) {
			delete(s.keys, k)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored keys, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
