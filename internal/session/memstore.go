package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pitabwire/clubpulse/model"
)

// MemoryStore is an in-memory Store for tests and single-replica setups.
type MemoryStore struct {
	ttl   time.Duration
	clock clockwork.Clock

	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates a MemoryStore whose records live for ttl after
// their last write.
func NewMemoryStore(ttl time.Duration, clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		ttl:     ttl,
		clock:   clock,
		records: make(map[string]Record),
	}
}

// Create persists a new record.
func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.records[rec.ID]; exists && !s.expired(existing) {
		return model.NewConflictError(fmt.Sprintf("session %q already exists", rec.ID))
	}
	now := s.clock.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.ExpiresAt = now.Add(s.ttl)
	rec.State = append([]byte(nil), rec.State...)
	s.records[rec.ID] = rec
	return nil
}

// Get returns a copy of the record.
func (s *MemoryStore) Get(_ context.Context, ownerID, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists || rec.OwnerID != ownerID || s.expired(rec) {
		return Record{}, notFound(id)
	}
	rec.State = append([]byte(nil), rec.State...)
	return rec, nil
}

// Update persists rec with optimistic locking.
func (s *MemoryStore) Update(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.records[rec.ID]
	if !exists || existing.OwnerID != rec.OwnerID || s.expired(existing) {
		return notFound(rec.ID)
	}
	if existing.Version != rec.Version {
		return conflict(rec.ID, rec.Version)
	}

	now := s.clock.Now().UTC()
	existing.Version++
	existing.State = append([]byte(nil), rec.State...)
	existing.UpdatedAt = now
	existing.ExpiresAt = now.Add(s.ttl)
	s.records[rec.ID] = existing
	return nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists || rec.OwnerID != ownerID {
		return notFound(id)
	}
	delete(s.records, id)
	return nil
}

// DeleteExpired removes records that expired before cutoff.
func (s *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rec := range s.records {
		if s.ttl > 0 && rec.ExpiresAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Len returns the number of records, expired ones included. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// expired reports whether rec has outlived the TTL. A zero TTL never expires.
func (s *MemoryStore) expired(rec Record) bool {
	return s.ttl > 0 && !s.clock.Now().Before(rec.ExpiresAt)
}
