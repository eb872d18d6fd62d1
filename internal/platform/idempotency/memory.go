package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process. Used with the memory store driver and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty memory-backed idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Reserve implements the Store interface.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	id := recordID(key)

	record, ok := s.records[id]
	if !ok || (!record.ExpiresAt.IsZero() && !now.Before(record.ExpiresAt)) {
		record = pendingRecord(key, fingerprint, now, ttl)
		s.records[id] = record
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}
	return reservationFor(record, fingerprint)
}

// SaveResponse implements the Store interface.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	id := recordID(key)

	record, ok := s.records[id]
	if ok && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		record = Record{Key: key, Fingerprint: fingerprint}
	}
	s.records[id] = completeRecord(record, resp, now, ttl)
	return nil
}

// CleanupExpired implements the Store interface.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = DefaultCleanupBatch
	}

	removed := 0
	for id, record := range s.records {
		if record.ExpiresAt.IsZero() || now.Before(record.ExpiresAt) {
			continue
		}
		delete(s.records, id)
		removed++
		if removed >= limit {
			break
		}
	}

	return removed, nil
}

// Release deletes the reservation so that subsequent attempts may retry.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, recordID(key))
	return nil
}
