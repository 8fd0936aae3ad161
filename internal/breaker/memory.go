package breaker

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process StateStore for tests and single-node use.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), nowFunc: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, processor string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[processor]
	if !ok {
		return Record{Processor: processor, State: StateClosed}, nil
	}
	return rec, nil
}

func (s *MemoryStore) IncrementFailure(_ context.Context, processor string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[processor]
	if !ok {
		rec = Record{Processor: processor, State: StateClosed}
	}
	rec.ConsecutiveFailures++
	rec.ConsecutiveSuccesses = 0
	now := s.nowFunc()
	rec.LastFailureAt = &now
	s.records[processor] = rec
	return rec, nil
}

func (s *MemoryStore) SetState(_ context.Context, processor string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[processor]
	if !ok {
		rec = Record{Processor: processor}
	}
	rec.State = state
	if state == StateClosed {
		rec.ConsecutiveFailures = 0
		rec.ConsecutiveSuccesses = 0
	}
	s.records[processor] = rec
	return nil
}

func (s *MemoryStore) ClaimProbe(_ context.Context, processor string, cooldown time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[processor]
	if !ok || (rec.State != StateOpen && rec.State != StateHalfOpen) {
		return false, nil
	}
	now := s.nowFunc()
	if rec.LastFailureAt != nil && now.Sub(*rec.LastFailureAt) < cooldown {
		return false, nil
	}
	if rec.LastProbeAt != nil && now.Sub(*rec.LastProbeAt) < cooldown {
		return false, nil
	}
	rec.State = StateHalfOpen
	rec.LastProbeAt = &now
	s.records[processor] = rec
	return true, nil
}

func (s *MemoryStore) All(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	return recs, nil
}
