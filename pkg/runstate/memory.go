package runstate

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/tickr/pkg/schedule"
)

type memoryRecord struct {
	value   time.Time
	expires time.Time
}

// MemoryStore is an in-process Store for single-replica deployments.
// Records expire against the injected clock.
type MemoryStore struct {
	mu      sync.Mutex
	clock   schedule.Clock
	records map[string]memoryRecord
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore(clock schedule.Clock) *MemoryStore {
	if clock == nil {
		clock = schedule.SystemClock
	}
	return &MemoryStore{
		clock:   clock,
		records: make(map[string]memoryRecord),
	}
}

func (s *MemoryStore) Set(ctx context.Context, key string, nextRuntime time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if rec, ok := s.records[key]; ok && now.Before(rec.expires) {
		return false, nil
	}
	s.records[key] = memoryRecord{value: now, expires: now.Add(claimTTL(now, nextRuntime))}
	return true, nil
}

func (s *MemoryStore) Read(ctx context.Context, key string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(key), nil
}

func (s *MemoryStore) ReadMany(ctx context.Context, keys []string) (map[string]*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]*time.Time, len(keys))
	for _, k := range keys {
		result[k] = s.readLocked(k)
	}
	return result, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) readLocked(key string) *time.Time {
	rec, ok := s.records[key]
	if !ok {
		return nil
	}
	if !s.clock().Before(rec.expires) {
		delete(s.records, key)
		return nil
	}
	v := rec.value
	return &v
}
