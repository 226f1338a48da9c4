package activity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	nextID  int64
	now     func() time.Time
}

// NewMemoryStore creates an in-memory activity log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, now: time.Now}
}

func (s *MemoryStore) Append(ctx context.Context, rec *Record) error {
	if err := prepare(rec, s.now); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextID
	s.nextID++
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryStore) AppendBatch(ctx context.Context, recs []Record) error {
	if err := prepareBatch(recs, s.now); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range recs {
		recs[i].ID = s.nextID + int64(i)
	}
	s.nextID += int64(len(recs))
	s.records = append(s.records, recs...)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	s.nextID = 1
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
