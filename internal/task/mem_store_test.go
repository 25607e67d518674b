package task

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/taskhub/taskhub-api/internal/domain"
)

// memStore implements store.TaskStore in memory for manager tests.
// Persisted records are deep copies, so assertions against the durable view
// never alias the manager's live records.
type memStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.TaskRecord
	seed    []*domain.TaskRecord
	saveErr error
	loadErr error
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[uuid.UUID]*domain.TaskRecord),
	}
}

func (s *memStore) Load(ctx context.Context) ([]*domain.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}

	records := make([]*domain.TaskRecord, 0, len(s.seed))
	for _, record := range s.seed {
		clone := record.Clone()
		records = append(records, clone)
		s.records[clone.ID] = clone.Clone()
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (s *memStore) Save(ctx context.Context, record *domain.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *memStore) SaveAll(ctx context.Context, records []*domain.TaskRecord) error {
	for _, record := range records {
		if err := s.Save(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}

// persisted returns the durable view of one record, or nil if never saved.
func (s *memStore) persisted(id uuid.UUID) *domain.TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return nil
	}
	return record.Clone()
}

// persistedCount returns how many rows the durable view currently holds.
func (s *memStore) persistedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}
