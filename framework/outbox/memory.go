package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/akriventsev/stocksync/framework/core"
)

// MemoryStore хранилище outbox в памяти для тестов и локального запуска
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	seq     []string
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Append добавляет запись
func (s *MemoryStore) Append(ctx context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ID]; ok {
		return core.Errorf(core.ErrAlreadyProcessed, "outbox record %s already exists", record.ID)
	}
	copied := record
	s.records[record.ID] = &copied
	s.seq = append(s.seq, record.ID)
	return nil
}

// Contains проверяет наличие записи с идентификатором id
func (s *MemoryStore) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok
}

// FetchPending возвращает неопубликованные записи в порядке добавления
func (s *MemoryStore) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []Record
	for _, id := range s.seq {
		record := s.records[id]
		if record.PublishedAt != nil {
			continue
		}
		pending = append(pending, *record)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

// MarkPublished отмечает запись опубликованной
func (s *MemoryStore) MarkPublished(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return core.Errorf(core.ErrNotFound, "outbox record %s not found", id)
	}
	published := at
	record.PublishedAt = &published
	return nil
}

// Records возвращает копию всех записей, отсортированную по времени создания
func (s *MemoryStore) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Record, 0, len(s.records))
	for _, id := range s.seq {
		result = append(result, *s.records[id])
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}
