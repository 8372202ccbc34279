// Package memory holds in-process implementations of the repository ports.
// They back the unit tests and serve as the development fallback when a
// backend is unreachable.
package memory

import (
	"context"
	"sort"
	"sync"

	"phone-auth-service/internal/models"
	"phone-auth-service/internal/repository"
)

type BlockStore struct {
	mu      sync.Mutex
	records map[string]*models.BlockRecord
}

func NewBlockStore() *BlockStore {
	return &BlockStore{records: make(map[string]*models.BlockRecord)}
}

func (s *BlockStore) Get(_ context.Context, phone string) (*models.BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[phone]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *BlockStore) Update(_ context.Context, phone string, fn repository.BlockMutation) (*models.BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.records[phone]
	next := fn(current.Clone())
	if next == nil {
		return current.Clone(), nil
	}
	next = next.Clone()
	next.PhoneNumber = phone
	s.records[phone] = next
	return next.Clone(), nil
}

func (s *BlockStore) Delete(_ context.Context, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[phone]; !ok {
		return false, nil
	}
	delete(s.records, phone)
	return true, nil
}

func (s *BlockStore) List(_ context.Context) ([]*models.BlockRecord, error) {
	s.mu.Lock()
	out := make([]*models.BlockRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out, nil
}
