package memory

import (
	"context"
	"sync"
	"time"

	"phone-auth-service/internal/models"
	"phone-auth-service/internal/repository"
)

type attemptKey struct {
	identifier string
	kind       models.AttemptKind
}

type FailedAttemptRepository struct {
	mu      sync.Mutex
	records map[attemptKey]*models.FailedAttempt
}

func NewFailedAttemptRepository() *FailedAttemptRepository {
	return &FailedAttemptRepository{records: make(map[attemptKey]*models.FailedAttempt)}
}

func (r *FailedAttemptRepository) Record(_ context.Context, identifier string, kind models.AttemptKind, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := attemptKey{identifier, kind}
	rec, ok := r.records[key]
	if !ok {
		rec = &models.FailedAttempt{Identifier: identifier, Kind: kind}
		r.records[key] = rec
	}
	rec.Attempts++
	rec.LastAttempt = at
	rec.Reasons = append(rec.Reasons, models.FormatReason(at, reason))
	return nil
}

func (r *FailedAttemptRepository) Get(_ context.Context, identifier string, kind models.AttemptKind) (*models.FailedAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[attemptKey{identifier, kind}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *rec
	c.Reasons = append([]string(nil), rec.Reasons...)
	return &c, nil
}
