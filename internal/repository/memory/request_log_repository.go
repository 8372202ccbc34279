package memory

import (
	"context"
	"sync"
	"time"

	"phone-auth-service/internal/models"
)

type RequestLogRepository struct {
	mu      sync.RWMutex
	entries []models.RequestLogEntry
}

func NewRequestLogRepository() *RequestLogRepository {
	return &RequestLogRepository{}
}

func (r *RequestLogRepository) Append(_ context.Context, entry *models.RequestLogEntry) error {
	r.mu.Lock()
	r.entries = append(r.entries, *entry)
	r.mu.Unlock()
	return nil
}

func (r *RequestLogRepository) CountDistinctUserAgents(_ context.Context, phone string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make(map[string]struct{})
	for _, e := range r.entries {
		if e.PhoneNumber != phone || e.UserAgent == "" || e.Timestamp.Before(since) {
			continue
		}
		agents[e.UserAgent] = struct{}{}
	}
	return len(agents), nil
}

// Entries returns a copy of everything appended so far.
func (r *RequestLogRepository) Entries() []models.RequestLogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.RequestLogEntry(nil), r.entries...)
}
