// Package repository declares the durable-store ports used by the auth core.
// Adapters live in the redis, scylla, clickhouse and memory subpackages.
package repository

import (
	"context"
	"errors"
	"time"

	"phone-auth-service/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when an optimistic transaction kept losing
	// races and gave up.
	ErrConflict = errors.New("concurrent modification")
)

// BlockMutation receives the current record (nil when absent) and returns
// the record to persist. Returning nil leaves the store untouched. The
// function may run more than once when the store retries a transaction.
type BlockMutation func(current *models.BlockRecord) *models.BlockRecord

type BlockStore interface {
	Get(ctx context.Context, phone string) (*models.BlockRecord, error)
	// Update applies fn as one atomic read-modify-write and returns the
	// record that is stored afterwards (nil if none).
	Update(ctx context.Context, phone string, fn BlockMutation) (*models.BlockRecord, error)
	Delete(ctx context.Context, phone string) (bool, error)
	// List returns every record, most recently updated first.
	List(ctx context.Context) ([]*models.BlockRecord, error)
}

type RateWindowStore interface {
	// Count returns the number of occurrences for key at or after since.
	Count(ctx context.Context, key string, since time.Time) (int, error)
	// Oldest returns the earliest occurrence at or after since.
	Oldest(ctx context.Context, key string, since time.Time) (time.Time, bool, error)
	// Add appends an occurrence at and trims entries older than at-window.
	Add(ctx context.Context, key string, at time.Time, window time.Duration) error
}

type RequestLogRepository interface {
	Append(ctx context.Context, entry *models.RequestLogEntry) error
	CountDistinctUserAgents(ctx context.Context, phone string, since time.Time) (int, error)
}

type FailedAttemptRepository interface {
	Record(ctx context.Context, identifier string, kind models.AttemptKind, reason string, at time.Time) error
	Get(ctx context.Context, identifier string, kind models.AttemptKind) (*models.FailedAttempt, error)
}

type UserRepository interface {
	// UpsertVerified creates the user on first call and marks it verified
	// with lastLogin = at.
	UpsertVerified(ctx context.Context, phone string, at time.Time) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
}
