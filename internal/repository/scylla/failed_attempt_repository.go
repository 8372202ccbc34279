package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"phone-auth-service/internal/models"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/util"
)

// FailedAttemptRepository keeps the audit trail in two tables: a counter
// table for the attempt count (counters cannot share a table with regular
// columns) and a list-append table for the reasons.
type FailedAttemptRepository struct {
	client *ScyllaClient
}

func NewFailedAttemptRepository(client *ScyllaClient) *FailedAttemptRepository {
	return &FailedAttemptRepository{client: client}
}

func (r *FailedAttemptRepository) Record(ctx context.Context, identifier string, kind models.AttemptKind, reason string, at time.Time) error {
	ctx, cancel := r.client.WithTimeout(ctx)
	defer cancel()

	stmts := r.client.Statements
	if err := r.client.Query(ctx, stmts.IncrementFailedAttempts, identifier, string(kind)).Exec(); err != nil {
		util.Error("Failed to increment failed attempt counter",
			zap.String("kind", string(kind)), zap.Error(err))
		return fmt.Errorf("failed to increment failed attempts: %w", err)
	}

	entry := []string{models.FormatReason(at, reason)}
	if err := r.client.Query(ctx, stmts.AppendFailedAttempt, at.UTC(), entry, identifier, string(kind)).Exec(); err != nil {
		util.Error("Failed to append failed attempt reason",
			zap.String("kind", string(kind)), zap.Error(err))
		return fmt.Errorf("failed to append failed attempt: %w", err)
	}
	return nil
}

func (r *FailedAttemptRepository) Get(ctx context.Context, identifier string, kind models.AttemptKind) (*models.FailedAttempt, error) {
	ctx, cancel := r.client.WithTimeout(ctx)
	defer cancel()

	rec := &models.FailedAttempt{Identifier: identifier, Kind: kind}
	stmts := r.client.Statements

	err := r.client.Query(ctx, stmts.GetFailedAttempt, identifier, string(kind)).Scan(&rec.LastAttempt, &rec.Reasons)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed attempt: %w", err)
	}

	err = r.client.Query(ctx, stmts.GetFailedAttemptCount, identifier, string(kind)).Scan(&rec.Attempts)
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		return nil, fmt.Errorf("failed to get failed attempt count: %w", err)
	}
	return rec, nil
}
