// Package blocking implements the per-phone escalating block: a daily
// attempt counter that turns into a 24h block at the ceiling and a permanent
// block past it.
package blocking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"phone-auth-service/internal/clock"
	"phone-auth-service/internal/models"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/util"
)

const (
	DefaultDailyCeiling  = 7
	DefaultBlockDuration = 24 * time.Hour

	MessagePermanentBlock = "Account is blocked due to excessive daily attempts. Contact admin for unblock."
	MessageTemporaryBlock = "Account is temporarily blocked. Try again after 24 hours."
)

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonAdminBlocked     Reason = "admin_blocked"
	ReasonTemporaryBlocked Reason = "temporarily_blocked"
)

// Decision is the result of CheckBlocked. For a temporary block
// BlockedUntil and RemainingTime are set.
type Decision struct {
	Allowed       bool
	Reason        Reason
	Message       string
	BlockedUntil  *time.Time
	Remaining     time.Duration
	RemainingTime string
}

// BlockedEntity is a currently blocked record as shown to operators.
type BlockedEntity struct {
	*models.BlockRecord
	RemainingTime string `json:"remainingTime,omitempty"`
}

type Options struct {
	DailyCeiling  int
	BlockDuration time.Duration
	Location      *time.Location
}

type Service struct {
	store    repository.BlockStore
	clock    clock.Clock
	logger   *zap.Logger
	ceiling  int
	blockFor time.Duration
	loc      *time.Location
}

func NewService(store repository.BlockStore, clk clock.Clock, logger *zap.Logger, opts Options) *Service {
	if opts.DailyCeiling <= 0 {
		opts.DailyCeiling = DefaultDailyCeiling
	}
	if opts.BlockDuration <= 0 {
		opts.BlockDuration = DefaultBlockDuration
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		clock:    clk,
		logger:   logger,
		ceiling:  opts.DailyCeiling,
		blockFor: opts.BlockDuration,
		loc:      opts.Location,
	}
}

// CheckBlocked reports whether phone may proceed. When the record was last
// touched on an earlier calendar day its counter is reset and persisted.
func (s *Service) CheckBlocked(ctx context.Context, phone string) (Decision, error) {
	rec, err := s.store.Get(ctx, phone)
	if errors.Is(err, repository.ErrNotFound) {
		return Decision{Allowed: true}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load block record: %w", err)
	}

	now := s.clock.Now()
	if rec.IsPermanentlyBlocked {
		return Decision{Reason: ReasonAdminBlocked, Message: MessagePermanentBlock}, nil
	}
	if rec.TemporaryBlockUntil != nil && rec.TemporaryBlockUntil.After(now) {
		until := *rec.TemporaryBlockUntil
		remaining := until.Sub(now)
		return Decision{
			Reason:        ReasonTemporaryBlocked,
			Message:       MessageTemporaryBlock,
			BlockedUntil:  &until,
			Remaining:     remaining,
			RemainingTime: FormatRemaining(remaining),
		}, nil
	}

	if s.isNewDay(rec.LastUpdated, now) {
		_, err := s.store.Update(ctx, phone, func(cur *models.BlockRecord) *models.BlockRecord {
			if cur == nil || !s.isNewDay(cur.LastUpdated, now) {
				return nil
			}
			cur.DailyAttempts = 0
			if cur.TemporaryBlockUntil != nil && !cur.TemporaryBlockUntil.After(now) {
				cur.TemporaryBlockUntil = nil
			}
			cur.LastUpdated = now
			return cur
		})
		if err != nil {
			return Decision{}, fmt.Errorf("failed to reset daily attempts: %w", err)
		}
	}

	return Decision{Allowed: true}, nil
}

// RecordAttempt counts one attempt for phone, escalating to a temporary
// block at the ceiling and a permanent block beyond it.
func (s *Service) RecordAttempt(ctx context.Context, phone string) (*models.BlockRecord, error) {
	now := s.clock.Now()

	rec, err := s.store.Update(ctx, phone, func(cur *models.BlockRecord) *models.BlockRecord {
		if cur == nil {
			cur = &models.BlockRecord{PhoneNumber: phone, CreatedAt: now, LastUpdated: now}
		} else if s.isNewDay(cur.LastUpdated, now) {
			cur.DailyAttempts = 0
			cur.TemporaryBlockUntil = nil
		}

		cur.DailyAttempts++
		switch {
		case cur.DailyAttempts > s.ceiling:
			cur.IsPermanentlyBlocked = true
		case cur.DailyAttempts == s.ceiling:
			until := now.Add(s.blockFor)
			cur.TemporaryBlockUntil = &until
		}
		cur.LastUpdated = now
		return cur
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	switch {
	case rec.IsPermanentlyBlocked && rec.DailyAttempts == s.ceiling+1:
		s.logger.Warn("Phone permanently blocked after exceeding daily attempts",
			util.Phone("phone", phone), zap.Int("attempts", rec.DailyAttempts))
	case rec.DailyAttempts == s.ceiling:
		s.logger.Warn("Phone temporarily blocked",
			util.Phone("phone", phone), zap.Timep("blocked_until", rec.TemporaryBlockUntil))
	}
	return rec, nil
}

// Unblock removes the record for phone. It reports whether one existed.
func (s *Service) Unblock(ctx context.Context, phone string) (bool, error) {
	ok, err := s.store.Delete(ctx, phone)
	if err != nil {
		return false, fmt.Errorf("failed to unblock: %w", err)
	}
	if ok {
		s.logger.Info("Phone unblocked by admin", util.Phone("phone", phone))
	}
	return ok, nil
}

// ListBlocked returns the records that deny requests right now, most
// recently updated first.
func (s *Service) ListBlocked(ctx context.Context) ([]BlockedEntity, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list block records: %w", err)
	}

	now := s.clock.Now()
	out := make([]BlockedEntity, 0)
	for _, rec := range all {
		if !rec.Blocked(now) {
			continue
		}
		entity := BlockedEntity{BlockRecord: rec}
		if !rec.IsPermanentlyBlocked && rec.TemporaryBlockUntil != nil {
			entity.RemainingTime = FormatRemaining(rec.TemporaryBlockUntil.Sub(now))
		}
		out = append(out, entity)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, phone string) (*models.BlockRecord, error) {
	rec, err := s.store.Get(ctx, phone)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load block record: %w", err)
	}
	return rec, nil
}

func (s *Service) isNewDay(last, now time.Time) bool {
	ly, lm, ld := last.In(s.loc).Date()
	ny, nm, nd := now.In(s.loc).Date()
	return ly != ny || lm != nm || ld != nd
}

// FormatRemaining renders d as "Xh Ym", truncating both parts.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
