// Package security holds the device fan-out heuristic and the failed
// attempt audit trail.
package security

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"phone-auth-service/internal/clock"
	"phone-auth-service/internal/models"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/util"
)

const (
	DefaultLookback   = 24 * time.Hour
	DefaultMaxDevices = 5

	ReasonMultipleDevices = "Multiple device attempts"
	ReasonSuspicious      = "Suspicious activity detected"
)

type Detector struct {
	requests   repository.RequestLogRepository
	attempts   repository.FailedAttemptRepository
	clock      clock.Clock
	logger     *zap.Logger
	lookback   time.Duration
	maxDevices int
}

func NewDetector(
	requests repository.RequestLogRepository,
	attempts repository.FailedAttemptRepository,
	clk clock.Clock,
	logger *zap.Logger,
	lookback time.Duration,
	maxDevices int,
) *Detector {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if maxDevices <= 0 {
		maxDevices = DefaultMaxDevices
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		requests:   requests,
		attempts:   attempts,
		clock:      clk,
		logger:     logger,
		lookback:   lookback,
		maxDevices: maxDevices,
	}
}

// RecordSighting appends a request log entry. A zero timestamp is filled
// from the clock.
func (d *Detector) RecordSighting(ctx context.Context, entry *models.RequestLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = d.clock.Now()
	}
	if err := d.requests.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to record request sighting: %w", err)
	}
	return nil
}

// IsSuspicious flags phone when more than maxDevices distinct user agents
// asked for it inside the lookback window. A flag is written to the audit
// trail under the phone number.
func (d *Detector) IsSuspicious(ctx context.Context, phone string) (bool, error) {
	since := d.clock.Now().Add(-d.lookback)

	devices, err := d.requests.CountDistinctUserAgents(ctx, phone, since)
	if err != nil {
		return false, fmt.Errorf("failed to count devices: %w", err)
	}
	if devices <= d.maxDevices {
		return false, nil
	}

	d.logger.Warn("Device fan-out detected",
		util.Phone("phone", phone), zap.Int("devices", devices))
	d.LogFailure(ctx, phone, models.AttemptKindPhone, ReasonMultipleDevices)
	return true, nil
}

// LogFailure appends to the audit trail. Failures are logged and dropped.
func (d *Detector) LogFailure(ctx context.Context, identifier string, kind models.AttemptKind, reason string) {
	if err := d.attempts.Record(ctx, identifier, kind, reason, d.clock.Now()); err != nil {
		d.logger.Error("Failed to log failed attempt",
			zap.String("kind", string(kind)),
			zap.String("reason", reason),
			zap.Error(err))
	}
}
