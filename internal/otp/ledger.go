// Package otp keeps the live one-time codes of this process.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"phone-auth-service/internal/clock"
	"phone-auth-service/internal/models"
)

const (
	CodeLength         = 6
	DefaultTTL         = 300 * time.Second
	DefaultMaxAttempts = 3
	DefaultSweepEvery  = 5 * time.Minute
)

var codeSpace = big.NewInt(1_000_000)

// AlreadyActiveError is returned by Issue while a live code exists.
type AlreadyActiveError struct {
	RemainingSeconds int
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("otp already active, %d seconds remaining", e.RemainingSeconds)
}

// ErrAlreadyActive matches any *AlreadyActiveError under errors.Is.
var ErrAlreadyActive = errors.New("otp already active")

func (e *AlreadyActiveError) Is(target error) bool {
	return target == ErrAlreadyActive
}

// Status classifies the result of a Verify call.
type Status int

const (
	StatusSuccess Status = iota
	StatusNotFound
	StatusExpired
	StatusMismatch
	StatusAttemptsExceeded
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotFound:
		return "not_found"
	case StatusExpired:
		return "expired"
	case StatusMismatch:
		return "mismatch"
	case StatusAttemptsExceeded:
		return "attempts_exceeded"
	default:
		return "unknown"
	}
}

// Outcome is the result of Verify. AttemptsRemaining is only meaningful
// for StatusMismatch.
type Outcome struct {
	Status            Status
	AttemptsRemaining int
	VerificationID    string
}

// Issued describes a freshly generated code.
type Issued struct {
	Code           string
	VerificationID string
	ExpiresAt      time.Time
	ExpiresIn      int
}

// Options configures a Ledger. Zero values fall back to the package defaults.
type Options struct {
	TTL         time.Duration
	MaxAttempts int
	SweepEvery  time.Duration
}

// Ledger maps a phone number to at most one live code. All operations on a
// record happen under one lock, so concurrent verifies of the same phone
// observe each other's attempt increments.
type Ledger struct {
	mu      sync.Mutex
	records map[string]*models.OTPRecord

	clock       clock.Clock
	logger      *zap.Logger
	ttl         time.Duration
	maxAttempts int
	sweepEvery  time.Duration
	generate    func() (string, error)
}

// NewLedger returns an empty ledger.
func NewLedger(clk clock.Clock, logger *zap.Logger, opts Options) *Ledger {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = DefaultSweepEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		records:     make(map[string]*models.OTPRecord),
		clock:       clk,
		logger:      logger,
		ttl:         opts.TTL,
		maxAttempts: opts.MaxAttempts,
		sweepEvery:  opts.SweepEvery,
		generate:    GenerateCode,
	}
}

// GenerateCode returns a uniformly random zero-padded 6 digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// Issue stores a fresh code for phone unless a live one already exists.
func (l *Ledger) Issue(phone string) (*Issued, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if rec, ok := l.records[phone]; ok && rec.Live(now) {
		return nil, &AlreadyActiveError{RemainingSeconds: remainingSeconds(rec.ExpiresAt, now)}
	}

	code, err := l.generate()
	if err != nil {
		return nil, err
	}

	rec := &models.OTPRecord{
		PhoneNumber:    phone,
		Code:           code,
		VerificationID: uuid.NewString(),
		CreatedAt:      now,
		ExpiresAt:      now.Add(l.ttl),
	}
	l.records[phone] = rec

	return &Issued{
		Code:           code,
		VerificationID: rec.VerificationID,
		ExpiresAt:      rec.ExpiresAt,
		ExpiresIn:      remainingSeconds(rec.ExpiresAt, now),
	}, nil
}

// Verify checks code against the live record for phone. The attempt counter
// is incremented before comparing, so the fourth try on a record is refused
// even when the code is right.
func (l *Ledger) Verify(phone, code string) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[phone]
	if !ok {
		return Outcome{Status: StatusNotFound}
	}

	now := l.clock.Now()
	if now.After(rec.ExpiresAt) {
		delete(l.records, phone)
		return Outcome{Status: StatusExpired, VerificationID: rec.VerificationID}
	}

	rec.Attempts++
	if rec.Attempts > l.maxAttempts {
		delete(l.records, phone)
		return Outcome{Status: StatusAttemptsExceeded, VerificationID: rec.VerificationID}
	}

	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
		return Outcome{
			Status:            StatusMismatch,
			AttemptsRemaining: l.maxAttempts - rec.Attempts,
			VerificationID:    rec.VerificationID,
		}
	}

	delete(l.records, phone)
	return Outcome{Status: StatusSuccess, VerificationID: rec.VerificationID}
}

// Revoke drops the record for phone if it still carries verificationID.
func (l *Ledger) Revoke(phone, verificationID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[phone]
	if !ok || rec.VerificationID != verificationID {
		return false
	}
	delete(l.records, phone)
	return true
}

// Sweep drops every expired record and returns how many were removed.
func (l *Ledger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for phone, rec := range l.records {
		if now.After(rec.ExpiresAt) {
			delete(l.records, phone)
			removed++
		}
	}
	return removed
}

// Run sweeps on a ticker until ctx is cancelled.
func (l *Ledger) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.sweepEvery)
	defer ticker.Stop()

	l.logger.Info("OTP ledger sweeper started", zap.Duration("interval", l.sweepEvery))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("OTP ledger sweeper stopped")
			return nil
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("Swept expired OTP records", zap.Int("removed", n))
			}
		}
	}
}

// Len reports the number of stored records, expired ones included until swept.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func remainingSeconds(expiresAt, now time.Time) int {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
