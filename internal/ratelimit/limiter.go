// Package ratelimit implements the per-client sliding window in front of the
// auth endpoints.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"phone-auth-service/internal/clock"
	"phone-auth-service/internal/repository"
)

const (
	DefaultWindow = 15 * time.Minute
	DefaultLimit  = 100

	// DefaultPrefix namespaces the general per-IP window.
	DefaultPrefix = "ip:"
	// PhoneAuthPrefix namespaces the per-IP window over OTP initiation.
	PhoneAuthPrefix = "phone-auth:"
)

// Decision is the outcome of Allow. Count excludes the request being
// evaluated; RetryAfter is set only when the request is denied.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	RetryAfter time.Duration
}

// Limiter counts occurrences per client inside a trailing window. Allow and
// Record are separate store calls, so concurrent requests from one client
// can slightly overshoot the limit.
type Limiter struct {
	store  repository.RateWindowStore
	clock  clock.Clock
	window time.Duration
	limit  int
	prefix string
}

func NewLimiter(store repository.RateWindowStore, clk clock.Clock, window time.Duration, limit int) *Limiter {
	return NewPrefixedLimiter(store, clk, DefaultPrefix, window, limit)
}

// NewPrefixedLimiter keeps its counters under prefix, so several limiters
// can share one store without seeing each other's requests.
func NewPrefixedLimiter(store repository.RateWindowStore, clk clock.Clock, prefix string, window time.Duration, limit int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Limiter{store: store, clock: clk, window: window, limit: limit, prefix: prefix}
}

// Allow reports whether one more request from clientID fits in the window.
// The request being evaluated counts toward the limit.
func (l *Limiter) Allow(ctx context.Context, clientID string) (Decision, error) {
	now := l.clock.Now()
	since := now.Add(-l.window)

	count, err := l.store.Count(ctx, l.key(clientID), since)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count requests: %w", err)
	}

	d := Decision{Allowed: count+1 <= l.limit, Count: count, Limit: l.limit}
	if d.Allowed {
		return d, nil
	}

	oldest, ok, err := l.store.Oldest(ctx, l.key(clientID), since)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read oldest request: %w", err)
	}
	if ok {
		d.RetryAfter = oldest.Add(l.window).Sub(now)
	}
	if d.RetryAfter <= 0 {
		d.RetryAfter = time.Second
	}
	return d, nil
}

// Record appends one occurrence for clientID.
func (l *Limiter) Record(ctx context.Context, clientID string) error {
	if err := l.store.Add(ctx, l.key(clientID), l.clock.Now(), l.window); err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}

// Window is the trailing duration requests are counted over.
func (l *Limiter) Window() time.Duration { return l.window }

// Limit is the number of requests allowed inside Window.
func (l *Limiter) Limit() int { return l.limit }

func (l *Limiter) key(clientID string) string {
	return l.prefix + clientID
}
