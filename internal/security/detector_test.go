package security

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-auth-service/internal/clock"
	"phone-auth-service/internal/models"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/repository/memory"
)

const phone = "+447700900123"

func sight(t *testing.T, d *Detector, ua string) {
	t.Helper()
	require.NoError(t, d.RecordSighting(context.Background(), &models.RequestLogEntry{
		IPAddress:   "192.0.2.10",
		Endpoint:    "/api/v1/auth/phone/initiate",
		PhoneNumber: phone,
		UserAgent:   ua,
	}))
}

func TestDeviceFanOut(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC))
	attempts := memory.NewFailedAttemptRepository()
	d := NewDetector(memory.NewRequestLogRepository(), attempts, clk, nil, 0, 0)

	for i := 0; i < 5; i++ {
		sight(t, d, fmt.Sprintf("agent-%d", i))
		sight(t, d, fmt.Sprintf("agent-%d", i))
	}
	sight(t, d, "")

	flagged, err := d.IsSuspicious(ctx, phone)
	require.NoError(t, err)
	assert.False(t, flagged, "five distinct agents is the limit")

	_, err = attempts.Get(ctx, phone, models.AttemptKindPhone)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	sight(t, d, "agent-5")
	flagged, err = d.IsSuspicious(ctx, phone)
	require.NoError(t, err)
	assert.True(t, flagged)

	rec, err := attempts.Get(ctx, phone, models.AttemptKindPhone)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.Attempts)
	assert.Equal(t, []string{"2026-04-02T08:00:00Z: Multiple device attempts"}, rec.Reasons)
}

func TestFanOutWindowExpires(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC))
	d := NewDetector(memory.NewRequestLogRepository(), memory.NewFailedAttemptRepository(), clk, nil, 0, 0)

	for i := 0; i < 6; i++ {
		sight(t, d, fmt.Sprintf("agent-%d", i))
	}
	clk.Advance(25 * time.Hour)

	flagged, err := d.IsSuspicious(ctx, phone)
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestLogFailureAppendsReasons(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC))
	attempts := memory.NewFailedAttemptRepository()
	d := NewDetector(memory.NewRequestLogRepository(), attempts, clk, nil, 0, 0)

	d.LogFailure(ctx, "192.0.2.10", models.AttemptKindIP, ReasonSuspicious)
	clk.Advance(time.Minute)
	d.LogFailure(ctx, "192.0.2.10", models.AttemptKindIP, ReasonSuspicious)

	rec, err := attempts.Get(ctx, "192.0.2.10", models.AttemptKindIP)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rec.Attempts)
	assert.Equal(t, clk.Now(), rec.LastAttempt)
	assert.Len(t, rec.Reasons, 2)
	assert.Equal(t, "2026-04-02T08:01:00Z: Suspicious activity detected", rec.Reasons[1])
}
