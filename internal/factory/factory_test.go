package factory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-auth-service/internal/clock"
	"phone-auth-service/internal/config"
	"phone-auth-service/internal/service"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Environment:  "development",
		ServiceName:  "phone-auth-service",
		StoreTimeout: time.Second,
		MemoryStores: true,
		Bucketing:    config.BucketingConfig{UserBuckets: 16},
		Hashing:      config.HashingConfig{PhonePepper: "test-pepper"},
		Auth: config.AuthConfig{
			JWTSecret: "0123456789abcdef0123456789abcdef",
			JWTIssuer: "phone-auth-service",
			TokenTTL:  time.Hour,
		},
		OTP:      config.OTPConfig{TTL: 5 * time.Minute, MaxAttempts: 3, SweepInterval: time.Minute},
		Blocking: config.BlockingConfig{DailyCeiling: 7, BlockDuration: 24 * time.Hour, Location: time.UTC},
		RateLimit: config.RateLimitConfig{
			Window: 15 * time.Minute, Limit: 100,
			PhoneAuthWindow: 24 * time.Hour, PhoneAuthLimit: 5,
		},
		Suspicious: config.SuspiciousConfig{Lookback: 24 * time.Hour, MaxDevices: 5},
	}
}

func TestNewWithMemoryStores(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	f, err := New(memoryConfig(), clk, nil)
	require.NoError(t, err)
	defer f.Close()

	require.NotNil(t, f.AuthService())
	require.NotNil(t, f.RateLimiter())
	require.NotNil(t, f.PhoneAuthLimiter())
	assert.Equal(t, 5, f.PhoneAuthLimiter().Limit())
	assert.Equal(t, 24*time.Hour, f.PhoneAuthLimiter().Window())
	assert.Nil(t, f.TLSManager())

	status, err := f.HealthCheck(context.Background())
	require.NoError(t, err)
	for _, name := range []string{"redis", "scylla", "kafka", "elasticsearch", "clickhouse"} {
		assert.Equal(t, statusMemory, status[name], name)
	}
}

func TestMemoryFactoryIssuesCodes(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	f, err := New(memoryConfig(), clk, nil)
	require.NoError(t, err)
	defer f.Close()

	res, err := f.AuthService().InitiatePhoneAuth(context.Background(),
		service.InitiateRequest{PhoneNumber: "+14155550000"},
		service.DeviceInfo{IPAddress: "10.0.0.1", UserAgent: "test", Timestamp: clk.Now()},
	)
	require.NoError(t, err)
	assert.NotEmpty(t, res.VerificationID)
	assert.Equal(t, 300, res.ExpiresIn)

	decision, err := f.RateLimiter().Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestRunWorkersStopsOnCancel(t *testing.T) {
	f, err := New(memoryConfig(), clock.New(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.RunWorkers(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}

	assert.NoError(t, f.Close())
	assert.NoError(t, f.Close())
	f.WaitForClose()
}

func TestValidateRejectsMemoryStoresInProduction(t *testing.T) {
	cfg := memoryConfig()
	cfg.Environment = "production"
	cfg.Auth.AdminAPIKey = "admin"
	assert.ErrorContains(t, cfg.Validate(), "MEMORY_STORES")
}
