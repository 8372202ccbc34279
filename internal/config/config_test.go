package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("BLOCK_TIMEZONE", "UTC")

	cfg := LoadConfig()

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 5*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, 3, cfg.OTP.MaxAttempts)
	assert.Equal(t, 7, cfg.Blocking.DailyCeiling)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 100, cfg.RateLimit.Limit)
	assert.Equal(t, 24*time.Hour, cfg.RateLimit.PhoneAuthWindow)
	assert.Equal(t, 5, cfg.RateLimit.PhoneAuthLimit)
	assert.Equal(t, time.UTC, cfg.Blocking.Location)
	assert.Equal(t, ":8080", cfg.GetServerAddress())
	assert.Same(t, cfg, Get())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("OTP_TTL", "2m")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "10")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("BLOCK_TIMEZONE", "Not/AZone")

	cfg := LoadConfig()

	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.Auth.RequireRecaptcha)
	assert.Equal(t, 2*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, 10, cfg.RateLimit.Limit)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.Local, cfg.Blocking.Location)
}

func TestValidate(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ADMIN_API_KEY", "")
	t.Setenv("PHONE_HASH_PEPPER", "")
	t.Setenv("KMS_ENABLED", "false")
	cfg := LoadConfig()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")

	cfg.Auth.JWTSecret = "short"
	assert.NoError(t, cfg.Validate())

	cfg.Environment = "production"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 bytes")
	assert.Contains(t, err.Error(), "ADMIN_API_KEY")
	assert.Contains(t, err.Error(), "PHONE_HASH_PEPPER")

	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Auth.AdminAPIKey = "admin"
	cfg.Hashing.PhonePepper = "pepper"
	assert.NoError(t, cfg.Validate())

	cfg.KMS.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "KMS_KEY_ID")
}
