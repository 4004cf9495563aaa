package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/gatemeter/internal/config"
)

func TestNewWebhookLimiterDisabled(t *testing.T) {
	limiter, err := NewWebhookLimiter(config.Config{})
	require.NoError(t, err)
	assert.Nil(t, limiter)
	assert.False(t, limiter.Enabled())
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var limiter *WebhookLimiter
	ctx := context.Background()

	res, err := limiter.AllowTenant(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	token, ok, err := limiter.TryLockSweep(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)

	assert.NoError(t, limiter.ReleaseSweep(ctx, "t-1", token))
}

func TestNewWebhookLimiterValidation(t *testing.T) {
	cfg := config.Config{}
	cfg.RateLimit.Enabled = true

	_, err := NewWebhookLimiter(cfg)
	assert.Error(t, err, "redis addr is required when enabled")

	cfg.RateLimit.RedisAddr = "localhost:6379"
	cfg.RateLimit.TenantRate = 0
	cfg.RateLimit.TenantBurst = 10
	_, err = NewWebhookLimiter(cfg)
	assert.Error(t, err, "zero rate is rejected")

	cfg.RateLimit.TenantRate = 100
	cfg.RateLimit.TenantBurst = 0
	_, err = NewWebhookLimiter(cfg)
	assert.Error(t, err, "zero burst is rejected")

	cfg.RateLimit.TenantBurst = 200
	limiter, err := NewWebhookLimiter(cfg)
	require.NoError(t, err)
	assert.True(t, limiter.Enabled())
}
