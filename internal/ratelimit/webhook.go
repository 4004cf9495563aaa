package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/smallbiznis/gatemeter/internal/config"
)

const (
	keyWebhookTenant = "usage:webhook:tenant:%s"
	keySweepLock     = "billing:sweep:lock:%s"
)

// WebhookLimiter throttles the usage webhook per tenant and arbitrates
// billing sweeps across instances. A nil limiter allows everything, so
// deployments without redis run unguarded.
type WebhookLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	tenantRate   float64
	tenantBurst  int
	sweepLockTTL time.Duration
}

func NewWebhookLimiter(cfg config.Config) (*WebhookLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.TenantRate <= 0 || limitCfg.TenantBurst <= 0 {
		return nil, errors.New("tenant rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	sweepLockTTL := limitCfg.SweepLockTTL
	if sweepLockTTL <= 0 {
		sweepLockTTL = 5 * time.Minute
	}

	return &WebhookLimiter{
		enabled:      true,
		bucket:       NewTokenBucket(client),
		locker:       NewLocker(client),
		tenantRate:   limitCfg.TenantRate,
		tenantBurst:  limitCfg.TenantBurst,
		sweepLockTTL: sweepLockTTL,
	}, nil
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowTenant consumes one webhook delivery from the tenant's bucket.
func (l *WebhookLimiter) AllowTenant(ctx context.Context, tenantID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyWebhookTenant, strings.TrimSpace(tenantID))
	return l.bucket.Allow(ctx, key, l.tenantRate, l.tenantBurst)
}

// TryLockSweep claims the tenant's billing sweep so overlapping
// schedulers don't double-bill.
func (l *WebhookLimiter) TryLockSweep(ctx context.Context, tenantID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	key := fmt.Sprintf(keySweepLock, strings.TrimSpace(tenantID))
	return l.locker.TryLock(ctx, key, l.sweepLockTTL)
}

func (l *WebhookLimiter) ReleaseSweep(ctx context.Context, tenantID, token string) error {
	if !l.Enabled() {
		return nil
	}
	key := fmt.Sprintf(keySweepLock, strings.TrimSpace(tenantID))
	return l.locker.Release(ctx, key, token)
}
