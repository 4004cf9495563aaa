package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const rateLimitReasonTenant = "tenant-rate"

// WebhookRateLimit throttles http-log deliveries per tenant. Without a
// configured limiter the webhook runs unguarded.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.webhookLimiter.Enabled() {
			c.Next()
			return
		}

		tenantID, ok := tenantIDParam(c)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeEndpoint(c)

		res, err := s.webhookLimiter.AllowTenant(ctx, tenantID.String())
		if err != nil {
			// Redis being down must not drop usage data.
			s.log.Warn("webhook rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			s.log.Warn("webhook rate limit exceeded",
				zap.String("tenant_id", tenantID.String()),
				zap.String("endpoint", endpoint),
			)
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(ctx, tenantID.String(), endpoint, rateLimitReasonTenant)
			}
			retryAfter := int64(res.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			AbortWithError(c, ErrRateLimited)
			return
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(ctx, tenantID.String(), endpoint)
		}
		c.Next()
	}
}

func normalizeEndpoint(c *gin.Context) string {
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
