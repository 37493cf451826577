package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/qrbot/internal/envelope"
	"github.com/osvaldoandrade/qrbot/internal/metrics"
	"github.com/osvaldoandrade/qrbot/internal/ratelimit"
	"github.com/osvaldoandrade/qrbot/pkg/config"
)

const (
	ScopeDefault      = "default"
	ScopeGenerateQR   = "generate_qr"
	ScopeCustom       = "custom"
	ScopeBroadcast    = "broadcast"
	ScopeBroadcastAll = "broadcast_all"
)

func RateLimitDefault(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimitRoute(lim, cfg, ScopeDefault, cfg.RateLimit.Default)
}

func RateLimitGenerateQR(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimitRoute(lim, cfg, ScopeGenerateQR, cfg.RateLimit.GenerateQR)
}

func RateLimitCustom(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimitRoute(lim, cfg, ScopeCustom, cfg.RateLimit.Custom)
}

func RateLimitBroadcast(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimitRoute(lim, cfg, ScopeBroadcast, cfg.RateLimit.Broadcast)
}

func RateLimitBroadcastAll(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimitRoute(lim, cfg, ScopeBroadcastAll, cfg.RateLimit.BroadcastAll)
}

func rateLimitRoute(lim ratelimit.Limiter, cfg *config.Config, scope string, bucket ratelimit.Bucket) gin.HandlerFunc {
	if !cfg.RateLimitOn() {
		lim = nil
	}
	return RateLimit(lim, scope, bucket)
}

// RateLimit throttles requests per client IP. Limiter errors fail open.
func RateLimit(lim ratelimit.Limiter, scope string, bucket ratelimit.Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		dec, err := lim.Allow(c.Request.Context(), scope, c.ClientIP(), bucket)
		if err != nil {
			Logger(c).Warn("rate limit check failed", "scope", scope, "err", err)
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(bucket.RequestsPerMinute))
		if dec.Allowed {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Remaining", "0")

		retryAfterSeconds := int(dec.RetryAfter.Seconds())
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.RateLimitHitsTotal.WithLabelValues(scope).Inc()
		envelope.Abort(c, http.StatusTooManyRequests, "Rate limit exceeded", gin.H{
			"scope":             scope,
			"retryAfterSeconds": retryAfterSeconds,
		})
	}
}
