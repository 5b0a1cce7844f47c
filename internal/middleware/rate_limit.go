package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/osvaldoandrade/mpsflow/internal/metrics"
	"github.com/osvaldoandrade/mpsflow/internal/ratelimit"
	"github.com/osvaldoandrade/mpsflow/pkg/config"

	"github.com/gin-gonic/gin"
)

func RateLimitSolve(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimit(lim, ratelimit.ScopeSolve, "solve_mps", cfg.RateLimit.Solve)
}

// rateLimit keys buckets by bearer token when present, otherwise by client IP.
func rateLimit(lim ratelimit.Limiter, scope string, operation string, bcfg config.RateLimitBucketConfig) gin.HandlerFunc {
	bucket := ratelimit.BucketFromConfig(bcfg)
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		subject := bearerToken(c.GetHeader("Authorization"))
		if subject == "" {
			subject = "ip:" + c.ClientIP()
		}

		dec, err := lim.Allow(c.Request.Context(), scope, subject, bucket)
		if err != nil {
			// fail open
			slog.Default().Warn("rate limit check failed", "scope", scope, "op", operation, "err", err)
			c.Next()
			return
		}
		if dec.Allowed {
			c.Next()
			return
		}

		retryAfterSeconds := int(dec.RetryAfter.Seconds())
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.RateLimitHitsTotal.WithLabelValues(scope, operation).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"detail":            "rate limit exceeded",
			"retryAfterSeconds": retryAfterSeconds,
		})
	}
}

func bearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
