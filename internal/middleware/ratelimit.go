package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/tbscan/internal/logging"
)

// Window is a ceiling of Limit requests per Period.
type Window struct {
	Limit  int
	Period time.Duration
}

// Windows drops disabled (zero) ceilings.
func Windows(ws ...Window) []Window {
	var out []Window
	for _, w := range ws {
		if w.Limit > 0 && w.Period > 0 {
			out = append(out, w)
		}
	}
	return out
}

// Decision describes the tightest window after a request was counted.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimit counts every request per client IP under scope. When the backing
// store fails the request is let through and the failure logged.
func RateLimit(limiter Limiter, scope string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := scope + ":" + c.ClientIP()

		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request",
				"scope", scope, "request_id", GetRequestID(c), logging.Err(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))

		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(max(retry, 1)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"details": "too many requests, retry in " + strconv.Itoa(max(retry, 1)) + "s",
			})
			return
		}
		c.Next()
	}
}

// tighter reports whether a should be reported over b.
func tighter(a, b Decision) bool {
	if a.Allowed != b.Allowed {
		return !a.Allowed
	}
	if !a.Allowed {
		return a.RetryAfter > b.RetryAfter
	}
	return a.Remaining < b.Remaining
}
