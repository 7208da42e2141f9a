package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// rateLimit guards the write-facing routes. A limiter error fails open
// unless RATE_LIMIT_FAIL_CLOSED is set: a broken redis should not take the
// ledger down with it by default.
func (s *Server) rateLimit(c *gin.Context) {
	if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
		c.Next()
		return
	}
	decision, err := s.rateLimiter.Allow(c.Request.Context(), c.ClientIP(), s.rateLimitRequests, s.rateLimitWindow)
	if err != nil {
		if s.rateLimitFailClosed {
			writeErrorCode(c, http.StatusServiceUnavailable, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			c.Abort()
			return
		}
		c.Next()
		return
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if !decision.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
	if !decision.Allowed {
		retry := int(time.Until(decision.ResetAt).Seconds())
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		c.Abort()
		return
	}
	c.Next()
}
