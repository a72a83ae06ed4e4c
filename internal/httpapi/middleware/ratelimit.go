package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/gengenie/internal/common"
	"github.com/suPer8Hu/gengenie/internal/metrics"
	"github.com/suPer8Hu/gengenie/internal/store/redisstore"
)

type Limiter interface {
	Allow(ctx context.Context, subject string) (redisstore.Decision, error)
}

// RateLimit limits requests per authenticated user. When the limiter itself
// fails the request is let through.
func RateLimit(l Limiter, m *metrics.Metrics, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		subject, _ := UserID(c)
		if subject == "" {
			subject = c.ClientIP()
		}
		d, err := l.Allow(c.Request.Context(), subject)
		if err != nil {
			logger.Warn().Err(err).Str("subject", subject).Msg("rate limiter unavailable")
			c.Next()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		if !d.Allowed {
			m.RateLimited()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			common.Fail(c, http.StatusTooManyRequests, 42901, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
