package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bhanu-singh/rcbl-backend/internal/models"
	"github.com/bhanu-singh/rcbl-backend/pkg/config"
	appErrors "github.com/bhanu-singh/rcbl-backend/pkg/errors"
	"github.com/bhanu-singh/rcbl-backend/pkg/response"
)

// limitSubject picks the rate limit key for a request: the authenticated user
// when claims are present, the client IP otherwise. Claims exist only after
// the JWT middleware ran, so RateLimit must be installed after it on
// authenticated routes to key per user.
func limitSubject(c *gin.Context) string {
	if value, exists := c.Get(ContextUserKey); exists {
		if claims, ok := value.(*models.JWTClaims); ok {
			return claims.UserID
		}
	}
	return c.ClientIP()
}

// RateLimit enforces a fixed-window request limit backed by Redis. The window
// is keyed per authenticated user, falling back to the client IP for anonymous
// requests. Redis outages fail open: losing rate limiting briefly is better
// than rejecting every request.
func RateLimit(client *redis.Client, cfg config.RateLimitConfig, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if !cfg.Enabled || client == nil {
			c.Next()
			return
		}

		subject := limitSubject(c)
		window := time.Now().Unix() / int64(cfg.Window.Seconds())
		key := fmt.Sprintf("ratelimit:%s:%d", subject, window)

		count, err := client.Incr(c.Request.Context(), key).Result()
		if err != nil {
			logger.Warn("rate limit check failed, allowing request", zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			if err := client.Expire(c.Request.Context(), key, cfg.Window).Err(); err != nil {
				logger.Warn("rate limit expire failed", zap.Error(err))
			}
		}

		if count > int64(cfg.Requests) {
			response.Error(c, appErrors.Clone(appErrors.ErrTooManyRequests,
				fmt.Sprintf("rate limit of %d requests per %s exceeded", cfg.Requests, cfg.Window)))
			c.Abort()
			return
		}

		c.Next()
	}
}
