package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type RateLimitMiddleware struct {
	redisClient *redis.Client
}

func NewRateLimitMiddleware(redisClient *redis.Client) *RateLimitMiddleware {
	return &RateLimitMiddleware{redisClient: redisClient}
}

// WebSocketRateLimit caps connection attempts per client IP with a Redis
// fixed window. Failing open on Redis errors keeps the panel reachable when
// Redis is degraded.
func (rm *RateLimitMiddleware) WebSocketRateLimit(attempts int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("rate_limit:websocket:%s", c.ClientIP())

		count, err := rm.redisClient.Incr(c.Request.Context(), key).Result()
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			rm.redisClient.Expire(c.Request.Context(), key, window)
		}

		if count > int64(attempts) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "WebSocket connection rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
