// Package ratelimit implements per-IP rate limiting backed by an in-memory store.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/talespin-gg/talespin-server/internal/v1/logging"
	"github.com/talespin-gg/talespin-server/internal/v1/metrics"
)

// RateLimiter holds the limiter instances for the HTTP API and WebSocket upgrades.
type RateLimiter struct {
	api *limiter.Limiter
	ws  *limiter.Limiter
}

// New creates a RateLimiter from "N-period" formatted rates (e.g. "100-M").
func New(apiRate, wsRate string) (*RateLimiter, error) {
	api, err := limiter.NewRateFromFormatted(apiRate)
	if err != nil {
		return nil, fmt.Errorf("invalid API rate: %w", err)
	}

	ws, err := limiter.NewRateFromFormatted(wsRate)
	if err != nil {
		return nil, fmt.Errorf("invalid WS rate: %w", err)
	}

	store := memory.NewStore()
	return &RateLimiter{
		api: limiter.New(store, api),
		ws:  limiter.New(store, ws),
	}, nil
}

// APIMiddleware returns a Gin middleware enforcing the per-IP API limit.
func (rl *RateLimiter) APIMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		lctx, err := rl.api.Get(ctx, c.ClientIP())
		if err != nil {
			// Fail open: availability over strictness when the store misbehaves.
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), "ip").Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		c.Next()
	}
}

// CheckWebSocket reports whether a WebSocket upgrade from this client is
// allowed. On rejection the 429 response has already been written.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	lctx, err := rl.ws.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed", zap.Error(err))
		return true
	}

	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	return true
}
