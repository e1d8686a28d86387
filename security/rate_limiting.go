package security

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis  redis.Cmdable
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient redis.Cmdable, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: redisClient, limit: int64(limit), window: window}
}

// Limit is route middleware that caps requests per caller within a fixed
// window. Redis errors let the request through.
func (r *RateLimiter) Limit(e *core.RequestEvent) error {
	if r.isSuspiciousUserAgent(e.Request.UserAgent()) {
		return apis.NewForbiddenError("Access denied", nil)
	}

	key := fmt.Sprintf("ratelimit:%s:%s", e.Request.URL.Path, identifier(e))
	allowed, err := r.allow(e.Request.Context(), key)
	if err != nil {
		slog.Warn("rate limiter unavailable", "key", key, "error", err)
		return e.Next()
	}
	if !allowed {
		return apis.NewTooManyRequestsError("Rate limit exceeded. Please try again later.", nil)
	}
	return e.Next()
}

// allow counts the request and sets the window TTL in one transaction. NX
// leaves a running window alone and repairs a key that lost its TTL.
func (r *RateLimiter) allow(ctx context.Context, key string) (bool, error) {
	pipe := r.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= r.limit, nil
}

// Rate limit by user for authenticated requests, otherwise by remote address
func identifier(e *core.RequestEvent) string {
	if e.Auth != nil {
		return "user:" + e.Auth.Id
	}
	host, _, err := net.SplitHostPort(e.Request.RemoteAddr)
	if err != nil {
		return "ip:" + e.Request.RemoteAddr
	}
	return "ip:" + host
}

func (r *RateLimiter) isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}
