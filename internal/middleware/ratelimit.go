package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/circles-backend/pkg/clientip"
	"github.com/AnshRaj112/circles-backend/pkg/log"
)

const (
	// RateLimitKeyPrefix is the Redis key prefix for per-IP request counters.
	RateLimitKeyPrefix = "ratelimit:"
	rateLimitTimeout   = 500 * time.Millisecond
)

// RedisRateLimiter counts requests per client IP in a fixed window shared by
// every server instance.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, limit: limit, window: window}
}

// Middleware rejects requests past the limit with 429. Redis failures fail open.
func (l *RedisRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientip.RealClientIP(r)
		count, ttl, err := l.hit(r.Context(), ip)
		if err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Str(log.FieldClientIP, ip).Msg("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		remaining := l.limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

		if int(count) > l.limit {
			w.Header().Set("Retry-After", strconv.Itoa(int(ttl.Seconds())+1))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"message":"Rate limit exceeded. Please try again later."}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// hit increments the counter for ip and returns it with the window's remaining time.
func (l *RedisRateLimiter) hit(ctx context.Context, ip string) (int64, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, rateLimitTimeout)
	defer cancel()

	key := RateLimitKeyPrefix + ip
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return 0, 0, err
		}
		return count, l.window, nil
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if ttl < 0 {
		// Counter lost its expiry (crash between INCR and EXPIRE); restart the window.
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return 0, 0, err
		}
		ttl = l.window
	}
	return count, ttl, nil
}
