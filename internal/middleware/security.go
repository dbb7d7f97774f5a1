package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AnshRaj112/circles-backend/pkg/clientip"
)

const (
	headerXContentTypeOptions     = "X-Content-Type-Options"
	headerXFrameOptions           = "X-Frame-Options"
	headerReferrerPolicy          = "Referrer-Policy"
	headerStrictTransportSecurity = "Strict-Transport-Security"
)

// SecurityHeaders sets security-related response headers.
func SecurityHeaders(production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(headerXContentTypeOptions, "nosniff")
			w.Header().Set(headerXFrameOptions, "DENY")
			w.Header().Set(headerReferrerPolicy, "no-referrer")
			if production {
				w.Header().Set(headerStrictTransportSecurity, "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Credential route rate limiting (1 req/5s, burst 5) ---

const (
	authRateLimitEvery  = 5 * time.Second
	authRateLimitBurst  = 5
	authLimiterTTL      = 30 * time.Minute
	authCleanupInterval = 5 * time.Minute
)

type limiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// AuthRateLimiter throttles register and login per client IP in memory, on
// top of the shared Redis limit.
type AuthRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	every   time.Duration
	burst   int
	lastGC  time.Time
	now     func() time.Time
}

func NewAuthRateLimiter() *AuthRateLimiter {
	return &AuthRateLimiter{
		entries: make(map[string]*limiterEntry),
		every:   authRateLimitEvery,
		burst:   authRateLimitBurst,
		now:     time.Now,
	}
}

func (l *AuthRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastGC) > authCleanupInterval {
		for k, e := range l.entries {
			if now.Sub(e.lastUse) > authLimiterTTL {
				delete(l.entries, k)
			}
		}
		l.lastGC = now
	}

	e, ok := l.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.entries[ip] = e
	}
	e.lastUse = now
	return e.limiter.AllowN(now, 1)
}

// Middleware is mounted on the credential routes only.
func (l *AuthRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientip.RealClientIP(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"message":"Too many login attempts. Please try again later."}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
