// Package ratelimit implements the token-bucket half of the Rate Limiter &
// Auth Gate: one bucket per (identity, window), keyed on the authenticated
// subject or, absent that, the peer IP. Grounded on
// internal/server/error_handler.go's gin middleware composition; the
// bucket itself uses golang.org/x/time/rate (the idiomatic ecosystem
// primitive — see DESIGN.md) rather than a hand-rolled counter, since no
// pack repo implements a bespoke token bucket worth reusing.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/aragora/aragora/internal/auth"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Config enumerates the token bucket's capacity, refill rate, and a burst
// multiplier applied on top of the steady-state rate.
type Config struct {
	PerTokenRPM    int
	PerIPRPM       int
	BurstMultiplier float64
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{PerTokenRPM: 60, PerIPRPM: 120, BurstMultiplier: 1.5}
}

// Limiter tracks one token-bucket per identity.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New constructs a Limiter.
func New(cfg Config) *Limiter {
	if cfg.PerTokenRPM <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.BurstMultiplier <= 0 {
		cfg.BurstMultiplier = 1.5
	}
	return &Limiter{cfg: cfg, buckets: make(map[string]*rate.Limiter)}
}

func (l *Limiter) bucketFor(key string, rpm int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		perSecond := rate.Limit(float64(rpm) / 60.0)
		burst := int(float64(rpm) * l.cfg.BurstMultiplier / 60.0)
		if burst < 1 {
			burst = 1
		}
		b = rate.NewLimiter(perSecond, burst)
		l.buckets[key] = b
	}
	return b
}

// Allow reports whether one request for identity should proceed, and, if
// not, the number of seconds the caller should wait before retrying.
func (l *Limiter) Allow(identity string, authenticated bool) (bool, int) {
	rpm := l.cfg.PerIPRPM
	if authenticated {
		rpm = l.cfg.PerTokenRPM
	}
	b := l.bucketFor(identity, rpm)
	if b.Allow() {
		return true, 0
	}
	// One bucket refills at rpm/60 tokens per second; report the time to the
	// next token rather than consuming a reservation just to measure it.
	retryAfter := 60 / rpm
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

// Middleware enforces the bucket for the request's identity: the
// authenticated subject set by auth.Middleware/OptionalMiddleware, or the
// client IP if the request is unauthenticated.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.ClientIP()
		authenticated := false
		if subject, ok := auth.Subject(c); ok && subject != "" {
			identity = subject
			authenticated = true
		}

		allowed, retryAfter := l.Allow(identity, authenticated)
		if !allowed {
			c.Header("Retry-After", time.Duration(retryAfter*int(time.Second)).String())
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "retry_after_seconds": retryAfter})
			c.Abort()
			return
		}
		c.Next()
	}
}
