package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"servicesift-backend/internal/shared/server/respond"
)

// RateLimitRule is a token bucket rate and burst per principal.
type RateLimitRule struct {
	Rate  float64
	Burst int
}

// DefaultLimiterIdleTTL is how long an unused bucket is kept before it is evicted.
const DefaultLimiterIdleTTL = 10 * time.Minute

// RateLimiter keeps one token bucket per principal key. Buckets idle past
// IdleTTL, and long enough to have refilled, are swept on later calls.
type RateLimiter struct {
	IdleTTL time.Duration

	mu        sync.Mutex
	limiters  map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
	refill   time.Duration
}

// NewRateLimiter builds a limiter; now may be nil.
func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		IdleTTL:  DefaultLimiterIdleTTL,
		limiters: make(map[string]*bucket),
		now:      now,
	}
}

// RateLimit limits requests per authenticated user (or client IP when anonymous).
func RateLimit(limiter *RateLimiter, group string, rule RateLimitRule) gin.HandlerFunc {
	if limiter == nil {
		limiter = NewRateLimiter(nil)
	}
	return func(c *gin.Context) {
		principal := strings.TrimSpace(UserIDFromContext(c))
		if principal == "" {
			principal = strings.TrimSpace(c.ClientIP())
		}
		allowed, retryAfter := limiter.Allow(principal+"|"+group, rule)
		if allowed {
			c.Next()
			return
		}
		retryAfterSeconds := int(math.Ceil(retryAfter.Seconds()))
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		respond.Error(c, http.StatusTooManyRequests, respond.CodeRateLimited, "Too many requests", gin.H{
			"retryAfterMs": retryAfter.Milliseconds(),
		})
	}
}

// Allow reserves one token for key and reports how long to wait when none is available.
func (l *RateLimiter) Allow(key string, rule RateLimitRule) (bool, time.Duration) {
	if l == nil || rule.Rate <= 0 || rule.Burst <= 0 {
		return true, 0
	}
	now := l.now()

	l.mu.Lock()
	l.sweepLocked(now)
	b, ok := l.limiters[key]
	if !ok {
		b = &bucket{
			lim:    rate.NewLimiter(rate.Limit(rule.Rate), rule.Burst),
			refill: time.Duration(float64(rule.Burst) / rule.Rate * float64(time.Second)),
		}
		l.limiters[key] = b
	}
	b.lastSeen = now
	lim := b.lim
	l.mu.Unlock()

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

// sweepLocked drops buckets that are idle and full again. It runs at most
// once per IdleTTL.
func (l *RateLimiter) sweepLocked(now time.Time) {
	ttl := l.IdleTTL
	if ttl <= 0 {
		ttl = DefaultLimiterIdleTTL
	}
	if now.Sub(l.lastSweep) < ttl {
		return
	}
	l.lastSweep = now
	for key, b := range l.limiters {
		idle := now.Sub(b.lastSeen)
		if idle >= ttl && idle >= b.refill {
			delete(l.limiters, key)
		}
	}
}
