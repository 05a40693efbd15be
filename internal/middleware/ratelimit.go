package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-engine/internal/response"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// ByClientIP charges requests to the caller's IP.
func ByClientIP(c *gin.Context) string { return c.ClientIP() }

// ByHeader charges requests to a header value, falling back to the client IP.
func ByHeader(name string) KeyFunc {
	return func(c *gin.Context) string {
		if v := strings.TrimSpace(c.GetHeader(name)); v != "" {
			return name + ":" + v
		}
		return c.ClientIP()
	}
}

// RateLimiter is a token bucket per key.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     int           // Tokens per interval
	interval time.Duration // Refill interval
	key      KeyFunc
	now      func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
	lastSeen   time.Time
}

// NewRateLimiter allows rate requests per interval for each key. Stale buckets
// are swept until ctx is cancelled.
func NewRateLimiter(ctx context.Context, rate int, interval time.Duration, key KeyFunc) *RateLimiter {
	if key == nil {
		key = ByClientIP
	}
	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		interval: interval,
		key:      key,
		now:      time.Now,
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.sweep(3 * interval)
			}
		}
	}()

	return rl
}

// Allow takes a token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.rate, lastRefill: now}
		rl.buckets[key] = b
	}
	b.lastSeen = now

	if periods := int(now.Sub(b.lastRefill) / rl.interval); periods > 0 {
		b.tokens += periods * rl.rate
		if b.tokens > rl.rate {
			b.tokens = rl.rate
		}
		b.lastRefill = b.lastRefill.Add(time.Duration(periods) * rl.interval)
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(rl.key(c)) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) sweep(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) > idle {
			delete(rl.buckets, k)
		}
	}
}
