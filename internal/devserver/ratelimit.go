// Package devserver — in-memory token-bucket rate limiting.
//
// Per-identity buckets backed by golang.org/x/time/rate, with opportunistic
// eviction of idle buckets. Process-local, which is all a development stub
// needs.
package devserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// visitorTTL is how long an idle bucket survives before eviction.
const visitorTTL = 10 * time.Minute

// cleanupEvery triggers eviction after this many lookups.
const cleanupEvery = 5000

// visitor holds one bucket and the last time it was used.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements a per-key token-bucket rate limiter keyed by client
// identity: the bearer-implied user when present, client IP otherwise. Safe
// for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
	lookups  uint64
}

// NewRateLimiter constructs a limiter with the given tokens-per-second and
// burst size; burst values below 1 are coerced to 1.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

// key derives the bucket identity for a request.
func (rl *RateLimiter) key(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		return "auth:" + auth
	}
	return "ip:" + c.ClientIP()
}

// allow reports whether the request identified by key may proceed, creating
// its bucket on demand. Eviction runs before the lookup so an idle bucket is
// dropped even when it is the one being fetched.
func (rl *RateLimiter) allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	rl.lookups++
	if rl.lookups >= cleanupEvery {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= visitorTTL {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	lim := v.limiter
	rl.mu.Unlock()

	return lim.Allow()
}

// Handler returns the Gin middleware enforcing the limiter.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(rl.key(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"request_id": c.GetString(requestIDKey),
				"code":       "rate_limited",
				"message":    "too many requests",
			})
			return
		}
		c.Next()
	}
}
