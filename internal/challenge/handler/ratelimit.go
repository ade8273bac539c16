package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleEviction  = 10 * time.Minute
)

// clientLimiters tracks one token bucket per client IP and evicts buckets
// that have been idle longer than limiterIdleEviction.
type clientLimiters struct {
	mu    sync.Mutex
	perIP map[string]*clientBucket
	rps   rate.Limit
	burst int
}

type clientBucket struct {
	bucket *rate.Limiter
	seen   time.Time
}

func newClientLimiters(rps, burst int) *clientLimiters {
	return &clientLimiters{
		perIP: make(map[string]*clientBucket),
		rps:   rate.Limit(rps),
		burst: burst,
	}
}

// allow reports whether ip may make a request now.
func (cl *clientLimiters) allow(ip string) bool {
	cl.mu.Lock()
	cb, ok := cl.perIP[ip]
	if !ok {
		cb = &clientBucket{bucket: rate.NewLimiter(cl.rps, cl.burst)}
		cl.perIP[ip] = cb
	}
	cb.seen = time.Now()
	cl.mu.Unlock()

	return cb.bucket.Allow()
}

func (cl *clientLimiters) evictIdle(cutoff time.Time) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for ip, cb := range cl.perIP {
		if cb.seen.Before(cutoff) {
			delete(cl.perIP, ip)
		}
	}
}

// RateLimiter returns a Gin middleware enforcing a per-IP token bucket of
// rps requests per second with the given burst.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	cl := newClientLimiters(rps, burst)

	go func() {
		t := time.NewTicker(limiterSweepInterval)
		defer t.Stop()
		for range t.C {
			cl.evictIdle(time.Now().Add(-limiterIdleEviction))
		}
	}()

	return func(c *gin.Context) {
		if !cl.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
