package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/casescan/config"
	"github.com/use-agent/casescan/models"
	"golang.org/x/time/rate"
)

const (
	limiterIdle  = time.Hour
	sweepEvery   = 5 * time.Minute
	identityKey  = "api_key"
	retryHeader  = "Retry-After"
	defaultBurst = 1
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet hands out one token bucket per caller identity and forgets
// identities idle for longer than limiterIdle.
type limiterSet struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

func newLimiterSet(cfg config.RateLimitConfig) *limiterSet {
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	return &limiterSet{
		entries:   make(map[string]*limiterEntry),
		limit:     rate.Limit(cfg.RequestsPerSecond),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

func (s *limiterSet) get(identity string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= sweepEvery {
		cutoff := now.Add(-limiterIdle)
		for id, e := range s.entries {
			if e.lastSeen.Before(cutoff) {
				delete(s.entries, id)
			}
		}
		s.lastSweep = now
	}

	e, ok := s.entries[identity]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[identity] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RateLimit limits requests per caller with a token bucket. The caller is
// the API key stored by Auth, or the client IP when auth is off. Scans hold
// a browser session for seconds to minutes, so the default budget is small.
// Rejected requests get 429 and a Retry-After in whole seconds.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	set := newLimiterSet(cfg)

	return func(c *gin.Context) {
		identity := c.ClientIP()
		if key, ok := c.Get(identityKey); ok {
			identity = key.(string)
		}

		now := time.Now()
		limiter := set.get(identity, now)
		if limiter.AllowN(now, 1) {
			c.Next()
			return
		}

		if wait := retryAfter(limiter, now); wait > 0 {
			c.Header(retryHeader, strconv.Itoa(wait))
		}
		abort(c, http.StatusTooManyRequests, models.ErrCodeRateLimited,
			"rate limit exceeded, please slow down")
	}
}

// retryAfter is the whole number of seconds until one token is available,
// or 0 when the bucket can never refill.
func retryAfter(l *rate.Limiter, now time.Time) int {
	r := l.ReserveN(now, 1)
	if !r.OK() {
		return 0
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	if delay == rate.InfDuration {
		return 0
	}
	return int(math.Ceil(delay.Seconds()))
}
