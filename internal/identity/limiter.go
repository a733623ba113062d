package identity

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxIdleLimiters is the map size above which idle limiters are swept.
const maxIdleLimiters = 256

// attemptLimiter throttles sign-in attempts per key. A limiter whose bucket
// has refilled behaves like a fresh one, so it is dropped once the map grows
// past maxIdleLimiters.
type attemptLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newAttemptLimiter(limit rate.Limit, burst int) *attemptLimiter {
	return &attemptLimiter{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (a *attemptLimiter) allow(key string, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[key]
	if !ok {
		if len(a.limiters) >= maxIdleLimiters {
			a.sweepLocked(now)
		}
		l = rate.NewLimiter(a.limit, a.burst)
		a.limiters[key] = l
	}
	return l.AllowN(now, 1)
}

func (a *attemptLimiter) sweepLocked(now time.Time) {
	for k, l := range a.limiters {
		if l.TokensAt(now) >= float64(a.burst) {
			delete(a.limiters, k)
		}
	}
}

func (a *attemptLimiter) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.limiters)
}
