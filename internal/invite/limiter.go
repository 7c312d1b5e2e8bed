package invite

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// attemptLimiter throttles redemption attempts per user so invite codes
// cannot be brute forced from one account.
type attemptLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*entry
	ttl      time.Duration
}

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newAttemptLimiter(perMinute float64, burst int) *attemptLimiter {
	return &attemptLimiter{
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		limiters: make(map[string]*entry),
		ttl:      10 * time.Minute,
	}
}

func (l *attemptLimiter) allow(userID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.ttl {
			delete(l.limiters, id)
		}
	}
	e, ok := l.limiters[userID]
	if !ok {
		e = &entry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}
