package app

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL       = 10 * time.Minute
	limiterSweepInterval = time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ownerLimiter keeps one token bucket per owner. Buckets idle for longer
// than limiterIdleTTL are dropped on the next sweep.
type ownerLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	limiters  map[string]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

// newOwnerLimiter returns nil when rps disables throttling.
func newOwnerLimiter(rps float64, burst int) *ownerLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &ownerLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
}

func (l *ownerLimiter) Allow(ownerID string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= limiterSweepInterval {
		l.sweep(now)
	}
	entry, ok := l.limiters[ownerID]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ownerID] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// sweep must be called with mu held.
func (l *ownerLimiter) sweep(now time.Time) {
	for ownerID, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.limiters, ownerID)
		}
	}
	l.lastSweep = now
}
