package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const sweepInterval = time.Minute

// MemoryLimiter is a per-process token bucket per key and window: each bucket
// holds Limit tokens and refills at Limit per Period.
type MemoryLimiter struct {
	windows []Window
	idle    time.Duration
	now     func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientBuckets
	lastSweep time.Time
}

type clientBuckets struct {
	buckets  []*rate.Limiter
	lastSeen time.Time
}

func NewMemoryLimiter(windows []Window) (*MemoryLimiter, error) {
	if len(windows) == 0 {
		return nil, errors.New("no rate limit windows configured")
	}
	var idle time.Duration
	for _, w := range windows {
		idle = max(idle, w.Period)
	}
	return &MemoryLimiter{
		windows: windows,
		idle:    idle,
		now:     time.Now,
		clients: make(map[string]*clientBuckets),
	}, nil
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	cb, ok := l.clients[key]
	if !ok {
		cb = &clientBuckets{buckets: make([]*rate.Limiter, len(l.windows))}
		for i, w := range l.windows {
			cb.buckets[i] = rate.NewLimiter(rate.Every(w.Period/time.Duration(w.Limit)), w.Limit)
		}
		l.clients[key] = cb
	}
	cb.lastSeen = now

	reservations := make([]*rate.Reservation, len(l.windows))
	allowed := true
	for i, b := range cb.buckets {
		reservations[i] = b.ReserveN(now, 1)
		if !reservations[i].OK() || reservations[i].DelayFrom(now) > 0 {
			allowed = false
		}
	}

	var result Decision
	for i, w := range l.windows {
		d := Decision{Allowed: true, Limit: w.Limit}
		if delay := reservations[i].DelayFrom(now); delay > 0 {
			d.Allowed = false
			d.RetryAfter = delay
		}
		if !allowed {
			// a rejected request consumes nothing from any window
			reservations[i].CancelAt(now)
		}
		d.Remaining = int(cb.buckets[i].TokensAt(now))
		if i == 0 || tighter(d, result) {
			result = d
		}
	}
	result.Allowed = allowed
	return result, nil
}

// sweep forgets clients whose buckets have fully refilled. Callers hold mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = now
	for key, cb := range l.clients {
		if now.Sub(cb.lastSeen) > l.idle {
			delete(l.clients, key)
		}
	}
}
