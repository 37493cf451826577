package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter is the in-process fallback used when no Redis address is
// configured. State is lost on restart and not shared between replicas.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localEntry
	idleTTL time.Duration
	now     func() time.Time
	sweeps  int
}

type localEntry struct {
	lim    *rate.Limiter
	bucket Bucket
	seen   time.Time
}

const sweepEvery = 256

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*localEntry),
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || !bucket.Enabled() {
		return Decision{Allowed: true, Remaining: bucket.BurstSize}, nil
	}
	scope, subject = normalizeKey(scope, subject)
	key := scope + ":" + subject
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweeps++
	if l.sweeps%sweepEvery == 0 {
		l.evictIdle(now)
	}

	e, ok := l.buckets[key]
	if !ok || e.bucket != bucket {
		e = &localEntry{
			lim:    rate.NewLimiter(rate.Limit(bucket.perSecond()), bucket.BurstSize),
			bucket: bucket,
		}
		l.buckets[key] = e
	}
	e.seen = now

	r := e.lim.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, RetryAfter: time.Minute}, nil
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return Decision{Allowed: true, Remaining: int(e.lim.TokensAt(now))}, nil
	}
	r.CancelAt(now)
	return Decision{Allowed: false, RetryAfter: wholeSeconds(delay)}, nil
}

func (l *LocalLimiter) evictIdle(now time.Time) {
	for k, e := range l.buckets {
		if now.Sub(e.seen) > l.idleTTL {
			delete(l.buckets, k)
		}
	}
}
