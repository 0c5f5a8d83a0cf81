package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultCapacity is the number of requests a client may burst.
	DefaultCapacity = 60
	// DefaultRefillPeriod is the time it takes an empty bucket to refill to DefaultCapacity.
	DefaultRefillPeriod = time.Minute
)

// Limiter keeps one token bucket per client key. Buckets are created full on first sight and are
// kept for the lifetime of the Limiter.
type Limiter struct {
	capacity int
	limit    rate.Limit
	buckets  sync.Map
	now      func() time.Time
}

type Option func(*Limiter)

// WithClock replaces the time source, e.g. to step through refills in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter returns a Limiter whose buckets hold capacity tokens and refill evenly, one token
// every refillPeriod/capacity.
func NewLimiter(capacity int, refillPeriod time.Duration, opts ...Option) *Limiter {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if refillPeriod <= 0 {
		refillPeriod = DefaultRefillPeriod
	}
	l := &Limiter{
		capacity: capacity,
		limit:    rate.Every(refillPeriod / time.Duration(capacity)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes one token from the bucket of clientKey and reports whether one was available.
// A rejected call consumes nothing.
func (l *Limiter) Allow(clientKey string) bool {
	return l.bucket(clientKey).AllowN(l.now(), 1)
}

func (l *Limiter) bucket(clientKey string) *rate.Limiter {
	if b, ok := l.buckets.Load(clientKey); ok {
		return b.(*rate.Limiter)
	}
	b, _ := l.buckets.LoadOrStore(clientKey, rate.NewLimiter(l.limit, l.capacity))
	return b.(*rate.Limiter)
}
