package ratelimit

import (
	ratelib "golang.org/x/time/rate"

	"github.com/fabian4/gateway-lite/internal/model"
)

// Limiter holds one token bucket per rate-limited route.
// The map is built once and only read afterwards; each rate.Limiter is safe for concurrent use.
type Limiter struct {
	limiters map[string]*ratelib.Limiter
}

// New creates a bucket for every entry that carries a RateLimit.
func New(entries []model.RouteEntry) *Limiter {
	l := &Limiter{limiters: make(map[string]*ratelib.Limiter)}
	for _, e := range entries {
		if e.RateLimit == nil || e.RateLimit.RequestsPerSecond <= 0 {
			continue
		}
		burst := e.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		l.limiters[e.Key] = ratelib.NewLimiter(ratelib.Limit(e.RateLimit.RequestsPerSecond), burst)
	}
	return l
}

// Allow reports whether a request for key may proceed. Keys without a bucket are unlimited.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	lim, ok := l.limiters[key]
	if !ok {
		return true
	}
	return lim.Allow()
}

// Len is the number of limited routes.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	return len(l.limiters)
}
