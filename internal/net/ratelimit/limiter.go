// Package ratelimit provides per-host token-bucket rate limiting for the
// watcher and fetch layers. Government sources are shared infrastructure;
// every outbound call waits for a token for its host.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per host, created lazily.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a limiter with the given per-host rate and burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[host]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[host]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[host] = lim
	return lim
}

// Allow reports whether a request to host may proceed immediately.
func (l *Limiter) Allow(host string) bool {
	return l.forHost(host).Allow()
}

// Wait blocks until a request to host is allowed or the context is done.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.forHost(host).Wait(ctx)
}

// SetRPS updates the rate for all existing host buckets.
func (l *Limiter) SetRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rps = rps
	for _, lim := range l.limiters {
		lim.SetLimit(rate.Limit(rps))
	}
}

// HostStats is a point-in-time view of one host bucket, surfaced on the
// freshness endpoint.
type HostStats struct {
	Host            string        `json:"host"`
	RPS             float64       `json:"rps"`
	Burst           int           `json:"burst"`
	TokensAvailable float64       `json:"tokens_available"`
	Delay           time.Duration `json:"delay"`
}

// Stats returns statistics for every host seen so far.
func (l *Limiter) Stats() map[string]HostStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]HostStats, len(l.limiters))
	for host, lim := range l.limiters {
		res := lim.Reserve()
		delay := res.Delay()
		res.Cancel()
		stats[host] = HostStats{
			Host:            host,
			RPS:             float64(lim.Limit()),
			Burst:           lim.Burst(),
			TokensAvailable: lim.Tokens(),
			Delay:           delay,
		}
	}
	return stats
}
