// Package ratelimit implements per-target token bucket admission control.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Limiter manages one token bucket per crawl target.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS applies to targets that were never configured. Zero or less means unlimited.
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  toLimit(cfg.DefaultRPS),
		defaultBurst: burst,
	}
}

// Configure sets the refill rate for targetID. Existing buckets keep their
// current tokens; only the refill rate changes.
func (l *Limiter) Configure(targetID string, rps float64) {
	limit := toLimit(rps)
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[targetID]; ok {
		if limiter.Limit() != limit {
			limiter.SetLimit(limit)
		}
		return
	}
	l.limiters[targetID] = rate.NewLimiter(limit, l.defaultBurst)
}

// Remove drops the bucket for targetID.
func (l *Limiter) Remove(targetID string) {
	l.mu.Lock()
	delete(l.limiters, targetID)
	l.mu.Unlock()
}

// Admit blocks until a token is available for targetID. It fails only when
// ctx is done before admission.
func (l *Limiter) Admit(ctx context.Context, targetID string) error {
	limiter := l.bucket(targetID)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit admit %s: %w", targetID, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(targetID, waited)
	}
	return nil
}

func (l *Limiter) bucket(targetID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[targetID]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[targetID] = limiter
	}
	return limiter
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}
