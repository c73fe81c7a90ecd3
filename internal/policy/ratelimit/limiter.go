// Package ratelimit implements a per-key token bucket rate limiter used to
// pace outbound crawl traffic, keyed either by hostname (dynamic-fetch
// throttling) or by a caller-chosen constant (session-wide pacing).
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/time/rate"

	"github.com/heyitsk/autoCrawler/internal/hcmetrics"
)

const backoffInvocations = 5

// entry tracks one key's limiter plus its normal rate and any active
// rate-limit backoff countdown.
type entry struct {
	limiter    *rate.Limiter
	normalRate rate.Limit
	backoff    int
}

// Limiter manages per-key rate limits with support for a temporary,
// count-bounded backoff after a 429-class response.
type Limiter struct {
	mu           sync.Mutex
	entries      map[string]*entry
	defaultRate  rate.Limit
	defaultBurst int
	metrics      *hcmetrics.Recorder
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	Metrics      *hcmetrics.Recorder
}

// New creates a Limiter. A DefaultRPS <= 0 means unlimited.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = hcmetrics.NewNoop()
	}
	return &Limiter{
		entries:      make(map[string]*entry),
		defaultRate:  r,
		defaultBurst: burst,
		metrics:      metrics,
	}
}

// Wait blocks until a token is available for rawURL's hostname.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	return l.WaitKey(ctx, hostnameOf(rawURL))
}

// WaitKey blocks until a token is available for the given key directly,
// bypassing hostname extraction. Used for session-wide pacing where every
// invocation should share one bucket regardless of the URL it targets.
func (l *Limiter) WaitKey(ctx context.Context, key string) error {
	e := l.entryFor(key)
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	l.mu.Lock()
	if e.backoff > 0 {
		e.backoff--
		if e.backoff == 0 {
			e.limiter.SetLimit(e.normalRate)
		}
	}
	l.mu.Unlock()
	return nil
}

// Backoff doubles key's wait interval for the next backoffInvocations calls
// to WaitKey/Wait, then automatically restores the normal rate.
func (l *Limiter) Backoff(key string) {
	e := l.entryFor(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	e.backoff = backoffInvocations
	if e.normalRate != rate.Inf && e.normalRate > 0 {
		e.limiter.SetLimit(e.normalRate / 2)
	}
	l.metrics.ObserveRateLimitBackoff(key)
}

func (l *Limiter) entryFor(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{
			limiter:    rate.NewLimiter(l.defaultRate, l.defaultBurst),
			normalRate: l.defaultRate,
		}
		l.entries[key] = e
	}
	return e
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	if u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

// RPSForDelay converts a minimum-interval-in-milliseconds floor (e.g.
// Options.DelayMs) into the requests-per-second value New's Config expects.
func RPSForDelay(delayMs int) float64 {
	if delayMs <= 0 {
		return 0
	}
	return 1000.0 / float64(delayMs)
}
