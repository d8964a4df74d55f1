// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keyshard.
//
// go-keyshard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package ratelimit provides per-identifier token bucket rate limiting.
// Identifiers are client addresses for the HTTP server and file ids for
// reconstruction attempts in the custody vault.
package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per identifier and evicts buckets that
// have been idle longer than MaxIdle.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rate     rate.Limit
	burst    int
	enabled  bool
	maxIdle  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	Enabled bool

	// RequestsPerMinute is the sustained rate per identifier.
	RequestsPerMinute int

	// Burst is the bucket size. Defaults to RequestsPerMinute.
	Burst int

	// CleanupInterval defaults to one minute.
	CleanupInterval time.Duration

	// MaxIdle defaults to ten minutes.
	MaxIdle time.Duration
}

// Preset configurations per endpoint class.
var (
	// API applies to general requests: 60 per minute.
	API = Config{Enabled: true, RequestsPerMinute: 60}

	// Upload applies to sealing new files: 10 per minute.
	Upload = Config{Enabled: true, RequestsPerMinute: 10}

	// Sensitive applies to reconstruction attempts: 5 per minute.
	Sensitive = Config{Enabled: true, RequestsPerMinute: 5}
)

// Decision is the outcome of Check.
type Decision struct {
	Allowed bool

	// RetryAfter is how long until a request would be admitted. Zero when
	// Allowed is true.
	RetryAfter time.Duration
}

// Stats is a point-in-time view of the limiter.
type Stats struct {
	Enabled       bool    `json:"enabled"`
	ActiveClients int     `json:"active_clients"`
	RatePerMinute float64 `json:"rate_per_min"`
	Burst         int     `json:"burst"`
}

// New creates a limiter. A nil config or Enabled=false yields a limiter that
// admits everything. Enabled limiters run a cleanup goroutine until Stop.
func New(config *Config) *Limiter {
	if config == nil {
		config = &Config{}
	}

	burst := config.Burst
	if burst <= 0 {
		burst = config.RequestsPerMinute
	}
	cleanupInterval := config.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	maxIdle := config.MaxIdle
	if maxIdle <= 0 {
		maxIdle = 10 * time.Minute
	}

	l := &Limiter{
		limiters: make(map[string]*entry),
		rate:     rate.Limit(float64(config.RequestsPerMinute) / 60.0),
		burst:    burst,
		enabled:  config.Enabled && config.RequestsPerMinute > 0,
		maxIdle:  maxIdle,
		stop:     make(chan struct{}),
	}

	if l.enabled {
		go l.cleanupWorker(cleanupInterval)
	}
	return l
}

func (l *Limiter) get(id string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.limiters[id]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[id] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Allow reports whether one event for id may happen now.
func (l *Limiter) Allow(id string) bool {
	return l.Check(id).Allowed
}

// Check consumes a token for id if one is available. Otherwise it reports
// how long the caller should wait.
func (l *Limiter) Check(id string) Decision {
	if !l.enabled {
		return Decision{Allowed: true}
	}

	now := time.Now()
	r := l.get(id, now).ReserveN(now, 1)
	if !r.OK() {
		return Decision{RetryAfter: time.Duration(math.MaxInt64)}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{RetryAfter: delay}
	}
	return Decision{Allowed: true}
}

// Wait blocks until an event for id is permitted or ctx is done.
func (l *Limiter) Wait(ctx context.Context, id string) error {
	if !l.enabled {
		return nil
	}
	return l.get(id, time.Now()).Wait(ctx)
}

// Reset forgets the bucket for id.
func (l *Limiter) Reset(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, id)
}

func (l *Limiter) cleanupWorker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			l.cleanup(now)
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.maxIdle {
			delete(l.limiters, id)
		}
	}
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Enabled:       l.enabled,
		ActiveClients: len(l.limiters),
		RatePerMinute: float64(l.rate) * 60,
		Burst:         l.burst,
	}
}

func (l *Limiter) IsEnabled() bool {
	return l.enabled
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header. Clients are keyed by ClientIP.
func Middleware(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Check(ClientIP(r))
			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				if secs < 1 || d.RetryAfter == time.Duration(math.MaxInt64) {
					secs = 60
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For entry, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
