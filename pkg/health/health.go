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


// Package health implements liveness, readiness and startup probes for the
// keyshard service.
package health

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jeremyhahn/go-keyshard/pkg/storage"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckFunc performs one readiness check. It should return quickly.
type CheckFunc func(ctx context.Context) CheckResult

// Checker runs registered readiness checks and tracks startup.
type Checker struct {
	mu        sync.RWMutex
	started   bool
	startTime time.Time
	checks    map[string]CheckFunc
	now       func() time.Time
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Register adds or replaces the check called name. A nil check is ignored.
func (c *Checker) Register(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// MarkStarted marks initialization as complete.
func (c *Checker) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

// MarkNotStarted is used while shutting down.
func (c *Checker) MarkNotStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

// Live reports that the process is running. It never fails.
func (c *Checker) Live(ctx context.Context) CheckResult {
	return CheckResult{
		Name:    "liveness",
		Status:  StatusHealthy,
		Message: "service is alive",
	}
}

// Ready runs every registered check, ordered by name.
func (c *Checker) Ready(ctx context.Context) []CheckResult {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	if len(names) == 0 {
		return []CheckResult{{
			Name:    "default",
			Status:  StatusHealthy,
			Message: "no readiness checks configured",
		}}
	}

	slices.Sort(names)
	results := make([]CheckResult, 0, len(names))
	for _, name := range names {
		start := c.now()
		result := checks[name](ctx)
		result.Latency = c.now().Sub(start)
		if result.Name == "" {
			result.Name = name
		}
		results = append(results, result)
	}
	return results
}

// Startup fails until MarkStarted is called.
func (c *Checker) Startup(ctx context.Context) CheckResult {
	c.mu.RLock()
	started := c.started
	startTime := c.startTime
	c.mu.RUnlock()

	if !started {
		return CheckResult{
			Name:    "startup",
			Status:  StatusUnhealthy,
			Message: "service initialization not complete",
		}
	}
	return CheckResult{
		Name:    "startup",
		Status:  StatusHealthy,
		Message: fmt.Sprintf("service fully initialized (uptime: %s)", c.now().Sub(startTime).Round(time.Second)),
	}
}

// Uptime returns how long the checker has existed.
func (c *Checker) Uptime() time.Duration {
	return c.now().Sub(c.startTime)
}

// AggregateStatus is unhealthy if any result is, else degraded if any
// result is, else healthy.
func AggregateStatus(results []CheckResult) Status {
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// probeKey is read, never written, by StorageCheck.
const probeKey = "health/probe"

// StorageCheck reports whether the storage backend answers lookups. A
// closed backend is unhealthy.
func StorageCheck(store storage.Backend) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if err := ctx.Err(); err != nil {
			return unhealthy("storage", err)
		}
		if _, err := store.Exists(probeKey); err != nil {
			return unhealthy("storage", err)
		}
		return CheckResult{Name: "storage", Status: StatusHealthy}
	}
}

// LatencyCheck wraps check and reports degraded when it takes longer than
// limit.
func LatencyCheck(check CheckFunc, limit time.Duration) CheckFunc {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		r := check(ctx)
		if elapsed := time.Since(start); r.Status == StatusHealthy && elapsed > limit {
			r.Status = StatusDegraded
			r.Message = strings.TrimSpace(fmt.Sprintf("%s slow: %s", r.Message, elapsed.Round(time.Millisecond)))
		}
		return r
	}
}

func unhealthy(name string, err error) CheckResult {
	msg := "check failed"
	if errors.Is(err, storage.ErrClosed) {
		msg = "backend closed"
	}
	return CheckResult{
		Name:    name,
		Status:  StatusUnhealthy,
		Message: msg,
		Error:   err.Error(),
	}
}
