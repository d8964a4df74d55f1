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

package metrics

import (
	"context"
	"runtime"
	"time"
)

// ResourceCollector periodically samples runtime gauges until its context
// is cancelled.
type ResourceCollector struct {
	interval time.Duration
	started  time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// StartResourceCollector samples immediately and then every interval in a
// background goroutine. Call Stop to end it.
func StartResourceCollector(ctx context.Context, interval time.Duration) *ResourceCollector {
	ctx, cancel := context.WithCancel(ctx)
	rc := &ResourceCollector{
		interval: interval,
		started:  time.Now(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go rc.run(ctx)
	return rc
}

func (rc *ResourceCollector) run(ctx context.Context) {
	defer close(rc.done)

	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	rc.collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.collect()
		}
	}
}

// Stop cancels the collector and waits for it to exit.
func (rc *ResourceCollector) Stop() {
	rc.cancel()
	<-rc.done
}

func (rc *ResourceCollector) collect() {
	if !IsEnabled() {
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	Goroutines.Set(float64(runtime.NumGoroutine()))
	MemoryAllocBytes.Set(float64(mem.Alloc))
	ServerUptime.Set(time.Since(rc.started).Seconds())
}
