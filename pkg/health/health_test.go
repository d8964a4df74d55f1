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


package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keyshard/pkg/storage/memory"
)

func TestChecker_Ready(t *testing.T) {
	c := NewChecker()

	results := c.Ready(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, "default", results[0].Name)
	assert.Equal(t, StatusHealthy, results[0].Status)

	c.Register("zeta", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusDegraded}
	})
	c.Register("alpha", func(ctx context.Context) CheckResult {
		return CheckResult{Name: "alpha", Status: StatusHealthy}
	})
	c.Register("ignored", nil)

	results = c.Ready(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Name)
	assert.Equal(t, "zeta", results[1].Name, "name defaults to the registered name")
	assert.Equal(t, StatusDegraded, AggregateStatus(results))
}

func TestChecker_Startup(t *testing.T) {
	c := NewChecker()
	assert.Equal(t, StatusUnhealthy, c.Startup(context.Background()).Status)

	c.MarkStarted()
	assert.Equal(t, StatusHealthy, c.Startup(context.Background()).Status)

	c.MarkNotStarted()
	assert.Equal(t, StatusUnhealthy, c.Startup(context.Background()).Status)

	assert.Equal(t, StatusHealthy, c.Live(context.Background()).Status)
	assert.GreaterOrEqual(t, c.Uptime(), time.Duration(0))
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{name: "empty", want: StatusHealthy},
		{name: "all healthy", statuses: []Status{StatusHealthy, StatusHealthy}, want: StatusHealthy},
		{name: "degraded", statuses: []Status{StatusHealthy, StatusDegraded}, want: StatusDegraded},
		{name: "unhealthy wins", statuses: []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make([]CheckResult, len(tt.statuses))
			for i, s := range tt.statuses {
				results[i] = CheckResult{Status: s}
			}
			assert.Equal(t, tt.want, AggregateStatus(results))
		})
	}
}

func TestStorageCheck(t *testing.T) {
	store := memory.New()
	check := StorageCheck(store)

	r := check(context.Background())
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Equal(t, "storage", r.Name)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, StatusUnhealthy, check(ctx).Status)

	require.NoError(t, store.Close())
	r = check(context.Background())
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Equal(t, "backend closed", r.Message)
	assert.NotEmpty(t, r.Error)
}

func TestLatencyCheck(t *testing.T) {
	slow := func(ctx context.Context) CheckResult {
		time.Sleep(20 * time.Millisecond)
		return CheckResult{Name: "slow", Status: StatusHealthy}
	}

	assert.Equal(t, StatusDegraded, LatencyCheck(slow, time.Millisecond)(context.Background()).Status)
	assert.Equal(t, StatusHealthy, LatencyCheck(slow, time.Minute)(context.Background()).Status)
}
