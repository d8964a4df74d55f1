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

package custody

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keyshard/pkg/crypto/secretsharing"
	"github.com/jeremyhahn/go-keyshard/pkg/metrics"
	"github.com/jeremyhahn/go-keyshard/pkg/ratelimit"
	"github.com/jeremyhahn/go-keyshard/pkg/storage"
	"github.com/jeremyhahn/go-keyshard/pkg/storage/file"
	"github.com/jeremyhahn/go-keyshard/pkg/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func newTestVault(t *testing.T, opts ...Option) (*Vault, storage.Backend) {
	t.Helper()
	store := memory.New()
	v, err := New(store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v, store
}

var plaintext = []byte("the launch codes are 0000")

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	tests := []struct {
		name      string
		shares    int
		threshold int
		ttl       time.Duration
	}{
		{name: "zero shares", shares: 0, threshold: 1},
		{name: "threshold above shares", shares: 3, threshold: 4},
		{name: "too many shares", shares: 256, threshold: 2},
		{name: "negative ttl", shares: 3, threshold: 2, ttl: -time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(memory.New(), WithDefaults(tt.shares, tt.threshold, tt.ttl))
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	ctx := context.Background()
	v, store := newTestVault(t)

	env, err := v.Seal(ctx, plaintext, SealOptions{Shares: 5, Threshold: 3})
	require.NoError(t, err)

	require.NoError(t, uuid.Validate(env.FileID))
	assert.Len(t, env.Nonce, 12)
	assert.Len(t, env.Ciphertext, len(plaintext)+16)
	assert.False(t, bytes.Contains(env.Ciphertext, plaintext))

	keys, err := store.List(shardPrefix(env.FileID))
	require.NoError(t, err)
	assert.Len(t, keys, 5)

	got, err := v.Open(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	rec, err := v.Stat(ctx, env.FileID)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Threshold)
	assert.Equal(t, 5, rec.Total)
	assert.Equal(t, len(plaintext), rec.Size)
	assert.Equal(t, 1, rec.Views)
	assert.Nil(t, rec.ExpiresAt)
	assert.Nil(t, rec.KeyCheck, "Stat must not expose the key check value")
}

func TestSeal_Defaults(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	v, _ := newTestVault(t, WithDefaults(4, 2, time.Hour), WithClock(clock.Now))

	env, err := v.Seal(ctx, plaintext, SealOptions{})
	require.NoError(t, err)

	rec, err := v.Stat(ctx, env.FileID)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Total)
	assert.Equal(t, 2, rec.Threshold)
	require.NotNil(t, rec.ExpiresAt)
	assert.True(t, clock.Now().Add(time.Hour).Equal(*rec.ExpiresAt))

	env, err = v.Seal(ctx, plaintext, SealOptions{Shares: 1})
	require.NoError(t, err)
	rec, err = v.Stat(ctx, env.FileID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Threshold, "default threshold is capped at the share count")
}

func TestSeal_EmptyPlaintext(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	env, err := v.Seal(ctx, nil, SealOptions{Shares: 2, Threshold: 2})
	require.NoError(t, err)

	got, err := v.Open(ctx, env)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSeal_InvalidOptions(t *testing.T) {
	ctx := context.Background()
	v, store := newTestVault(t)

	tests := []struct {
		name    string
		opts    SealOptions
		wantErr error
	}{
		{name: "threshold above shares", opts: SealOptions{Shares: 2, Threshold: 3}, wantErr: secretsharing.ErrInvalidThreshold},
		{name: "too many shares", opts: SealOptions{Shares: 300, Threshold: 2}, wantErr: secretsharing.ErrTooManyShares},
		{name: "negative ttl", opts: SealOptions{TTL: -time.Minute}, wantErr: ErrInvalidOptions},
		{name: "negative max views", opts: SealOptions{MaxViews: -1}, wantErr: ErrInvalidOptions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Seal(ctx, plaintext, tt.opts)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	keys, err := store.List("")
	require.NoError(t, err)
	assert.Empty(t, keys, "failed seals must not leave records")
}

func TestSeal_RandomFailure(t *testing.T) {
	v, _ := newTestVault(t, WithRandom(failingReader{}))

	_, err := v.Seal(context.Background(), plaintext, SealOptions{})
	assert.ErrorContains(t, err, "entropy exhausted")
}

func TestSeal_CancelledContext(t *testing.T) {
	v, _ := newTestVault(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Seal(ctx, plaintext, SealOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_Tampering(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	env, err := v.Seal(ctx, plaintext, SealOptions{Shares: 3, Threshold: 2})
	require.NoError(t, err)
	other, err := v.Seal(ctx, []byte("other"), SealOptions{Shares: 3, Threshold: 2})
	require.NoError(t, err)

	t.Run("flipped ciphertext bit", func(t *testing.T) {
		bad := *env
		bad.Ciphertext = bytes.Clone(env.Ciphertext)
		bad.Ciphertext[0] ^= 1
		_, err := v.Open(ctx, &bad)
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("envelope moved to another file id", func(t *testing.T) {
		bad := *env
		bad.FileID = other.FileID
		_, err := v.Open(ctx, &bad)
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("short nonce", func(t *testing.T) {
		bad := *env
		bad.Nonce = env.Nonce[:4]
		_, err := v.Open(ctx, &bad)
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("nil envelope", func(t *testing.T) {
		_, err := v.Open(ctx, nil)
		assert.ErrorIs(t, err, ErrDecrypt)
	})
}

func TestOpen_InvalidAndUnknownIDs(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	for _, id := range []string{"", "nope", "../files/x", "6F9619FF-8B86-D011-B42D-00C04FC964FF"} {
		_, err := v.Open(ctx, &Envelope{FileID: id})
		assert.ErrorIs(t, err, ErrInvalidFileID, "id %q", id)
	}

	_, err := v.Open(ctx, &Envelope{FileID: uuid.NewString()})
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestRevoke_Threshold(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	env, err := v.Seal(ctx, plaintext, SealOptions{Shares: 5, Threshold: 3})
	require.NoError(t, err)

	require.NoError(t, v.Revoke(ctx, env.FileID, 1))
	require.NoError(t, v.Revoke(ctx, env.FileID, 2))
	require.NoError(t, v.Revoke(ctx, env.FileID, 2), "revoking twice is a no-op")

	got, err := v.Open(ctx, env)
	require.NoError(t, err, "three live shards still meet the threshold")
	assert.Equal(t, plaintext, got)

	require.NoError(t, v.Revoke(ctx, env.FileID, 5))

	_, err = v.Open(ctx, env)
	require.ErrorIs(t, err, ErrInsufficientShares)
	insufficient, ok := IsInsufficient(err)
	require.True(t, ok)
	assert.Equal(t, 2, insufficient.Have)
	assert.Equal(t, 3, insufficient.Threshold)
	assert.Equal(t, env.FileID, insufficient.FileID)

	infos, err := v.Shards(ctx, env.FileID)
	require.NoError(t, err)
	require.Len(t, infos, 5)
	for _, info := range infos {
		revoked := info.Index == 1 || info.Index == 2 || info.Index == 5
		assert.Equal(t, revoked, info.Revoked, "index %d", info.Index)
		if revoked {
			assert.Zero(t, info.Size)
			assert.NotNil(t, info.RevokedAt)
		} else {
			assert.Equal(t, KeySize, info.Size)
		}
	}
}

func TestRevoke_Errors(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	env, err := v.Seal(ctx, plaintext, SealOptions{Shares: 3, Threshold: 2})
	require.NoError(t, err)

	assert.ErrorIs(t, v.Revoke(ctx, env.FileID, 9), ErrShardNotFound)
	assert.ErrorIs(t, v.Revoke(ctx, uuid.NewString(), 1), ErrFileNotFound)

	require.NoError(t, v.Destroy(ctx, env.FileID))
	assert.ErrorIs(t, v.Revoke(ctx, env.FileID, 1), ErrDestroyed)
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	v, store := newTestVault(t)

	env, err := v.Seal(ctx, plaintext, SealOptions{Shares: 4, Threshold: 2})
	require.NoError(t, err)

	require.NoError(t, v.Destroy(ctx, env.FileID))

	keys, err := store.List(shardPrefix(env.FileID))
	require.NoError(t, err)
	assert.Empty(t, keys, "shards must be hard-deleted")

	_, err = v.Open(ctx, env)
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = v.Recover(ctx, env.FileID)
	assert.ErrorIs(t, err, ErrDestroyed)

	rec, err := v.Stat(ctx, env.FileID)
	require.NoError(t, err)
	assert.True(t, rec.Destroyed)
	assert.NotNil(t, rec.DestroyedAt)

	require.NoError(t, v.Destroy(ctx, env.FileID), "destroy is idempotent")
	assert.ErrorIs(t, v.Destroy(ctx, uuid.NewString()), ErrFileNotFound)

	infos, err := v.Shards(ctx, env.FileID)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestExpiryAndPurge(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	v, store := newTestVault(t, WithClock(clock.Now))

	short, err := v.Seal(ctx, plaintext, SealOptions{Shares: 3, Threshold: 2, TTL: time.Hour})
	require.NoError(t, err)
	forever, err := v.Seal(ctx, plaintext, SealOptions{Shares: 3, Threshold: 2})
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, err = v.Open(ctx, short)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = v.Open(ctx, short)
	assert.ErrorIs(t, err, ErrExpired, "a file expires at its expiry instant")

	purged, err := v.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FilesActive))

	_, err = v.Open(ctx, short)
	assert.ErrorIs(t, err, ErrDestroyed)
	keys, err := store.List(shardPrefix(short.FileID))
	require.NoError(t, err)
	assert.Empty(t, keys)

	purged, err = v.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)

	got, err := v.Open(ctx, forever)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestRunPurger_StopsOnCancel(t *testing.T) {
	v, _ := newTestVault(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		v.RunPurger(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purger did not stop")
	}
}

func TestOpen_MaxViews(t *testing.T) {
	ctx := context.Background()
	v, store := newTestVault(t)

	env, err := v.Seal(ctx, plaintext, SealOptions{Shares: 3, Threshold: 2, MaxViews: 2})
	require.NoError(t, err)

	for range 2 {
		got, err := v.Open(ctx, env)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}

	_, err = v.Open(ctx, env)
	assert.ErrorIs(t, err, ErrDestroyed)

	keys, err := store.List(shardPrefix(env.FileID))
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	env, err := v.Seal(ctx, plaintext, SealOptions{Shares: 5, Threshold: 3})
	require.NoError(t, err)

	all, err := v.Recover(ctx, env.FileID)
	require.NoError(t, err)
	require.Len(t, all, KeySize)

	subset, err := v.Recover(ctx, env.FileID, 5, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, all, subset)

	got, err := decrypt(subset, env)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	_, err = v.Recover(ctx, env.FileID, 1, 2)
	assert.ErrorIs(t, err, ErrInsufficientShares)

	_, err = v.Recover(ctx, env.FileID, 1, 2, 9)
	assert.ErrorIs(t, err, ErrShardNotFound)

	require.NoError(t, v.Revoke(ctx, env.FileID, 3))
	_, err = v.Recover(ctx, env.FileID, 1, 2, 3)
	assert.ErrorIs(t, err, ErrShardNotFound, "revoked shards cannot be selected")
}

func TestOpen_CorruptedShard(t *testing.T) {
	ctx := context.Background()
	v, store := newTestVault(t)

	env, err := v.Seal(ctx, plaintext, SealOptions{Shares: 3, Threshold: 3})
	require.NoError(t, err)

	key := shardKey(env.FileID, 2)
	shard, err := v.loadShard(key)
	require.NoError(t, err)
	shard.Payload[0] ^= 0xFF
	data, err := encode(shard)
	require.NoError(t, err)
	require.NoError(t, store.Put(key, data, nil))

	_, err = v.Open(ctx, env)
	assert.ErrorIs(t, err, ErrKeyMismatch)
}

func TestOpen_RateLimited(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimit.New(&ratelimit.Config{Enabled: true, RequestsPerMinute: 1, Burst: 2})
	defer limiter.Stop()
	v, _ := newTestVault(t, WithLimiter(limiter))

	env, err := v.Seal(ctx, plaintext, SealOptions{Shares: 3, Threshold: 2})
	require.NoError(t, err)
	other, err := v.Seal(ctx, plaintext, SealOptions{Shares: 3, Threshold: 2})
	require.NoError(t, err)

	_, err = v.Open(ctx, env)
	require.NoError(t, err)
	_, err = v.Recover(ctx, env.FileID)
	require.NoError(t, err)

	_, err = v.Open(ctx, env)
	require.ErrorIs(t, err, ErrRateLimited)
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Greater(t, rl.RetryAfter, time.Duration(0))

	_, err = v.Open(ctx, other)
	assert.NoError(t, err, "limits are per file")
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	env, err := v.Seal(ctx, plaintext, SealOptions{Shares: 3, Threshold: 2})
	require.NoError(t, err)
	_, err = v.Open(ctx, env)
	require.NoError(t, err)
	require.NoError(t, v.Revoke(ctx, env.FileID, 1))
	require.NoError(t, v.Destroy(ctx, env.FileID))

	events, err := v.History(ctx, env.FileID)
	require.NoError(t, err)

	actions := make([]string, len(events))
	for i, ev := range events {
		actions[i] = ev.Action
	}
	assert.Equal(t, []string{ActionSealed, ActionOpened, ActionRevoked, ActionDestroyed}, actions)
	assert.Equal(t, "2-of-3", events[0].Detail)
}

func TestVault_FileBackendSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	store, err := file.New(root)
	require.NoError(t, err)
	v, err := New(store)
	require.NoError(t, err)

	env, err := v.Seal(ctx, plaintext, SealOptions{Shares: 3, Threshold: 2})
	require.NoError(t, err)
	require.NoError(t, v.Close())

	store2, err := file.New(root)
	require.NoError(t, err)
	v2, err := New(store2)
	require.NoError(t, err)
	defer v2.Close()

	got, err := v2.Open(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestVault_ConcurrentSealOpen(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := []byte{byte(i), byte(i), byte(i)}
			env, err := v.Seal(ctx, data, SealOptions{Shares: 4, Threshold: 3})
			if !assert.NoError(t, err) {
				return
			}
			got, err := v.Open(ctx, env)
			assert.NoError(t, err)
			assert.Equal(t, data, got)
		}(i)
	}
	wg.Wait()
}

func TestVault_Metrics(t *testing.T) {
	metrics.Enable()
	ctx := context.Background()
	v, _ := newTestVault(t)

	before := testutil.ToFloat64(metrics.OperationsTotal.WithLabelValues(metrics.OpSeal, metrics.StatusSuccess))
	errsBefore := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues(metrics.OpOpen, "file_not_found"))

	_, err := v.Seal(ctx, plaintext, SealOptions{})
	require.NoError(t, err)
	_, err = v.Open(ctx, &Envelope{FileID: uuid.NewString()})
	require.Error(t, err)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.OperationsTotal.WithLabelValues(metrics.OpSeal, metrics.StatusSuccess)))
	assert.Equal(t, errsBefore+1, testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues(metrics.OpOpen, "file_not_found")))
}

func TestHistory_UnknownFile(t *testing.T) {
	v, _ := newTestVault(t)

	_, err := v.History(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrFileNotFound)
}
