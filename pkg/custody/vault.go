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
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-keyshard/pkg/crypto/secretsharing"
	"github.com/jeremyhahn/go-keyshard/pkg/logging"
	"github.com/jeremyhahn/go-keyshard/pkg/metrics"
	"github.com/jeremyhahn/go-keyshard/pkg/ratelimit"
	"github.com/jeremyhahn/go-keyshard/pkg/storage"
)

const (
	// KeySize is the AES-256 data key length in bytes.
	KeySize = 32

	DefaultShares    = 5
	DefaultThreshold = 3
)

// Vault seals data and holds the key shares.
type Vault struct {
	mu      sync.Mutex
	store   storage.Backend
	sharer  *secretsharing.Shamir
	limiter *ratelimit.Limiter
	logger  *logging.Logger
	random  io.Reader
	now     func() time.Time
	seq     atomic.Uint64

	shares    int
	threshold int
	ttl       time.Duration
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Vault) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithLimiter throttles Open and Recover per file id.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(v *Vault) {
		v.limiter = l
	}
}

// WithRandom sets the randomness source for data keys, nonces and shares.
func WithRandom(r io.Reader) Option {
	return func(v *Vault) {
		if r != nil {
			v.random = r
		}
	}
}

// WithSharer sets the secret sharing instance. It takes precedence over
// WithRandom for share generation.
func WithSharer(s *secretsharing.Shamir) Option {
	return func(v *Vault) {
		v.sharer = s
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		if now != nil {
			v.now = now
		}
	}
}

// WithDefaults sets the share count, threshold and TTL used when
// SealOptions leaves them zero.
func WithDefaults(shares, threshold int, ttl time.Duration) Option {
	return func(v *Vault) {
		v.shares = shares
		v.threshold = threshold
		v.ttl = ttl
	}
}

// New creates a vault over store.
func New(store storage.Backend, opts ...Option) (*Vault, error) {
	if store == nil {
		return nil, errors.New("custody: storage backend is required")
	}

	v := &Vault{
		store:     store,
		logger:    logging.Discard(),
		random:    rand.Reader,
		now:       time.Now,
		shares:    DefaultShares,
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(v)
	}

	if v.sharer == nil {
		v.sharer = secretsharing.New(secretsharing.WithRandom(v.random))
	}
	if v.shares < 1 || v.shares > secretsharing.MaxShares || v.threshold < 1 || v.threshold > v.shares {
		return nil, fmt.Errorf("%w: default %d-of-%d", ErrInvalidOptions, v.threshold, v.shares)
	}
	if v.ttl < 0 {
		return nil, fmt.Errorf("%w: negative default ttl", ErrInvalidOptions)
	}
	return v, nil
}

// Close closes the underlying storage backend.
func (v *Vault) Close() error {
	return v.store.Close()
}

func checkID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return fmt.Errorf("%w: %q", ErrInvalidFileID, id)
	}
	return nil
}

func (v *Vault) checkRate(id string) error {
	if v.limiter == nil {
		return nil
	}
	if d := v.limiter.Check(id); !d.Allowed {
		return &RateLimitError{FileID: id, RetryAfter: d.RetryAfter}
	}
	return nil
}

func (v *Vault) loadFile(id string) (*FileRecord, error) {
	data, err := v.store.Get(fileKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
		}
		return nil, err
	}
	var rec FileRecord
	if err := decode(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (v *Vault) saveFile(rec *FileRecord) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return v.store.Put(fileKey(rec.ID), data, storage.DefaultOptions())
}

func (v *Vault) loadShard(key string) (*ShardRecord, error) {
	data, err := v.store.Get(key)
	if err != nil {
		return nil, err
	}
	defer clear(data)
	var rec ShardRecord
	if err := decode(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (v *Vault) saveShard(rec *ShardRecord) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	defer clear(data)
	return v.store.Put(shardKey(rec.FileID, rec.Index), data, storage.DefaultOptions())
}

// loadShards returns every shard record of a file in index order.
func (v *Vault) loadShards(id string) ([]*ShardRecord, error) {
	keys, err := v.store.List(shardPrefix(id))
	if err != nil {
		return nil, err
	}
	shards := make([]*ShardRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := v.loadShard(key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		shards = append(shards, rec)
	}
	return shards, nil
}

// deleteShards hard-deletes every shard of a file and returns the count.
func (v *Vault) deleteShards(id string) (int, error) {
	keys, err := v.store.List(shardPrefix(id))
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, key := range keys {
		if err := v.store.Delete(key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// record appends an event to a file's history. Failures are logged and
// never fail the calling operation.
func (v *Vault) record(id, action, detail string) {
	ev := Event{Action: action, Time: v.now().UTC(), Detail: detail}
	data, err := encode(ev)
	if err == nil {
		err = v.store.Put(eventKey(id, ev.Time, v.seq.Add(1)), data, storage.DefaultOptions())
	}
	if err != nil {
		v.logger.Warn("failed to record event", "file_id", id, "action", action, "error", err)
	}
}

func (v *Vault) observe(op string, start time.Time, err error) {
	metrics.RecordOperation(op, metrics.Status(err), time.Since(start))
	if err != nil {
		metrics.RecordError(op, errorType(err))
	}
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("custody: %w", err)
	}
	return nil
}

// errorType maps an error to a short metrics label.
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrFileNotFound):
		return "file_not_found"
	case errors.Is(err, ErrInvalidFileID):
		return "invalid_file_id"
	case errors.Is(err, ErrShardNotFound):
		return "shard_not_found"
	case errors.Is(err, ErrDestroyed):
		return "destroyed"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrKeyMismatch):
		return "key_mismatch"
	case errors.Is(err, ErrDecrypt):
		return "decrypt"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidOptions):
		return "invalid_options"
	case errors.Is(err, secretsharing.ErrInvalidThreshold):
		return "invalid_threshold"
	case errors.Is(err, secretsharing.ErrTooManyShares):
		return "too_many_shares"
	case errors.Is(err, secretsharing.ErrDivisionByZero):
		return "duplicate_index"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	case errors.Is(err, storage.ErrClosed):
		return "storage_closed"
	default:
		return "internal"
	}
}
