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
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jeremyhahn/go-keyshard/pkg/crypto/secretsharing"
	"github.com/jeremyhahn/go-keyshard/pkg/metrics"
)

// Open reconstructs the data key of env.FileID from its live shards and
// decrypts the envelope. A successful open counts as one view; reaching
// MaxViews destroys the file.
func (v *Vault) Open(ctx context.Context, env *Envelope) (plaintext []byte, err error) {
	start := time.Now()
	defer func() { v.observe(metrics.OpOpen, start, err) }()

	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrDecrypt)
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := checkID(env.FileID); err != nil {
		return nil, err
	}
	if err := v.checkRate(env.FileID); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	rec, shards, err := v.openable(env.FileID)
	if err != nil {
		return nil, err
	}
	defer wipe(shards)

	key, err := v.reconstruct(rec, shards)
	if err != nil {
		return nil, err
	}
	defer clear(key)

	plaintext, err = decrypt(key, env)
	if err != nil {
		return nil, err
	}

	rec.Views++
	burn := rec.MaxViews > 0 && rec.Views >= rec.MaxViews
	if burn {
		if _, err := v.destroyLocked(rec); err != nil {
			clear(plaintext)
			return nil, fmt.Errorf("custody: destroy after final view: %w", err)
		}
	} else if err := v.saveFile(rec); err != nil {
		clear(plaintext)
		return nil, fmt.Errorf("custody: update view count: %w", err)
	}

	v.record(rec.ID, ActionOpened, fmt.Sprintf("view %d", rec.Views))
	v.logger.Info("file opened", "file_id", rec.ID, "views", rec.Views, "shares_used", len(shards))
	if burn {
		v.record(rec.ID, ActionDestroyed, "view limit reached")
		v.logger.Info("file destroyed after final view", "file_id", rec.ID, "max_views", rec.MaxViews)
	}
	return plaintext, nil
}

// Recover reconstructs only the data key of a file. With indices it uses
// exactly those shards, otherwise every live shard. The caller owns the
// returned key and should clear it after use.
func (v *Vault) Recover(ctx context.Context, fileID string, indices ...byte) (key []byte, err error) {
	start := time.Now()
	defer func() { v.observe(metrics.OpRecover, start, err) }()

	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := checkID(fileID); err != nil {
		return nil, err
	}
	if err := v.checkRate(fileID); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	rec, shards, err := v.openable(fileID)
	if err != nil {
		return nil, err
	}
	defer wipe(shards)

	if len(indices) > 0 {
		selected := make([]*ShardRecord, 0, len(indices))
		for _, idx := range indices {
			i := slices.IndexFunc(shards, func(s *ShardRecord) bool { return s.Index == idx })
			if i < 0 {
				return nil, fmt.Errorf("%w: file %s index %d", ErrShardNotFound, fileID, idx)
			}
			selected = append(selected, shards[i])
		}
		shards = selected
	}

	key, err = v.reconstruct(rec, shards)
	if err != nil {
		return nil, err
	}

	v.record(fileID, ActionRecovered, fmt.Sprintf("%d shards", len(shards)))
	v.logger.Info("key recovered", "file_id", fileID, "shares_used", len(shards))
	return key, nil
}

// openable loads a file that is neither destroyed nor expired together with
// its live shards.
func (v *Vault) openable(id string) (*FileRecord, []*ShardRecord, error) {
	rec, err := v.loadFile(id)
	if err != nil {
		return nil, nil, err
	}
	if rec.Destroyed {
		return nil, nil, fmt.Errorf("%w: %s", ErrDestroyed, id)
	}
	if rec.Expired(v.now()) {
		return nil, nil, fmt.Errorf("%w: %s", ErrExpired, id)
	}

	all, err := v.loadShards(id)
	if err != nil {
		return nil, nil, fmt.Errorf("custody: load shards: %w", err)
	}
	live := slices.DeleteFunc(all, func(s *ShardRecord) bool { return s.Revoked })
	return rec, live, nil
}

// reconstruct combines shards after checking the threshold and verifies
// the result against the recorded key check value.
func (v *Vault) reconstruct(rec *FileRecord, shards []*ShardRecord) ([]byte, error) {
	if len(shards) < rec.Threshold {
		v.logger.Warn("not enough shards to reconstruct",
			"file_id", rec.ID, "have", len(shards), "threshold", rec.Threshold)
		return nil, &InsufficientSharesError{FileID: rec.ID, Have: len(shards), Threshold: rec.Threshold}
	}

	shares := make([]secretsharing.Share, len(shards))
	for i, s := range shards {
		shares[i] = secretsharing.Share{Index: s.Index, Payload: s.Payload}
	}

	key, err := v.sharer.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("custody: combine shards: %w", err)
	}
	if subtle.ConstantTimeCompare(keyCheck(key), rec.KeyCheck) != 1 {
		clear(key)
		v.logger.Error("reconstructed key failed check", "file_id", rec.ID)
		return nil, fmt.Errorf("%w: file %s", ErrKeyMismatch, rec.ID)
	}
	return key, nil
}

func wipe(shards []*ShardRecord) {
	for _, s := range shards {
		clear(s.Payload)
	}
}

// IsInsufficient reports whether err is an InsufficientSharesError and
// returns it.
func IsInsufficient(err error) (*InsufficientSharesError, bool) {
	var e *InsufficientSharesError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
