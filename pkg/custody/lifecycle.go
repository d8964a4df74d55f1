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
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-keyshard/pkg/metrics"
	"github.com/jeremyhahn/go-keyshard/pkg/storage"
)

// Destroy marks a file destroyed and hard-deletes all of its shards.
// Destroying an already destroyed file deletes any shards left behind and
// returns nil.
func (v *Vault) Destroy(ctx context.Context, fileID string) (err error) {
	start := time.Now()
	defer func() { v.observe(metrics.OpDestroy, start, err) }()

	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := checkID(fileID); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.loadFile(fileID)
	if err != nil {
		return err
	}
	already := rec.Destroyed

	deleted, err := v.destroyLocked(rec)
	if err != nil {
		return err
	}
	if !already {
		v.record(fileID, ActionDestroyed, fmt.Sprintf("%d shards deleted", deleted))
	}
	v.logger.Info("file destroyed", "file_id", fileID, "shards_deleted", deleted)
	return nil
}

// destroyLocked persists the destroyed flag before deleting shards so a
// partial failure never leaves an openable file with missing shards.
func (v *Vault) destroyLocked(rec *FileRecord) (int, error) {
	if !rec.Destroyed {
		now := v.now().UTC()
		rec.Destroyed = true
		rec.DestroyedAt = &now
		rec.KeyCheck = nil
		if err := v.saveFile(rec); err != nil {
			return 0, fmt.Errorf("custody: mark destroyed: %w", err)
		}
	}
	deleted, err := v.deleteShards(rec.ID)
	if err != nil {
		return deleted, fmt.Errorf("custody: delete shards: %w", err)
	}
	return deleted, nil
}

// Revoke removes the payload of one shard and marks it revoked. Revoking an
// already revoked shard is a no-op.
func (v *Vault) Revoke(ctx context.Context, fileID string, index byte) (err error) {
	start := time.Now()
	defer func() { v.observe(metrics.OpRevoke, start, err) }()

	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := checkID(fileID); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.loadFile(fileID)
	if err != nil {
		return err
	}
	if rec.Destroyed {
		return fmt.Errorf("%w: %s", ErrDestroyed, fileID)
	}

	shard, err := v.loadShard(shardKey(fileID, index))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: file %s index %d", ErrShardNotFound, fileID, index)
		}
		return err
	}
	if shard.Revoked {
		return nil
	}

	now := v.now().UTC()
	clear(shard.Payload)
	shard.Payload = nil
	shard.Revoked = true
	shard.RevokedAt = &now
	if err := v.saveShard(shard); err != nil {
		return fmt.Errorf("custody: revoke shard %d: %w", index, err)
	}

	v.record(fileID, ActionRevoked, fmt.Sprintf("index %d", index))
	v.logger.Info("shard revoked", "file_id", fileID, "index", index)
	return nil
}

// Shards lists shard metadata for a file. Payloads are never returned.
func (v *Vault) Shards(ctx context.Context, fileID string) ([]ShardInfo, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := checkID(fileID); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := v.loadFile(fileID); err != nil {
		return nil, err
	}
	shards, err := v.loadShards(fileID)
	if err != nil {
		return nil, err
	}
	infos := make([]ShardInfo, len(shards))
	for i, s := range shards {
		infos[i] = s.info()
		clear(s.Payload)
	}
	return infos, nil
}

// Stat returns the file record without its key check value.
func (v *Vault) Stat(ctx context.Context, fileID string) (*FileRecord, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := checkID(fileID); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.loadFile(fileID)
	if err != nil {
		return nil, err
	}
	rec.KeyCheck = nil
	return rec, nil
}

// History returns the events recorded for a file in chronological order.
// History outlives Destroy since file records are never deleted.
func (v *Vault) History(ctx context.Context, fileID string) ([]Event, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := checkID(fileID); err != nil {
		return nil, err
	}

	if _, err := v.loadFile(fileID); err != nil {
		return nil, err
	}

	keys, err := v.store.List(eventPrefix(fileID))
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(keys))
	for _, key := range keys {
		data, err := v.store.Get(key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		var ev Event
		if err := decode(data, &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// PurgeExpired destroys every file past its expiry and returns how many
// were destroyed. It also refreshes the active files gauge.
func (v *Vault) PurgeExpired(ctx context.Context) (purged int, err error) {
	start := time.Now()
	defer func() { v.observe(metrics.OpPurge, start, err) }()

	keys, err := v.store.List("files/")
	if err != nil {
		return 0, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	active := 0
	for _, key := range keys {
		if err := checkContext(ctx); err != nil {
			return purged, err
		}

		id := key[len("files/"):]
		rec, err := v.loadFile(id)
		if err != nil {
			if errors.Is(err, ErrFileNotFound) {
				continue
			}
			return purged, err
		}
		if rec.Destroyed {
			continue
		}
		if !rec.Expired(now) {
			active++
			continue
		}

		deleted, err := v.destroyLocked(rec)
		if err != nil {
			return purged, err
		}
		purged++
		v.record(id, ActionExpired, fmt.Sprintf("%d shards deleted", deleted))
		v.logger.Info("expired file purged", "file_id", id, "shards_deleted", deleted)
	}

	metrics.SetFilesActive(active)
	if purged > 0 {
		v.logger.Info("purge complete", "purged", purged, "active", active)
	}
	return purged, nil
}

// RunPurger calls PurgeExpired every interval until ctx is done.
func (v *Vault) RunPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := v.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
				v.logger.Error("purge failed", "error", err)
			}
		}
	}
}
