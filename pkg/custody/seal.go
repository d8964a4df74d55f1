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
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/jeremyhahn/go-keyshard/pkg/metrics"
)

var keyCheckDomain = []byte("keyshard/key-check/v1")

// SealOptions controls how a file is sealed. Zero values take the vault
// defaults; a zero TTL with a zero default means the file never expires.
type SealOptions struct {
	Shares    int
	Threshold int
	TTL       time.Duration

	// MaxViews destroys the file after this many successful opens.
	// Zero means unlimited.
	MaxViews int
}

func (v *Vault) resolve(opts SealOptions) (SealOptions, error) {
	if opts.Shares == 0 {
		opts.Shares = v.shares
	}
	if opts.Threshold == 0 {
		opts.Threshold = min(v.threshold, opts.Shares)
	}
	if opts.TTL == 0 {
		opts.TTL = v.ttl
	}
	if opts.TTL < 0 {
		return opts, fmt.Errorf("%w: negative ttl", ErrInvalidOptions)
	}
	if opts.MaxViews < 0 {
		return opts, fmt.Errorf("%w: negative max views", ErrInvalidOptions)
	}
	return opts, nil
}

// Seal encrypts plaintext under a fresh data key, splits the key into
// opts.Shares shares and stores them. The key itself is never persisted.
func (v *Vault) Seal(ctx context.Context, plaintext []byte, opts SealOptions) (env *Envelope, err error) {
	start := time.Now()
	defer func() { v.observe(metrics.OpSeal, start, err) }()

	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	opts, err = v.resolve(opts)
	if err != nil {
		return nil, err
	}

	key := make([]byte, KeySize)
	defer clear(key)
	if _, err := io.ReadFull(v.random, key); err != nil {
		return nil, fmt.Errorf("custody: generate data key: %w", err)
	}

	shares, err := v.sharer.Split(key, opts.Shares, opts.Threshold)
	if err != nil {
		return nil, fmt.Errorf("custody: split data key: %w", err)
	}
	defer func() {
		for i := range shares {
			clear(shares[i].Payload)
		}
	}()

	id := uuid.NewString()
	nonce, ciphertext, err := v.encrypt(key, plaintext, []byte(id))
	if err != nil {
		return nil, err
	}

	now := v.now().UTC()
	rec := &FileRecord{
		ID:        id,
		Threshold: opts.Threshold,
		Total:     opts.Shares,
		Size:      len(plaintext),
		CreatedAt: now,
		MaxViews:  opts.MaxViews,
		KeyCheck:  keyCheck(key),
	}
	if opts.TTL > 0 {
		expires := now.Add(opts.TTL)
		rec.ExpiresAt = &expires
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, share := range shares {
		shard := &ShardRecord{FileID: id, Index: share.Index, Payload: share.Payload, CreatedAt: now}
		if err := v.saveShard(shard); err != nil {
			v.rollback(id)
			return nil, fmt.Errorf("custody: store shard %d: %w", share.Index, err)
		}
	}
	if err := v.saveFile(rec); err != nil {
		v.rollback(id)
		return nil, fmt.Errorf("custody: store file record: %w", err)
	}

	metrics.RecordSplit(len(plaintext), len(shares))
	v.record(id, ActionSealed, fmt.Sprintf("%d-of-%d", opts.Threshold, opts.Shares))
	v.logger.Info("file sealed",
		"file_id", id,
		"shares", opts.Shares,
		"threshold", opts.Threshold,
		"size", len(plaintext))

	return &Envelope{FileID: id, Nonce: nonce, Ciphertext: ciphertext}, nil
}

func (v *Vault) rollback(id string) {
	if _, err := v.deleteShards(id); err != nil {
		v.logger.Error("failed to roll back shards", "file_id", id, "error", err)
	}
}

func (v *Vault) encrypt(key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(v.random, nonce); err != nil {
		return nil, nil, fmt.Errorf("custody: generate nonce: %w", err)
	}
	return nonce, aead.Seal(nil, nonce, plaintext, aad), nil
}

func decrypt(key []byte, env *Envelope) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrDecrypt, aead.NonceSize())
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, []byte(env.FileID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("custody: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("custody: create gcm: %w", err)
	}
	return aead, nil
}

func keyCheck(key []byte) []byte {
	h, _ := blake2b.New256(nil)
	h.Write(keyCheckDomain)
	h.Write(key)
	return h.Sum(nil)
}
