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
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFileNotFound indicates no record exists for the file id.
	ErrFileNotFound = errors.New("custody: file not found")

	// ErrInvalidFileID indicates the file id is not a UUID.
	ErrInvalidFileID = errors.New("custody: invalid file id")

	// ErrShardNotFound indicates a requested shard does not exist or was revoked.
	ErrShardNotFound = errors.New("custody: shard not found")

	// ErrDestroyed indicates the file was destroyed and its shards deleted.
	ErrDestroyed = errors.New("custody: file destroyed")

	// ErrExpired indicates the file is past its expiry time.
	ErrExpired = errors.New("custody: file expired")

	// ErrInsufficientShares indicates fewer live shards than the threshold.
	ErrInsufficientShares = errors.New("custody: insufficient shares")

	// ErrKeyMismatch indicates the reconstructed key does not match the
	// key check value recorded at seal time.
	ErrKeyMismatch = errors.New("custody: reconstructed key does not match")

	// ErrDecrypt indicates authenticated decryption failed.
	ErrDecrypt = errors.New("custody: decryption failed")

	// ErrRateLimited indicates too many reconstruction attempts for a file.
	ErrRateLimited = errors.New("custody: rate limited")

	// ErrInvalidOptions indicates invalid seal options.
	ErrInvalidOptions = errors.New("custody: invalid options")

	// ErrInvalidTTL indicates a TTL string that ParseTTL cannot read.
	ErrInvalidTTL = errors.New("custody: invalid ttl")
)

// InsufficientSharesError reports how many live shards were available.
type InsufficientSharesError struct {
	FileID    string
	Have      int
	Threshold int
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("custody: insufficient shares for file %s: have %d, need %d", e.FileID, e.Have, e.Threshold)
}

func (e *InsufficientSharesError) Unwrap() error {
	return ErrInsufficientShares
}

// RateLimitError carries the wait time before another attempt is admitted.
type RateLimitError struct {
	FileID     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("custody: too many attempts for file %s, retry after %s", e.FileID, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
