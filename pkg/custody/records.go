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
	"encoding/json"
	"fmt"
	"time"
)

// Event actions recorded in a file's history.
const (
	ActionSealed    = "sealed"
	ActionOpened    = "opened"
	ActionRecovered = "recovered"
	ActionRevoked   = "revoked"
	ActionDestroyed = "destroyed"
	ActionExpired   = "expired"
)

// Envelope is the encrypted output of Seal. The caller keeps it; the vault
// only holds the key shares.
type Envelope struct {
	FileID     string `json:"file_id"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// FileRecord is the persisted metadata of a sealed file.
type FileRecord struct {
	ID          string     `json:"id"`
	Threshold   int        `json:"threshold"`
	Total       int        `json:"total"`
	Size        int        `json:"size"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	MaxViews    int        `json:"max_views,omitempty"`
	Views       int        `json:"views"`
	Destroyed   bool       `json:"destroyed"`
	DestroyedAt *time.Time `json:"destroyed_at,omitempty"`

	// KeyCheck is a BLAKE2b-256 digest of the data key used to detect a
	// wrong reconstruction before decrypting.
	KeyCheck []byte `json:"key_check"`
}

// Expired reports whether the record has an expiry at or before now.
func (r *FileRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Active reports whether the file can still be opened at now, ignoring
// shard availability.
func (r *FileRecord) Active(now time.Time) bool {
	return !r.Destroyed && !r.Expired(now)
}

// ShardRecord is one persisted key share.
type ShardRecord struct {
	FileID    string     `json:"file_id"`
	Index     byte       `json:"index"`
	Payload   []byte     `json:"payload,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// ShardInfo describes a shard without its payload.
type ShardInfo struct {
	Index     byte       `json:"index"`
	Size      int        `json:"size"`
	CreatedAt time.Time  `json:"created_at"`
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func (s *ShardRecord) info() ShardInfo {
	return ShardInfo{
		Index:     s.Index,
		Size:      len(s.Payload),
		CreatedAt: s.CreatedAt,
		Revoked:   s.Revoked,
		RevokedAt: s.RevokedAt,
	}
}

// Event is one entry in a file's access history.
type Event struct {
	Action string    `json:"action"`
	Time   time.Time `json:"time"`
	Detail string    `json:"detail,omitempty"`
}

func fileKey(id string) string {
	return "files/" + id
}

func shardPrefix(id string) string {
	return "shards/" + id + "/"
}

func shardKey(id string, index byte) string {
	return fmt.Sprintf("shards/%s/%02x", id, index)
}

func eventPrefix(id string) string {
	return "events/" + id + "/"
}

func eventKey(id string, t time.Time, seq uint64) string {
	return fmt.Sprintf("events/%s/%020d-%06d", id, t.UnixNano(), seq%1000000)
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("custody: encode record: %w", err)
	}
	return data, nil
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("custody: decode record: %w", err)
	}
	return nil
}
