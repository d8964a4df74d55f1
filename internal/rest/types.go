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

package rest

import (
	"time"

	"github.com/jeremyhahn/go-keyshard/pkg/crypto/secretsharing"
	"github.com/jeremyhahn/go-keyshard/pkg/custody"
	"github.com/jeremyhahn/go-keyshard/pkg/health"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error         string `json:"error"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse aggregates the readiness checks.
type ReadyResponse struct {
	Status health.Status        `json:"status"`
	Checks []health.CheckResult `json:"checks"`
}

type SplitRequest struct {
	Secret    []byte `json:"secret"`
	Shares    int    `json:"shares"`
	Threshold int    `json:"threshold"`
}

type SplitResponse struct {
	Threshold int                   `json:"threshold"`
	Shares    []secretsharing.Share `json:"shares"`
}

type CombineRequest struct {
	Shares []secretsharing.Share `json:"shares"`
}

type CombineResponse struct {
	Secret []byte `json:"secret"`
}

// SealRequest creates a sealed file. Zero Shares, Threshold or TTL take the
// server defaults.
type SealRequest struct {
	Data      []byte `json:"data"`
	Shares    int    `json:"shares,omitempty"`
	Threshold int    `json:"threshold,omitempty"`
	TTL       string `json:"ttl,omitempty"`
	MaxViews  int    `json:"max_views,omitempty"`
}

type SealResponse struct {
	custody.Envelope
	Threshold int        `json:"threshold"`
	Shares    int        `json:"shares"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type OpenRequest struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

type OpenResponse struct {
	Data []byte `json:"data"`
}

type ShardsResponse struct {
	FileID string              `json:"file_id"`
	Shards []custody.ShardInfo `json:"shards"`
}

type HistoryResponse struct {
	FileID string          `json:"file_id"`
	Events []custody.Event `json:"events"`
}
