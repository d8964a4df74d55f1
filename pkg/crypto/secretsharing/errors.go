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

package secretsharing

import (
	"errors"

	"github.com/jeremyhahn/go-keyshard/pkg/crypto/gf256"
)

var (
	// ErrInvalidThreshold indicates k < 1 or k > n
	ErrInvalidThreshold = errors.New("secretsharing: invalid threshold")

	// ErrTooManyShares indicates more shares were requested than the field has nonzero elements
	ErrTooManyShares = errors.New("secretsharing: too many shares")

	// ErrEmptyInput indicates Combine was called without shares
	ErrEmptyInput = errors.New("secretsharing: no shares provided")

	// ErrInconsistentLength indicates the supplied shares have different payload lengths
	ErrInconsistentLength = errors.New("secretsharing: shares have inconsistent lengths")

	// ErrInvalidIndex indicates a share carries the reserved index 0
	ErrInvalidIndex = errors.New("secretsharing: invalid share index")

	// ErrInvalidEncoding indicates a share could not be decoded
	ErrInvalidEncoding = errors.New("secretsharing: invalid share encoding")

	// ErrDivisionByZero is raised during interpolation when two shares carry
	// the same index.
	ErrDivisionByZero = gf256.ErrDivisionByZero
)
