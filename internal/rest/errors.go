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
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/jeremyhahn/go-keyshard/pkg/correlation"
	"github.com/jeremyhahn/go-keyshard/pkg/crypto/secretsharing"
	"github.com/jeremyhahn/go-keyshard/pkg/custody"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalError  = errors.New("internal server error")
)

// statusCode maps domain errors to HTTP status codes.
func statusCode(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, secretsharing.ErrInvalidThreshold),
		errors.Is(err, secretsharing.ErrTooManyShares),
		errors.Is(err, secretsharing.ErrEmptyInput),
		errors.Is(err, secretsharing.ErrInconsistentLength),
		errors.Is(err, secretsharing.ErrInvalidIndex),
		errors.Is(err, secretsharing.ErrInvalidEncoding),
		errors.Is(err, secretsharing.ErrDivisionByZero),
		errors.Is(err, custody.ErrInvalidFileID),
		errors.Is(err, custody.ErrInvalidOptions),
		errors.Is(err, custody.ErrInvalidTTL),
		errors.Is(err, custody.ErrDecrypt):
		return http.StatusBadRequest
	case errors.Is(err, custody.ErrFileNotFound),
		errors.Is(err, custody.ErrShardNotFound):
		return http.StatusNotFound
	case errors.Is(err, custody.ErrInsufficientShares):
		return http.StatusConflict
	case errors.Is(err, custody.ErrDestroyed),
		errors.Is(err, custody.ErrExpired):
		return http.StatusGone
	case errors.Is(err, custody.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err with its mapped status. Internal errors are logged
// and replaced by a generic message.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)

	var rl *custody.RateLimitError
	if errors.As(err, &rl) {
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}

	if code == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"correlation_id", correlation.ID(r.Context()),
			"path", r.URL.Path,
			"error", err)
		err = ErrInternalError
	}
	writeError(w, r, err, code)
}

func writeError(w http.ResponseWriter, r *http.Request, err error, code int) {
	writeJSON(w, ErrorResponse{
		Error:         err.Error(),
		Code:          code,
		CorrelationID: correlation.ID(r.Context()),
	}, code)
}

func writeJSON(w http.ResponseWriter, data any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to encode JSON response", "error", err)
	}
}
