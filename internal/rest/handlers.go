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
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-keyshard/pkg/custody"
	"github.com/jeremyhahn/go-keyshard/pkg/health"
	"github.com/jeremyhahn/go-keyshard/pkg/metrics"
)

// decode reads a single JSON object and rejects unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", ErrInvalidRequest)
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", ErrInvalidRequest)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "ok", Version: s.cfg.Version}, http.StatusOK)
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, s.cfg.Health.Live(r.Context()))
}

func (s *Server) startupHandler(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, s.cfg.Health.Startup(r.Context()))
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	results := s.cfg.Health.Ready(r.Context())
	status := health.AggregateStatus(results)

	code := http.StatusOK
	if status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, ReadyResponse{Status: status, Checks: results}, code)
}

func writeProbe(w http.ResponseWriter, res health.CheckResult) {
	code := http.StatusOK
	if res.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, res, code)
}

func (s *Server) splitHandler(w http.ResponseWriter, r *http.Request) {
	var req SplitRequest
	if err := decode(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}

	start := time.Now()
	shares, err := s.sharer.Split(req.Secret, req.Shares, req.Threshold)
	clear(req.Secret)
	metrics.RecordOperation(metrics.OpSplit, metrics.Status(err), time.Since(start))
	if err != nil {
		metrics.RecordError(metrics.OpSplit, "invalid_parameters")
		s.handleError(w, r, err)
		return
	}
	metrics.RecordSplit(len(req.Secret), len(shares))

	writeJSON(w, SplitResponse{Threshold: req.Threshold, Shares: shares}, http.StatusOK)
}

func (s *Server) combineHandler(w http.ResponseWriter, r *http.Request) {
	var req CombineRequest
	if err := decode(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}

	start := time.Now()
	secret, err := s.sharer.Combine(req.Shares)
	metrics.RecordOperation(metrics.OpCombine, metrics.Status(err), time.Since(start))
	if err != nil {
		metrics.RecordError(metrics.OpCombine, "invalid_shares")
		s.handleError(w, r, err)
		return
	}

	writeJSON(w, CombineResponse{Secret: secret}, http.StatusOK)
}

func (s *Server) sealHandler(w http.ResponseWriter, r *http.Request) {
	var req SealRequest
	if err := decode(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	ttl, err := custody.ParseTTL(req.TTL)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	env, err := s.vault.Seal(r.Context(), req.Data, custody.SealOptions{
		Shares:    req.Shares,
		Threshold: req.Threshold,
		TTL:       ttl,
		MaxViews:  req.MaxViews,
	})
	clear(req.Data)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	rec, err := s.vault.Stat(r.Context(), env.FileID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, SealResponse{
		Envelope:  *env,
		Threshold: rec.Threshold,
		Shares:    rec.Total,
		ExpiresAt: rec.ExpiresAt,
	}, http.StatusCreated)
}

func (s *Server) statHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.vault.Stat(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, rec, http.StatusOK)
}

func (s *Server) openHandler(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := decode(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}

	data, err := s.vault.Open(r.Context(), &custody.Envelope{
		FileID:     chi.URLParam(r, "id"),
		Nonce:      req.Nonce,
		Ciphertext: req.Ciphertext,
	})
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, OpenResponse{Data: data}, http.StatusOK)
	clear(data)
}

func (s *Server) shardsHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	shards, err := s.vault.Shards(r.Context(), id)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, ShardsResponse{FileID: id, Shards: shards}, http.StatusOK)
}

func (s *Server) revokeHandler(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 8)
	if err != nil || index == 0 {
		s.handleError(w, r, fmt.Errorf("%w: share index must be 1-255", ErrInvalidRequest))
		return
	}
	if err := s.vault.Revoke(r.Context(), chi.URLParam(r, "id"), byte(index)); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) destroyHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.Destroy(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := s.vault.History(r.Context(), id)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, HistoryResponse{FileID: id, Events: events}, http.StatusOK)
}
