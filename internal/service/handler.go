// Package service exposes a built forest over HTTP: single-transaction
// matching with an optional Redis cache, forest statistics and cache
// administration.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/scheduler"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/service/cache"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/logger"
)

const maxBodyBytes = 4 << 20

// MatchRequest is the body of POST /api/v1/match. AllowedMismatches falls
// back to the configured default when omitted.
type MatchRequest struct {
	ID                string   `json:"id"`
	Items             []string `json:"items"`
	AllowedMismatches *int     `json:"allowed_mismatches,omitempty"`
}

type MatchResponse struct {
	ID       string                  `json:"id"`
	Matches  []matcher.Match[string] `json:"matches"`
	CacheHit bool                    `json:"cache_hit"`
}

type Handler struct {
	scheduler *scheduler.Scheduler
	stats     matcher.Stats
	cache     *cache.MatchCache
	allowed   int
	maxItems  int
	logger    *slog.Logger
}

// New builds a handler. matchCache may be nil, which disables caching.
func New(s *scheduler.Scheduler, stats matcher.Stats, matchCache *cache.MatchCache, allowed, maxItems int) *Handler {
	return &Handler{
		scheduler: s,
		stats:     stats,
		cache:     matchCache,
		allowed:   allowed,
		maxItems:  maxItems,
		logger:    slog.Default().With("component", "match-handler"),
	}
}

func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resp, err := h.match(r.Context(), req)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// match validates req and computes its matches, through the cache when one is
// configured. Errors map to a status with apperrors.HTTPStatusCode.
func (h *Handler) match(ctx context.Context, req MatchRequest) (MatchResponse, error) {
	start := time.Now()
	log := logger.FromContext(ctx)

	if err := validator.Validate(req.ID, req.Items, h.maxItems); err != nil {
		return MatchResponse{}, err
	}
	allowed := h.allowed
	if req.AllowedMismatches != nil {
		allowed = *req.AllowedMismatches
	}
	s, err := h.scheduler.WithAllowed(allowed)
	if err != nil {
		return MatchResponse{}, err
	}

	compute := func() ([]matcher.Match[string], error) {
		records, err := s.MatchOne(ctx, matcher.Transaction[string]{ID: req.ID, Items: req.Items})
		if err != nil {
			return nil, err
		}
		return toMatches(records), nil
	}
	var (
		matches  []matcher.Match[string]
		cacheHit bool
	)
	if h.cache != nil {
		matches, cacheHit, err = h.cache.GetOrCompute(ctx, req.Items, allowed, compute)
	} else {
		matches, err = compute()
	}
	if err != nil {
		log.Error("match failed", "id", req.ID, "error", err)
		return MatchResponse{}, fmt.Errorf("match failed: %w", err)
	}
	if matches == nil {
		matches = []matcher.Match[string]{}
	}

	log.Info("match completed",
		"id", req.ID,
		"items", len(req.Items),
		"allowed_mismatches", allowed,
		"matches", len(matches),
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return MatchResponse{ID: req.ID, Matches: matches, CacheHit: cacheHit}, nil
}

func toMatches(records []sink.Record) []matcher.Match[string] {
	out := make([]matcher.Match[string], len(records))
	for i, r := range records {
		out[i] = matcher.Match[string]{Items: r.Items, Mismatches: r.Mismatches}
	}
	return out
}

func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.stats)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
