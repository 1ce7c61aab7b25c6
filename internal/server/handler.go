// Package server exposes the shard-selection HTTP API consumed by the query
// router: one selection endpoint on the hot path, plus snapshot-reload and
// cache-management endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sidmenon/shardselect/internal/events"
	"github.com/sidmenon/shardselect/internal/registry"
	"github.com/sidmenon/shardselect/internal/selection"
	"github.com/sidmenon/shardselect/internal/selection/cache"
	"github.com/sidmenon/shardselect/pkg/config"
	apperrors "github.com/sidmenon/shardselect/pkg/errors"
	"github.com/sidmenon/shardselect/pkg/logger"
	"github.com/sidmenon/shardselect/pkg/metrics"
	"github.com/sidmenon/shardselect/pkg/middleware"
)

// Reloader reloads the statistics snapshot from its configured source.
type Reloader interface {
	Load(path string) error
}

// Handler serves the selection API.
type Handler struct {
	evaluator *selection.Evaluator
	cache     *cache.SelectionCache
	collector *events.Collector
	registry  *registry.Registry
	reloader  Reloader
	cfg       config.Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New wires the handler. cache, collector, registry, and m may be nil when
// the corresponding subsystem is disabled.
func New(
	evaluator *selection.Evaluator,
	selCache *cache.SelectionCache,
	collector *events.Collector,
	reg *registry.Registry,
	reloader Reloader,
	cfg config.Config,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		evaluator: evaluator,
		cache:     selCache,
		collector: collector,
		registry:  reg,
		reloader:  reloader,
		cfg:       cfg,
		metrics:   m,
		logger:    slog.Default().With("component", "selection-handler"),
	}
}

type selectRequest struct {
	Terms   []string           `json:"terms"`
	Weights map[string]float64 `json:"weights,omitempty"`
	Target  float64            `json:"target,omitempty"`
}

type rankedShardResponse struct {
	ShardID        int     `json:"shard_id"`
	EstimatedCount float64 `json:"estimated_count"`
	Name           string  `json:"name,omitempty"`
	Endpoint       string  `json:"endpoint,omitempty"`
}

type selectResponse struct {
	Threshold float64               `json:"threshold"`
	Target    float64               `json:"target"`
	Shards    []rankedShardResponse `json:"shards"`
	CacheHit  bool                  `json:"cache_hit"`
	LatencyMs int64                 `json:"latency_ms"`
}

// Select handles POST /api/v1/select.
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target := req.Target
	if target == 0 {
		target = h.cfg.Selection.DefaultTarget
	}

	query := selection.NormalizeQuery(req.Terms, req.Weights)
	sel, cacheHit, err := h.evaluate(ctx, req.Terms, req.Weights, query, target)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if errors.Is(err, apperrors.ErrNoConvergence) {
			// Distinguishable from a plain failure so the router can fall
			// back to querying every shard instead of returning nothing.
			h.trackNoConvergence(ctx, req.Terms, target, start)
			h.writeJSON(w, status, map[string]string{
				"error":    "threshold solver did not converge",
				"fallback": "query_all_shards",
			})
			return
		}
		log.Error("selection failed", "terms", len(req.Terms), "error", err)
		h.writeError(w, status, userMessage(err))
		return
	}

	latencyMs := time.Since(start).Milliseconds()
	resp := selectResponse{
		Threshold: sel.Threshold,
		Target:    sel.Target,
		Shards:    h.enrichShards(ctx, sel.Shards),
		CacheHit:  cacheHit,
		LatencyMs: latencyMs,
	}
	if h.metrics != nil {
		status := "miss"
		if cacheHit {
			status = "hit"
			h.metrics.CacheHitsTotal.Inc()
		} else if h.cache != nil {
			h.metrics.CacheMissesTotal.Inc()
		}
		h.metrics.SelectionLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
	log.Info("selection completed",
		"terms", len(query),
		"target", target,
		"threshold", sel.Threshold,
		"shards", len(sel.Shards),
		"cache_hit", cacheHit,
		"latency_ms", latencyMs,
	)
	if h.collector != nil {
		event := events.SelectionEvent{
			Type:       events.EventSelection,
			Terms:      req.Terms,
			Target:     target,
			Threshold:  sel.Threshold,
			Iterations: sel.Iterations,
			Shards:     len(sel.Shards),
			CacheHit:   cacheHit,
			LatencyMs:  latencyMs,
			Timestamp:  time.Now().UTC(),
			RequestID:  middleware.GetRequestID(ctx),
		}
		if cacheHit {
			event.Type = events.EventCacheHit
		}
		if len(sel.Shards) > 0 {
			event.TopShard = sel.Shards[0].ShardID
		}
		h.collector.Track(event)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) evaluate(
	ctx context.Context,
	terms []string,
	weights map[string]float64,
	query []selection.QueryTerm,
	target float64,
) (*selection.Selection, bool, error) {
	if h.cache != nil {
		return h.cache.GetOrCompute(ctx, query, target, func() (*selection.Selection, error) {
			return h.evaluator.Evaluate(ctx, terms, weights, target)
		})
	}
	sel, err := h.evaluator.Evaluate(ctx, terms, weights, target)
	return sel, false, err
}

// enrichShards attaches registry metadata to the ranked list when the
// registry is configured. Selection never depends on the registry; a missing
// row just leaves the name and endpoint empty.
func (h *Handler) enrichShards(ctx context.Context, ranked []selection.RankedShard) []rankedShardResponse {
	resp := make([]rankedShardResponse, 0, len(ranked))
	var infos map[int]registry.ShardInfo
	if h.registry != nil {
		list, err := h.registry.List(ctx)
		if err != nil {
			h.logger.Warn("shard registry lookup failed", "error", err)
		} else {
			infos = make(map[int]registry.ShardInfo, len(list))
			for _, info := range list {
				infos[info.ID] = info
			}
		}
	}
	for _, rs := range ranked {
		out := rankedShardResponse{
			ShardID:        rs.ShardID,
			EstimatedCount: rs.EstimatedCount,
		}
		if info, ok := infos[rs.ShardID]; ok {
			out.Name = info.Name
			out.Endpoint = info.Endpoint
		}
		resp = append(resp, out)
	}
	return resp
}

// ReloadStats handles POST /api/v1/stats/reload: it reloads the statistics
// snapshot and invalidates the selection cache.
func (h *Handler) ReloadStats(w http.ResponseWriter, r *http.Request) {
	if err := h.reloader.Load(h.cfg.Stats.Path); err != nil {
		h.logger.Error("snapshot reload failed", "path", h.cfg.Stats.Path, "error", err)
		if h.metrics != nil {
			h.metrics.SnapshotLoadsTotal.WithLabelValues("error").Inc()
		}
		h.writeError(w, apperrors.HTTPStatusCode(err), "statistics reload failed")
		return
	}
	if h.metrics != nil {
		h.metrics.SnapshotLoadsTotal.WithLabelValues("ok").Inc()
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(r.Context()); err != nil {
			h.logger.Error("cache invalidation after reload failed", "error", err)
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// CacheStats handles GET /api/v1/cache/stats.
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

// CacheInvalidate handles POST /api/v1/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) trackNoConvergence(ctx context.Context, terms []string, target float64, start time.Time) {
	if h.collector == nil {
		return
	}
	h.collector.Track(events.SelectionEvent{
		Type:      events.EventNoConvergence,
		Terms:     terms,
		Target:    target,
		LatencyMs: time.Since(start).Milliseconds(),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(ctx),
	})
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		return err.Error()
	case errors.Is(err, apperrors.ErrStatsUnavailable):
		return "shard statistics unavailable"
	case errors.Is(err, apperrors.ErrTimeout):
		return "selection timed out"
	default:
		return "selection failed"
	}
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
