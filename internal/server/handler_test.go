package server

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sidmenon/shardselect/internal/selection"
	"github.com/sidmenon/shardselect/internal/stats"
	"github.com/sidmenon/shardselect/pkg/config"
)

func testConfig() config.Config {
	return config.Config{
		Selection: config.SelectionConfig{
			DefaultTarget: 500,
			MaxTarget:     10000,
			Tolerance:     1e-6,
			MaxIterations: 200,
			SafetyFactor:  4,
			MaxTerms:      32,
		},
	}
}

func testShards() []stats.ShardStatistics {
	return []stats.ShardStatistics{
		{
			DocumentCount: 100,
			Terms: map[string]stats.TermStats{
				"search": {Frequency: 100, Mean: 2, Variance: 1},
			},
		},
		{
			DocumentCount: 50,
			Terms: map[string]stats.TermStats{
				"search": {Frequency: 50, Mean: 1, Variance: 0.25},
			},
		},
	}
}

func newTestHandler(t *testing.T, loaded bool) (*Handler, *stats.Store) {
	t.Helper()
	store := stats.NewStore()
	if loaded {
		store.Install(stats.NewSnapshot(testShards()))
	}
	cfg := testConfig()
	evaluator := selection.NewEvaluator(store, cfg.Selection, nil)
	return New(evaluator, nil, nil, nil, store, cfg, nil), store
}

func postSelect(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/select", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Select(rec, req)
	return rec
}

func TestSelectOK(t *testing.T) {
	h, _ := newTestHandler(t, true)
	rec := postSelect(t, h, `{"terms":["search"],"target":45}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp selectResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if math.Abs(resp.Threshold-2) > 0.05 {
		t.Errorf("threshold = %v, want ≈2", resp.Threshold)
	}
	if resp.Target != 45 {
		t.Errorf("target = %v, want 45", resp.Target)
	}
	if len(resp.Shards) != 2 {
		t.Fatalf("got %d shards, want 2", len(resp.Shards))
	}
	if resp.Shards[0].ShardID != 0 {
		t.Errorf("top shard = %d, want 0", resp.Shards[0].ShardID)
	}
	if resp.Shards[0].EstimatedCount <= resp.Shards[1].EstimatedCount {
		t.Errorf("shards not ordered by estimated count: %+v", resp.Shards)
	}
	if resp.CacheHit {
		t.Error("cache_hit should be false without a cache")
	}
}

func TestSelectDefaultTarget(t *testing.T) {
	h, _ := newTestHandler(t, true)
	rec := postSelect(t, h, `{"terms":["search"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp selectResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Target != 500 {
		t.Errorf("target = %v, want default 500", resp.Target)
	}
}

func TestSelectInvalidBody(t *testing.T) {
	h, _ := newTestHandler(t, true)
	rec := postSelect(t, h, `{"terms": [`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSelectInvalidTarget(t *testing.T) {
	h, _ := newTestHandler(t, true)
	rec := postSelect(t, h, `{"terms":["search"],"target":-5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
	rec = postSelect(t, h, `{"terms":["search"],"target":1000000}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for target above maximum", rec.Code)
	}
}

func TestSelectStatsUnavailable(t *testing.T) {
	h, _ := newTestHandler(t, false)
	rec := postSelect(t, h, `{"terms":["search"],"target":45}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body = %s", rec.Code, rec.Body.String())
	}
}

func TestReloadStats(t *testing.T) {
	h, store := newTestHandler(t, false)
	path := filepath.Join(t.TempDir(), "stats.ssx")
	if err := stats.WriteFile(path, testShards()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	h.cfg.Stats.Path = path

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/reload", nil)
	rec := httptest.NewRecorder()
	h.ReloadStats(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if snap := store.Snapshot(); snap == nil || snap.ShardCount() != 2 {
		t.Errorf("snapshot not installed after reload")
	}
}

func TestReloadStatsMissingFile(t *testing.T) {
	h, _ := newTestHandler(t, false)
	h.cfg.Stats.Path = filepath.Join(t.TempDir(), "missing.ssx")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/reload", nil)
	rec := httptest.NewRecorder()
	h.ReloadStats(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body = %s", rec.Code, rec.Body.String())
	}
}

func TestCacheEndpointsDisabled(t *testing.T) {
	h, _ := newTestHandler(t, true)

	rec := httptest.NewRecorder()
	h.CacheStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("disabled")) {
		t.Errorf("CacheStats: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.CacheInvalidate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("CacheInvalidate: status = %d, want 503", rec.Code)
	}
}
