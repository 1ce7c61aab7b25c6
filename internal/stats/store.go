// Package stats holds the per-shard, per-term score statistics consumed by
// the shard-selection estimator. A Snapshot is immutable once loaded; the
// Store swaps snapshots atomically so concurrent selections always read a
// consistent view, including across reloads.
package stats

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	apperrors "github.com/sidmenon/shardselect/pkg/errors"
)

// TermStats summarises the scoring-function distribution of one term within
// one shard: the number of documents containing the term, and the mean and
// variance of the score over those documents.
type TermStats struct {
	Frequency int64
	Mean      float64
	Variance  float64
}

// Add accumulates another term's statistics into this one. Summing moments
// this way is how per-shard statistics merge into collection-wide ones.
func (t TermStats) Add(other TermStats) TermStats {
	return TermStats{
		Frequency: t.Frequency + other.Frequency,
		Mean:      t.Mean + other.Mean,
		Variance:  t.Variance + other.Variance,
	}
}

// Valid reports whether the record passes load-time validation.
func (t TermStats) Valid() bool {
	if t.Frequency < 0 || t.Variance < 0 {
		return false
	}
	if math.IsNaN(t.Mean) || math.IsInf(t.Mean, 0) {
		return false
	}
	if math.IsNaN(t.Variance) || math.IsInf(t.Variance, 0) {
		return false
	}
	return true
}

// ShardStatistics is one shard's term table plus its total document count.
type ShardStatistics struct {
	DocumentCount int64
	Terms         map[string]TermStats
}

// Snapshot is an immutable set of shard statistics. All lookups are pure
// reads; a Snapshot is never mutated after construction.
type Snapshot struct {
	shards   []ShardStatistics
	loadedAt time.Time
	dropped  int
}

// NewSnapshot builds a Snapshot from per-shard statistics, dropping records
// that fail validation. dropped reports how many were discarded.
func NewSnapshot(shards []ShardStatistics) *Snapshot {
	snap := &Snapshot{
		shards:   make([]ShardStatistics, len(shards)),
		loadedAt: time.Now().UTC(),
	}
	for i, shard := range shards {
		clean := ShardStatistics{
			DocumentCount: shard.DocumentCount,
			Terms:         make(map[string]TermStats, len(shard.Terms)),
		}
		for term, ts := range shard.Terms {
			if !ts.Valid() {
				snap.dropped++
				continue
			}
			clean.Terms[term] = ts
		}
		snap.shards[i] = clean
	}
	return snap
}

// ShardCount returns the number of shards in the snapshot.
func (s *Snapshot) ShardCount() int {
	return len(s.shards)
}

// DocumentCount returns the total document count of a shard, or 0 for an
// unknown shard id.
func (s *Snapshot) DocumentCount(shardID int) int64 {
	if shardID < 0 || shardID >= len(s.shards) {
		return 0
	}
	return s.shards[shardID].DocumentCount
}

// Lookup returns the statistics of one term within one shard. The second
// return value is false when the shard never saw the term.
func (s *Snapshot) Lookup(shardID int, term string) (TermStats, bool) {
	if shardID < 0 || shardID >= len(s.shards) {
		return TermStats{}, false
	}
	ts, ok := s.shards[shardID].Terms[term]
	return ts, ok
}

// Dropped returns the number of records discarded at load time.
func (s *Snapshot) Dropped() int {
	return s.dropped
}

// LoadedAt returns when the snapshot was constructed.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// Store owns the current Snapshot and replaces it wholesale on reload.
// Readers call Snapshot and keep using the returned pointer for the whole
// query evaluation; no locking is needed.
type Store struct {
	snap   atomic.Pointer[Snapshot]
	logger *slog.Logger
}

// NewStore creates an empty Store. A Store with no loaded snapshot reports
// ErrStatsUnavailable from Reload callers via a nil Snapshot.
func NewStore() *Store {
	return &Store{
		logger: slog.Default().With("component", "stats-store"),
	}
}

// Snapshot returns the current snapshot, or nil when nothing has loaded yet.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Load reads the statistics file at path and atomically installs it as the
// current snapshot. In-flight evaluations keep reading the previous one.
func (s *Store) Load(path string) error {
	shards, err := ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrStatsUnavailable, err)
	}
	snap := NewSnapshot(shards)
	if snap.ShardCount() == 0 {
		return fmt.Errorf("%w: %s contains no shards", apperrors.ErrStatsUnavailable, path)
	}
	if snap.dropped > 0 {
		s.logger.Warn("dropped invalid statistics records",
			"path", path,
			"dropped", snap.dropped,
		)
	}
	s.snap.Store(snap)
	s.logger.Info("statistics snapshot loaded",
		"path", path,
		"shards", snap.ShardCount(),
		"dropped", snap.dropped,
	)
	return nil
}

// Install replaces the current snapshot directly. Used by tests and by
// callers that build statistics in memory.
func (s *Store) Install(snap *Snapshot) {
	s.snap.Store(snap)
}
