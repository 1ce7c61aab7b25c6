package selection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sidmenon/shardselect/internal/stats"
	"github.com/sidmenon/shardselect/pkg/config"
	apperrors "github.com/sidmenon/shardselect/pkg/errors"
	"github.com/sidmenon/shardselect/pkg/metrics"
)

// Evaluator is the per-query entry point: it combines the statistics
// snapshot into per-shard models, solves the global cutoff, and ranks
// shards. It holds no per-query state, so one Evaluator serves concurrent
// requests.
type Evaluator struct {
	store   *stats.Store
	cfg     config.SelectionConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Selection is the result of one evaluation. It is transient: safe to
// discard once the ranked list has been consumed.
type Selection struct {
	Threshold  float64       `json:"threshold"`
	Iterations int           `json:"iterations"`
	Target     float64       `json:"target"`
	Shards     []RankedShard `json:"shards"`
}

// NewEvaluator creates an Evaluator over the given store. m may be nil when
// metrics are disabled.
func NewEvaluator(store *stats.Store, cfg config.SelectionConfig, m *metrics.Metrics) *Evaluator {
	return &Evaluator{
		store:   store,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "selection-evaluator"),
	}
}

// Evaluate ranks all shards for the query. terms may repeat (duplicates
// collapse) and weights may be nil. The returned error is ErrStatsUnavailable
// when no snapshot is loaded, ErrInvalidInput for a bad query or target, and
// ErrNoConvergence when the solver exhausts its budget; the caller maps the
// latter to its fallback policy (typically querying every shard).
func (e *Evaluator) Evaluate(ctx context.Context, terms []string, weights map[string]float64, target float64) (*Selection, error) {
	start := time.Now()
	if e.cfg.EvalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.EvalTimeout.Std())
		defer cancel()
	}
	snap := e.store.Snapshot()
	if snap == nil || snap.ShardCount() == 0 {
		e.observeOutcome("error")
		return nil, fmt.Errorf("%w: no snapshot loaded", apperrors.ErrStatsUnavailable)
	}
	if target <= 0 {
		e.observeOutcome("error")
		return nil, fmt.Errorf("%w: target count must be positive, got %v", apperrors.ErrInvalidInput, target)
	}
	if e.cfg.MaxTarget > 0 && target > e.cfg.MaxTarget {
		e.observeOutcome("error")
		return nil, fmt.Errorf("%w: target count %v exceeds maximum %v", apperrors.ErrInvalidInput, target, e.cfg.MaxTarget)
	}
	query := NormalizeQuery(terms, weights)
	if e.cfg.MaxTerms > 0 && len(query) > e.cfg.MaxTerms {
		e.observeOutcome("error")
		return nil, fmt.Errorf("%w: query has %d distinct terms, maximum is %d", apperrors.ErrInvalidInput, len(query), e.cfg.MaxTerms)
	}

	// Every shard's combined model must exist before the solver runs; the
	// cutoff is a property of the whole collection.
	models := make([]ShardModel, snap.ShardCount())
	for shardID := range models {
		models[shardID] = CombineShard(snap, shardID, query)
	}
	if err := ctx.Err(); err != nil {
		e.observeOutcome("error")
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
	}

	result, err := SolveThreshold(models, target, SolverConfig{
		Tolerance:     e.cfg.Tolerance,
		MaxIterations: e.cfg.MaxIterations,
		SafetyFactor:  e.cfg.SafetyFactor,
	})
	if err != nil {
		e.observeOutcome("no_convergence")
		e.logger.Warn("threshold solve failed",
			"terms", len(query),
			"target", target,
			"error", err,
		)
		return nil, err
	}

	ranked := RankShards(models, result.Threshold)

	outcome := "ok"
	if len(query) == 0 {
		outcome = "empty_query"
	}
	e.observeOutcome(outcome)
	if e.metrics != nil {
		e.metrics.SolverIterations.Observe(float64(result.Iterations))
		e.metrics.ShardsRanked.Observe(float64(len(ranked)))
	}
	e.logger.Debug("selection evaluated",
		"terms", len(query),
		"target", target,
		"threshold", result.Threshold,
		"iterations", result.Iterations,
		"shards", len(ranked),
		"latency", time.Since(start),
	)
	return &Selection{
		Threshold:  result.Threshold,
		Iterations: result.Iterations,
		Target:     target,
		Shards:     ranked,
	}, nil
}

func (e *Evaluator) observeOutcome(outcome string) {
	if e.metrics != nil {
		e.metrics.SelectionsTotal.WithLabelValues(outcome).Inc()
	}
}
