package selection

import (
	"fmt"
	"math"

	apperrors "github.com/sidmenon/shardselect/pkg/errors"
)

// SolverConfig bounds the threshold solver. Every field must be positive;
// callers get them from config.SelectionConfig.
type SolverConfig struct {
	// Tolerance stops the bisection when |f(v)| or the bracket width falls
	// below it.
	Tolerance float64
	// MaxIterations caps bracket expansions plus bisection steps together,
	// so a caller-imposed timeout budget is respected deterministically.
	MaxIterations int
	// SafetyFactor scales the largest combined shard mean into the initial
	// upper search bound.
	SafetyFactor float64
}

// SolveResult is the solved cutoff and the work it took.
type SolveResult struct {
	Threshold  float64
	Iterations int
}

// SolveThreshold finds the score cutoff v such that the estimated number of
// documents scoring above v, summed over all shards, equals target:
//
//	f(v) = Σ_s size_s · survival_s(v) − target = 0
//
// f is continuous and non-increasing, so bisection over a bracketing
// interval converges unconditionally. The initial upper bound is the larger
// of the global-model quantile at p = min(1, target/totalSize) and
// SafetyFactor × the largest combined shard mean, expanded geometrically if
// it fails to bracket the root. Exhausting MaxIterations returns
// ErrNoConvergence rather than an unvalidated estimate.
func SolveThreshold(models []ShardModel, target float64, cfg SolverConfig) (SolveResult, error) {
	if target <= 0 || math.IsNaN(target) {
		return SolveResult{}, fmt.Errorf("%w: target count must be positive, got %v", apperrors.ErrInvalidInput, target)
	}

	f := func(v float64) float64 {
		sum := 0.0
		for _, sm := range models {
			sum += sm.EstimatedSize * sm.Model.Survival(v)
		}
		return sum - target
	}

	// All-degenerate edge case: f(v) ≡ −target for every v, nothing to
	// solve. Threshold 0 ranks every shard at zero estimated yield.
	if allZeroMass(models) {
		return SolveResult{Threshold: 0}, nil
	}

	// Fewer estimated documents than the target even at cutoff zero: every
	// document everywhere qualifies, threshold 0 is exact.
	if f(0) <= 0 {
		return SolveResult{Threshold: 0}, nil
	}

	iterations := 0
	hi := initialBound(models, target, cfg.SafetyFactor)
	for f(hi) > 0 {
		iterations++
		if iterations >= cfg.MaxIterations {
			return SolveResult{Iterations: iterations}, fmt.Errorf(
				"%w: bound expansion exhausted %d iterations at v=%g",
				apperrors.ErrNoConvergence, iterations, hi)
		}
		hi *= 2
	}

	lo := 0.0
	for {
		iterations++
		mid := lo + (hi-lo)/2
		fm := f(mid)
		if math.Abs(fm) < cfg.Tolerance || hi-lo < cfg.Tolerance {
			return SolveResult{Threshold: mid, Iterations: iterations}, nil
		}
		if iterations >= cfg.MaxIterations {
			return SolveResult{Iterations: iterations}, fmt.Errorf(
				"%w: bisection exhausted %d iterations, bracket [%g, %g]",
				apperrors.ErrNoConvergence, iterations, lo, hi)
		}
		if fm > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
}

func allZeroMass(models []ShardModel) bool {
	for _, sm := range models {
		if sm.Model.Kind != KindZeroMass && sm.EstimatedSize > 0 {
			return false
		}
	}
	return true
}

// initialBound seeds the bisection's upper bound. The global-model quantile
// is where the whole collection would place the cutoff for the target; the
// safety-factored maximum mean guards against a degenerate global fit.
func initialBound(models []ShardModel, target float64, safetyFactor float64) float64 {
	global, totalSize := GlobalModel(models)

	bound := 0.0
	if totalSize > 0 && global.Kind == KindGamma {
		p := math.Min(1, target/totalSize)
		if q := global.InverseSurvival(p); !math.IsInf(q, 1) {
			bound = q
		}
	}

	maxMean := 0.0
	for _, sm := range models {
		if sm.Model.Mean > maxMean {
			maxMean = sm.Model.Mean
		}
	}
	if fallback := safetyFactor * maxMean; fallback > bound {
		bound = fallback
	}
	if bound <= 0 {
		bound = 1
	}
	return bound
}
