// Package selection implements the statistical shard-selection engine: it
// fits per-term score distributions to a parametric family, combines them
// per shard for a query, solves for the global score cutoff matching a
// target document count, and ranks shards by estimated yield at that cutoff.
package selection

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ModelKind tags the three shapes a fitted model can take. A single
// parametric family with explicit degenerate branches replaces any
// polymorphic hierarchy of distribution types.
type ModelKind int

const (
	// KindZeroMass models a term (or query) the shard never saw: zero
	// probability mass everywhere above zero.
	KindZeroMass ModelKind = iota
	// KindPointMass models a constant score: all mass at Mean.
	KindPointMass
	// KindGamma is the regular case, moment-matched to a gamma distribution.
	KindGamma
)

// Model is a two-parameter score distribution fitted by method of moments:
// shape = mean²/variance, scale = variance/mean.
type Model struct {
	Kind  ModelKind
	Mean  float64
	Shape float64
	Scale float64
}

// Fit returns the model moment-matched to (mean, variance). Degenerate
// inputs produce degenerate kinds rather than errors: a non-positive mean
// contributes nothing downstream, and zero variance collapses to a point
// mass at the mean.
func Fit(mean, variance float64) Model {
	if mean <= 0 || math.IsNaN(mean) {
		return Model{Kind: KindZeroMass}
	}
	if variance <= 0 || math.IsNaN(variance) {
		return Model{Kind: KindPointMass, Mean: mean}
	}
	return Model{
		Kind:  KindGamma,
		Mean:  mean,
		Shape: mean * mean / variance,
		Scale: variance / mean,
	}
}

// Variance returns the fitted distribution's variance.
func (m Model) Variance() float64 {
	if m.Kind != KindGamma {
		return 0
	}
	return m.Shape * m.Scale * m.Scale
}

// Survival returns P(X > threshold) under the fitted distribution. It is
// monotonically non-increasing in threshold for every model kind.
func (m Model) Survival(threshold float64) float64 {
	switch m.Kind {
	case KindZeroMass:
		return 0
	case KindPointMass:
		if threshold < m.Mean {
			return 1
		}
		return 0
	default:
		if threshold <= 0 {
			return 1
		}
		// Regularized upper incomplete gamma of threshold/scale at the
		// fitted shape; gonum switches between the series and continued
		// fraction expansions by regime.
		g := distuv.Gamma{Alpha: m.Shape, Beta: 1 / m.Scale}
		return g.Survival(threshold)
	}
}

// InverseSurvival returns the threshold exceeded with probability p. Used to
// seed the solver's initial search bound from the global statistics.
func (m Model) InverseSurvival(p float64) float64 {
	switch m.Kind {
	case KindZeroMass:
		return 0
	case KindPointMass:
		if p >= 1 {
			return 0
		}
		return m.Mean
	default:
		if p >= 1 {
			return 0
		}
		if p <= 0 {
			return math.Inf(1)
		}
		g := distuv.Gamma{Alpha: m.Shape, Beta: 1 / m.Scale}
		return g.Quantile(1 - p)
	}
}
