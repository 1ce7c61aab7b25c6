package selection

import (
	"math"
	"testing"

	"github.com/sidmenon/shardselect/internal/stats"
)

func testSnapshot() *stats.Snapshot {
	return stats.NewSnapshot([]stats.ShardStatistics{
		{
			DocumentCount: 100,
			Terms: map[string]stats.TermStats{
				"search":  {Frequency: 100, Mean: 2.0, Variance: 1.0},
				"ranking": {Frequency: 40, Mean: 1.5, Variance: 0.5},
			},
		},
		{
			DocumentCount: 50,
			Terms: map[string]stats.TermStats{
				"search": {Frequency: 50, Mean: 1.0, Variance: 0.25},
			},
		},
	})
}

func TestNormalizeQuery(t *testing.T) {
	query := NormalizeQuery(
		[]string{"zebra", "apple", "zebra", "", "mango"},
		map[string]float64{"mango": 2.5},
	)
	if len(query) != 3 {
		t.Fatalf("got %d terms, want 3", len(query))
	}
	// Sorted, deduplicated, weights defaulted to 1.
	want := []QueryTerm{{"apple", 1}, {"mango", 2.5}, {"zebra", 1}}
	for i, qt := range query {
		if qt != want[i] {
			t.Errorf("query[%d] = %v, want %v", i, qt, want[i])
		}
	}
}

func TestCombineShardSingleTerm(t *testing.T) {
	snap := testSnapshot()
	sm := CombineShard(snap, 0, NormalizeQuery([]string{"search"}, nil))

	// frequency/docCount = 1, so the term's raw moments carry through.
	if sm.Model.Kind != KindGamma {
		t.Fatalf("kind = %v, want gamma", sm.Model.Kind)
	}
	if math.Abs(sm.Model.Shape-4) > 1e-12 || math.Abs(sm.Model.Scale-0.5) > 1e-12 {
		t.Errorf("fitted (shape, scale) = (%v, %v), want (4, 0.5)", sm.Model.Shape, sm.Model.Scale)
	}
	if math.Abs(sm.EstimatedSize-100) > 1e-9 {
		t.Errorf("estimated size = %v, want 100", sm.EstimatedSize)
	}
}

func TestCombineShardScalesByDocumentFraction(t *testing.T) {
	snap := testSnapshot()
	sm := CombineShard(snap, 0, NormalizeQuery([]string{"ranking"}, nil))

	// 40 of 100 documents contain the term: moments scale by 0.4.
	wantMean := 0.4 * 1.5
	wantVar := 0.4 * 0.5
	if math.Abs(sm.Model.Mean-wantMean) > 1e-12 {
		t.Errorf("combined mean = %v, want %v", sm.Model.Mean, wantMean)
	}
	if math.Abs(sm.Model.Variance()-wantVar) > 1e-9 {
		t.Errorf("combined variance = %v, want %v", sm.Model.Variance(), wantVar)
	}
}

func TestCombineAdditivity(t *testing.T) {
	snap := testSnapshot()
	a := CombineShard(snap, 0, NormalizeQuery([]string{"search"}, nil))
	b := CombineShard(snap, 0, NormalizeQuery([]string{"ranking"}, nil))
	both := CombineShard(snap, 0, NormalizeQuery([]string{"search", "ranking"}, nil))

	if math.Abs(both.Model.Mean-(a.Model.Mean+b.Model.Mean)) > 1e-12 {
		t.Errorf("union mean %v != %v + %v", both.Model.Mean, a.Model.Mean, b.Model.Mean)
	}
	sumVar := a.Model.Variance() + b.Model.Variance()
	if math.Abs(both.Model.Variance()-sumVar) > 1e-9 {
		t.Errorf("union variance %v != %v", both.Model.Variance(), sumVar)
	}
}

func TestCombineWeights(t *testing.T) {
	snap := testSnapshot()
	unweighted := CombineShard(snap, 0, NormalizeQuery([]string{"search"}, nil))
	weighted := CombineShard(snap, 0, NormalizeQuery([]string{"search"}, map[string]float64{"search": 2}))

	if math.Abs(weighted.Model.Mean-2*unweighted.Model.Mean) > 1e-12 {
		t.Errorf("weighted mean = %v, want %v", weighted.Model.Mean, 2*unweighted.Model.Mean)
	}
	if math.Abs(weighted.Model.Variance()-4*unweighted.Model.Variance()) > 1e-9 {
		t.Errorf("weighted variance = %v, want %v", weighted.Model.Variance(), 4*unweighted.Model.Variance())
	}
}

func TestCombineAbsentTermsAreZero(t *testing.T) {
	snap := testSnapshot()

	// "ranking" is unknown to shard 1: only "search" contributes.
	withAbsent := CombineShard(snap, 1, NormalizeQuery([]string{"search", "ranking"}, nil))
	searchOnly := CombineShard(snap, 1, NormalizeQuery([]string{"search"}, nil))
	if withAbsent.Model.Mean != searchOnly.Model.Mean {
		t.Errorf("absent term shifted mean: %v != %v", withAbsent.Model.Mean, searchOnly.Model.Mean)
	}

	// All terms absent: the shard collapses to the zero-mass model but must
	// still be representable and rankable.
	allAbsent := CombineShard(snap, 1, NormalizeQuery([]string{"nonexistent"}, nil))
	if allAbsent.Model.Kind != KindZeroMass {
		t.Fatalf("kind = %v, want zero-mass", allAbsent.Model.Kind)
	}
	for _, v := range []float64{0.1, 1, 10} {
		if got := allAbsent.Model.Survival(v); got != 0 {
			t.Errorf("all-absent Survival(%v) = %v, want 0", v, got)
		}
	}
}

func TestEstimateAnyAll(t *testing.T) {
	// Single term covering every document: any = all = shard size.
	if got := estimateAll(100, []float64{100}); math.Abs(got-100) > 1e-9 {
		t.Errorf("all = %v, want 100", got)
	}
	// Two independent half-coverage terms over 100 docs:
	// any = 100·(1 − 0.5·0.5) = 75, all = 75·(50/75)² ≈ 33.33.
	anyGot := estimateAny(100, []float64{50, 50})
	if math.Abs(anyGot-75) > 1e-9 {
		t.Errorf("any = %v, want 75", anyGot)
	}
	allGot := estimateAll(100, []float64{50, 50})
	if math.Abs(allGot-100.0/3) > 1e-9 {
		t.Errorf("all = %v, want %v", allGot, 100.0/3)
	}
	// A term absent from the shard zeroes the conjunctive estimate.
	if got := estimateAll(100, []float64{50, 0}); got != 0 {
		t.Errorf("all with absent term = %v, want 0", got)
	}
}
