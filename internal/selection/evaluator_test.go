package selection

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/sidmenon/shardselect/internal/stats"
	"github.com/sidmenon/shardselect/pkg/config"
	apperrors "github.com/sidmenon/shardselect/pkg/errors"
)

func testSelectionConfig() config.SelectionConfig {
	return config.SelectionConfig{
		DefaultTarget: 500,
		MaxTarget:     10000,
		Tolerance:     1e-6,
		MaxIterations: 200,
		SafetyFactor:  4,
		MaxTerms:      32,
	}
}

func newTestEvaluator(snap *stats.Snapshot) *Evaluator {
	store := stats.NewStore()
	if snap != nil {
		store.Install(snap)
	}
	return NewEvaluator(store, testSelectionConfig(), nil)
}

func TestEvaluateScenario(t *testing.T) {
	e := newTestEvaluator(testSnapshot())
	sel, err := e.Evaluate(context.Background(), []string{"search"}, nil, 45)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if math.Abs(sel.Threshold-2) > 0.05 {
		t.Errorf("threshold = %v, want ≈2", sel.Threshold)
	}
	if len(sel.Shards) != 2 {
		t.Fatalf("got %d shards, want 2", len(sel.Shards))
	}
	if sel.Shards[0].ShardID != 0 {
		t.Errorf("top shard = %d, want 0", sel.Shards[0].ShardID)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	e := newTestEvaluator(testSnapshot())
	first, err := e.Evaluate(context.Background(), []string{"search", "ranking"}, nil, 45)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	for i := 0; i < 10; i++ {
		sel, err := e.Evaluate(context.Background(), []string{"ranking", "search"}, nil, 45)
		if err != nil {
			t.Fatalf("Evaluate (run %d): %v", i, err)
		}
		if sel.Threshold != first.Threshold {
			t.Fatalf("threshold changed across runs: %v != %v", sel.Threshold, first.Threshold)
		}
		for j, rs := range sel.Shards {
			if rs != first.Shards[j] {
				t.Fatalf("ranking changed across runs at %d: %+v != %+v", j, rs, first.Shards[j])
			}
		}
	}
}

func TestEvaluateEmptyQuery(t *testing.T) {
	e := newTestEvaluator(testSnapshot())
	sel, err := e.Evaluate(context.Background(), nil, nil, 300)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sel.Threshold != 0 {
		t.Errorf("threshold = %v, want 0", sel.Threshold)
	}
	// Both shards degenerate and tied at zero yield: shard id breaks the tie.
	if len(sel.Shards) != 2 || sel.Shards[0].ShardID != 0 || sel.Shards[1].ShardID != 1 {
		t.Errorf("shards = %+v, want [0, 1] at zero count", sel.Shards)
	}
	for _, rs := range sel.Shards {
		if rs.EstimatedCount != 0 {
			t.Errorf("shard %d estimated count = %v, want 0", rs.ShardID, rs.EstimatedCount)
		}
	}
}

func TestEvaluateAllTermsAbsent(t *testing.T) {
	e := newTestEvaluator(testSnapshot())
	sel, err := e.Evaluate(context.Background(), []string{"nonexistent"}, nil, 300)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// Absent everywhere is a modeling outcome, not an error: every shard
	// stays in the list at the bottom.
	if len(sel.Shards) != 2 {
		t.Fatalf("got %d shards, want 2", len(sel.Shards))
	}
	for _, rs := range sel.Shards {
		if rs.EstimatedCount != 0 {
			t.Errorf("shard %d estimated count = %v, want 0", rs.ShardID, rs.EstimatedCount)
		}
	}
}

func TestEvaluateNoSnapshot(t *testing.T) {
	e := newTestEvaluator(nil)
	_, err := e.Evaluate(context.Background(), []string{"search"}, nil, 300)
	if !errors.Is(err, apperrors.ErrStatsUnavailable) {
		t.Fatalf("err = %v, want ErrStatsUnavailable", err)
	}
}

func TestEvaluateInvalidTarget(t *testing.T) {
	e := newTestEvaluator(testSnapshot())
	if _, err := e.Evaluate(context.Background(), []string{"search"}, nil, 0); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("target 0: err = %v, want ErrInvalidInput", err)
	}
	if _, err := e.Evaluate(context.Background(), []string{"search"}, nil, 1e9); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("huge target: err = %v, want ErrInvalidInput", err)
	}
}

func TestEvaluateTooManyTerms(t *testing.T) {
	e := newTestEvaluator(testSnapshot())
	terms := make([]string, 40)
	for i := range terms {
		terms[i] = string(rune('a' + i%26)) + string(rune('a'+i/26))
	}
	_, err := e.Evaluate(context.Background(), terms, nil, 300)
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestEvaluateCancelledContext(t *testing.T) {
	e := newTestEvaluator(testSnapshot())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Evaluate(ctx, []string{"search"}, nil, 45)
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}
