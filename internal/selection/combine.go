package selection

import (
	"sort"

	"github.com/sidmenon/shardselect/internal/stats"
)

// QueryTerm is one deduplicated query term with its multiplicative weight.
type QueryTerm struct {
	Term   string
	Weight float64
}

// NormalizeQuery collapses duplicate terms (first weight wins), defaults
// missing weights to 1, and sorts terms for deterministic evaluation and
// cache keys.
func NormalizeQuery(terms []string, weights map[string]float64) []QueryTerm {
	seen := make(map[string]struct{}, len(terms))
	query := make([]QueryTerm, 0, len(terms))
	for _, term := range terms {
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		w := 1.0
		if weights != nil {
			if v, ok := weights[term]; ok && v > 0 {
				w = v
			}
		}
		query = append(query, QueryTerm{Term: term, Weight: w})
	}
	sort.Slice(query, func(i, j int) bool {
		return query[i].Term < query[j].Term
	})
	return query
}

// ShardModel is one shard's combined score distribution for one query,
// together with the shard's estimated number of qualifying documents. It
// lives for a single evaluation and is never shared across queries.
type ShardModel struct {
	ShardID       int
	Model         Model
	EstimatedSize float64
}

// CombineShard merges the per-term models of all query terms into one
// combined distribution for the shard. Each present term contributes its
// moments scaled by documentFrequency/shardDocumentCount (the fraction of
// the shard's documents containing it) and by its query weight; absent terms
// contribute nothing. Means and variances add under the independence
// assumption, with no covariance term.
func CombineShard(snap *stats.Snapshot, shardID int, query []QueryTerm) ShardModel {
	docCount := float64(snap.DocumentCount(shardID))
	sm := ShardModel{ShardID: shardID}
	if docCount <= 0 {
		return sm
	}

	var mean, variance float64
	freqs := make([]float64, 0, len(query))
	for _, qt := range query {
		ts, ok := snap.Lookup(shardID, qt.Term)
		if !ok || ts.Frequency <= 0 {
			freqs = append(freqs, 0)
			continue
		}
		frac := float64(ts.Frequency) / docCount
		mean += frac * qt.Weight * ts.Mean
		variance += frac * qt.Weight * qt.Weight * ts.Variance
		freqs = append(freqs, float64(ts.Frequency))
	}
	sm.Model = Fit(mean, variance)
	sm.EstimatedSize = estimateAll(docCount, freqs)
	return sm
}

// estimateAny returns the expected number of documents containing at least
// one of the terms, from the per-term frequencies and the shard size.
func estimateAny(docCount float64, freqs []float64) float64 {
	product := 1.0
	for _, f := range freqs {
		product *= 1 - f/docCount
	}
	return docCount * (1 - product)
}

// estimateAll returns the expected number of documents containing every
// term, conditioning each term's frequency on the any-estimate.
func estimateAll(docCount float64, freqs []float64) float64 {
	any := estimateAny(docCount, freqs)
	if any == 0 {
		return 0
	}
	all := any
	for _, f := range freqs {
		all *= f / any
	}
	return all
}

// GlobalModel accumulates the combined moments of every shard into a single
// collection-wide model, used to seed the threshold solver's search bound.
func GlobalModel(models []ShardModel) (Model, float64) {
	var mean, variance, size float64
	for _, sm := range models {
		if sm.Model.Kind == KindZeroMass {
			continue
		}
		mean += sm.Model.Mean
		variance += sm.Model.Variance()
		size += sm.EstimatedSize
	}
	return Fit(mean, variance), size
}
