package selection

import "sort"

// RankedShard is one shard's estimated number of documents scoring above the
// solved threshold. The ordering of the ranked list, not the threshold
// itself, is the externally consumed result.
type RankedShard struct {
	ShardID        int     `json:"shard_id"`
	EstimatedCount float64 `json:"estimated_count"`
}

// RankShards evaluates every shard's combined model at the threshold and
// orders shards descending by estimated count, ties broken by ascending
// shard id for determinism. Zero-yield shards stay in the list: the router
// decides how deep to cut.
func RankShards(models []ShardModel, threshold float64) []RankedShard {
	ranked := make([]RankedShard, 0, len(models))
	for _, sm := range models {
		ranked = append(ranked, RankedShard{
			ShardID:        sm.ShardID,
			EstimatedCount: sm.EstimatedSize * sm.Model.Survival(threshold),
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].EstimatedCount != ranked[j].EstimatedCount {
			return ranked[i].EstimatedCount > ranked[j].EstimatedCount
		}
		return ranked[i].ShardID < ranked[j].ShardID
	})
	return ranked
}
