// Package events publishes per-selection audit events to Kafka so the
// analytics pipeline can track which shards the router is being steered to.
package events

import "time"

type EventType string

const (
	EventSelection     EventType = "selection"
	EventCacheHit      EventType = "cache_hit"
	EventNoConvergence EventType = "no_convergence"
	EventSnapshotLoad  EventType = "snapshot_load"
)

// SelectionEvent describes one shard-selection evaluation.
type SelectionEvent struct {
	Type       EventType `json:"type"`
	Terms      []string  `json:"terms"`
	Target     float64   `json:"target"`
	Threshold  float64   `json:"threshold"`
	Iterations int       `json:"iterations"`
	Shards     int       `json:"shards"`
	TopShard   int       `json:"top_shard"`
	CacheHit   bool      `json:"cache_hit"`
	LatencyMs  int64     `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
}

// SnapshotEvent describes a statistics snapshot load.
type SnapshotEvent struct {
	Type      EventType `json:"type"`
	Path      string    `json:"path"`
	Shards    int       `json:"shards"`
	Dropped   int       `json:"dropped"`
	Timestamp time.Time `json:"timestamp"`
}

// StatsPublished is the notification the statistics builder emits after
// renaming a fresh file into place. Path may override the configured
// statistics location; an empty payload means "reload from the usual path".
type StatsPublished struct {
	Path        string    `json:"path,omitempty"`
	Shards      int       `json:"shards,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}
