// Package cache provides a Redis-backed cache of ranked shard selections.
// Concurrent misses for the same query collapse into one evaluation via
// singleflight. The cache is flushed whenever a new statistics snapshot
// loads, since every cached ranking derives from the previous snapshot.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/sidmenon/shardselect/internal/selection"
	"github.com/sidmenon/shardselect/pkg/config"
	pkgredis "github.com/sidmenon/shardselect/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "select:"

type SelectionCache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func New(client *pkgredis.Client, cfg config.RedisConfig) *SelectionCache {
	return &SelectionCache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "selection-cache"),
	}
}

func (c *SelectionCache) Get(ctx context.Context, query []selection.QueryTerm, target float64) (*selection.Selection, bool) {
	key := c.buildKey(query, target)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if pkgredis.IsNilError(err) {
			c.misses.Add(1)
			return nil, false
		}
		c.logger.Error("cache get failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	var sel selection.Selection
	if err := json.Unmarshal([]byte(data), &sel); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &sel, true
}

func (c *SelectionCache) Set(ctx context.Context, query []selection.QueryTerm, target float64, sel *selection.Selection) {
	key := c.buildKey(query, target)
	data, err := json.Marshal(sel)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL.Std()); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func (c *SelectionCache) GetOrCompute(
	ctx context.Context,
	query []selection.QueryTerm,
	target float64,
	computeFn func() (*selection.Selection, error),
) (*selection.Selection, bool, error) {
	if sel, ok := c.Get(ctx, query, target); ok {
		return sel, true, nil
	}
	key := c.buildKey(query, target)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if sel, ok := c.Get(ctx, query, target); ok {
			return sel, nil
		}
		sel, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, query, target, sel)
		return sel, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*selection.Selection), false, nil
}

func (c *SelectionCache) Invalidate(ctx context.Context) error {
	pattern := keyPrefix + "*"
	deleted, err := c.client.FlushByPattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("invalidating selection cache: %w", err)
	}
	c.logger.Info("selection cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *SelectionCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey hashes the normalized query and target into a fixed-width key.
// NormalizeQuery already sorted and deduplicated the terms, so equivalent
// queries share a key regardless of input order.
func (c *SelectionCache) buildKey(query []selection.QueryTerm, target float64) string {
	parts := make([]string, 0, len(query)+1)
	for _, qt := range query {
		parts = append(parts, qt.Term+"*"+strconv.FormatFloat(qt.Weight, 'g', -1, 64))
	}
	parts = append(parts, "target="+strconv.FormatFloat(target, 'g', -1, 64))
	raw := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
