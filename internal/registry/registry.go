// Package registry reads shard metadata (name, endpoint, document count)
// from the shards table in PostgreSQL. The selection core only knows shard
// ids; the registry is what turns a ranked id list into routable endpoints.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sidmenon/shardselect/pkg/postgres"
)

// ShardInfo is one registered shard.
type ShardInfo struct {
	ID            int       `json:"id"`
	Name          string    `json:"name"`
	Endpoint      string    `json:"endpoint"`
	DocumentCount int64     `json:"document_count"`
	Active        bool      `json:"active"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Registry queries shard metadata from PostgreSQL.
type Registry struct {
	db     *postgres.Client
	logger *slog.Logger
}

// New creates a Registry backed by the given PostgreSQL client.
func New(db *postgres.Client) *Registry {
	return &Registry{
		db:     db,
		logger: slog.Default().With("component", "shard-registry"),
	}
}

// List returns all registered shards ordered by id.
func (r *Registry) List(ctx context.Context) ([]ShardInfo, error) {
	rows, err := r.db.DB.QueryContext(ctx,
		`SELECT id, name, endpoint, document_count, active, updated_at
		 FROM shards
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying shards: %w", err)
	}
	defer rows.Close()

	var shards []ShardInfo
	for rows.Next() {
		var info ShardInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.Endpoint, &info.DocumentCount, &info.Active, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning shard row: %w", err)
		}
		shards = append(shards, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating shard rows: %w", err)
	}
	return shards, nil
}

// Get returns one shard's metadata, or sql.ErrNoRows when unknown.
func (r *Registry) Get(ctx context.Context, shardID int) (*ShardInfo, error) {
	var info ShardInfo
	err := r.db.DB.QueryRowContext(ctx,
		`SELECT id, name, endpoint, document_count, active, updated_at
		 FROM shards
		 WHERE id = $1`,
		shardID,
	).Scan(&info.ID, &info.Name, &info.Endpoint, &info.DocumentCount, &info.Active, &info.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("querying shard %d: %w", shardID, err)
	}
	return &info, nil
}

// UpdateDocumentCount records a shard's document count as published with the
// latest statistics snapshot.
func (r *Registry) UpdateDocumentCount(ctx context.Context, shardID int, count int64) error {
	_, err := r.db.DB.ExecContext(ctx,
		`UPDATE shards SET document_count = $2, updated_at = now() WHERE id = $1`,
		shardID, count,
	)
	if err != nil {
		return fmt.Errorf("updating shard %d document count: %w", shardID, err)
	}
	return nil
}

// SyncDocumentCounts writes the document counts from a freshly loaded
// snapshot in one transaction, so the registry never shows a half-applied
// mix of old and new counts.
func (r *Registry) SyncDocumentCounts(ctx context.Context, counts map[int]int64) error {
	if len(counts) == 0 {
		return nil
	}
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		for shardID, count := range counts {
			if _, err := tx.ExecContext(ctx,
				`UPDATE shards SET document_count = $2, updated_at = now() WHERE id = $1`,
				shardID, count,
			); err != nil {
				return fmt.Errorf("updating shard %d: %w", shardID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("syncing document counts: %w", err)
	}
	r.logger.Info("shard document counts synced", "shards", len(counts))
	return nil
}
