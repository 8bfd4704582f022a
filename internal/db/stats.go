package db

import (
	"context"
	"fmt"

	"github.com/chmdznr/corpussync/pkg/models"
)

// GetStats returns counts for every collection and the pending/orphan
// counts against the cached remote listing
func (db *DB) GetStats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	err := db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM files),
			(SELECT COALESCE(SUM(size), 0) FROM files),
			(SELECT COUNT(*) FROM remote_files),
			(SELECT COALESCE(SUM(size_bytes), 0) FROM remote_files),
			(SELECT COUNT(*) FROM files f WHERE NOT EXISTS (
				SELECT 1 FROM remote_files r WHERE r.display_name = f.name AND r.updated_at >= f.modified)),
			(SELECT COUNT(*) FROM remote_files r WHERE NOT EXISTS (
				SELECT 1 FROM files f WHERE f.name = r.display_name)),
			(SELECT COUNT(*) FROM posts),
			(SELECT COUNT(*) FROM subscribers),
			(SELECT COUNT(*) FROM opens),
			(SELECT COUNT(*) FROM deliveries),
			(SELECT COUNT(*) FROM raw_files),
			(SELECT COUNT(*) FROM context_docs)
	`).Scan(
		&stats.LocalFiles,
		&stats.LocalSize,
		&stats.RemoteFiles,
		&stats.RemoteSize,
		&stats.PendingFiles,
		&stats.OrphanFiles,
		&stats.Posts,
		&stats.Subscribers,
		&stats.Opens,
		&stats.Deliveries,
		&stats.RawFiles,
		&stats.ContextDocs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &stats, nil
}
