// Package syncstate persists per-source sync positions and health.
package syncstate

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/orgboard/orgsync/internal/sync"
)

// CursorRepo implements sync.CursorStore over the sync_cursors table. Rows
// for both sources are seeded by migration, so reads never miss.
type CursorRepo struct {
	db *sqlx.DB
}

// NewCursorRepo creates a new cursor repository
func NewCursorRepo(db *sqlx.DB) *CursorRepo {
	return &CursorRepo{db: db}
}

// Get retrieves the cursor row for a source
func (r *CursorRepo) Get(ctx context.Context, source sync.Source) (*sync.Cursor, error) {
	query := `
        SELECT source, cursor, last_synced_at, consecutive_failures, degraded
        FROM sync_cursors WHERE source = $1
    `

	var cursor sync.Cursor
	err := r.db.GetContext(ctx, &cursor, query, source)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync cursor for %s: %w", source, err)
	}

	return &cursor, nil
}

// Save advances the cursor after a fully-reconciled pull.
func (r *CursorRepo) Save(ctx context.Context, source sync.Source, cursor string) error {
	query := `
        UPDATE sync_cursors
        SET cursor = $1, last_synced_at = NOW(), updated_at = NOW()
        WHERE source = $2
    `

	if _, err := r.db.ExecContext(ctx, query, cursor, source); err != nil {
		return fmt.Errorf("failed to save sync cursor for %s: %w", source, err)
	}
	return nil
}

// SetHealth records the failure streak and the degraded flag for a source.
func (r *CursorRepo) SetHealth(ctx context.Context, source sync.Source, failures int, degraded bool) error {
	query := `
        UPDATE sync_cursors
        SET consecutive_failures = $1, degraded = $2, updated_at = NOW()
        WHERE source = $3
    `

	if _, err := r.db.ExecContext(ctx, query, failures, degraded, source); err != nil {
		return fmt.Errorf("failed to update sync health for %s: %w", source, err)
	}
	return nil
}
