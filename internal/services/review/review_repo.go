package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/orgboard/orgsync/internal/sync"
)

var ErrReviewNotFound = errors.New("review not found")

const reviewColumns = `id, source, entity_id, reason, local_state, external_state, created_at, resolved_at`

// ReviewRepo handles database operations for conflict reviews. It is the
// orchestrator's review sink and the mutation paths' lock oracle.
type ReviewRepo struct {
	db *sqlx.DB
}

// NewReviewRepo creates a new review repository
func NewReviewRepo(db *sqlx.DB) *ReviewRepo {
	return &ReviewRepo{db: db}
}

// Park files a conflict for manual review, locking the entity. Parking the
// same entity twice keeps the first open review.
func (r *ReviewRepo) Park(ctx context.Context, source sync.Source, entityID uuid.UUID, reason string, local, external any) error {
	localJSON, err := sonic.Marshal(local)
	if err != nil {
		return fmt.Errorf("failed to marshal local state: %w", err)
	}
	externalJSON, err := sonic.Marshal(external)
	if err != nil {
		return fmt.Errorf("failed to marshal external state: %w", err)
	}

	query := `
        INSERT INTO sync_reviews (source, entity_id, reason, local_state, external_state)
        SELECT $1, $2, $3, $4, $5
        WHERE NOT EXISTS (
            SELECT 1 FROM sync_reviews WHERE entity_id = $2 AND resolved_at IS NULL
        )
    `

	if _, err := r.db.ExecContext(ctx, query, source, entityID, reason, localJSON, externalJSON); err != nil {
		return fmt.Errorf("failed to park review: %w", err)
	}
	return nil
}

// LockedIDs returns the entities with an open review for a source.
func (r *ReviewRepo) LockedIDs(ctx context.Context, source sync.Source) (map[uuid.UUID]bool, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `SELECT entity_id FROM sync_reviews WHERE source = $1 AND resolved_at IS NULL`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to list locked entities: %w", err)
	}

	locked := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		locked[id] = true
	}
	return locked, nil
}

// IsLocked reports whether an entity has an open review.
func (r *ReviewRepo) IsLocked(ctx context.Context, entityID uuid.UUID) (bool, error) {
	var locked bool
	err := r.db.GetContext(ctx, &locked, `SELECT EXISTS(SELECT 1 FROM sync_reviews WHERE entity_id = $1 AND resolved_at IS NULL)`, entityID)
	if err != nil {
		return false, fmt.Errorf("failed to check review lock: %w", err)
	}
	return locked, nil
}

// GetByID retrieves a review by ID
func (r *ReviewRepo) GetByID(ctx context.Context, id uuid.UUID) (*Review, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_reviews WHERE id = $1`, reviewColumns)

	var review Review
	err := r.db.GetContext(ctx, &review, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to get review: %w", err)
	}

	return &review, nil
}

// List retrieves reviews, open ones first then by recency.
func (r *ReviewRepo) List(ctx context.Context, openOnly bool) ([]*Review, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_reviews`, reviewColumns)
	if openOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY resolved_at IS NULL DESC, created_at DESC`

	var reviews []*Review
	err := r.db.SelectContext(ctx, &reviews, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}

	return reviews, nil
}

// MarkResolved closes an open review, releasing the entity lock.
func (r *ReviewRepo) MarkResolved(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `UPDATE sync_reviews SET resolved_at = NOW() WHERE id = $1 AND resolved_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve review: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrReviewNotFound
	}
	return nil
}
