package event

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/orgboard/orgsync/internal/sync"
)

var ErrEventNotFound = errors.New("event not found")

// ErrStaleWrite means the caller's expected version no longer matches the
// stored one; the caller must re-read and retry.
var ErrStaleWrite = errors.New("stale write: version mismatch")

const eventColumns = `id, program, title, description, starts_at, ends_at, status,
       calendar_ref, calendar_token, version, pushed_version, deleted_at, created_at, updated_at`

// EventRepo handles database operations for events. It doubles as the
// calendar-side slice of the local state store used by the sync orchestrator.
type EventRepo struct {
	db *sqlx.DB
}

// NewEventRepo creates a new event repository
func NewEventRepo(db *sqlx.DB) *EventRepo {
	return &EventRepo{db: db}
}

// Create creates a new event at version 1, unpushed
func (r *EventRepo) Create(ctx context.Context, req *CreateEventRequest) (*Event, error) {
	query := fmt.Sprintf(`
        INSERT INTO events (program, title, description, starts_at, ends_at, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING %s
    `, eventColumns)

	var event Event
	err := r.db.GetContext(ctx, &event, query, req.Program, req.Title, req.Description, req.StartsAt, req.EndsAt, StatusPlanned)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	return &event, nil
}

// GetByID retrieves an event by ID, tombstones included
func (r *EventRepo) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events WHERE id = $1`, eventColumns)

	var event Event
	err := r.db.GetContext(ctx, &event, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return &event, nil
}

// List retrieves all live events ordered by start time
func (r *EventRepo) List(ctx context.Context) ([]*Event, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM events
        WHERE deleted_at IS NULL
        ORDER BY starts_at ASC
    `, eventColumns)

	var events []*Event
	err := r.db.SelectContext(ctx, &events, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	return events, nil
}

// Update applies an optimistic-concurrency write: the row must still be at
// expectedVersion, and the version stamp increments atomically with the write.
func (r *EventRepo) Update(ctx context.Context, id uuid.UUID, req *UpdateEventRequest) (*Event, error) {
	setParts := []string{}
	args := []interface{}{}

	if req.Program != nil {
		setParts = append(setParts, fmt.Sprintf("program = $%d", len(args)+1))
		args = append(args, *req.Program)
	}
	if req.Title != nil {
		setParts = append(setParts, fmt.Sprintf("title = $%d", len(args)+1))
		args = append(args, *req.Title)
	}
	if req.Description != nil {
		setParts = append(setParts, fmt.Sprintf("description = $%d", len(args)+1))
		args = append(args, *req.Description)
	}
	if req.StartsAt != nil {
		setParts = append(setParts, fmt.Sprintf("starts_at = $%d", len(args)+1))
		args = append(args, *req.StartsAt)
	}
	if req.EndsAt != nil {
		setParts = append(setParts, fmt.Sprintf("ends_at = $%d", len(args)+1))
		args = append(args, *req.EndsAt)
	}
	if req.Status != nil {
		setParts = append(setParts, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *req.Status)
	}

	if len(setParts) == 0 {
		return r.GetByID(ctx, id)
	}

	setParts = append(setParts, "version = version + 1", "updated_at = NOW()")
	args = append(args, id, req.ExpectedVersion)

	query := fmt.Sprintf(`
        UPDATE events
        SET %s
        WHERE id = $%d AND version = $%d AND deleted_at IS NULL
        RETURNING %s
    `, strings.Join(setParts, ", "), len(args)-1, len(args), eventColumns)

	var event Event
	err := r.db.GetContext(ctx, &event, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, r.staleOrMissing(ctx, id)
		}
		return nil, fmt.Errorf("failed to update event: %w", err)
	}

	return &event, nil
}

// Delete tombstones an event pending external delete; the row is purged only
// after the calendar counterpart is confirmed gone.
func (r *EventRepo) Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	query := `
        UPDATE events
        SET deleted_at = NOW(), version = version + 1, updated_at = NOW()
        WHERE id = $1 AND version = $2 AND deleted_at IS NULL
    `

	result, err := r.db.ExecContext(ctx, query, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return r.staleOrMissing(ctx, id)
	}

	return nil
}

// staleOrMissing disambiguates a zero-row optimistic write.
func (r *EventRepo) staleOrMissing(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM events WHERE id = $1 AND deleted_at IS NULL)`, id); err != nil {
		return fmt.Errorf("failed to check event: %w", err)
	}
	if exists {
		return ErrStaleWrite
	}
	return ErrEventNotFound
}

// --- sync.Store implementation ---

// GetByRef looks up the local mirror of a calendar event, tombstones included.
func (r *EventRepo) GetByRef(ctx context.Context, ref string) (*Event, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM events WHERE calendar_ref = $1`, eventColumns)

	var event Event
	err := r.db.GetContext(ctx, &event, query, ref)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get event by ref: %w", err)
	}

	return &event, true, nil
}

// InsertExternal persists a calendar-origin event. Version equals pushed
// version, so nothing is queued for an outward push.
func (r *EventRepo) InsertExternal(ctx context.Context, change sync.Change[*Event]) error {
	e := change.Entity
	query := `
        INSERT INTO events (program, title, description, starts_at, ends_at, status,
                            calendar_ref, calendar_token, version, pushed_version)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, 1)
    `

	_, err := r.db.ExecContext(ctx, query, e.Program, e.Title, e.Description, e.StartsAt, e.EndsAt, e.Status, change.Ref, change.Token)
	if err != nil {
		return fmt.Errorf("failed to insert external event: %w", err)
	}
	return nil
}

// Overwrite replaces local state with the external one and cancels any pending
// push by advancing the pushed version alongside the version.
func (r *EventRepo) Overwrite(ctx context.Context, change sync.Change[*Event]) error {
	e := change.Entity
	query := `
        UPDATE events
        SET title = $1, description = $2, starts_at = $3, ends_at = $4, status = $5,
            calendar_token = $6, deleted_at = NULL,
            version = version + 1, pushed_version = version + 1, updated_at = NOW()
        WHERE calendar_ref = $7
    `

	_, err := r.db.ExecContext(ctx, query, e.Title, e.Description, e.StartsAt, e.EndsAt, e.Status, change.Token, change.Ref)
	if err != nil {
		return fmt.Errorf("failed to overwrite event: %w", err)
	}
	return nil
}

// SaveMerged writes a conflict-resolution result at a fresh version stamp; the
// pushed version stays behind so the merge propagates back to the calendar.
func (r *EventRepo) SaveMerged(ctx context.Context, merged *Event, token string) error {
	query := `
        UPDATE events
        SET program = $1, title = $2, description = $3, starts_at = $4, ends_at = $5, status = $6,
            calendar_token = $7, version = version + 1, updated_at = NOW()
        WHERE id = $8
    `

	_, err := r.db.ExecContext(ctx, query, merged.Program, merged.Title, merged.Description,
		merged.StartsAt, merged.EndsAt, merged.Status, token, merged.ID)
	if err != nil {
		return fmt.Errorf("failed to save merged event: %w", err)
	}
	return nil
}

// ApplyExternal overwrites an event by id with externally captured state,
// cancelling any pending push. Used when an operator resolves a parked
// conflict in the calendar's favor.
func (r *EventRepo) ApplyExternal(ctx context.Context, id uuid.UUID, change sync.Change[*Event]) error {
	e := change.Entity
	query := `
        UPDATE events
        SET title = $1, description = $2, starts_at = $3, ends_at = $4, status = $5,
            calendar_ref = $6, calendar_token = $7, deleted_at = NULL,
            version = version + 1, pushed_version = version + 1, updated_at = NOW()
        WHERE id = $8
    `

	_, err := r.db.ExecContext(ctx, query, e.Title, e.Description, e.StartsAt, e.EndsAt, e.Status, change.Ref, change.Token, id)
	if err != nil {
		return fmt.Errorf("failed to apply external event state: %w", err)
	}
	return nil
}

// Requeue bumps the version past the pushed one so the next cycle pushes the
// record again.
func (r *EventRepo) Requeue(ctx context.Context, id uuid.UUID) error {
	query := `
        UPDATE events
        SET version = version + 1, updated_at = NOW()
        WHERE id = $1
    `
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to requeue event: %w", err)
	}
	return nil
}

// DeleteLocal removes an event whose calendar counterpart was deleted.
func (r *EventRepo) DeleteLocal(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete event locally: %w", err)
	}
	return nil
}

// Detach clears the external reference so the next push recreates the
// calendar counterpart.
func (r *EventRepo) Detach(ctx context.Context, id uuid.UUID) error {
	query := `
        UPDATE events
        SET calendar_ref = NULL, calendar_token = '', pushed_version = 0, updated_at = NOW()
        WHERE id = $1
    `
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to detach event: %w", err)
	}
	return nil
}

// ListPending returns events with unpushed local versions plus tombstones
// awaiting external delete.
func (r *EventRepo) ListPending(ctx context.Context) ([]*Event, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM events
        WHERE version > pushed_version OR deleted_at IS NOT NULL
        ORDER BY created_at ASC
    `, eventColumns)

	var events []*Event
	err := r.db.SelectContext(ctx, &events, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}

	return events, nil
}

// ConfirmPush records a successful outward push of the given version.
func (r *EventRepo) ConfirmPush(ctx context.Context, id uuid.UUID, version int64, ref, token string) error {
	query := `
        UPDATE events
        SET calendar_ref = $1, calendar_token = $2, pushed_version = $3, updated_at = NOW()
        WHERE id = $4 AND pushed_version < $3
    `

	_, err := r.db.ExecContext(ctx, query, ref, token, version, id)
	if err != nil {
		return fmt.Errorf("failed to confirm event push: %w", err)
	}
	return nil
}

// Purge removes a tombstoned event once the calendar counterpart is gone.
func (r *EventRepo) Purge(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1 AND deleted_at IS NOT NULL`, id); err != nil {
		return fmt.Errorf("failed to purge event: %w", err)
	}
	return nil
}
