package transaction

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

var ErrTransactionNotFound = errors.New("transaction not found")

// ErrStaleWrite means the caller's expected version no longer matches the
// stored one; the caller must re-read and retry.
var ErrStaleWrite = errors.New("stale write: version mismatch")

const transactionColumns = `id, amount_minor, category, note, occurred_at,
       ledger_ref, ledger_token, version, pushed_version, deleted_at, created_at, updated_at`

// TransactionRepo handles database operations for transactions. It doubles as
// the ledger-side slice of the local state store used by the sync orchestrator.
type TransactionRepo struct {
	db *sqlx.DB
}

// NewTransactionRepo creates a new transaction repository
func NewTransactionRepo(db *sqlx.DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// Create records a new transaction at version 1, unpushed
func (r *TransactionRepo) Create(ctx context.Context, req *CreateTransactionRequest) (*Transaction, error) {
	query := fmt.Sprintf(`
        INSERT INTO transactions (amount_minor, category, note, occurred_at)
        VALUES ($1, $2, $3, $4)
        RETURNING %s
    `, transactionColumns)

	var txn Transaction
	err := r.db.GetContext(ctx, &txn, query, req.AmountMinor, req.Category, req.Note, req.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return &txn, nil
}

// GetByID retrieves a transaction by ID, tombstones included
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, transactionColumns)

	var txn Transaction
	err := r.db.GetContext(ctx, &txn, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return &txn, nil
}

// List retrieves all live transactions, most recent first
func (r *TransactionRepo) List(ctx context.Context) ([]*Transaction, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM transactions
        WHERE deleted_at IS NULL
        ORDER BY occurred_at DESC
    `, transactionColumns)

	var txns []*Transaction
	err := r.db.SelectContext(ctx, &txns, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return txns, nil
}

// BalanceMinor sums live transaction amounts in minor units.
func (r *TransactionRepo) BalanceMinor(ctx context.Context) (int64, error) {
	var balance int64
	err := r.db.GetContext(ctx, &balance, `SELECT COALESCE(SUM(amount_minor), 0) FROM transactions WHERE deleted_at IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to compute balance: %w", err)
	}
	return balance, nil
}

// Update applies an optimistic-concurrency write: the row must still be at
// expectedVersion, and the version stamp increments atomically with the write.
func (r *TransactionRepo) Update(ctx context.Context, id uuid.UUID, req *UpdateTransactionRequest) (*Transaction, error) {
	setParts := []string{}
	args := []interface{}{}

	if req.AmountMinor != nil {
		setParts = append(setParts, fmt.Sprintf("amount_minor = $%d", len(args)+1))
		args = append(args, *req.AmountMinor)
	}
	if req.Category != nil {
		setParts = append(setParts, fmt.Sprintf("category = $%d", len(args)+1))
		args = append(args, *req.Category)
	}
	if req.Note != nil {
		setParts = append(setParts, fmt.Sprintf("note = $%d", len(args)+1))
		args = append(args, *req.Note)
	}
	if req.OccurredAt != nil {
		setParts = append(setParts, fmt.Sprintf("occurred_at = $%d", len(args)+1))
		args = append(args, *req.OccurredAt)
	}

	if len(setParts) == 0 {
		return r.GetByID(ctx, id)
	}

	setParts = append(setParts, "version = version + 1", "updated_at = NOW()")
	args = append(args, id, req.ExpectedVersion)

	query := fmt.Sprintf(`
        UPDATE transactions
        SET %s
        WHERE id = $%d AND version = $%d AND deleted_at IS NULL
        RETURNING %s
    `, strings.Join(setParts, ", "), len(args)-1, len(args), transactionColumns)

	var txn Transaction
	err := r.db.GetContext(ctx, &txn, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, r.staleOrMissing(ctx, id)
		}
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}

	return &txn, nil
}

// Delete tombstones a transaction pending external delete; the row is purged
// only after the ledger row is confirmed gone.
func (r *TransactionRepo) Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	query := `
        UPDATE transactions
        SET deleted_at = NOW(), version = version + 1, updated_at = NOW()
        WHERE id = $1 AND version = $2 AND deleted_at IS NULL
    `

	result, err := r.db.ExecContext(ctx, query, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
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
func (r *TransactionRepo) staleOrMissing(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1 AND deleted_at IS NULL)`, id); err != nil {
		return fmt.Errorf("failed to check transaction: %w", err)
	}
	if exists {
		return ErrStaleWrite
	}
	return ErrTransactionNotFound
}

// --- sync.Store implementation ---

// GetByRef looks up the local mirror of a ledger row, tombstones included.
func (r *TransactionRepo) GetByRef(ctx context.Context, ref string) (*Transaction, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE ledger_ref = $1`, transactionColumns)

	var txn Transaction
	err := r.db.GetContext(ctx, &txn, query, ref)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get transaction by ref: %w", err)
	}

	return &txn, true, nil
}

// InsertExternal persists a ledger-origin transaction. Version equals pushed
// version, so nothing is queued for an outward push.
func (r *TransactionRepo) InsertExternal(ctx context.Context, change sync.Change[*Transaction]) error {
	t := change.Entity
	query := `
        INSERT INTO transactions (amount_minor, category, note, occurred_at,
                                  ledger_ref, ledger_token, version, pushed_version)
        VALUES ($1, $2, $3, $4, $5, $6, 1, 1)
    `

	_, err := r.db.ExecContext(ctx, query, t.AmountMinor, t.Category, t.Note, t.OccurredAt, change.Ref, change.Token)
	if err != nil {
		return fmt.Errorf("failed to insert external transaction: %w", err)
	}
	return nil
}

// Overwrite replaces local state with the external one and cancels any pending
// push by advancing the pushed version alongside the version.
func (r *TransactionRepo) Overwrite(ctx context.Context, change sync.Change[*Transaction]) error {
	t := change.Entity
	query := `
        UPDATE transactions
        SET amount_minor = $1, category = $2, note = $3, occurred_at = $4,
            ledger_token = $5, deleted_at = NULL,
            version = version + 1, pushed_version = version + 1, updated_at = NOW()
        WHERE ledger_ref = $6
    `

	_, err := r.db.ExecContext(ctx, query, t.AmountMinor, t.Category, t.Note, t.OccurredAt, change.Token, change.Ref)
	if err != nil {
		return fmt.Errorf("failed to overwrite transaction: %w", err)
	}
	return nil
}

// SaveMerged writes a conflict-resolution result at a fresh version stamp; the
// pushed version stays behind so the merge propagates back to the ledger.
func (r *TransactionRepo) SaveMerged(ctx context.Context, merged *Transaction, token string) error {
	query := `
        UPDATE transactions
        SET amount_minor = $1, category = $2, note = $3, occurred_at = $4,
            ledger_token = $5, version = version + 1, updated_at = NOW()
        WHERE id = $6
    `

	_, err := r.db.ExecContext(ctx, query, merged.AmountMinor, merged.Category, merged.Note,
		merged.OccurredAt, token, merged.ID)
	if err != nil {
		return fmt.Errorf("failed to save merged transaction: %w", err)
	}
	return nil
}

// ApplyExternal overwrites a transaction by id with externally captured
// state, cancelling any pending push. Used when an operator resolves a parked
// conflict in the ledger's favor.
func (r *TransactionRepo) ApplyExternal(ctx context.Context, id uuid.UUID, change sync.Change[*Transaction]) error {
	t := change.Entity
	query := `
        UPDATE transactions
        SET amount_minor = $1, category = $2, note = $3, occurred_at = $4,
            ledger_ref = $5, ledger_token = $6, deleted_at = NULL,
            version = version + 1, pushed_version = version + 1, updated_at = NOW()
        WHERE id = $7
    `

	_, err := r.db.ExecContext(ctx, query, t.AmountMinor, t.Category, t.Note, t.OccurredAt, change.Ref, change.Token, id)
	if err != nil {
		return fmt.Errorf("failed to apply external transaction state: %w", err)
	}
	return nil
}

// Requeue bumps the version past the pushed one so the next cycle pushes the
// record again.
func (r *TransactionRepo) Requeue(ctx context.Context, id uuid.UUID) error {
	query := `
        UPDATE transactions
        SET version = version + 1, updated_at = NOW()
        WHERE id = $1
    `
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to requeue transaction: %w", err)
	}
	return nil
}

// DeleteLocal removes a transaction whose ledger row was deleted.
func (r *TransactionRepo) DeleteLocal(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete transaction locally: %w", err)
	}
	return nil
}

// Detach clears the external reference so the next push recreates the
// ledger row.
func (r *TransactionRepo) Detach(ctx context.Context, id uuid.UUID) error {
	query := `
        UPDATE transactions
        SET ledger_ref = NULL, ledger_token = '', pushed_version = 0, updated_at = NOW()
        WHERE id = $1
    `
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to detach transaction: %w", err)
	}
	return nil
}

// ListPending returns transactions with unpushed local versions plus
// tombstones awaiting external delete.
func (r *TransactionRepo) ListPending(ctx context.Context) ([]*Transaction, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM transactions
        WHERE version > pushed_version OR deleted_at IS NOT NULL
        ORDER BY created_at ASC
    `, transactionColumns)

	var txns []*Transaction
	err := r.db.SelectContext(ctx, &txns, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}

	return txns, nil
}

// ConfirmPush records a successful outward push of the given version.
func (r *TransactionRepo) ConfirmPush(ctx context.Context, id uuid.UUID, version int64, ref, token string) error {
	query := `
        UPDATE transactions
        SET ledger_ref = $1, ledger_token = $2, pushed_version = $3, updated_at = NOW()
        WHERE id = $4 AND pushed_version < $3
    `

	_, err := r.db.ExecContext(ctx, query, ref, token, version, id)
	if err != nil {
		return fmt.Errorf("failed to confirm transaction push: %w", err)
	}
	return nil
}

// Purge removes a tombstoned transaction once the ledger row is gone.
func (r *TransactionRepo) Purge(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1 AND deleted_at IS NOT NULL`, id); err != nil {
		return fmt.Errorf("failed to purge transaction: %w", err)
	}
	return nil
}
