package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/orgboard/orgsync/internal/services/capability"
)

// LockChecker reports whether an entity is parked for manual conflict review.
// Locked entities reject user mutations until an operator clears the review.
type LockChecker interface {
	IsLocked(ctx context.Context, entityID uuid.UUID) (bool, error)
}

// TransactionService contains business logic for financial transactions.
// Only the treasurer (and the chair) passes the capability gate for writes.
type TransactionService struct {
	repo  *TransactionRepo
	gate  *capability.Gate
	locks LockChecker
}

// NewTransactionService constructs a new TransactionService
func NewTransactionService(repo *TransactionRepo, gate *capability.Gate, locks LockChecker) *TransactionService {
	return &TransactionService{repo: repo, gate: gate, locks: locks}
}

// Create records a new transaction after the capability check
func (s *TransactionService) Create(ctx context.Context, role capability.Role, req *CreateTransactionRequest) (*Transaction, error) {
	if err := s.authorize(ctx, role, capability.MutationCreateTransaction, uuid.Nil); err != nil {
		return nil, err
	}

	if req.AmountMinor == 0 {
		return nil, fmt.Errorf("transaction amount must be non-zero")
	}
	if req.Category == "" {
		return nil, fmt.Errorf("transaction category is required")
	}
	if req.OccurredAt.IsZero() {
		return nil, fmt.Errorf("transaction date is required")
	}

	txn, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return txn, nil
}

// GetByID fetches a transaction by its identifier
func (s *TransactionService) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	txn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return txn, nil
}

// List returns all live transactions
func (s *TransactionService) List(ctx context.Context) ([]*Transaction, error) {
	txns, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return txns, nil
}

// BalanceMinor returns the running balance in minor units
func (s *TransactionService) BalanceMinor(ctx context.Context) (int64, error) {
	balance, err := s.repo.BalanceMinor(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}

// Update modifies mutable transaction fields under optimistic concurrency
func (s *TransactionService) Update(ctx context.Context, role capability.Role, id uuid.UUID, req *UpdateTransactionRequest) (*Transaction, error) {
	if err := s.authorize(ctx, role, capability.MutationUpdateTransaction, id); err != nil {
		return nil, err
	}

	if req.AmountMinor != nil && *req.AmountMinor == 0 {
		return nil, fmt.Errorf("transaction amount must be non-zero")
	}
	if req.Category != nil && *req.Category == "" {
		return nil, fmt.Errorf("transaction category is required")
	}

	txn, err := s.repo.Update(ctx, id, req)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) || errors.Is(err, ErrStaleWrite) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}

	return txn, nil
}

// Delete tombstones a transaction; the sync orchestrator propagates the
// delete to the ledger before the row is purged.
func (s *TransactionService) Delete(ctx context.Context, role capability.Role, id uuid.UUID, expectedVersion int64) error {
	if err := s.authorize(ctx, role, capability.MutationDeleteTransaction, id); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id, expectedVersion); err != nil {
		if errors.Is(err, ErrTransactionNotFound) || errors.Is(err, ErrStaleWrite) {
			return err
		}
		return fmt.Errorf("failed to delete transaction: %w", err)
	}

	return nil
}

func (s *TransactionService) authorize(ctx context.Context, role capability.Role, mutation capability.Mutation, id uuid.UUID) error {
	locked := false
	if id != uuid.Nil && s.locks != nil {
		var err error
		locked, err = s.locks.IsLocked(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to check review lock: %w", err)
		}
	}

	if decision := s.gate.Authorize(role, mutation, locked); !decision.Allowed {
		slog.Info("Mutation denied",
			slog.String("role", string(role)),
			slog.String("mutation", string(mutation)),
			slog.String("reason", string(decision.Reason)))
		return &capability.DeniedError{Mutation: mutation, Role: role, Reason: decision.Reason}
	}

	return nil
}
