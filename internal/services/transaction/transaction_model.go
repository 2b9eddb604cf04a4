package transaction

import (
	"time"

	"github.com/google/uuid"
)

// Transaction is a financial entry mirrored into the spreadsheet ledger.
// Amounts are stored in minor units (cents) to keep arithmetic exact.
// Version increments on every local mutation; PushedVersion trails it until
// the sync orchestrator confirms an outward push.
type Transaction struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	AmountMinor   int64      `json:"amount_minor" db:"amount_minor"`
	Category      string     `json:"category" db:"category"`
	Note          string     `json:"note" db:"note"`
	OccurredAt    time.Time  `json:"occurred_at" db:"occurred_at"`
	LedgerRef     *string    `json:"ledger_ref,omitempty" db:"ledger_ref"`
	LedgerToken   string     `json:"-" db:"ledger_token"`
	Version       int64      `json:"version" db:"version"`
	PushedVersion int64      `json:"-" db:"pushed_version"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

func (t *Transaction) SyncableID() uuid.UUID        { return t.ID }
func (t *Transaction) SyncableVersion() int64       { return t.Version }
func (t *Transaction) SyncablePushedVersion() int64 { return t.PushedVersion }
func (t *Transaction) SyncableToken() string        { return t.LedgerToken }
func (t *Transaction) SyncableDeleted() bool        { return t.DeletedAt != nil }

func (t *Transaction) SyncableRef() string {
	if t.LedgerRef == nil {
		return ""
	}
	return *t.LedgerRef
}

// CreateTransactionRequest captures payload for recording a transaction
type CreateTransactionRequest struct {
	AmountMinor int64     `json:"amount_minor"`
	Category    string    `json:"category"`
	Note        string    `json:"note"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// UpdateTransactionRequest captures payload for updating a transaction.
// ExpectedVersion is the version the caller last read; a mismatch fails with
// a stale write.
type UpdateTransactionRequest struct {
	AmountMinor     *int64     `json:"amount_minor,omitempty"`
	Category        *string    `json:"category,omitempty"`
	Note            *string    `json:"note,omitempty"`
	OccurredAt      *time.Time `json:"occurred_at,omitempty"`
	ExpectedVersion int64      `json:"expected_version"`
}
