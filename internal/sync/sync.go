// Package sync reconciles locally owned records with externally owned
// counterparts (the calendar service and the spreadsheet ledger). It owns the
// per-source cycle state machine, conflict resolution routing, retry/backoff
// and change-notification triggers.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Source names one external system of record.
type Source string

const (
	SourceCalendar Source = "calendar"
	SourceLedger   Source = "ledger"
)

// Adapter failure kinds. Adapters wrap transport errors into these sentinels
// so the orchestrator can pick retry behavior without knowing the protocol.
var (
	ErrRateLimited = errors.New("rate limited by external service")
	ErrAuthExpired = errors.New("external credential expired")
	ErrRejected    = errors.New("payload rejected by external service")
	ErrNotFound    = errors.New("external record not found")
)

// Syncable is the mirror-bookkeeping surface every synced entity carries.
type Syncable interface {
	SyncableID() uuid.UUID
	// SyncableVersion is the monotonic local version stamp.
	SyncableVersion() int64
	// SyncablePushedVersion is the stamp at the last confirmed push.
	SyncablePushedVersion() int64
	// SyncableRef is the external counterpart reference, "" until first push.
	SyncableRef() string
	// SyncableToken is the last-known external modification token.
	SyncableToken() string
	// SyncableDeleted reports a tombstone awaiting external delete.
	SyncableDeleted() bool
}

// Change is one externally observed create/update/delete.
type Change[T Syncable] struct {
	Ref     string
	Token   string
	Deleted bool
	Entity  T // zero value when Deleted
}

// PushResult carries the external bookkeeping from a successful push.
type PushResult struct {
	Ref   string
	Token string
}

// Adapter translates between domain entities and one external protocol.
// Push must be idempotent: the entity id doubles as the idempotency key, so a
// retried push updates rather than duplicates. Delete treats an already-absent
// record as success.
type Adapter[T Syncable] interface {
	Push(ctx context.Context, entity T) (PushResult, error)
	Pull(ctx context.Context, cursor string) ([]Change[T], string, error)
	Delete(ctx context.Context, ref string) error
}

// Store is the slice of the local state store one orchestrator works against.
type Store[T Syncable] interface {
	// GetByRef looks up the local record mirroring an external ref.
	GetByRef(ctx context.Context, ref string) (T, bool, error)

	// InsertExternal persists an external-origin record locally. Its version
	// equals its pushed version: there is nothing to push back.
	InsertExternal(ctx context.Context, change Change[T]) error

	// Overwrite replaces local state with the external one and cancels any
	// pending push for the entity.
	Overwrite(ctx context.Context, change Change[T]) error

	// SaveMerged writes a conflict-resolution result at a fresh version stamp,
	// leaving the entity pending so the locally-won fields propagate back out.
	SaveMerged(ctx context.Context, merged T, token string) error

	// DeleteLocal removes a record whose external counterpart was deleted.
	DeleteLocal(ctx context.Context, id uuid.UUID) error

	// Detach clears the external reference, leaving the record pending so the
	// next push recreates the external counterpart.
	Detach(ctx context.Context, id uuid.UUID) error

	// ListPending returns records whose version exceeds their pushed version,
	// plus tombstones whose external counterpart still exists. Ordered by
	// creation time, oldest first.
	ListPending(ctx context.Context) ([]T, error)

	// ConfirmPush records a successful push of the given version.
	ConfirmPush(ctx context.Context, id uuid.UUID, version int64, ref, token string) error

	// Purge removes a tombstoned record once its external counterpart is gone.
	Purge(ctx context.Context, id uuid.UUID) error
}

// ResolutionAction says which side of a true conflict wins.
type ResolutionAction int

const (
	// ResolutionExternal applies the external state verbatim (overwrite, or
	// delete when the external side deleted).
	ResolutionExternal ResolutionAction = iota
	// ResolutionMerged writes Merged locally and re-queues an outward push.
	ResolutionMerged
	// ResolutionLocal keeps the local record; if the external side deleted it,
	// the record is detached and pushed again.
	ResolutionLocal
)

// Resolution is a resolver verdict.
type Resolution[T Syncable] struct {
	Action ResolutionAction
	Merged T
}

// Resolver decides the winning state for a true conflict (both sides changed
// since the last confirmed push). Implementations must be deterministic and
// side-effect free.
type Resolver[T Syncable] interface {
	Resolve(local T, external Change[T]) (Resolution[T], error)
}

// Cursor is the persisted sync position for one source.
type Cursor struct {
	Source              Source     `db:"source" json:"source"`
	Cursor              string     `db:"cursor" json:"cursor"`
	LastSyncedAt        *time.Time `db:"last_synced_at" json:"last_synced_at"`
	ConsecutiveFailures int        `db:"consecutive_failures" json:"consecutive_failures"`
	Degraded            bool       `db:"degraded" json:"degraded"`
}

// CursorStore persists Cursor rows; cursors only advance after the whole
// pulled batch has been reconciled.
type CursorStore interface {
	Get(ctx context.Context, source Source) (*Cursor, error)
	Save(ctx context.Context, source Source, cursor string) error
	SetHealth(ctx context.Context, source Source, failures int, degraded bool) error
}

// ReviewSink parks conflicting pairs that could not be resolved automatically.
// Parked entities are excluded from cycles until an operator clears them.
type ReviewSink interface {
	Park(ctx context.Context, source Source, entityID uuid.UUID, reason string, local, external any) error
	LockedIDs(ctx context.Context, source Source) (map[uuid.UUID]bool, error)
}

// CredentialRefresher renews the external-service credential after an
// AUTH_EXPIRED failure.
type CredentialRefresher interface {
	Refresh(ctx context.Context) error
}

// CycleReport summarizes one reconciliation cycle for the audit trail.
type CycleReport struct {
	Source     Source
	CycleID    uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Pulled     int
	Applied    int
	Conflicts  int
	Parked     int
	Pushed     int
	Deleted    int
	Err        string
}

// Recorder receives cycle reports. Implementations must not block the cycle.
type Recorder interface {
	RecordCycle(ctx context.Context, report CycleReport)
}

// AlertFunc is invoked when a source exhausts its backoff ceiling.
type AlertFunc func(source Source, err error)
