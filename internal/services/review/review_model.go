package review

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/orgboard/orgsync/internal/sync"
)

// Resolution is an operator's verdict on a parked conflict.
type Resolution string

const (
	ResolutionKeepLocal    Resolution = "keep_local"
	ResolutionKeepExternal Resolution = "keep_external"
)

func (r Resolution) Valid() bool {
	return r == ResolutionKeepLocal || r == ResolutionKeepExternal
}

// Review is a conflict the orchestrator could not settle automatically. While
// a review is open its entity is locked: excluded from sync cycles and closed
// to user mutations.
type Review struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Source        sync.Source     `json:"source" db:"source"`
	EntityID      uuid.UUID       `json:"entity_id" db:"entity_id"`
	Reason        string          `json:"reason" db:"reason"`
	LocalState    json.RawMessage `json:"local_state" db:"local_state"`
	ExternalState json.RawMessage `json:"external_state" db:"external_state"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ResolveReviewRequest captures payload for resolving a review
type ResolveReviewRequest struct {
	Resolution Resolution `json:"resolution"`
}
