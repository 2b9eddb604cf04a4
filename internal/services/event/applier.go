package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/orgboard/orgsync/internal/sync"
)

// ReviewApplier applies operator verdicts on parked calendar conflicts.
type ReviewApplier struct {
	repo *EventRepo
}

func NewReviewApplier(repo *EventRepo) *ReviewApplier {
	return &ReviewApplier{repo: repo}
}

// KeepLocal re-queues the local record so the next cycle pushes it out again.
func (a *ReviewApplier) KeepLocal(ctx context.Context, entityID uuid.UUID) error {
	return a.repo.Requeue(ctx, entityID)
}

// KeepExternal replaces the local record with the external state captured at
// park time.
func (a *ReviewApplier) KeepExternal(ctx context.Context, entityID uuid.UUID, external json.RawMessage) error {
	if len(external) == 0 || string(external) == "null" {
		return fmt.Errorf("review has no external state to apply")
	}

	var change sync.Change[*Event]
	if err := sonic.Unmarshal(external, &change); err != nil {
		return fmt.Errorf("failed to decode external state: %w", err)
	}

	if change.Deleted {
		return a.repo.DeleteLocal(ctx, entityID)
	}
	return a.repo.ApplyExternal(ctx, entityID, change)
}
