package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/orgboard/orgsync/internal/services/capability"
	"github.com/orgboard/orgsync/internal/sync"
)

// ErrAlreadyResolved means the review was closed by another operator.
var ErrAlreadyResolved = errors.New("review already resolved")

// Applier applies an operator verdict to the domain store for one source.
// KeepLocal re-queues the local record for an outward push; KeepExternal
// overwrites the local record with the parked external state.
type Applier interface {
	KeepLocal(ctx context.Context, entityID uuid.UUID) error
	KeepExternal(ctx context.Context, entityID uuid.UUID, external json.RawMessage) error
}

// ReviewService contains business logic for conflict reviews.
type ReviewService struct {
	repo     *ReviewRepo
	gate     *capability.Gate
	appliers map[sync.Source]Applier
}

// NewReviewService constructs a new ReviewService
func NewReviewService(repo *ReviewRepo, gate *capability.Gate) *ReviewService {
	return &ReviewService{
		repo:     repo,
		gate:     gate,
		appliers: make(map[sync.Source]Applier),
	}
}

// RegisterApplier binds the verdict applier for one source. Called once per
// source during wiring.
func (s *ReviewService) RegisterApplier(source sync.Source, applier Applier) {
	s.appliers[source] = applier
}

// List returns reviews; openOnly restricts to unresolved ones
func (s *ReviewService) List(ctx context.Context, openOnly bool) ([]*Review, error) {
	reviews, err := s.repo.List(ctx, openOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}

	return reviews, nil
}

// GetByID fetches a review by its identifier
func (s *ReviewService) GetByID(ctx context.Context, id uuid.UUID) (*Review, error) {
	review, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrReviewNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to get review: %w", err)
	}

	return review, nil
}

// Resolve applies an operator verdict and releases the entity lock. The
// verdict is applied before the review closes so a failed apply leaves the
// entity locked.
func (s *ReviewService) Resolve(ctx context.Context, role capability.Role, id uuid.UUID, resolution Resolution) error {
	if decision := s.gate.Authorize(role, capability.MutationResolveReview, false); !decision.Allowed {
		return &capability.DeniedError{Mutation: capability.MutationResolveReview, Role: role, Reason: decision.Reason}
	}

	if !resolution.Valid() {
		return fmt.Errorf("invalid resolution %q", resolution)
	}

	review, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if review.ResolvedAt != nil {
		return ErrAlreadyResolved
	}

	applier, ok := s.appliers[review.Source]
	if !ok {
		return fmt.Errorf("no applier registered for source %s", review.Source)
	}

	switch resolution {
	case ResolutionKeepLocal:
		err = applier.KeepLocal(ctx, review.EntityID)
	case ResolutionKeepExternal:
		err = applier.KeepExternal(ctx, review.EntityID, review.ExternalState)
	}
	if err != nil {
		return fmt.Errorf("failed to apply %s verdict: %w", resolution, err)
	}

	if err := s.repo.MarkResolved(ctx, id); err != nil {
		return err
	}

	slog.Info("Review resolved",
		slog.String("review_id", id.String()),
		slog.String("source", string(review.Source)),
		slog.String("entity_id", review.EntityID.String()),
		slog.String("resolution", string(resolution)))

	return nil
}
