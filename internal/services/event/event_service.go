package event

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

// EventService contains business logic for work-program events. Every
// mutation passes the capability gate before touching the store.
type EventService struct {
	repo  *EventRepo
	gate  *capability.Gate
	locks LockChecker
}

// NewEventService constructs a new EventService
func NewEventService(repo *EventRepo, gate *capability.Gate, locks LockChecker) *EventService {
	return &EventService{repo: repo, gate: gate, locks: locks}
}

// Create registers a new event after the capability check
func (s *EventService) Create(ctx context.Context, role capability.Role, req *CreateEventRequest) (*Event, error) {
	if err := s.authorize(ctx, role, capability.MutationCreateEvent, uuid.Nil); err != nil {
		return nil, err
	}

	if req.Title == "" {
		return nil, fmt.Errorf("event title is required")
	}
	if !req.EndsAt.After(req.StartsAt) {
		return nil, fmt.Errorf("event must end after it starts")
	}

	event, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	return event, nil
}

// GetByID fetches an event by its identifier
func (s *EventService) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	event, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return event, nil
}

// List returns all live events
func (s *EventService) List(ctx context.Context) ([]*Event, error) {
	events, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	return events, nil
}

// Update modifies mutable event fields under optimistic concurrency
func (s *EventService) Update(ctx context.Context, role capability.Role, id uuid.UUID, req *UpdateEventRequest) (*Event, error) {
	if err := s.authorize(ctx, role, capability.MutationUpdateEvent, id); err != nil {
		return nil, err
	}

	if req.Status != nil && !req.Status.Valid() {
		return nil, fmt.Errorf("invalid event status %q", *req.Status)
	}
	if req.StartsAt != nil && req.EndsAt != nil && !req.EndsAt.After(*req.StartsAt) {
		return nil, fmt.Errorf("event must end after it starts")
	}

	event, err := s.repo.Update(ctx, id, req)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) || errors.Is(err, ErrStaleWrite) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update event: %w", err)
	}

	return event, nil
}

// Delete tombstones an event; the sync orchestrator propagates the delete to
// the calendar before the row is purged.
func (s *EventService) Delete(ctx context.Context, role capability.Role, id uuid.UUID, expectedVersion int64) error {
	if err := s.authorize(ctx, role, capability.MutationDeleteEvent, id); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id, expectedVersion); err != nil {
		if errors.Is(err, ErrEventNotFound) || errors.Is(err, ErrStaleWrite) {
			return err
		}
		return fmt.Errorf("failed to delete event: %w", err)
	}

	return nil
}

func (s *EventService) authorize(ctx context.Context, role capability.Role, mutation capability.Mutation, id uuid.UUID) error {
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
