package controllers

import (
	"errors"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/orgboard/orgsync/internal/perrors"
	"github.com/orgboard/orgsync/internal/services"
	"github.com/orgboard/orgsync/internal/services/event"
	"github.com/valyala/fasthttp"
)

func RegisterEventRoutes(r *router.Router, svc *services.Services) {
	// Create event
	r.POST("/api/orgsync/events", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		var body event.CreateEventRequest
		if err := parseBody(ctx, &body); err != nil {
			writeError(ctx, stdCtx, "Invalid request body", perrors.NewErrInvalidRequest("Invalid request body", err))
			return
		}

		created, err := svc.Event.Create(stdCtx, requestRole(ctx), &body)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to create event", domainError("Failed to create event", err))
			return
		}

		writeOK(ctx, stdCtx, "Event created successfully", created)
	})

	// List events
	r.GET("/api/orgsync/events", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		events, err := svc.Event.List(stdCtx)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to list events", perrors.NewErrInternalServerError("Failed to list events", err))
			return
		}

		writeOK(ctx, stdCtx, "Events retrieved successfully", events)
	})

	// Get event by ID
	r.GET("/api/orgsync/events/{id}", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		id, err := pathParamUUID(ctx, "id")
		if err != nil {
			writeError(ctx, stdCtx, "Invalid ID format", perrors.NewErrInvalidRequest("Invalid ID format", err))
			return
		}

		ev, err := svc.Event.GetByID(stdCtx, id)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to get event", domainError("Failed to get event", err))
			return
		}

		writeOK(ctx, stdCtx, "Event retrieved successfully", ev)
	})

	// Update event
	r.PUT("/api/orgsync/events/{id}", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		id, err := pathParamUUID(ctx, "id")
		if err != nil {
			writeError(ctx, stdCtx, "Invalid ID format", perrors.NewErrInvalidRequest("Invalid ID format", err))
			return
		}

		var body event.UpdateEventRequest
		if err := parseBody(ctx, &body); err != nil {
			writeError(ctx, stdCtx, "Invalid request body", perrors.NewErrInvalidRequest("Invalid request body", err))
			return
		}

		if body.ExpectedVersion <= 0 {
			writeError(ctx, stdCtx, "expected_version is required", perrors.NewErrInvalidRequest("expected_version is required", errors.New("expected_version must be positive")))
			return
		}

		updated, err := svc.Event.Update(stdCtx, requestRole(ctx), id, &body)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to update event", domainError("Failed to update event", err))
			return
		}

		writeOK(ctx, stdCtx, "Event updated successfully", updated)
	})

	// Delete event
	r.DELETE("/api/orgsync/events/{id}", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		id, err := pathParamUUID(ctx, "id")
		if err != nil {
			writeError(ctx, stdCtx, "Invalid ID format", perrors.NewErrInvalidRequest("Invalid ID format", err))
			return
		}

		expectedVersion, err := expectedVersionQuery(ctx)
		if err != nil {
			writeError(ctx, stdCtx, "expected_version is required", perrors.NewErrInvalidRequest("expected_version is required", err))
			return
		}

		if err := svc.Event.Delete(stdCtx, requestRole(ctx), id, expectedVersion); err != nil {
			writeError(ctx, stdCtx, "Failed to delete event", domainError("Failed to delete event", err))
			return
		}

		writeOK(ctx, stdCtx, "Event deleted successfully", nil)
	})
}

func expectedVersionQuery(ctx *fasthttp.RequestCtx) (int64, error) {
	raw := ctx.QueryArgs().Peek("expected_version")
	if len(raw) == 0 {
		return 0, errors.New("expected_version parameter is required")
	}

	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, errors.New("expected_version must be a positive integer")
	}

	return v, nil
}
