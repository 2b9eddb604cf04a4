package controllers

import (
	"errors"

	"github.com/fasthttp/router"
	"github.com/orgboard/orgsync/internal/perrors"
	"github.com/orgboard/orgsync/internal/services"
	"github.com/orgboard/orgsync/internal/services/review"
	"github.com/valyala/fasthttp"
)

func RegisterReviewRoutes(r *router.Router, svc *services.Services) {
	// List parked reviews. ?open=true narrows to unresolved ones.
	r.GET("/api/orgsync/sync/reviews", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		openOnly := string(ctx.QueryArgs().Peek("open")) == "true"

		reviews, err := svc.Review.List(stdCtx, openOnly)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to list reviews", perrors.NewErrInternalServerError("Failed to list reviews", err))
			return
		}

		writeOK(ctx, stdCtx, "Reviews retrieved successfully", reviews)
	})

	// Get review by ID
	r.GET("/api/orgsync/sync/reviews/{id}", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		id, err := pathParamUUID(ctx, "id")
		if err != nil {
			writeError(ctx, stdCtx, "Invalid ID format", perrors.NewErrInvalidRequest("Invalid ID format", err))
			return
		}

		rev, err := svc.Review.GetByID(stdCtx, id)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to get review", domainError("Failed to get review", err))
			return
		}

		writeOK(ctx, stdCtx, "Review retrieved successfully", rev)
	})

	// Resolve a review with a keep_local or keep_external verdict
	r.POST("/api/orgsync/sync/reviews/{id}/resolve", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		id, err := pathParamUUID(ctx, "id")
		if err != nil {
			writeError(ctx, stdCtx, "Invalid ID format", perrors.NewErrInvalidRequest("Invalid ID format", err))
			return
		}

		var body review.ResolveReviewRequest
		if err := parseBody(ctx, &body); err != nil {
			writeError(ctx, stdCtx, "Invalid request body", perrors.NewErrInvalidRequest("Invalid request body", err))
			return
		}

		if !body.Resolution.Valid() {
			writeError(ctx, stdCtx, "Resolution must be keep_local or keep_external", perrors.NewErrInvalidRequest("Resolution must be keep_local or keep_external", errors.New("invalid resolution")))
			return
		}

		if err := svc.Review.Resolve(stdCtx, requestRole(ctx), id, body.Resolution); err != nil {
			writeError(ctx, stdCtx, "Failed to resolve review", domainError("Failed to resolve review", err))
			return
		}

		writeOK(ctx, stdCtx, "Review resolved successfully", nil)
	})
}
