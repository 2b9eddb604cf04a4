package controllers

import (
	"errors"

	"github.com/fasthttp/router"
	"github.com/orgboard/orgsync/internal/perrors"
	"github.com/orgboard/orgsync/internal/services"
	"github.com/orgboard/orgsync/internal/services/user"
	"github.com/valyala/fasthttp"
)

func RegisterUserRoutes(r *router.Router, svc *services.Services) {
	// Register a member
	r.POST("/api/orgsync/users", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		var body user.CreateUserRequest
		if err := parseBody(ctx, &body); err != nil {
			writeError(ctx, stdCtx, "Invalid request body", perrors.NewErrInvalidRequest("Invalid request body", err))
			return
		}

		if body.Email == "" || body.Name == "" {
			writeError(ctx, stdCtx, "Name and email are required", perrors.NewErrInvalidRequest("Name and email are required", errors.New("missing fields")))
			return
		}

		created, err := svc.User.Create(stdCtx, requestRole(ctx), &body)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to create user", domainError("Failed to create user", err))
			return
		}

		writeOK(ctx, stdCtx, "User created successfully", created)
	})

	// List members
	r.GET("/api/orgsync/users", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		users, err := svc.User.List(stdCtx)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to list users", perrors.NewErrInternalServerError("Failed to list users", err))
			return
		}

		writeOK(ctx, stdCtx, "Users retrieved successfully", users)
	})

	// Reassign a member's role, chair only
	r.PUT("/api/orgsync/users/{id}/role", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		id, err := pathParam(ctx, "id")
		if err != nil {
			writeError(ctx, stdCtx, "Invalid ID format", perrors.NewErrInvalidRequest("Invalid ID format", err))
			return
		}

		var body user.UpdateRoleRequest
		if err := parseBody(ctx, &body); err != nil {
			writeError(ctx, stdCtx, "Invalid request body", perrors.NewErrInvalidRequest("Invalid request body", err))
			return
		}

		updated, err := svc.User.UpdateRole(stdCtx, requestRole(ctx), id, body.Role)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to update role", domainError("Failed to update role", err))
			return
		}

		writeOK(ctx, stdCtx, "Role updated successfully", updated)
	})
}
