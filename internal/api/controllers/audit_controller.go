package controllers

import (
	"strconv"
	"time"

	"github.com/fasthttp/router"
	"github.com/orgboard/orgsync/internal/perrors"
	"github.com/orgboard/orgsync/internal/services"
	"github.com/orgboard/orgsync/internal/services/audit"
	"github.com/valyala/fasthttp"
)

// RegisterAuditRoutes registers sync cycle history routes. They are only
// mounted when ClickHouse is configured.
func RegisterAuditRoutes(r *router.Router, svc *services.Services) {
	auditSvc := svc.Audit
	if auditSvc == nil {
		return
	}

	// List past sync cycles with optional filters
	r.GET("/api/orgsync/sync/cycles", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		params := parseCycleQueryParams(ctx)

		cycles, err := auditSvc.ListCycles(stdCtx, params)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to list sync cycles", perrors.NewErrInternalServerError("Failed to list sync cycles", err))
			return
		}

		writeOK(ctx, stdCtx, "Sync cycles retrieved successfully", map[string]any{
			"cycles": cycles,
			"limit":  params.Limit,
		})
	})
}

func parseCycleQueryParams(ctx *fasthttp.RequestCtx) *audit.CycleQueryParams {
	params := &audit.CycleQueryParams{
		Source:     string(ctx.QueryArgs().Peek("source")),
		OnlyFailed: string(ctx.QueryArgs().Peek("failed")) == "true",
		Limit:      50,
	}

	if raw := string(ctx.QueryArgs().Peek("limit")); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 && limit <= 1000 {
			params.Limit = limit
		}
	}

	if raw := string(ctx.QueryArgs().Peek("start_time")); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			params.StartTime = t
		}
	}

	if raw := string(ctx.QueryArgs().Peek("end_time")); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			params.EndTime = t
		}
	}

	return params
}
