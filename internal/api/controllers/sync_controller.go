package controllers

import (
	"fmt"

	"github.com/fasthttp/router"
	"github.com/orgboard/orgsync/internal/perrors"
	"github.com/orgboard/orgsync/internal/services"
	"github.com/orgboard/orgsync/internal/sync"
	"github.com/valyala/fasthttp"
)

func RegisterSyncRoutes(r *router.Router, svc *services.Services) {
	// Health of both sync sources
	r.GET("/api/orgsync/sync/status", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		writeOK(ctx, stdCtx, "Sync status retrieved successfully", []sync.Status{
			svc.CalendarSync.Status(),
			svc.LedgerSync.Status(),
		})
	})

	// Force an immediate cycle, reviving a degraded source
	r.POST("/api/orgsync/sync/{source}/force", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		source, err := pathParam(ctx, "source")
		if err != nil {
			writeError(ctx, stdCtx, "Source is required", perrors.NewErrInvalidRequest("Source is required", err))
			return
		}

		switch sync.Source(source) {
		case sync.SourceCalendar:
			svc.CalendarSync.ForceSync(stdCtx)
		case sync.SourceLedger:
			svc.LedgerSync.ForceSync(stdCtx)
		default:
			writeError(ctx, stdCtx, "Unknown sync source", perrors.NewErrInvalidRequest("Unknown sync source", fmt.Errorf("unknown source %q", source)))
			return
		}

		writeOK(ctx, stdCtx, "Sync requested successfully", map[string]any{
			"source": source,
		})
	})
}
