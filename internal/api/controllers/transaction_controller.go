package controllers

import (
	"errors"

	"github.com/fasthttp/router"
	"github.com/orgboard/orgsync/internal/perrors"
	"github.com/orgboard/orgsync/internal/services"
	"github.com/orgboard/orgsync/internal/services/transaction"
	"github.com/valyala/fasthttp"
)

func RegisterTransactionRoutes(r *router.Router, svc *services.Services) {
	// Record transaction
	r.POST("/api/orgsync/transactions", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		var body transaction.CreateTransactionRequest
		if err := parseBody(ctx, &body); err != nil {
			writeError(ctx, stdCtx, "Invalid request body", perrors.NewErrInvalidRequest("Invalid request body", err))
			return
		}

		created, err := svc.Transaction.Create(stdCtx, requestRole(ctx), &body)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to create transaction", domainError("Failed to create transaction", err))
			return
		}

		writeOK(ctx, stdCtx, "Transaction created successfully", created)
	})

	// List transactions
	r.GET("/api/orgsync/transactions", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		transactions, err := svc.Transaction.List(stdCtx)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to list transactions", perrors.NewErrInternalServerError("Failed to list transactions", err))
			return
		}

		writeOK(ctx, stdCtx, "Transactions retrieved successfully", transactions)
	})

	// Current balance in minor units
	r.GET("/api/orgsync/transactions/balance", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		balance, err := svc.Transaction.BalanceMinor(stdCtx)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to compute balance", perrors.NewErrInternalServerError("Failed to compute balance", err))
			return
		}

		writeOK(ctx, stdCtx, "Balance retrieved successfully", map[string]any{
			"balance_minor": balance,
		})
	})

	// Get transaction by ID
	r.GET("/api/orgsync/transactions/{id}", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		id, err := pathParamUUID(ctx, "id")
		if err != nil {
			writeError(ctx, stdCtx, "Invalid ID format", perrors.NewErrInvalidRequest("Invalid ID format", err))
			return
		}

		tx, err := svc.Transaction.GetByID(stdCtx, id)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to get transaction", domainError("Failed to get transaction", err))
			return
		}

		writeOK(ctx, stdCtx, "Transaction retrieved successfully", tx)
	})

	// Update transaction
	r.PUT("/api/orgsync/transactions/{id}", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		id, err := pathParamUUID(ctx, "id")
		if err != nil {
			writeError(ctx, stdCtx, "Invalid ID format", perrors.NewErrInvalidRequest("Invalid ID format", err))
			return
		}

		var body transaction.UpdateTransactionRequest
		if err := parseBody(ctx, &body); err != nil {
			writeError(ctx, stdCtx, "Invalid request body", perrors.NewErrInvalidRequest("Invalid request body", err))
			return
		}

		if body.ExpectedVersion <= 0 {
			writeError(ctx, stdCtx, "expected_version is required", perrors.NewErrInvalidRequest("expected_version is required", errors.New("expected_version must be positive")))
			return
		}

		updated, err := svc.Transaction.Update(stdCtx, requestRole(ctx), id, &body)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to update transaction", domainError("Failed to update transaction", err))
			return
		}

		writeOK(ctx, stdCtx, "Transaction updated successfully", updated)
	})

	// Delete transaction
	r.DELETE("/api/orgsync/transactions/{id}", func(ctx *fasthttp.RequestCtx) {
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

		if err := svc.Transaction.Delete(stdCtx, requestRole(ctx), id, expectedVersion); err != nil {
			writeError(ctx, stdCtx, "Failed to delete transaction", domainError("Failed to delete transaction", err))
			return
		}

		writeOK(ctx, stdCtx, "Transaction deleted successfully", nil)
	})
}
