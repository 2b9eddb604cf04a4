package controllers

import (
	"context"
	"errors"
	"fmt"

	json "github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/orgboard/orgsync/internal/api/authenticator"
	"github.com/orgboard/orgsync/internal/api/response"
	"github.com/orgboard/orgsync/internal/perrors"
	"github.com/orgboard/orgsync/internal/services/capability"
	"github.com/orgboard/orgsync/internal/services/event"
	"github.com/orgboard/orgsync/internal/services/review"
	"github.com/orgboard/orgsync/internal/services/transaction"
	"github.com/orgboard/orgsync/internal/services/user"
	"github.com/orgboard/orgsync/internal/sync"
	"github.com/valyala/fasthttp"
)

// requestContext returns a baseline context for handlers. fasthttp does not provide
// a standard context, so we start from Background for downstream calls.
func requestContext(_ *fasthttp.RequestCtx) context.Context {
	return context.Background()
}

func parseBody(ctx *fasthttp.RequestCtx, target any) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return errors.New("request body is empty")
	}

	return json.Unmarshal(body, target)
}

func writeError(ctx *fasthttp.RequestCtx, stdCtx context.Context, message string, err error) {
	response.NewResponse[any](stdCtx, message, nil).WithError(err).Write(ctx)
}

func writeOK(ctx *fasthttp.RequestCtx, stdCtx context.Context, message string, data any) {
	response.NewResponse(stdCtx, message, data).Write(ctx)
}

func pathParam(ctx *fasthttp.RequestCtx, key string) (string, error) {
	val := ctx.UserValue(key)
	if val == nil {
		return "", fmt.Errorf("%s is required", key)
	}

	return fmt.Sprint(val), nil
}

func pathParamUUID(ctx *fasthttp.RequestCtx, key string) (uuid.UUID, error) {
	val, err := pathParam(ctx, key)
	if err != nil {
		return uuid.Nil, err
	}

	return uuid.Parse(val)
}

// requestRole extracts the caller's role from the verified token claims. When
// auth is disabled the middleware stores no claims and every request runs as
// chair, which keeps local development friction-free.
func requestRole(ctx *fasthttp.RequestCtx) capability.Role {
	claims, ok := ctx.UserValue("userClaims").(*authenticator.UserClaims)
	if !ok || claims == nil {
		return capability.RoleChair
	}

	return capability.Role(claims.Role)
}

// domainError maps service-layer failures onto the error taxonomy so every
// controller renders the same status codes for the same conditions.
func domainError(message string, err error) error {
	var denied *capability.DeniedError
	if errors.As(err, &denied) {
		switch denied.Reason {
		case capability.ReasonEntityLocked:
			return perrors.New(perrors.ErrCodeEntityLocked, message, err)
		default:
			return perrors.New(perrors.ErrCodeInsufficientRole, message, err)
		}
	}

	switch {
	case errors.Is(err, event.ErrStaleWrite), errors.Is(err, transaction.ErrStaleWrite):
		return perrors.New(perrors.ErrCodeStaleWrite, message, err)
	case errors.Is(err, event.ErrEventNotFound),
		errors.Is(err, transaction.ErrTransactionNotFound),
		errors.Is(err, review.ErrReviewNotFound),
		errors.Is(err, user.ErrUserNotFound):
		return perrors.New(perrors.ErrCodeNotFound, message, err)
	case errors.Is(err, review.ErrAlreadyResolved):
		return perrors.New(perrors.ErrCodeConflict, message, err)
	case errors.Is(err, sync.ErrRateLimited):
		return perrors.New(perrors.ErrCodeRateLimited, message, err)
	case errors.Is(err, sync.ErrAuthExpired):
		return perrors.New(perrors.ErrCodeAuthExpired, message, err)
	default:
		return perrors.NewErrInternalServerError(message, err)
	}
}
