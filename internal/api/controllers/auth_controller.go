package controllers

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/fasthttp/router"
	"github.com/orgboard/orgsync/internal/api/authenticator"
	"github.com/orgboard/orgsync/internal/perrors"
	"github.com/orgboard/orgsync/internal/services"
	"github.com/valyala/fasthttp"
	"golang.org/x/oauth2"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type UserResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func RegisterAuthRoutes(r *router.Router, svc *services.Services, auth *authenticator.Authenticator) {
	r.GET("/api/orgsync/auth/enabled", func(ctx *fasthttp.RequestCtx) {
		writeOK(ctx, requestContext(ctx), "success", map[string]any{
			"auth_enabled": auth.AuthEnabled(),
			"oidc_enabled": auth.OIDCEnabled(),
		})
	})

	// Login with email/password
	r.POST("/api/orgsync/auth/login", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		var req LoginRequest
		if err := parseBody(ctx, &req); err != nil {
			writeError(ctx, stdCtx, "Invalid request body", perrors.NewErrInvalidRequest("Invalid request body", err))
			return
		}

		if req.Email == "" || req.Password == "" {
			writeError(ctx, stdCtx, "Email and password are required", perrors.NewErrInvalidRequest("Email and password are required", errors.New("missing credentials")))
			return
		}

		user, err := svc.User.Authenticate(stdCtx, req.Email, req.Password)
		if err != nil {
			writeError(ctx, stdCtx, "Invalid credentials", perrors.New(perrors.ErrCodeUnauthorized, "Invalid credentials", err))
			return
		}

		token, err := auth.GenerateToken(user.ID, user.Email, user.Name, string(user.Role))
		if err != nil {
			writeError(ctx, stdCtx, "Failed to generate token", perrors.NewErrInternalServerError("Failed to generate token", err))
			return
		}

		setAccessTokenCookie(ctx, token, 24*time.Hour)

		writeOK(ctx, stdCtx, "success", LoginResponse{
			Token: token,
			User: UserResponse{
				ID:    user.ID,
				Name:  user.Name,
				Email: user.Email,
				Role:  string(user.Role),
			},
		})
	})

	// Get current user info
	r.GET("/api/orgsync/auth/me", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		claims, ok := ctx.UserValue("userClaims").(*authenticator.UserClaims)
		if !ok || claims == nil {
			writeError(ctx, stdCtx, "Unauthorized", perrors.New(perrors.ErrCodeUnauthorized, "Unauthorized", errors.New("no user claims")))
			return
		}

		user, err := svc.User.GetByID(stdCtx, claims.UserID)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to get user", domainError("Failed to get user", err))
			return
		}

		writeOK(ctx, stdCtx, "success", UserResponse{
			ID:    user.ID,
			Name:  user.Name,
			Email: user.Email,
			Role:  string(user.Role),
		})
	})

	r.POST("/api/orgsync/auth/logout", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		setAccessTokenCookie(ctx, "", -time.Hour)

		writeOK(ctx, stdCtx, "success", map[string]any{
			"message": "Logged out successfully",
		})
	})

	r.GET("/api/orgsync/auth/oidc/login", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		if !auth.OIDCEnabled() {
			writeError(ctx, stdCtx, "OIDC is not configured", perrors.New(perrors.ErrCodeNotImplemented, "OIDC is not configured", errors.New("oidc disabled")))
			return
		}

		csrf := make([]byte, 16)
		rand.Read(csrf)

		state := authenticator.OAuthState{
			CSRF:      base64.RawURLEncoding.EncodeToString(csrf),
			Redirect:  "http://localhost:3000",
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(5 * time.Minute).Unix(),
		}

		encodedState, err := auth.GetSignedState(state)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to create signed state", perrors.NewErrInternalServerError("Failed to create signed state", err))
			return
		}

		url := auth.AuthCodeURL(encodedState, oauth2.SetAuthURLParam("audience", auth.Audience()))
		ctx.Redirect(url, fasthttp.StatusTemporaryRedirect)
	})

	r.GET("/api/orgsync/auth/oidc/callback", func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)
		encodedState := ctx.URI().QueryArgs().Peek("state")
		code := ctx.URI().QueryArgs().Peek("code")

		if encodedState == nil || code == nil {
			writeError(ctx, stdCtx, "Missing parameters", perrors.NewErrInvalidRequest("Missing parameters", errors.New("state and code are required")))
			return
		}

		state, err := auth.VerifySignedState(string(encodedState))
		if err != nil {
			writeError(ctx, stdCtx, "Failed to decode state", perrors.NewErrInvalidRequest("Failed to decode state", err))
			return
		}

		token, err := auth.Exchange(stdCtx, string(code))
		if err != nil {
			writeError(ctx, stdCtx, "Failed to exchange token", perrors.New(perrors.ErrCodeUnauthorized, "Failed to exchange token", err))
			return
		}

		idToken, err := auth.VerifyIDToken(stdCtx, token)
		if err != nil {
			writeError(ctx, stdCtx, "Failed to verify ID token", perrors.New(perrors.ErrCodeUnauthorized, "Failed to verify ID token", err))
			return
		}

		var profile map[string]any
		if err := idToken.Claims(&profile); err != nil {
			writeError(ctx, stdCtx, "Failed to get claims", perrors.NewErrInternalServerError("Failed to get claims", err))
			return
		}

		setAccessTokenCookie(ctx, token.AccessToken, time.Hour)
		ctx.Redirect(state.Redirect, fasthttp.StatusFound)
	})
}

func setAccessTokenCookie(ctx *fasthttp.RequestCtx, token string, lifetime time.Duration) {
	var cookie fasthttp.Cookie
	cookie.SetKey("access_token")
	cookie.SetValue(token)
	cookie.SetPath("/")
	cookie.SetHTTPOnly(true)
	cookie.SetSecure(false) // MUST be true in production (HTTPS)
	cookie.SetSameSite(fasthttp.CookieSameSiteLaxMode)
	cookie.SetExpire(time.Now().Add(lifetime))
	ctx.Response.Header.SetCookie(&cookie)
}
