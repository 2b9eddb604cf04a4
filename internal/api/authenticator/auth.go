package authenticator

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/bytedance/sonic"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/orgboard/orgsync/internal/config"
	"golang.org/x/oauth2"
)

const tokenLifetime = 24 * time.Hour

// UserClaims is what the middleware hands to route handlers. Role is carried
// in the token so the capability gate never needs a user lookup per request.
type UserClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies the service's own HS256 tokens, and
// optionally drives an OIDC login flow (school Google Workspace etc.) whose
// RS256 access tokens verify against the issuer's JWKS.
type Authenticator struct {
	*oidc.Provider
	oauth2.Config

	jwtSecret    string
	stateSecret  string
	issuer       string
	jwksProvider *jwks.CachingProvider
	audience     string
	oidcEnabled  bool
}

func New(conf *config.Config) (*Authenticator, error) {
	a := &Authenticator{
		jwtSecret:   conf.JWT_SECRET,
		stateSecret: conf.STATE_SECRET,
		audience:    "orgsync-api",
	}

	if conf.OIDC_ISSUER == "" {
		return a, nil
	}

	provider, err := oidc.NewProvider(context.Background(), conf.OIDC_ISSUER)
	if err != nil {
		return nil, err
	}

	issuerURL, err := url.Parse(conf.OIDC_ISSUER)
	if err != nil {
		return nil, err
	}

	a.Provider = provider
	a.Config = oauth2.Config{
		ClientID:     conf.OIDC_CLIENT_ID,
		ClientSecret: conf.OIDC_CLIENT_SECRET,
		RedirectURL:  conf.OIDC_CALLBACK_URL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	a.issuer = conf.OIDC_ISSUER
	a.jwksProvider = jwks.NewCachingProvider(issuerURL, 5*time.Minute)
	a.oidcEnabled = true

	return a, nil
}

// AuthEnabled reports whether requests must carry a token. An empty JWT
// secret disables auth entirely (local development).
func (a *Authenticator) AuthEnabled() bool {
	return a.jwtSecret != ""
}

func (a *Authenticator) OIDCEnabled() bool {
	return a.oidcEnabled
}

func (a *Authenticator) Audience() string {
	return a.audience
}

// GenerateToken issues an HS256 session token carrying the user's role.
func (a *Authenticator) GenerateToken(userID, email, name, role string) (string, error) {
	now := time.Now()
	claims := UserClaims{
		UserID: userID,
		Email:  email,
		Name:   name,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{a.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.jwtSecret))
}

// VerifyAccessToken validates a session token and returns its claims.
func (a *Authenticator) VerifyAccessToken(_ context.Context, token string) (*UserClaims, error) {
	claims := &UserClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.jwtSecret), nil
	}, jwt.WithAudience(a.audience))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// VerifyOIDCAccessToken validates an RS256 access token from the OIDC issuer.
func (a *Authenticator) VerifyOIDCAccessToken(ctx context.Context, token string) error {
	if !a.oidcEnabled {
		return errors.New("oidc is not configured")
	}

	jwtValidator, err := validator.New(a.jwksProvider.KeyFunc, validator.RS256, a.issuer, []string{a.audience})
	if err != nil {
		return err
	}

	_, err = jwtValidator.ValidateToken(ctx, token)
	return err
}

// VerifyIDToken verifies that an *oauth2.Token is a valid *oidc.IDToken.
func (a *Authenticator) VerifyIDToken(ctx context.Context, token *oauth2.Token) (*oidc.IDToken, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("no id_token field in oauth2 token")
	}

	oidcConfig := &oidc.Config{
		ClientID: a.ClientID,
	}

	return a.Verifier(oidcConfig).Verify(ctx, rawIDToken)
}

type OAuthState struct {
	CSRF      string `json:"csrf"`
	Redirect  string `json:"redirect"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

func (a *Authenticator) GetSignedState(state OAuthState) (string, error) {
	payload, err := sonic.Marshal(state)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(a.stateSecret))
	mac.Write(payload)
	sig := mac.Sum(nil)

	combined := append(payload, sig...)
	return base64.StdEncoding.EncodeToString(combined), nil
}

func (a *Authenticator) VerifySignedState(encodedState string) (*OAuthState, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedState)
	if err != nil {
		return nil, errors.New("invalid base64")
	}

	if len(raw) < sha256.Size {
		return nil, errors.New("state too short")
	}

	payload := raw[:len(raw)-sha256.Size]
	sig := raw[len(raw)-sha256.Size:]

	mac := hmac.New(sha256.New, []byte(a.stateSecret))
	mac.Write(payload)
	expectedSig := mac.Sum(nil)
	if !hmac.Equal(sig, expectedSig) {
		return nil, errors.New("invalid state signature")
	}

	var state OAuthState
	if err := sonic.Unmarshal(payload, &state); err != nil {
		return nil, errors.New("invalid state payload")
	}

	if time.Now().Unix() > state.ExpiresAt {
		return nil, errors.New("state expired")
	}

	return &state, nil
}
