package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/coachai/coach-backend/internal/shared"
	"github.com/coachai/coach-backend/internal/transport"
	"github.com/labstack/echo/v4"
)

type contextKey string

const claimsKey contextKey = "jwt_claims"

type Middleware struct {
	validator *JWTValidator
}

func NewMiddleware(validator *JWTValidator) *Middleware {
	return &Middleware{validator: validator}
}

func (m *Middleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, err := m.validator.Validate(tokenFrom(c.Request()))
		if err != nil {
			return unauthorized(err)
		}

		SetClaims(c, claims)
		return next(c)
	}
}

// RequireRole must run after Authenticate.
func (m *Middleware) RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := GetClaims(c)
			if claims == nil {
				return shared.Unauthorized("auth_required", "authentication required")
			}
			if !claims.HasRole(role) {
				return shared.Forbidden("forbidden", "insufficient role")
			}
			return next(c)
		}
	}
}

func unauthorized(err error) error {
	switch {
	case errors.Is(err, ErrMissingToken):
		return shared.Unauthorized("missing_token", "authorization header required")
	case errors.Is(err, ErrExpiredToken):
		return shared.Unauthorized("token_expired", "token has expired")
	default:
		return shared.Unauthorized("invalid_token", "invalid or malformed token")
	}
}

// tokenFrom reads the bearer token from the Authorization header, falling
// back to the access_token query parameter for EventSource clients, which
// cannot set headers.
func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return h
	}
	return r.URL.Query().Get("access_token")
}

func GetClaims(c echo.Context) *Claims {
	claims, ok := c.Request().Context().Value(claimsKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

func RequireAuth(c echo.Context) (string, error) {
	claims := GetClaims(c)
	if claims == nil {
		return "", shared.Unauthorized("auth_required", "authentication required")
	}
	return claims.UserID(), nil
}

func SetClaims(c echo.Context, claims *Claims) {
	ctx := context.WithValue(c.Request().Context(), claimsKey, claims)
	c.SetRequest(c.Request().WithContext(ctx))
}

func SetClaimsForTest(c echo.Context, claims *Claims) {
	SetClaims(c, claims)
}

// AuthFunc adapts the validator for handlers that authenticate the raw
// request themselves.
func AuthFunc(validator *JWTValidator) transport.AuthFunc {
	return func(r *http.Request) (*transport.UserProfile, error) {
		claims, err := validator.Validate(tokenFrom(r))
		if err != nil {
			return nil, err
		}
		return &transport.UserProfile{
			UserID: claims.UserID(),
			Name:   claims.Name,
			Email:  claims.Email,
			Role:   claims.Role,
		}, nil
	}
}
