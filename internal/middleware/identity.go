package middleware

// identity.go defines the context keys shared across middleware files and the
// helpers handlers use to read the authenticated caller.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/community-gate/internal/model"
)

// Context keys set by JWTAuth.
const (
	identityKey = "identity"
	userIDKey   = "user_id"
	roleKey     = "role"
)

// IdentityFrom returns the caller resolved by JWTAuth. On routes without
// JWTAuth the zero identity is returned, which the domain layer rejects as
// unauthenticated.
func IdentityFrom(c echo.Context) model.Identity {
	if id, ok := c.Get(identityKey).(model.Identity); ok {
		return id
	}
	return model.Identity{}
}

// userID returns the authenticated user id, or "guest" when the request
// carries no identity. Rate limit and cache keys use it.
func userID(c echo.Context) string {
	if v, ok := c.Get(userIDKey).(string); ok && v != "" {
		return v
	}
	return "guest"
}
