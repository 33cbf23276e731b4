package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"context"
	"errors"
	"net/http" // HTTP status codes for responses
	"strings"  // string utilities for prefix checking and trimming

	"github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

	"github.com/iliyamo/community-gate/internal/model"
	"github.com/iliyamo/community-gate/internal/repository"
	"github.com/iliyamo/community-gate/internal/utils"
)

// UserResolver loads the stored account behind a token subject.
type UserResolver interface {
	GetByID(ctx context.Context, id string) (model.User, error)
}

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the caller into the request context. The provided secret must match
// the one used when issuing tokens. The token only names the user: role and
// household are read from the stored account, and a token whose user no
// longer exists is rejected. Handlers read the caller with IdentityFrom; the
// user id and role are also stored under "user_id" and "role" for the rate
// limiter and response cache.
func JWTAuth(secret string, users UserResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// A valid header starts with "Bearer " followed by the JWT.
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			// Signature, expiry and claim shape are all checked here; any
			// failure is reported the same way.
			claimed, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			u, err := users.GetByID(c.Request().Context(), claimed.UserID)
			if errors.Is(err, repository.ErrNotFound) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			if err != nil {
				c.Logger().Errorf("resolve token subject %s: %v", claimed.UserID, err)
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
			}
			id := u.Identity()

			c.Set(identityKey, id)
			c.Set(userIDKey, id.UserID)
			c.Set(roleKey, string(id.Role))
			return next(c)
		}
	}
}
