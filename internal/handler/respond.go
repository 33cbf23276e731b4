package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/apperr"
)

// requestTimeout bounds the store work of one request.
const requestTimeout = 5 * time.Second

// respondError writes err as {error, details?} with the status of its code.
// Internal failures are logged and answered with a generic message.
func respondError(c echo.Context, logger *zap.Logger, err error) error {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.Internal("internal error", err)
	}
	status := ae.Code.HTTPStatus()
	if status >= http.StatusInternalServerError && ae.Code != apperr.CodeUnavailable {
		logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.String("code", string(ae.Code)),
			zap.Error(err))
		return c.JSON(status, echo.Map{"error": "internal server error"})
	}
	body := echo.Map{"error": ae.Message}
	if ae.Details != "" {
		body["details"] = ae.Details
	}
	return c.JSON(status, body)
}

// withTimeout derives the request-scoped context used for store calls.
func withTimeout(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
