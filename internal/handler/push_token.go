package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/middleware"
	"github.com/iliyamo/community-gate/internal/repository"
)

// PushTokenHandler registers and clears the caller's push delivery token.
type PushTokenHandler struct {
	Tokens *repository.TokenRepo
	Logger *zap.Logger
}

func NewPushTokenHandler(tokens *repository.TokenRepo, logger *zap.Logger) *PushTokenHandler {
	return &PushTokenHandler{Tokens: tokens, Logger: nopIfNil(logger)}
}

type pushTokenReq struct {
	Token string `json:"token"`
}

// Put handles PUT /me/push-token, replacing any previous token.
func (h *PushTokenHandler) Put(c echo.Context) error {
	var req pushTokenReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token is required"})
	}
	id := middleware.IdentityFrom(c)

	ctx, cancel := withTimeout(c)
	defer cancel()

	if err := h.Tokens.SetPushToken(ctx, id.UserID, token); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		h.Logger.Error("set push token failed", zap.String("user", id.UserID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "Push token registered"})
}

// Delete handles DELETE /me/push-token.
func (h *PushTokenHandler) Delete(c echo.Context) error {
	id := middleware.IdentityFrom(c)

	ctx, cancel := withTimeout(c)
	defer cancel()

	if err := h.Tokens.RemovePushToken(ctx, id.UserID); err != nil {
		h.Logger.Error("remove push token failed", zap.String("user", id.UserID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "Push token removed"})
}
