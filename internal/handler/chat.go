package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/chat"
	"github.com/iliyamo/community-gate/internal/middleware"
)

// ChatHandler serves POST /chat.
type ChatHandler struct {
	Bridge *chat.Bridge
	Logger *zap.Logger
}

func NewChatHandler(bridge *chat.Bridge, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{Bridge: bridge, Logger: nopIfNil(logger)}
}

// Chat answers one message and returns the updated conversation.
func (h *ChatHandler) Chat(c echo.Context) error {
	var req chat.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	resp, err := h.Bridge.Handle(c.Request().Context(), middleware.IdentityFrom(c), req)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, resp)
}
