package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/account"
	"github.com/iliyamo/community-gate/internal/audit"
	"github.com/iliyamo/community-gate/internal/middleware"
)

// AdminHandler serves account management and the audit viewer.
type AdminHandler struct {
	Accounts *account.Service
	Audit    *audit.Log
	Logger   *zap.Logger
}

func NewAdminHandler(accounts *account.Service, auditLog *audit.Log, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{Accounts: accounts, Audit: auditLog, Logger: nopIfNil(logger)}
}

type removeUserReq struct {
	UserID string `json:"userId"`
}

// Users handles GET /admin/users.
func (h *AdminHandler) Users(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()

	users, err := h.Accounts.List(ctx, middleware.IdentityFrom(c))
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"users": users})
}

// CreateUser handles POST /admin/create-user.
func (h *AdminHandler) CreateUser(c echo.Context) error {
	var req account.NewUser
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	u, err := h.Accounts.CreateUser(ctx, middleware.IdentityFrom(c), req)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "message": "User created", "user": u})
}

// RemoveUser handles POST /admin/remove-user.
func (h *AdminHandler) RemoveUser(c echo.Context) error {
	var req removeUserReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	if err := h.Accounts.Remove(ctx, middleware.IdentityFrom(c), req.UserID); err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "User removed"})
}

// AuditEvents handles GET /admin/audit-events?limit=.
func (h *AdminHandler) AuditEvents(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be a non-negative integer"})
		}
		limit = n
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	events, err := h.Audit.Recent(ctx, limit)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"events": events})
}
