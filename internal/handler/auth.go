package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/account"
	"github.com/iliyamo/community-gate/internal/config"
	"github.com/iliyamo/community-gate/internal/middleware"
	"github.com/iliyamo/community-gate/internal/model"
	"github.com/iliyamo/community-gate/internal/utils"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg      config.Config
	Accounts *account.Service
	Logger   *zap.Logger
}

func NewAuthHandler(cfg config.Config, accounts *account.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Accounts: accounts, Logger: nopIfNil(logger)}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResp struct {
	Token   string     `json:"token"`
	Expires time.Time  `json:"expires"`
	User    model.User `json:"user"`
}

// Login verifies credentials and issues an access token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := withTimeout(c)
	defer cancel()

	u, err := h.Accounts.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	id := u.Identity()
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, id.UserID, id.Role, id.HouseholdID, h.Cfg.AccessTTLMin)
	if err != nil {
		h.Logger.Error("issue access token failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	return c.JSON(http.StatusOK, loginResp{Token: access.Token, Expires: access.Exp, User: u})
}

// Me returns the authenticated caller's account.
func (h *AuthHandler) Me(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()

	u, err := h.Accounts.Me(ctx, middleware.IdentityFrom(c))
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, u)
}
