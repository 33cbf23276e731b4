package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/command"
	"github.com/iliyamo/community-gate/internal/middleware"
	"github.com/iliyamo/community-gate/internal/visitor"
)

// VisitorHandler serves the visitor lifecycle and read endpoints. The
// lifecycle endpoints go through the same command dispatcher as the chat
// bridge, so both surfaces share one contract.
type VisitorHandler struct {
	Engine   *visitor.Engine
	Commands *command.Dispatcher
	Logger   *zap.Logger
}

func NewVisitorHandler(engine *visitor.Engine, commands *command.Dispatcher, logger *zap.Logger) *VisitorHandler {
	return &VisitorHandler{Engine: engine, Commands: commands, Logger: nopIfNil(logger)}
}

type transitionReq struct {
	VisitorID string  `json:"visitorId"`
	Reason    *string `json:"reason"`
}

type createVisitorReq struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Purpose string `json:"purpose"`
}

// Approve handles POST /approve.
func (h *VisitorHandler) Approve(c echo.Context) error { return h.transition(c, command.IntentApprove) }

// Deny handles POST /deny. The reason is optional.
func (h *VisitorHandler) Deny(c echo.Context) error { return h.transition(c, command.IntentDeny) }

// CheckIn handles POST /checkin.
func (h *VisitorHandler) CheckIn(c echo.Context) error { return h.transition(c, command.IntentCheckIn) }

// CheckOut handles POST /checkout.
func (h *VisitorHandler) CheckOut(c echo.Context) error {
	return h.transition(c, command.IntentCheckOut)
}

func (h *VisitorHandler) transition(c echo.Context, intent command.Intent) error {
	var req transitionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	raw := map[string]any{"visitorId": req.VisitorID}
	if req.Reason != nil {
		raw["reason"] = *req.Reason
	}
	call, err := command.ParseCall(string(intent), raw)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	res, err := h.Commands.Dispatch(c.Request().Context(), middleware.IdentityFrom(c), call)
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Create handles POST /visitors for residents.
func (h *VisitorHandler) Create(c echo.Context) error {
	var req createVisitorReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	v, err := h.Engine.Create(c.Request().Context(), middleware.IdentityFrom(c), visitor.NewVisitor{
		Name:    req.Name,
		Phone:   req.Phone,
		Purpose: req.Purpose,
	})
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "message": "Visitor request created", "visitor": v})
}

// List handles GET /visitors?status=.
func (h *VisitorHandler) List(c echo.Context) error {
	vs, err := h.Engine.List(c.Request().Context(), middleware.IdentityFrom(c), c.QueryParam("status"))
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"visitors": vs})
}

// Get handles GET /visitors/:id.
func (h *VisitorHandler) Get(c echo.Context) error {
	v, err := h.Engine.Get(c.Request().Context(), middleware.IdentityFrom(c), c.Param("id"))
	if err != nil {
		return respondError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, v)
}
