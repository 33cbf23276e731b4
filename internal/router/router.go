package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/config"
	"github.com/iliyamo/community-gate/internal/handler"
	"github.com/iliyamo/community-gate/internal/middleware"
	"github.com/iliyamo/community-gate/internal/model"
)

// Handlers groups the HTTP handlers mounted by Register.
type Handlers struct {
	Auth      *handler.AuthHandler
	Visitors  *handler.VisitorHandler
	Admin     *handler.AdminHandler
	PushToken *handler.PushTokenHandler
	Chat      *handler.ChatHandler
}

// RegisterRoutes registers routes that do not require authentication: the
// liveness check and, when a database is given, the readiness check.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	e.GET("/healthz", handler.Health)
	if db != nil {
		e.GET("/readyz", handler.Ready(db))
	}
}

// RegisterAPI mounts the /api surface. Login is public; everything else
// requires a bearer token whose subject users still knows. rdb may be nil,
// which disables rate limiting and response caching.
func RegisterAPI(e *echo.Echo, cfg config.Config, h Handlers, users middleware.UserResolver, rdb *redis.Client, logger *zap.Logger) {
	limiter := middleware.NewTokenBucket(cfg.RateLimit, rdb, logger)
	api := e.Group("/api")

	// Login is rate limited per IP since no identity exists yet.
	api.POST("/auth/login", h.Auth.Login, limiter)

	auth := api.Group("", middleware.JWTAuth(cfg.JWTSecret, users), limiter)
	auth.GET("/me", h.Auth.Me)
	auth.PUT("/me/push-token", h.PushToken.Put)
	auth.DELETE("/me/push-token", h.PushToken.Delete)

	// Role gates mirror the engine's own checks so unauthorized calls are
	// rejected before any store access.
	// Visitor writes invalidate the cached visitor reads.
	admin := middleware.RequireRole(model.RoleAdmin)
	staff := middleware.RequireRole(model.RoleGuard, model.RoleAdmin)
	invalidate := middleware.InvalidateCache(cfg.Cache, rdb)
	auth.POST("/approve", h.Visitors.Approve, admin, invalidate)
	auth.POST("/deny", h.Visitors.Deny, admin, invalidate)
	auth.POST("/checkin", h.Visitors.CheckIn, staff, invalidate)
	auth.POST("/checkout", h.Visitors.CheckOut, staff, invalidate)

	cache := middleware.NewRedisCache(cfg.Cache, rdb)
	auth.POST("/visitors", h.Visitors.Create, middleware.RequireRole(model.RoleResident), invalidate)
	auth.GET("/visitors", h.Visitors.List, cache)
	auth.GET("/visitors/:id", h.Visitors.Get, cache)

	adm := auth.Group("/admin", admin)
	adm.GET("/users", h.Admin.Users)
	adm.POST("/create-user", h.Admin.CreateUser)
	adm.POST("/remove-user", h.Admin.RemoveUser)
	adm.GET("/audit-events", h.Admin.AuditEvents)

	chatLimiter := middleware.NewTokenBucket(cfg.RateLimit.WithCapacity(cfg.RateLimit.ChatCapacity, cfg.RateLimit.Prefix+":chat"), rdb, logger)
	auth.POST("/chat", h.Chat.Chat, chatLimiter, invalidate)
}
