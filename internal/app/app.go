// Package app assembles the HTTP service from its collaborators.
package app

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/account"
	"github.com/iliyamo/community-gate/internal/audit"
	"github.com/iliyamo/community-gate/internal/chat"
	"github.com/iliyamo/community-gate/internal/command"
	"github.com/iliyamo/community-gate/internal/config"
	"github.com/iliyamo/community-gate/internal/handler"
	"github.com/iliyamo/community-gate/internal/middleware"
	"github.com/iliyamo/community-gate/internal/notify"
	"github.com/iliyamo/community-gate/internal/queue"
	"github.com/iliyamo/community-gate/internal/repository"
	"github.com/iliyamo/community-gate/internal/router"
	"github.com/iliyamo/community-gate/internal/visitor"
)

// Deps are the external resources the service runs on. Redis, Pusher and
// Completer are optional.
type Deps struct {
	DB        *sql.DB
	Redis     *redis.Client
	Pusher    notify.Pusher
	Completer chat.Completer
	Logger    *zap.Logger
}

// App is the assembled service.
type App struct {
	Echo     *echo.Echo
	Engine   *visitor.Engine
	Accounts *account.Service
	// Consumer drains the notification queue; nil when no broker is
	// configured and notifications are dispatched in-process.
	Consumer *queue.Consumer

	publisher *queue.Publisher
}

// Close releases the broker connection held for publishing. Call it after
// Engine.Wait so queued fan-out has finished.
func (a *App) Close() error {
	if a.publisher == nil {
		return nil
	}
	return a.publisher.Close()
}

// New wires repositories, domain services and handlers.
func New(cfg config.Config, d Deps) *App {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pusher := d.Pusher
	if pusher == nil {
		pusher = notify.LogPusher{Logger: logger.Named("push")}
	}

	users := repository.NewUserRepo(d.DB)
	tokens := repository.NewTokenRepo(d.DB)
	visitors := repository.NewVisitorRepo(d.DB)
	auditLog := audit.New(repository.NewAuditRepo(d.DB), logger.Named("audit"), audit.WithPageSize(cfg.AuditPageSize))

	dispatcher := notify.NewDispatcher(tokens, pusher, cfg.SideEffectTimeout, logger.Named("notify"))
	var (
		sink      notify.Sink = notify.DirectSink{Dispatcher: dispatcher}
		consumer  *queue.Consumer
		publisher *queue.Publisher
	)
	if cfg.AMQP.Enabled() {
		publisher = queue.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Queue, logger.Named("queue"))
		sink = publisher
		consumer = queue.NewConsumer(cfg.AMQP.URL, cfg.AMQP.Queue, cfg.AMQP.Prefetch, dispatcher, logger.Named("queue"))
	}

	engine := visitor.NewEngine(visitors, auditLog, notify.NewFanout(users, sink, logger.Named("fanout")),
		visitor.WithLogger(logger.Named("visitor")),
		visitor.WithTracer(otel.Tracer("community-gate/visitor")),
		visitor.WithStoreTimeout(cfg.StoreTimeout),
		visitor.WithSideEffectTimeout(cfg.SideEffectTimeout),
	)
	commands := command.NewDispatcher(engine)
	bridge := chat.NewBridge(d.Completer, commands, cfg.Chat.Timeout, logger.Named("chat"))
	accounts := account.NewService(users, auditLog, cfg.BcryptCost, logger.Named("account"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger.Named("http")))

	router.RegisterRoutes(e, d.DB)
	router.RegisterAPI(e, cfg, router.Handlers{
		Auth:      handler.NewAuthHandler(cfg, accounts, logger),
		Visitors:  handler.NewVisitorHandler(engine, commands, logger),
		Admin:     handler.NewAdminHandler(accounts, auditLog, logger),
		PushToken: handler.NewPushTokenHandler(tokens, logger),
		Chat:      handler.NewChatHandler(bridge, logger),
	}, users, d.Redis, logger.Named("ratelimit"))

	return &App{Echo: e, Engine: engine, Accounts: accounts, Consumer: consumer, publisher: publisher}
}
