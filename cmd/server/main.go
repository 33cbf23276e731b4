package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/app"
	"github.com/iliyamo/community-gate/internal/chat"
	"github.com/iliyamo/community-gate/internal/config"
	"github.com/iliyamo/community-gate/internal/database"
	"github.com/iliyamo/community-gate/internal/logging"
	"github.com/iliyamo/community-gate/internal/notify"
	"github.com/iliyamo/community-gate/internal/telemetry"
)

func main() {
	_ = godotenv.Load() // .env is optional

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	db, err := database.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		logger.Warn("redis unavailable; rate limiting and response cache disabled", zap.String("addr", cfg.Redis.Address()))
	} else {
		defer rdb.Close()
	}

	var pusher notify.Pusher
	if cfg.Push.Enabled() {
		fcm, err := notify.NewFCMPusher(ctx, cfg.Push.FCMEndpoint, cfg.Push.FCMProjectID, cfg.Push.FCMCredentialsFile)
		if err != nil {
			return err
		}
		pusher = fcm
	} else {
		logger.Info("FCM not configured; push notifications are logged only")
	}

	var completer chat.Completer
	if cfg.Chat.Enabled() {
		g, err := chat.NewGenAICompleter(ctx, cfg.Chat.APIKey, cfg.Chat.Model)
		if err != nil {
			return err
		}
		completer = g
	}

	a := app.New(cfg, app.Deps{DB: db, Redis: rdb, Pusher: pusher, Completer: completer, Logger: logger})
	defer func() { _ = a.Close() }()

	var workers sync.WaitGroup
	if a.Consumer != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := a.Consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("notification consumer stopped", zap.Error(err))
			}
		}()
	}

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := a.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		workers.Wait()
		a.Engine.Wait()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = a.Echo.Shutdown(sctx)
	a.Engine.Wait()
	workers.Wait()
	return err
}
