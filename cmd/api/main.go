package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	api "browser-task-scheduler/internal/api"
	"browser-task-scheduler/internal/app"
	"browser-task-scheduler/internal/config"
	"browser-task-scheduler/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init", zap.Error(err))
	}
	defer a.Close()

	deps := api.Deps{
		Scheduler: a.Scheduler,
		Prober:    a.Liveness,
		Logger:    logger.Named("api"),
	}
	if a.Store != nil {
		deps.Outcomes = a.Store
		logger.Info("recording outcomes", zap.String("run_id", a.Recorder.RunID()))
	}
	if a.Journal != nil {
		deps.Events = a.Journal
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.New(deps).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("api listening", zap.String("addr", httpServer.Addr))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
