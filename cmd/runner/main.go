package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"browser-task-scheduler/internal/app"
	"browser-task-scheduler/internal/config"
	"browser-task-scheduler/internal/observer"
	"browser-task-scheduler/internal/planner"
	"browser-task-scheduler/internal/telemetry"
)

func main() {
	rosterPath := flag.String("roster", "roster.yaml", "YAML roster of identities and their actions")
	proxiesPath := flag.String("proxies", "proxies.txt", "file with one raw proxy URL per line")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	code := run(cfg, logger, *rosterPath, *proxiesPath)
	_ = logger.Sync()
	os.Exit(code)
}

func run(cfg config.Config, logger *zap.Logger, rosterPath, proxiesPath string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	roster, err := planner.LoadRoster(rosterPath)
	if err != nil {
		logger.Error("load roster", zap.Error(err))
		return 2
	}
	proxies, err := readProxies(proxiesPath)
	if err != nil {
		logger.Error("load proxies", zap.Error(err))
		return 2
	}

	var errored atomic.Int64
	counter := observer.Func(func(ev observer.Event) {
		if ev.Kind == observer.KindError {
			errored.Add(1)
		}
	})

	a, err := app.Build(ctx, cfg, logger, counter)
	if err != nil {
		logger.Error("init", zap.Error(err))
		return 2
	}
	defer a.Close()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	tasks := roster.Tasks()
	accepted := a.Scheduler.AddBrowsers(tasks, proxies)
	fields := []zap.Field{
		zap.Int("identities", len(roster.Identities)),
		zap.Int("tasks", len(tasks)),
		zap.Int("accepted", accepted),
		zap.Int("proxies", len(proxies)),
	}
	if a.Recorder != nil {
		fields = append(fields, zap.String("run_id", a.Recorder.RunID()))
	}
	logger.Info("run started", fields...)

	if err := a.Scheduler.Wait(ctx); err != nil {
		logger.Warn("interrupted, cancelling run", zap.Error(err))
		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Scheduler.Cancel(cctx); err != nil {
			logger.Error("cancel", zap.Error(err))
		}
		return 1
	}

	snap := a.Scheduler.Snapshot()
	logger.Info("run finished",
		zap.Int("succeeded", snap.Succeeded),
		zap.Int("failed", snap.Failed),
		zap.Int("errors", snap.Errored),
		zap.Strings("dropped_proxies", snap.Pool.Dropped),
	)
	if errored.Load() > 0 {
		return 1
	}
	return 0
}

// readProxies reads one raw proxy per line, skipping blanks and # comments.
func readProxies(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open proxies: %w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read proxies: %w", err)
	}
	return out, nil
}
