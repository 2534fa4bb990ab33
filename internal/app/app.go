// Package app wires the scheduler and its supporting services from config.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"browser-task-scheduler/internal/actions"
	"browser-task-scheduler/internal/browser"
	"browser-task-scheduler/internal/config"
	"browser-task-scheduler/internal/journal"
	"browser-task-scheduler/internal/liveness"
	"browser-task-scheduler/internal/media"
	"browser-task-scheduler/internal/models"
	"browser-task-scheduler/internal/observer"
	"browser-task-scheduler/internal/proxy"
	"browser-task-scheduler/internal/ratelimit"
	"browser-task-scheduler/internal/scheduler"
	"browser-task-scheduler/internal/store"
)

// App owns every long-lived component of a process.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Scheduler *scheduler.Scheduler
	Liveness  *liveness.Pool
	// Store, Recorder and Journal are nil unless Postgres / Redis are configured.
	Store    *store.Store
	Recorder *store.Recorder
	Journal  *journal.Journal

	redis *redis.Client
}

// Build connects optional backends and starts the scheduler. Extra observers
// receive every scheduler event alongside the log, journal and recorder.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, extra ...observer.Observer) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Journal = journal.New(a.redis, cfg.JournalKey, cfg.JournalMaxLen, logger.Named("journal"))
	}

	if cfg.PostgresDSN != "" {
		st, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Store = st
		if err := st.RunMigrations(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		a.Recorder = store.NewRecorder(st, logger.Named("recorder"))
	}

	proc, err := media.FromConfig(ctx, cfg, logger.Named("media"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init media: %w", err)
	}

	resolverCfg := proxy.ResolverConfig{
		AllowedHosts: cfg.ResolverAllowedHosts,
		UserAgent:    cfg.ResolverUserAgent,
		Timeout:      cfg.ResolverTimeout,
		Logger:       logger.Named("resolver"),
	}
	if a.redis != nil && cfg.RentalRateCapacity > 0 {
		resolverCfg.Limiter = ratelimit.NewTokenBucket(a.redis, cfg.RentalRateCapacity, cfg.RentalRateRefill, time.Hour)
	}

	observers := []observer.Observer{observer.NewLog(logger.Named("events"))}
	if a.Journal != nil {
		observers = append(observers, a.Journal.Observer())
	}
	if a.Recorder != nil {
		observers = append(observers, a.Recorder.Observer())
	}
	observers = append(observers, extra...)

	a.Scheduler = scheduler.New(scheduler.Options{
		Resolver:    proxy.NewResolver(resolverCfg),
		Launcher:    browser.NewChrome(cfg.ChromePath, cfg.SessionTimeout, logger.Named("browser")),
		Actions:     actions.Defaults(proc),
		Observer:    observer.NewFanout(logger, observers...),
		Logger:      logger.Named("scheduler"),
		Settings:    scheduler.SettingsFromConfig(cfg),
		LockTimeout: cfg.ProfileLockTimeout,
	})

	a.Liveness = liveness.NewPool(liveness.Config{
		URLTemplate: cfg.LivenessURLTemplate,
		Timeout:     cfg.LivenessTimeout,
		PlatformCap: cfg.PlatformCap,
		RPS:         cfg.LivenessRPS,
		Logger:      logger.Named("liveness"),
		Observer:    livenessSink{log: liveness.LogObserver{Logger: logger.Named("liveness")}, store: a.Store},
	})
	return a, nil
}

// Close stops the scheduler first so the sinks see its last events.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Close()
	}
	if a.Liveness != nil {
		a.Liveness.Close()
	}
	if a.Journal != nil {
		a.Journal.Close()
	}
	if a.Recorder != nil {
		a.Recorder.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// livenessSink logs probe results and keeps the latest per identity in
// Postgres when a store is configured.
type livenessSink struct {
	log   liveness.LogObserver
	store *store.Store
}

func (s livenessSink) Succeeded(p models.LivenessProbe, alive bool) {
	s.log.Succeeded(p, alive)
	s.persist(p, &alive, "")
}

func (s livenessSink) Failed(p models.LivenessProbe, msg string) {
	s.log.Failed(p, msg)
	s.persist(p, nil, msg)
}

func (s livenessSink) AllFinished() { s.log.AllFinished() }

func (s livenessSink) persist(p models.LivenessProbe, alive *bool, msg string) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.RecordLiveness(ctx, p, alive, msg); err != nil {
		s.log.Logger.Warn("record liveness", zap.String("identity", p.IdentityKey), zap.Error(err))
	}
}
