package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"browser-task-scheduler/internal/browser"
	"browser-task-scheduler/internal/models"
	"browser-task-scheduler/internal/observer"
	"browser-task-scheduler/internal/telemetry"
)

// resolveTimeout is the hard ceiling on one rental-endpoint call.
const resolveTimeout = 60 * time.Second

// run executes one dispatch and translates every exit path into exactly one
// outcome. It never panics.
func (s *Scheduler) run(ctx context.Context, d *dispatch) (out models.Outcome) {
	task := d.task
	log := s.logger.With(zap.String("task_id", task.ID), zap.String("identity", task.IdentityKey))
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panicked", zap.Any("panic", r))
			out = models.Errorf("worker panic: %v", r)
		}
	}()

	rep := d.rep
	if rep == nil {
		rep = observer.ForTask(s.obs, task)
	}

	lock, err := s.locks.Acquire(ctx, task.ProfileDir)
	if err != nil {
		return models.ErrorFrom(err)
	}
	defer lock.Release()

	rep.Info("resolving proxy")
	verdict := s.resolve(ctx, d.raw)
	switch verdict.Kind {
	case models.VerdictNotReady:
		return models.ProxyNotReady()
	case models.VerdictUnavailable:
		return models.ProxyUnavailable()
	case models.VerdictTransportError:
		return models.Errored(verdict.Msg)
	}

	action, ok := s.actions[task.ActionName]
	if !ok {
		return models.Errorf("%v: %q", ErrUnknownAction, task.ActionName)
	}
	if s.launcher == nil {
		return models.Errored("no browser launcher configured")
	}

	rep.Info("opening browser")
	sess, err := s.launcher.Open(ctx, browser.Spec{
		ProfileDir: task.ProfileDir,
		Device:     task.Device,
		Headless:   task.Headless,
		Proxy:      verdict.Proxy,
	})
	if err != nil {
		if browser.IsProxyError(err) {
			return models.ProxyNotReady()
		}
		return models.ErrorFrom(err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("close session", zap.Error(err))
		}
	}()

	out = action.Run(ctx, sess, task, rep)
	if out.Kind == models.OutcomeError && out.Msg == "" {
		out.Msg = fmt.Sprintf("action %s failed", task.ActionName)
	}
	return out
}

func (s *Scheduler) resolve(ctx context.Context, raw string) models.ProxyVerdict {
	if s.resolver == nil {
		return models.TransportError("no proxy resolver configured")
	}
	rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	start := time.Now()
	v := s.resolver.Resolve(rctx, raw)
	telemetry.ResolveDuration.WithLabelValues(verdictLabel(v.Kind)).Observe(time.Since(start).Seconds())
	return v
}

func verdictLabel(k models.VerdictKind) string {
	switch k {
	case models.VerdictAvailable:
		return "available"
	case models.VerdictNotReady:
		return "not_ready"
	case models.VerdictUnavailable:
		return "unavailable"
	default:
		return "transport_error"
	}
}
