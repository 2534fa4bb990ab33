// Package scheduler pairs browser tasks with rotating proxies and runs them
// on a bounded set of workers.
//
// All scheduler state (queue, in-progress map, proxy pool, timers) is owned
// by a single reactor goroutine. Public methods, worker outcomes and timers
// reach it as closures posted to its inbox.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"browser-task-scheduler/internal/browser"
	"browser-task-scheduler/internal/models"
	"browser-task-scheduler/internal/observer"
	"browser-task-scheduler/internal/profilelock"
	"browser-task-scheduler/internal/proxy"
	"browser-task-scheduler/internal/queue"
	"browser-task-scheduler/internal/telemetry"
)

// State is the scheduler lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateDone    State = "done"
)

// Options wires a scheduler's collaborators.
type Options struct {
	Resolver Resolver
	Launcher browser.Launcher
	Actions  Registry
	Observer observer.Observer
	Logger   *zap.Logger
	Settings Settings
	// LockTimeout bounds how long a worker waits for a profile directory.
	// Zero waits indefinitely.
	LockTimeout time.Duration
}

// Scheduler is the browser task dispatcher.
type Scheduler struct {
	inbox     chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	workers   sync.WaitGroup

	// Immutable after New; safe from workers.
	resolver Resolver
	launcher browser.Launcher
	actions  Registry
	obs      observer.Observer
	logger   *zap.Logger
	locks    *profilelock.Registry

	// Reactor-owned.
	settings   Settings
	state      State
	queue      *queue.TaskQueue
	pool       *proxy.Pool
	inProgress map[string]*dispatch
	// reporters hold each task's progress from first dispatch to its
	// terminal outcome.
	reporters  map[string]*observer.TaskReporter
	backoff    *time.Timer
	waiters    []chan struct{}
	runCtx     context.Context
	runCancel  context.CancelFunc
	cancelling bool
	cycle      cycleStats
}

type dispatch struct {
	task    models.Task
	raw     string
	rep     *observer.TaskReporter
	started time.Time
}

type cycleStats struct {
	accepted  int
	succeeded int
	failed    int
	errored   int
}

func (c cycleStats) finished() int { return c.succeeded + c.failed + c.errored }

// New starts a scheduler reactor. Close must be called to stop it.
func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	actions := opts.Actions
	if actions == nil {
		actions = Registry{}
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	s := &Scheduler{
		inbox:      make(chan func(), 64),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		resolver:   opts.Resolver,
		launcher:   opts.Launcher,
		actions:    actions,
		obs:        fanoutOf(logger, opts.Observer),
		logger:     logger,
		locks:      profilelock.NewRegistry(opts.LockTimeout),
		settings:   opts.Settings.normalized(),
		state:      StateIdle,
		queue:      queue.NewTaskQueue(),
		pool:       proxy.NewPool(),
		inProgress: make(map[string]*dispatch),
		reporters:  make(map[string]*observer.TaskReporter),
		runCtx:     runCtx,
		runCancel:  runCancel,
	}
	go s.loop()
	return s
}

// fanoutOf reuses obs when it already isolates panics.
func fanoutOf(logger *zap.Logger, obs observer.Observer) observer.Observer {
	if f, ok := obs.(*observer.Fanout); ok && f != nil {
		return f
	}
	return observer.NewFanout(logger, obs)
}

func (s *Scheduler) loop() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.quit:
			return
		}
	}
}

// post hands fn to the reactor. It reports false once the scheduler is closed.
func (s *Scheduler) post(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// call runs fn on the reactor and waits for it.
func (s *Scheduler) call(fn func()) bool {
	done := make(chan struct{})
	if !s.post(func() { fn(); close(done) }) {
		return false
	}
	select {
	case <-done:
		return true
	case <-s.quit:
		return false
	}
}

// AddBrowsers merges tasks (deduplicated against queued and in-progress work)
// and proxies into the run, then dispatches what it can. It returns the number
// of tasks accepted.
func (s *Scheduler) AddBrowsers(tasks []models.Task, proxies []string) int {
	accepted := 0
	s.call(func() {
		valid := make([]models.Task, 0, len(tasks))
		for _, t := range tasks {
			if err := t.Validate(); err != nil {
				s.logger.Warn("rejecting task", zap.String("task_id", t.ID), zap.Error(err))
				continue
			}
			valid = append(valid, t)
		}
		for _, raw := range proxies {
			s.pool.Offer(raw)
		}
		got := s.queue.Enqueue(valid, func(key string) bool {
			_, busy := s.inProgress[key]
			return busy
		})
		accepted = len(got)
		telemetry.TasksAccepted.Add(float64(accepted))

		if s.state != StateRunning {
			s.state = StateRunning
			s.cycle = cycleStats{}
		}
		s.cycle.accepted += accepted
		s.tryStart()
	})
	return accepted
}

// IsAllFinished reports whether nothing is queued or running.
func (s *Scheduler) IsAllFinished() bool {
	finished := true
	s.call(func() {
		finished = s.queue.Len() == 0 && len(s.inProgress) == 0
	})
	return finished
}

// SetSettings replaces the tunables and re-evaluates dispatch.
func (s *Scheduler) SetSettings(cfg Settings) {
	s.call(func() {
		s.settings = cfg.normalized()
		s.tryStart()
	})
}

// Settings returns the current tunables.
func (s *Scheduler) Settings() Settings {
	var out Settings
	s.call(func() { out = s.settings })
	return out
}

// Wait blocks until the current drain cycle has finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	ch := make(chan struct{})
	if !s.call(func() {
		if s.state != StateRunning {
			close(ch)
			return
		}
		s.waiters = append(s.waiters, ch)
	}) {
		return fmt.Errorf("wait: scheduler closed")
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel drops every queued task, reporting each as an error, aborts the
// sessions in flight and waits for their workers to report.
func (s *Scheduler) Cancel(ctx context.Context) error {
	s.call(func() {
		if s.state != StateRunning {
			return
		}
		s.cancelling = true
		for _, t := range s.queue.Drain() {
			delete(s.reporters, t.DedupKey())
			s.cycle.errored++
			telemetry.TaskOutcomes.WithLabelValues("cancelled").Inc()
			s.obs.Error(t, "cancelled")
		}
		s.runCancel()
		s.tryStart()
	})
	return s.Wait(ctx)
}

// Close stops the reactor, cancels in-flight sessions and timers, and waits
// for workers to exit.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.call(func() {
			s.pool.Stop()
			s.stopBackoff()
			s.runCancel()
		})
		close(s.quit)
		<-s.stopped
		s.workers.Wait()
	})
}

// tryStart dispatches as many queued tasks as the effective cap and the ready
// pool allow, arms the no-proxy backoff when needed, and finishes the cycle
// when nothing is left.
func (s *Scheduler) tryStart() {
	defer s.publishGauges()
	if s.state != StateRunning {
		return
	}
	for {
		if s.queue.Len() == 0 {
			if len(s.inProgress) == 0 {
				s.finish()
			}
			return
		}
		if s.pool.ReadyCount() == 0 {
			// Workers in flight re-drive dispatch when they complete.
			if len(s.inProgress) == 0 {
				s.armBackoff()
			}
			return
		}
		usable := s.pool.ReadyCount() + s.pool.InUseCount()
		if len(s.inProgress) >= s.settings.effectiveCap(usable) {
			return
		}
		s.dispatchOne()
	}
}

func (s *Scheduler) dispatchOne() {
	task, ok := s.queue.Dequeue()
	if !ok {
		return
	}
	raw, ok := s.pool.Take()
	if !ok {
		s.queue.Requeue(task)
		return
	}
	key := task.DedupKey()
	rep, ok := s.reporters[key]
	if !ok {
		rep = observer.ForTask(s.obs, task)
		s.reporters[key] = rep
	}
	d := &dispatch{task: task, raw: raw, rep: rep, started: time.Now()}
	s.inProgress[key] = d
	telemetry.TasksDispatched.Inc()
	s.logger.Debug("dispatching task",
		zap.String("task_id", task.ID),
		zap.String("identity", task.IdentityKey),
		zap.String("proxy", raw),
	)

	ctx := s.runCtx
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		out := s.run(ctx, d)
		s.post(func() { s.complete(d, out) })
	}()
}

// complete applies a worker outcome to the queue and the pool.
func (s *Scheduler) complete(d *dispatch, out models.Outcome) {
	key := d.task.DedupKey()
	delete(s.inProgress, key)
	telemetry.TaskOutcomes.WithLabelValues(out.Kind.String()).Inc()
	if !out.Retries() || s.cancelling {
		delete(s.reporters, key)
	}

	if out.Retries() && s.cancelling {
		if out.Kind == models.OutcomeProxyUnavailable {
			s.pool.Drop(d.raw)
		} else {
			s.pool.Release(d.raw)
		}
		s.cycle.errored++
		s.obs.Error(d.task, "cancelled")
		s.tryStart()
		return
	}

	switch out.Kind {
	case models.OutcomeSuccess:
		s.pool.Release(d.raw)
		s.cycle.succeeded++
		s.obs.Succeeded(d.task, out.Msg, d.raw)
	case models.OutcomeFailed:
		s.pool.Release(d.raw)
		s.cycle.failed++
		s.obs.Failed(d.task, out.Msg, d.raw)
	case models.OutcomeProxyNotReady:
		s.queue.Requeue(d.task)
		s.pool.Cool(d.raw, s.settings.CoolDown, s.readmit)
		s.obs.ProxyNotReady(d.task, d.raw)
	case models.OutcomeProxyUnavailable:
		s.queue.Requeue(d.task)
		s.pool.Drop(d.raw)
		s.obs.ProxyUnavailable(d.task, d.raw)
	default:
		s.pool.Release(d.raw)
		s.cycle.errored++
		s.obs.Error(d.task, out.Msg)
	}
	s.tryStart()
}

// readmit runs on the cool-down timer goroutine.
func (s *Scheduler) readmit(raw string) {
	s.post(func() {
		if s.pool.Readmit(raw) {
			s.logger.Debug("proxy re-admitted", zap.String("proxy", raw))
			s.tryStart()
		}
	})
}

func (s *Scheduler) armBackoff() {
	if s.backoff != nil {
		return
	}
	s.backoff = time.AfterFunc(s.settings.NoProxyBackoff, func() {
		s.post(func() {
			s.backoff = nil
			s.tryStart()
		})
	})
}

func (s *Scheduler) stopBackoff() {
	if s.backoff != nil {
		s.backoff.Stop()
		s.backoff = nil
	}
}

func (s *Scheduler) finish() {
	s.state = StateDone
	s.stopBackoff()
	c := s.cycle
	if s.cancelling {
		s.cancelling = false
		s.runCtx, s.runCancel = context.WithCancel(context.Background())
	}
	telemetry.DrainCycles.Inc()
	s.obs.AllFinished(fmt.Sprintf("%d tasks finished: %d succeeded, %d failed, %d errors",
		c.finished(), c.succeeded, c.failed, c.errored))
	for _, w := range s.waiters {
		close(w)
	}
	s.waiters = nil
}

func (s *Scheduler) publishGauges() {
	telemetry.QueueDepthGauge.Set(float64(s.queue.Len()))
	telemetry.InFlightGauge.Set(float64(len(s.inProgress)))
	telemetry.ProxyPoolGauge.WithLabelValues("ready").Set(float64(s.pool.ReadyCount()))
	telemetry.ProxyPoolGauge.WithLabelValues("in_use").Set(float64(s.pool.InUseCount()))
	telemetry.ProxyPoolGauge.WithLabelValues("cooling").Set(float64(s.pool.CoolingCount()))
}
