package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"browser-task-scheduler/internal/browser"
	"browser-task-scheduler/internal/models"
	"browser-task-scheduler/internal/observer"
)

// fakeResolver replays a scripted verdict sequence per raw proxy; once the
// script runs out every call is Available.
type fakeResolver struct {
	mu     sync.Mutex
	script map[string][]models.ProxyVerdict
	calls  map[string]int
}

func newFakeResolver(script map[string][]models.ProxyVerdict) *fakeResolver {
	if script == nil {
		script = map[string][]models.ProxyVerdict{}
	}
	return &fakeResolver{script: script, calls: map[string]int{}}
}

func (f *fakeResolver) Resolve(_ context.Context, raw string) models.ProxyVerdict {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[raw]
	f.calls[raw] = n + 1
	if seq := f.script[raw]; n < len(seq) {
		return seq[n]
	}
	return models.Available(models.ResolvedProxy{Addr: "10.0.0.1:8000", User: "u", Pass: "p"})
}

func (f *fakeResolver) Calls(raw string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[raw]
}

type fakeSession struct {
	spec   browser.Spec
	closed atomic.Bool
	onDone func()
}

func (s *fakeSession) Run(...chromedp.Action) error { return nil }
func (s *fakeSession) Context() context.Context     { return context.Background() }
func (s *fakeSession) Spec() browser.Spec           { return s.spec }
func (s *fakeSession) Close() error {
	if s.closed.CompareAndSwap(false, true) && s.onDone != nil {
		s.onDone()
	}
	return nil
}

// fakeLauncher counts sessions per profile dir to catch shared profiles.
type fakeLauncher struct {
	mu        sync.Mutex
	open      map[string]int
	violation atomic.Bool
	opened    atomic.Int32
	closed    atomic.Int32
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{open: map[string]int{}}
}

func (l *fakeLauncher) Open(_ context.Context, spec browser.Spec) (browser.Session, error) {
	l.mu.Lock()
	l.open[spec.ProfileDir]++
	if l.open[spec.ProfileDir] > 1 {
		l.violation.Store(true)
	}
	l.mu.Unlock()
	l.opened.Add(1)
	return &fakeSession{spec: spec, onDone: func() {
		l.mu.Lock()
		l.open[spec.ProfileDir]--
		l.mu.Unlock()
		l.closed.Add(1)
	}}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []observer.Event
}

func (e *eventLog) handle(ev observer.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) all() []observer.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]observer.Event(nil), e.events...)
}

// lifecycle drops info and progress events.
func (e *eventLog) lifecycle() []observer.Event {
	var out []observer.Event
	for _, ev := range e.all() {
		if ev.Kind.Terminal() || ev.Kind == observer.KindAllFinished {
			out = append(out, ev)
		}
	}
	return out
}

func (e *eventLog) count(kind observer.Kind) int {
	n := 0
	for _, ev := range e.all() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	sched    *Scheduler
	resolver *fakeResolver
	launcher *fakeLauncher
	events   *eventLog
}

func newHarness(t *testing.T, settings Settings, script map[string][]models.ProxyVerdict, actions Registry) *harness {
	t.Helper()
	h := &harness{
		resolver: newFakeResolver(script),
		launcher: newFakeLauncher(),
		events:   &eventLog{},
	}
	h.sched = New(Options{
		Resolver: h.resolver,
		Launcher: h.launcher,
		Actions:  actions,
		Observer: observer.Func(h.events.handle),
		Logger:   zap.NewNop(),
		Settings: settings,
	})
	t.Cleanup(h.sched.Close)
	return h
}

func (h *harness) wait(t *testing.T, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	require.NoError(t, h.sched.Wait(ctx))
}

func succeed(msg string) Action {
	return ActionFunc(func(context.Context, browser.Session, models.Task, observer.Reporter) models.Outcome {
		return models.Success(msg)
	})
}

func mkTask(key, dir string) models.Task {
	return models.Task{
		ID:          "task-" + key,
		IdentityKey: key,
		ProfileDir:  dir,
		ActionName:  "X",
		Device:      models.DesktopProfile(),
		Headless:    true,
	}
}

func fastSettings(cap int) Settings {
	return Settings{ConcurrencyCap: cap, PlatformCap: 16, CoolDown: 50 * time.Millisecond, NoProxyBackoff: 20 * time.Millisecond}
}

func TestSingleTaskGoodProxy(t *testing.T) {
	h := newHarness(t, fastSettings(1), nil, Registry{"X": succeed("ok")})

	accepted := h.sched.AddBrowsers([]models.Task{mkTask("alpha", "/a")}, []string{"P1"})
	require.Equal(t, 1, accepted)
	h.wait(t, 2*time.Second)

	got := h.events.lifecycle()
	require.Len(t, got, 2)
	assert.Equal(t, observer.KindSucceeded, got[0].Kind)
	assert.Equal(t, "ok", got[0].Msg)
	assert.Equal(t, "P1", got[0].RawProxy)
	assert.Equal(t, "task-alpha", got[0].TaskID)
	assert.Equal(t, observer.KindAllFinished, got[1].Kind)

	snap := h.sched.Snapshot()
	assert.Equal(t, []string{"P1"}, snap.Pool.Ready)
	assert.Equal(t, 0, snap.Queued)
	assert.Empty(t, snap.InProgress)
	assert.Equal(t, StateDone, snap.State)
	assert.True(t, h.sched.IsAllFinished())
	assert.Equal(t, int32(1), h.launcher.closed.Load(), "session must be closed")
}

func TestProxyNotReadyCoolsAndRetries(t *testing.T) {
	script := map[string][]models.ProxyVerdict{"P1": {models.NotReady()}}
	settings := fastSettings(1)
	settings.CoolDown = 100 * time.Millisecond
	settings.NoProxyBackoff = time.Second
	h := newHarness(t, settings, script, Registry{"X": succeed("ok")})

	start := time.Now()
	h.sched.AddBrowsers([]models.Task{mkTask("alpha", "/a")}, []string{"P1"})
	h.wait(t, 3*time.Second)
	elapsed := time.Since(start)

	got := h.events.lifecycle()
	require.Len(t, got, 3)
	assert.Equal(t, observer.KindProxyNotReady, got[0].Kind)
	assert.Equal(t, "P1", got[0].RawProxy)
	assert.Equal(t, observer.KindSucceeded, got[1].Kind)
	assert.Equal(t, "P1", got[1].RawProxy)
	assert.Equal(t, observer.KindAllFinished, got[2].Kind)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "retry must wait for the cool-down")
	assert.Less(t, elapsed, time.Second, "re-admission should re-drive before the backoff")
	assert.Equal(t, 2, h.resolver.Calls("P1"))
}

func TestUnavailableProxyDroppedAndNextUsed(t *testing.T) {
	script := map[string][]models.ProxyVerdict{"P1": {models.Unavailable()}}
	h := newHarness(t, fastSettings(1), script, Registry{"X": succeed("ok")})

	h.sched.AddBrowsers([]models.Task{mkTask("alpha", "/a")}, []string{"P1", "P2"})
	h.wait(t, 2*time.Second)

	got := h.events.lifecycle()
	require.Len(t, got, 3)
	assert.Equal(t, observer.KindProxyUnavailable, got[0].Kind)
	assert.Equal(t, "P1", got[0].RawProxy)
	assert.Equal(t, observer.KindSucceeded, got[1].Kind)
	assert.Equal(t, "P2", got[1].RawProxy)
	assert.Equal(t, observer.KindAllFinished, got[2].Kind)

	snap := h.sched.Snapshot()
	assert.Equal(t, []string{"P1"}, snap.Pool.Dropped)
	assert.Equal(t, []string{"P2"}, snap.Pool.Ready)

	// A dropped proxy offered again stays out of rotation.
	h.sched.AddBrowsers(nil, []string{"P1"})
	assert.Equal(t, []string{"P2"}, h.sched.Snapshot().Pool.Ready)
}

type span struct{ start, end time.Time }

type spanRecorder struct {
	mu    sync.Mutex
	spans map[string]span
}

func (r *spanRecorder) action(d time.Duration) Action {
	return ActionFunc(func(_ context.Context, _ browser.Session, task models.Task, _ observer.Reporter) models.Outcome {
		start := time.Now()
		time.Sleep(d)
		r.mu.Lock()
		r.spans[task.IdentityKey] = span{start: start, end: time.Now()}
		r.mu.Unlock()
		return models.Success("ok")
	})
}

func TestProfileExclusionAcrossSharedDirectory(t *testing.T) {
	rec := &spanRecorder{spans: map[string]span{}}
	settings := fastSettings(2)
	h := newHarness(t, settings, nil, Registry{"X": rec.action(200 * time.Millisecond)})

	h.sched.AddBrowsers([]models.Task{mkTask("t1", "/a"), mkTask("t2", "/a")}, []string{"P1", "P2"})
	h.wait(t, 3*time.Second)

	require.Len(t, rec.spans, 2)
	s1, s2 := rec.spans["t1"], rec.spans["t2"]
	first, second := s1, s2
	if s2.start.Before(s1.start) {
		first, second = s2, s1
	}
	assert.False(t, second.start.Before(first.end), "second task started before the first finished")
	assert.False(t, h.launcher.violation.Load())
	assert.Equal(t, 2, h.events.count(observer.KindSucceeded))
	assert.Equal(t, 1, h.sched.Snapshot().Profiles)
}

// concurrencyMeter tracks how many actions run at once.
type concurrencyMeter struct {
	cur, max atomic.Int32
}

func (p *concurrencyMeter) action(d time.Duration) Action {
	return ActionFunc(func(context.Context, browser.Session, models.Task, observer.Reporter) models.Outcome {
		n := p.cur.Add(1)
		for {
			m := p.max.Load()
			if n <= m || p.max.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(d)
		p.cur.Add(-1)
		return models.Success("ok")
	})
}

func distinctTasks(n int) []models.Task {
	tasks := make([]models.Task, n)
	for i := range tasks {
		key := fmt.Sprintf("id-%02d", i)
		tasks[i] = mkTask(key, "/profiles/"+key)
	}
	return tasks
}

func proxies(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("P%d", i+1)
	}
	return out
}

func TestCapHonouredUnderAbundance(t *testing.T) {
	meter := &concurrencyMeter{}
	h := newHarness(t, fastSettings(3), nil, Registry{"X": meter.action(20 * time.Millisecond)})

	h.sched.AddBrowsers(distinctTasks(10), proxies(10))
	h.wait(t, 5*time.Second)

	assert.LessOrEqual(t, meter.max.Load(), int32(3))
	assert.GreaterOrEqual(t, meter.max.Load(), int32(2), "expected parallel execution")
	assert.Equal(t, 10, h.events.count(observer.KindSucceeded))
	assert.Equal(t, 1, h.events.count(observer.KindAllFinished))
}

func TestSingleProxySerialisesWork(t *testing.T) {
	meter := &concurrencyMeter{}
	h := newHarness(t, fastSettings(10), nil, Registry{"X": meter.action(5 * time.Millisecond)})

	h.sched.AddBrowsers(distinctTasks(10), []string{"P1"})
	h.wait(t, 5*time.Second)

	assert.Equal(t, int32(1), meter.max.Load())
	assert.Equal(t, 10, h.events.count(observer.KindSucceeded))
}

func TestPlatformCapBoundsWorkers(t *testing.T) {
	meter := &concurrencyMeter{}
	settings := fastSettings(10)
	settings.PlatformCap = 2
	h := newHarness(t, settings, nil, Registry{"X": meter.action(20 * time.Millisecond)})

	h.sched.AddBrowsers(distinctTasks(6), proxies(6))
	h.wait(t, 5*time.Second)
	assert.LessOrEqual(t, meter.max.Load(), int32(2))
}

func TestAllProxiesNotReadyBackOffThenRedrive(t *testing.T) {
	script := map[string][]models.ProxyVerdict{
		"P1": {models.NotReady()},
		"P2": {models.NotReady()},
	}
	settings := fastSettings(2)
	settings.CoolDown = 120 * time.Millisecond
	settings.NoProxyBackoff = 20 * time.Millisecond
	h := newHarness(t, settings, script, Registry{"X": succeed("ok")})

	start := time.Now()
	h.sched.AddBrowsers(distinctTasks(2), []string{"P1", "P2"})

	require.Eventually(t, func() bool {
		return h.events.count(observer.KindProxyNotReady) == 2
	}, time.Second, 5*time.Millisecond)
	snap := h.sched.Snapshot()
	if len(snap.Pool.Cooling) == 2 {
		assert.Equal(t, 2, snap.Queued, "both tasks wait for a proxy")
		assert.Empty(t, snap.Pool.Ready)
	}

	h.wait(t, 3*time.Second)
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
	assert.Equal(t, 2, h.events.count(observer.KindSucceeded))
	assert.Equal(t, 1, h.events.count(observer.KindAllFinished))
}

func TestAddBrowsersTwiceDedups(t *testing.T) {
	gate := make(chan struct{})
	blocking := ActionFunc(func(context.Context, browser.Session, models.Task, observer.Reporter) models.Outcome {
		<-gate
		return models.Success("ok")
	})
	h := newHarness(t, fastSettings(2), nil, Registry{"X": blocking})

	batch := distinctTasks(4)
	assert.Equal(t, 4, h.sched.AddBrowsers(batch, proxies(2)))
	assert.Equal(t, 0, h.sched.AddBrowsers(batch, proxies(2)))

	snap := h.sched.Snapshot()
	assert.Equal(t, 4, snap.Queued+len(snap.InProgress))
	assert.LessOrEqual(t, len(snap.InProgress), 2)
	assert.False(t, h.sched.IsAllFinished())

	close(gate)
	h.wait(t, 2*time.Second)
	assert.Equal(t, 4, h.events.count(observer.KindSucceeded))
	assert.Equal(t, 4, h.sched.Snapshot().Accepted)
}

func TestEmptyAddBrowsers(t *testing.T) {
	h := newHarness(t, fastSettings(1), nil, Registry{"X": succeed("ok")})

	assert.Equal(t, 0, h.sched.AddBrowsers(nil, nil))
	h.wait(t, time.Second)
	assert.Equal(t, 1, h.events.count(observer.KindAllFinished), "idle scheduler reports finished")

	gate := make(chan struct{})
	h.sched.actions["block"] = ActionFunc(func(context.Context, browser.Session, models.Task, observer.Reporter) models.Outcome {
		<-gate
		return models.Success("ok")
	})
	task := mkTask("alpha", "/a")
	task.ActionName = "block"
	h.sched.AddBrowsers([]models.Task{task}, []string{"P1"})
	h.sched.AddBrowsers(nil, nil)
	assert.Equal(t, 1, h.events.count(observer.KindAllFinished), "no terminal event while work is in flight")

	close(gate)
	h.wait(t, time.Second)
	assert.Equal(t, 2, h.events.count(observer.KindAllFinished))
}

func TestFailedAndErrorAreNotRetried(t *testing.T) {
	var panics atomic.Int32
	actions := Registry{
		"fail": ActionFunc(func(context.Context, browser.Session, models.Task, observer.Reporter) models.Outcome {
			return models.Failed("language not English")
		}),
		"err": ActionFunc(func(context.Context, browser.Session, models.Task, observer.Reporter) models.Outcome {
			return models.Errored("tab not found")
		}),
		"panic": ActionFunc(func(context.Context, browser.Session, models.Task, observer.Reporter) models.Outcome {
			panics.Add(1)
			panic("selector exploded")
		}),
	}
	h := newHarness(t, fastSettings(1), map[string][]models.ProxyVerdict{
		"P1": {
			models.Available(models.ResolvedProxy{Addr: "1.1.1.1:1"}),
			models.Available(models.ResolvedProxy{Addr: "1.1.1.1:1"}),
			models.Available(models.ResolvedProxy{Addr: "1.1.1.1:1"}),
			models.Available(models.ResolvedProxy{Addr: "1.1.1.1:1"}),
			models.TransportError("fetch proxy: status 502"),
		},
	}, actions)

	tasks := []models.Task{mkTask("a", "/a"), mkTask("b", "/b"), mkTask("c", "/c"), mkTask("d", "/d"), mkTask("e", "/e")}
	tasks[0].ActionName = "fail"
	tasks[1].ActionName = "err"
	tasks[2].ActionName = "panic"
	tasks[3].ActionName = "missing"
	tasks[4].ActionName = "fail"
	h.sched.AddBrowsers(tasks, []string{"P1"})
	h.wait(t, 2*time.Second)

	got := h.events.lifecycle()
	require.Len(t, got, 6)
	assert.Equal(t, observer.KindFailed, got[0].Kind)
	assert.Equal(t, "language not English", got[0].Msg)
	assert.Equal(t, "P1", got[0].RawProxy)
	assert.Equal(t, observer.KindError, got[1].Kind)
	assert.Equal(t, observer.KindError, got[2].Kind)
	assert.Contains(t, got[2].Msg, "selector exploded")
	assert.Equal(t, observer.KindError, got[3].Kind)
	assert.Contains(t, got[3].Msg, ErrUnknownAction.Error())
	assert.Equal(t, observer.KindError, got[4].Kind)
	assert.Contains(t, got[4].Msg, "502")
	assert.Equal(t, observer.KindAllFinished, got[5].Kind)

	assert.Equal(t, int32(1), panics.Load())
	assert.Equal(t, 5, h.resolver.Calls("P1"), "no task is resolved twice")
	assert.Equal(t, []string{"P1"}, h.sched.Snapshot().Pool.Ready, "proxy returns to the pool")
	assert.Equal(t, h.launcher.opened.Load(), h.launcher.closed.Load(), "every session closed")
}

func TestActionReportsProxyUnavailableMidFlight(t *testing.T) {
	var runs atomic.Int32
	flaky := ActionFunc(func(_ context.Context, sess browser.Session, _ models.Task, rep observer.Reporter) models.Outcome {
		rep.Progress("navigating", 1, 2)
		if runs.Add(1) == 1 {
			return models.ProxyUnavailable()
		}
		rep.Progress("posted", 2, 2)
		return models.Success("posted")
	})
	h := newHarness(t, fastSettings(1), nil, Registry{"X": flaky})

	h.sched.AddBrowsers([]models.Task{mkTask("alpha", "/a")}, []string{"P1", "P2"})
	h.wait(t, 2*time.Second)

	got := h.events.lifecycle()
	require.Len(t, got, 3)
	assert.Equal(t, observer.KindProxyUnavailable, got[0].Kind)
	assert.Equal(t, observer.KindSucceeded, got[1].Kind)
	assert.Equal(t, "P2", got[1].RawProxy)
	assert.Equal(t, 3, h.events.count(observer.KindProgress))
}

func TestObserverPanicDoesNotStopScheduler(t *testing.T) {
	events := &eventLog{}
	bad := observer.Func(func(ev observer.Event) {
		if ev.Kind == observer.KindSucceeded {
			panic("observer bug")
		}
	})
	s := New(Options{
		Resolver: newFakeResolver(nil),
		Launcher: newFakeLauncher(),
		Actions:  Registry{"X": succeed("ok")},
		Observer: observer.NewFanout(zap.NewNop(), bad, observer.Func(events.handle)),
		Settings: fastSettings(1),
	})
	defer s.Close()

	s.AddBrowsers(distinctTasks(2), []string{"P1"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	assert.Equal(t, 2, events.count(observer.KindSucceeded))
}

func TestRestartAfterDone(t *testing.T) {
	h := newHarness(t, fastSettings(1), nil, Registry{"X": succeed("ok")})

	h.sched.AddBrowsers([]models.Task{mkTask("a", "/a")}, []string{"P1"})
	h.wait(t, time.Second)
	require.Equal(t, StateDone, h.sched.Snapshot().State)

	// The same identity is accepted again once its first run is over.
	assert.Equal(t, 1, h.sched.AddBrowsers([]models.Task{mkTask("a", "/a")}, nil))
	h.wait(t, time.Second)
	assert.Equal(t, 2, h.events.count(observer.KindSucceeded))
	assert.Equal(t, 2, h.events.count(observer.KindAllFinished))
}

func TestAccountingMatchesAcceptedTasks(t *testing.T) {
	script := map[string][]models.ProxyVerdict{
		"P1": {models.NotReady()},
		"P3": {models.Unavailable()},
	}
	actions := Registry{
		"X": ActionFunc(func(_ context.Context, _ browser.Session, task models.Task, _ observer.Reporter) models.Outcome {
			if task.IdentityKey == "id-03" {
				return models.Failed("soft")
			}
			return models.Success("ok")
		}),
	}
	h := newHarness(t, fastSettings(3), script, actions)

	h.sched.AddBrowsers(distinctTasks(8), proxies(3))
	h.wait(t, 3*time.Second)

	snap := h.sched.Snapshot()
	assert.Equal(t, 8, snap.Accepted)
	assert.Equal(t, snap.Accepted, snap.Succeeded+snap.Failed+snap.Errored)
	assert.Equal(t, 7, h.events.count(observer.KindSucceeded))
	assert.Equal(t, 1, h.events.count(observer.KindFailed))

	// Pool states stay disjoint once the reactor is quiet.
	seen := map[string]int{}
	for _, r := range snap.Pool.Ready {
		seen[r]++
	}
	for _, r := range snap.Pool.InUse {
		seen[r]++
	}
	for r := range snap.Pool.Cooling {
		seen[r]++
	}
	for _, r := range snap.Pool.Dropped {
		seen[r]++
	}
	for _, r := range proxies(3) {
		assert.Equal(t, 1, seen[r], "proxy %s", r)
	}
	assert.Equal(t, []string{"P3"}, snap.Pool.Dropped)
}

func TestCancelDrainsQueue(t *testing.T) {
	started := make(chan struct{}, 1)
	blocking := ActionFunc(func(ctx context.Context, _ browser.Session, _ models.Task, _ observer.Reporter) models.Outcome {
		started <- struct{}{}
		<-ctx.Done()
		return models.ErrorFrom(ctx.Err())
	})
	h := newHarness(t, fastSettings(1), nil, Registry{"X": blocking})

	h.sched.AddBrowsers(distinctTasks(3), []string{"P1"})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Cancel(ctx))

	assert.Equal(t, 3, h.events.count(observer.KindError))
	assert.Equal(t, 1, h.events.count(observer.KindAllFinished))
	assert.True(t, h.sched.IsAllFinished())

	// A later cycle runs with a fresh context.
	h.sched.actions["X"] = succeed("ok")
	h.sched.AddBrowsers([]models.Task{mkTask("z", "/z")}, nil)
	h.wait(t, time.Second)
	assert.Equal(t, 1, h.events.count(observer.KindSucceeded))
}

func TestSetSettingsRaisesCap(t *testing.T) {
	meter := &concurrencyMeter{}
	h := newHarness(t, fastSettings(1), nil, Registry{"X": meter.action(30 * time.Millisecond)})

	h.sched.SetSettings(fastSettings(4))
	assert.Equal(t, 4, h.sched.Settings().ConcurrencyCap)

	h.sched.AddBrowsers(distinctTasks(8), proxies(8))
	h.wait(t, 3*time.Second)
	assert.LessOrEqual(t, meter.max.Load(), int32(4))
	assert.Greater(t, meter.max.Load(), int32(1))
}

func TestEffectiveCap(t *testing.T) {
	s := Settings{ConcurrencyCap: 5, PlatformCap: 3}
	assert.Equal(t, 3, s.effectiveCap(10))
	assert.Equal(t, 1, s.effectiveCap(1))
	assert.Equal(t, 0, s.effectiveCap(0))

	n := Settings{}.normalized()
	assert.Equal(t, 1, n.ConcurrencyCap)
	assert.Equal(t, 10*time.Second, n.CoolDown)
	assert.Equal(t, 10*time.Second, n.NoProxyBackoff)
}

func TestProgressNeverRegressesAcrossRetries(t *testing.T) {
	var runs atomic.Int32
	retried := ActionFunc(func(_ context.Context, _ browser.Session, _ models.Task, rep observer.Reporter) models.Outcome {
		if runs.Add(1) == 1 {
			rep.Progress("loading", 0, 3)
			rep.Progress("posting", 2, 3)
			return models.ProxyNotReady()
		}
		rep.Progress("loading", 0, 3)
		rep.Progress("posted", 3, 3)
		return models.Success("posted")
	})
	h := newHarness(t, fastSettings(1), nil, Registry{"X": retried})

	h.sched.AddBrowsers([]models.Task{mkTask("alpha", "/a")}, []string{"P1", "P2"})
	h.wait(t, 2*time.Second)

	require.Equal(t, int32(2), runs.Load())
	done := progressDone(h.events)
	require.Len(t, done, 4)
	for i := 1; i < len(done); i++ {
		assert.GreaterOrEqual(t, done[i], done[i-1], "progress went backwards: %v", done)
	}
	assert.Equal(t, 3, done[len(done)-1])
	assert.Empty(t, h.sched.reporterKeys())

	// A finished task starts from zero when accepted again.
	h.sched.AddBrowsers([]models.Task{mkTask("alpha", "/a")}, nil)
	h.wait(t, 2*time.Second)
	done = progressDone(h.events)
	require.Len(t, done, 6)
	assert.Equal(t, []int{0, 3}, done[4:])
}

func progressDone(e *eventLog) []int {
	var done []int
	for _, ev := range e.all() {
		if ev.Kind == observer.KindProgress {
			done = append(done, ev.Done)
		}
	}
	return done
}

func TestCancelDropsUnavailableProxy(t *testing.T) {
	started := make(chan struct{}, 1)
	aborted := ActionFunc(func(ctx context.Context, _ browser.Session, _ models.Task, _ observer.Reporter) models.Outcome {
		started <- struct{}{}
		<-ctx.Done()
		return models.ProxyUnavailable()
	})
	h := newHarness(t, fastSettings(1), nil, Registry{"X": aborted})

	h.sched.AddBrowsers(distinctTasks(2), []string{"P1"})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Cancel(ctx))

	snap := h.sched.Snapshot()
	assert.Equal(t, []string{"P1"}, snap.Pool.Dropped)
	assert.Empty(t, snap.Pool.Ready)
	assert.Equal(t, 2, snap.Errored)
	assert.Equal(t, 0, h.events.count(observer.KindProxyUnavailable))
}

func TestNoBackoffWhileWorkersInFlight(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	gated := ActionFunc(func(context.Context, browser.Session, models.Task, observer.Reporter) models.Outcome {
		started <- struct{}{}
		<-release
		return models.Success("ok")
	})
	h := newHarness(t, fastSettings(4), nil, Registry{"X": gated})

	h.sched.AddBrowsers(distinctTasks(3), []string{"P1"})
	<-started

	armed := true
	h.sched.call(func() { armed = h.sched.backoff != nil })
	assert.False(t, armed, "backoff armed with a worker in flight")

	close(release)
	h.wait(t, 2*time.Second)
	assert.Equal(t, 3, h.events.count(observer.KindSucceeded))
}

func TestNewReusesCallerFanout(t *testing.T) {
	events := &eventLog{}
	fan := observer.NewFanout(zap.NewNop(), observer.Func(events.handle))
	s := New(Options{Observer: fan, Settings: fastSettings(1)})
	defer s.Close()
	assert.Same(t, fan, s.obs)

	wrapped := New(Options{Observer: observer.Func(events.handle), Settings: fastSettings(1)})
	defer wrapped.Close()
	_, ok := wrapped.obs.(*observer.Fanout)
	assert.True(t, ok)
}

// reporterKeys lists tasks still holding a progress reporter.
func (s *Scheduler) reporterKeys() []string {
	var keys []string
	s.call(func() {
		for k := range s.reporters {
			keys = append(keys, k)
		}
	})
	return keys
}
