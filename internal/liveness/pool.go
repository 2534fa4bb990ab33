// Package liveness checks whether identities still exist upstream, a few at
// a time.
package liveness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"browser-task-scheduler/internal/models"
	"browser-task-scheduler/internal/telemetry"
)

// MaxWorkers caps concurrent probes regardless of the platform.
const MaxWorkers = 5

// Observer receives probe results.
type Observer interface {
	Succeeded(p models.LivenessProbe, alive bool)
	Failed(p models.LivenessProbe, msg string)
	AllFinished()
}

type Config struct {
	// URLTemplate has one %s for the escaped identity key.
	URLTemplate string
	Timeout     time.Duration
	PlatformCap int
	// RPS paces probe starts; zero disables pacing.
	RPS        float64
	HTTPClient *http.Client
	Logger     *zap.Logger
	Observer   Observer
}

// Pool runs probes with at most min(MaxWorkers, PlatformCap) in flight.
type Pool struct {
	tmpl    string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	obs     Observer
	cap     int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	queue      []models.LivenessProbe
	inProgress map[string]struct{}
	waiters    []chan struct{}
}

func NewPool(cfg Config) *Pool {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
			},
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := MaxWorkers
	if cfg.PlatformCap > 0 && cfg.PlatformCap < workers {
		workers = cfg.PlatformCap
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		tmpl:       cfg.URLTemplate,
		client:     client,
		limiter:    limiter,
		logger:     logger,
		obs:        cfg.Observer,
		cap:        workers,
		ctx:        ctx,
		cancel:     cancel,
		inProgress: make(map[string]struct{}),
	}
}

// Cap is the number of concurrent probes.
func (p *Pool) Cap() int { return p.cap }

// Add queues probes whose identity is not already queued or running and
// returns how many were accepted. An empty batch on an idle pool reports
// AllFinished straight away.
func (p *Pool) Add(probes []models.LivenessProbe) int {
	p.mu.Lock()
	seen := make(map[string]struct{}, len(p.queue))
	for _, q := range p.queue {
		seen[q.IdentityKey] = struct{}{}
	}
	accepted := 0
	for _, pr := range probes {
		if pr.IdentityKey == "" {
			continue
		}
		if _, ok := seen[pr.IdentityKey]; ok {
			continue
		}
		if _, ok := p.inProgress[pr.IdentityKey]; ok {
			continue
		}
		seen[pr.IdentityKey] = struct{}{}
		p.queue = append(p.queue, pr)
		accepted++
	}
	p.pumpLocked()
	waiters, done := p.settleLocked()
	p.mu.Unlock()

	if done {
		p.finished(waiters)
	}
	return accepted
}

// Pending returns queued plus running probes.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) + len(p.inProgress)
}

// Wait blocks until nothing is queued or running.
func (p *Pool) Wait(ctx context.Context) error {
	p.mu.Lock()
	if p.idleLocked() {
		p.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close aborts running probes and waits for them.
func (p *Pool) Close() {
	p.cancel()
	p.mu.Lock()
	p.queue = nil
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) idleLocked() bool {
	return len(p.queue) == 0 && len(p.inProgress) == 0
}

func (p *Pool) pumpLocked() {
	for len(p.inProgress) < p.cap && len(p.queue) > 0 {
		pr := p.queue[0]
		p.queue = p.queue[1:]
		p.inProgress[pr.IdentityKey] = struct{}{}
		p.wg.Add(1)
		go p.work(pr)
	}
}

func (p *Pool) work(pr models.LivenessProbe) {
	defer p.wg.Done()
	alive, err := p.probe(p.ctx, pr.IdentityKey)

	switch {
	case err != nil:
		telemetry.LivenessProbes.WithLabelValues("error").Inc()
		p.logger.Warn("liveness probe failed", zap.String("identity", pr.IdentityKey), zap.Error(err))
		if p.obs != nil {
			p.obs.Failed(pr, err.Error())
		}
	case alive:
		telemetry.LivenessProbes.WithLabelValues("alive").Inc()
		if p.obs != nil {
			p.obs.Succeeded(pr, true)
		}
	default:
		telemetry.LivenessProbes.WithLabelValues("dead").Inc()
		if p.obs != nil {
			p.obs.Succeeded(pr, false)
		}
	}

	p.mu.Lock()
	delete(p.inProgress, pr.IdentityKey)
	p.pumpLocked()
	waiters, done := p.settleLocked()
	p.mu.Unlock()
	if done {
		p.finished(waiters)
	}
}

// settleLocked hands back the waiters to release when the pool went idle.
func (p *Pool) settleLocked() ([]chan struct{}, bool) {
	if !p.idleLocked() {
		return nil, false
	}
	waiters := p.waiters
	p.waiters = nil
	return waiters, true
}

func (p *Pool) finished(waiters []chan struct{}) {
	for _, w := range waiters {
		close(w)
	}
	if p.obs != nil {
		p.obs.AllFinished()
	}
}

// metadata keeps data members raw: any "height" value, of any JSON type,
// marks the identity alive.
type metadata struct {
	Data map[string]json.RawMessage `json:"data"`
}

func (p *Pool) probe(ctx context.Context, key string) (bool, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("pace probe: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(p.tmpl, url.PathEscape(key)), nil)
	if err != nil {
		return false, fmt.Errorf("build probe: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return false, fmt.Errorf("read probe body: %w", err)
	}
	var m metadata
	if err := json.Unmarshal(body, &m); err != nil {
		return false, fmt.Errorf("decode probe body: %w", err)
	}
	_, alive := m.Data["height"]
	return alive, nil
}
