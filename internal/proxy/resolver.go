package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"browser-task-scheduler/internal/models"
)

// Rental service status codes.
const (
	StatusAvailable   = 100
	StatusNotReady    = 101
	StatusUnavailable = 102
)

const maxBodyBytes = 64 * 1024

// Limiter paces calls to the rental service per host.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	AllowedHosts []string
	UserAgent    string
	Timeout      time.Duration
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
	Limiter    Limiter
	Logger     *zap.Logger
}

// Resolver turns a raw rental URL into concrete proxy credentials.
type Resolver struct {
	client    *http.Client
	allowed   map[string]struct{}
	userAgent string
	limiter   Limiter
	logger    *zap.Logger
}

type rentalResponse struct {
	Status    *int   `json:"status"`
	ProxyHTTP string `json:"proxyhttp"`
	Message   string `json:"message"`
}

// NewResolver builds a resolver. The default client uses the same timeout for
// connecting and for the whole exchange.
func NewResolver(cfg ResolverConfig) *Resolver {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
				TLSHandshakeTimeout: timeout,
			},
		}
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		allowed[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		client:    client,
		allowed:   allowed,
		userAgent: cfg.UserAgent,
		limiter:   cfg.Limiter,
		logger:    logger,
	}
}

// Resolve issues a single GET for raw and maps the reply to a verdict. It never
// retries and never caches.
func (r *Resolver) Resolve(ctx context.Context, raw string) models.ProxyVerdict {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return models.TransportError(fmt.Sprintf("parse proxy url: %v", err))
	}
	if u.Scheme != "https" {
		return models.TransportError(fmt.Sprintf("proxy url scheme %q not allowed", u.Scheme))
	}
	host := strings.ToLower(u.Hostname())
	if _, ok := r.allowed[host]; !ok {
		return models.TransportError(fmt.Sprintf("proxy host %q not allowed", host))
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, host); err != nil {
			if ctx.Err() != nil {
				return models.TransportError(fmt.Sprintf("wait rental budget: %v", err))
			}
			r.logger.Warn("rental limiter unavailable", zap.String("host", host), zap.Error(err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.TransportError(fmt.Sprintf("build request: %v", err))
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return models.TransportError(fmt.Sprintf("fetch proxy: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.TransportError(fmt.Sprintf("fetch proxy: status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.TransportError(fmt.Sprintf("read proxy reply: %v", err))
	}
	var reply rentalResponse
	if err := json.Unmarshal(body, &reply); err != nil {
		return models.TransportError(fmt.Sprintf("decode proxy reply: %v", err))
	}
	if reply.Status == nil {
		return models.TransportError("proxy reply missing status")
	}

	switch *reply.Status {
	case StatusAvailable:
		p, err := models.ParseProxyHTTP(reply.ProxyHTTP)
		if err != nil {
			return models.TransportError(err.Error())
		}
		return models.Available(p)
	case StatusNotReady:
		return models.NotReady()
	case StatusUnavailable:
		return models.Unavailable()
	default:
		return models.TransportError(fmt.Sprintf("proxy status %d: %s", *reply.Status, reply.Message))
	}
}
