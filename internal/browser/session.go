// Package browser opens Chrome sessions bound to one profile directory and
// one resolved upstream proxy.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"browser-task-scheduler/internal/models"
)

// Spec is everything needed to open a session.
type Spec struct {
	ProfileDir string
	Device     models.DeviceProfile
	Headless   bool
	Proxy      models.ResolvedProxy
}

// Session is a live browser an action drives. It is only valid inside one
// action invocation.
type Session interface {
	// Run executes chromedp actions against the session's tab.
	Run(actions ...chromedp.Action) error
	// Context is the tab context, for chromedp helpers that need it directly.
	Context() context.Context
	Spec() Spec
	Close() error
}

// Launcher opens sessions.
type Launcher interface {
	Open(ctx context.Context, spec Spec) (Session, error)
}

// Chrome launches a local Chrome/Chromium through chromedp.
type Chrome struct {
	execPath string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewChrome builds a launcher. An empty execPath lets chromedp find the
// browser; a zero timeout leaves sessions bounded only by the caller's ctx.
func NewChrome(execPath string, timeout time.Duration, logger *zap.Logger) *Chrome {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chrome{execPath: execPath, timeout: timeout, logger: logger}
}

type chromeSession struct {
	spec   Spec
	ctx    context.Context
	cancel []context.CancelFunc
	once   sync.Once
	err    error
}

// Open starts the browser, wires proxy authentication and applies the device
// emulation. The returned session must be closed.
func (c *Chrome) Open(ctx context.Context, spec Spec) (Session, error) {
	if spec.ProfileDir == "" {
		return nil, errors.New("open session: profile dir is required")
	}
	ua := spec.Device.UserAgent
	if ua == "" {
		ua = UserAgentFor(spec.Device)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(spec.ProfileDir),
		chromedp.Flag("headless", spec.Headless),
		chromedp.WindowSize(int(spec.Device.Width), int(spec.Device.Height)),
		chromedp.UserAgent(ua),
	)
	if spec.Proxy.Addr != "" {
		opts = append(opts, chromedp.ProxyServer(spec.Proxy.Server()))
	}
	if c.execPath != "" {
		opts = append(opts, chromedp.ExecPath(c.execPath))
	}

	s := &chromeSession{spec: spec}
	base := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		base, cancel = context.WithTimeout(ctx, c.timeout)
		s.cancel = append(s.cancel, cancel)
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(base, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(c.logger.Sugar().Debugf))
	s.ctx = tabCtx
	s.cancel = append(s.cancel, cancelAlloc, cancelTab)

	if spec.Proxy.User != "" {
		listenProxyAuth(tabCtx, spec.Proxy)
	}

	setup := []chromedp.Action{emulate(spec.Device)}
	if spec.Proxy.User != "" {
		setup = append(setup, fetch.Enable().WithHandleAuthRequests(true))
	}
	if err := chromedp.Run(tabCtx, setup...); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("start browser for %s: %w", spec.ProfileDir, err)
	}
	c.logger.Debug("session opened",
		zap.String("profile", spec.ProfileDir),
		zap.String("device", spec.Device.Kind),
		zap.String("proxy", spec.Proxy.Addr),
		zap.Bool("headless", spec.Headless),
	)
	return s, nil
}

func emulate(d models.DeviceProfile) chromedp.Action {
	opts := []chromedp.EmulateViewportOption{chromedp.EmulateScale(d.DeviceScaleFactor)}
	if d.IsMobile {
		opts = append(opts, chromedp.EmulateMobile, chromedp.EmulateTouch)
	}
	return chromedp.EmulateViewport(d.Width, d.Height, opts...)
}

// listenProxyAuth answers the proxy's auth challenge with the rented
// credentials and lets every other paused request through.
func listenProxyAuth(tabCtx context.Context, p models.ResolvedProxy) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				_ = fetch.ContinueRequest(ev.RequestID).Do(executor(tabCtx))
			}()
		case *fetch.EventAuthRequired:
			go func() {
				_ = fetch.ContinueWithAuth(ev.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: p.User,
					Password: p.Pass,
				}).Do(executor(tabCtx))
			}()
		}
	})
}

func executor(tabCtx context.Context) context.Context {
	c := chromedp.FromContext(tabCtx)
	return cdp.WithExecutor(tabCtx, c.Target)
}

func (s *chromeSession) Run(actions ...chromedp.Action) error {
	return chromedp.Run(s.ctx, actions...)
}

func (s *chromeSession) Context() context.Context { return s.ctx }

func (s *chromeSession) Spec() Spec { return s.spec }

// Close shuts the browser down gracefully, then releases every context.
func (s *chromeSession) Close() error {
	s.once.Do(func() {
		if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.err = fmt.Errorf("close browser: %w", err)
		}
		for i := len(s.cancel) - 1; i >= 0; i-- {
			s.cancel[i]()
		}
	})
	return s.err
}

var proxyErrorMarkers = []string{
	"ERR_PROXY_CONNECTION_FAILED",
	"ERR_TUNNEL_CONNECTION_FAILED",
	"ERR_PROXY_AUTH_UNSUPPORTED",
	"ERR_PROXY_CERTIFICATE_INVALID",
	"ERR_NO_SUPPORTED_PROXIES",
}

// IsProxyError reports whether a navigation failed because of the upstream
// proxy rather than the target site.
func IsProxyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range proxyErrorMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
