package scheduler

import (
	"runtime"
	"time"

	"browser-task-scheduler/internal/config"
)

// Settings are the tunables of a scheduler.
type Settings struct {
	ConcurrencyCap int           `json:"concurrency_cap"`
	PlatformCap    int           `json:"platform_cap"`
	CoolDown       time.Duration `json:"cool_down"`
	NoProxyBackoff time.Duration `json:"no_proxy_backoff"`
}

// DefaultSettings returns one worker, 10s cool-down and 10s backoff.
func DefaultSettings() Settings {
	return Settings{
		ConcurrencyCap: 1,
		PlatformCap:    runtime.NumCPU(),
		CoolDown:       10 * time.Second,
		NoProxyBackoff: 10 * time.Second,
	}
}

// SettingsFromConfig projects the scheduler options out of the process config.
func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		ConcurrencyCap: cfg.ConcurrencyCap,
		PlatformCap:    cfg.PlatformCap,
		CoolDown:       cfg.CoolDown,
		NoProxyBackoff: cfg.NoProxyBackoff,
	}.normalized()
}

func (s Settings) normalized() Settings {
	def := DefaultSettings()
	if s.ConcurrencyCap <= 0 {
		s.ConcurrencyCap = def.ConcurrencyCap
	}
	if s.PlatformCap <= 0 {
		s.PlatformCap = def.PlatformCap
	}
	if s.CoolDown <= 0 {
		s.CoolDown = def.CoolDown
	}
	if s.NoProxyBackoff <= 0 {
		s.NoProxyBackoff = def.NoProxyBackoff
	}
	return s
}

// effectiveCap bounds parallel workers by the configured cap, the platform
// cap and the number of proxies the run can still use.
func (s Settings) effectiveCap(usableProxies int) int {
	return min(s.ConcurrencyCap, s.PlatformCap, usableProxies)
}
