package models

import (
	"fmt"
	"strings"
)

// OutcomeKind enumerates the terminal results of one dispatch.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailed
	OutcomeError
	OutcomeProxyNotReady
	OutcomeProxyUnavailable
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeError:
		return "error"
	case OutcomeProxyNotReady:
		return "proxy_not_ready"
	case OutcomeProxyUnavailable:
		return "proxy_unavailable"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the single value a worker produces per dispatch.
type Outcome struct {
	Kind OutcomeKind
	Msg  string
}

func Success(msg string) Outcome        { return Outcome{Kind: OutcomeSuccess, Msg: msg} }
func Failed(msg string) Outcome         { return Outcome{Kind: OutcomeFailed, Msg: msg} }
func Errored(msg string) Outcome        { return Outcome{Kind: OutcomeError, Msg: msg} }
func ProxyNotReady() Outcome            { return Outcome{Kind: OutcomeProxyNotReady} }
func ProxyUnavailable() Outcome         { return Outcome{Kind: OutcomeProxyUnavailable} }
func ErrorFrom(err error) Outcome       { return Errored(err.Error()) }
func Errorf(f string, a ...any) Outcome { return Errored(fmt.Sprintf(f, a...)) }

// Retries reports whether the task goes back to the queue.
func (o Outcome) Retries() bool {
	return o.Kind == OutcomeProxyNotReady || o.Kind == OutcomeProxyUnavailable
}

// ResolvedProxy is a concrete upstream proxy usable by a browser.
type ResolvedProxy struct {
	Addr string `json:"addr"`
	User string `json:"user"`
	Pass string `json:"pass"`
}

// Server renders the proxy address for the browser's --proxy-server flag.
func (p ResolvedProxy) Server() string {
	return "http://" + p.Addr
}

// ParseProxyHTTP parses the rental service "ip:port:user:pass" form.
func ParseProxyHTTP(s string) (ResolvedProxy, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return ResolvedProxy{}, fmt.Errorf("proxyhttp %q: expected ip:port:user:pass", s)
	}
	for _, p := range parts {
		if p == "" {
			return ResolvedProxy{}, fmt.Errorf("proxyhttp %q: empty field", s)
		}
	}
	return ResolvedProxy{Addr: parts[0] + ":" + parts[1], User: parts[2], Pass: parts[3]}, nil
}

// VerdictKind enumerates resolver results.
type VerdictKind int

const (
	VerdictAvailable VerdictKind = iota
	VerdictNotReady
	VerdictUnavailable
	VerdictTransportError
)

// ProxyVerdict is what the resolver reports for a raw proxy.
type ProxyVerdict struct {
	Kind  VerdictKind
	Proxy ResolvedProxy
	Msg   string
}

func Available(p ResolvedProxy) ProxyVerdict { return ProxyVerdict{Kind: VerdictAvailable, Proxy: p} }
func NotReady() ProxyVerdict                 { return ProxyVerdict{Kind: VerdictNotReady} }
func Unavailable() ProxyVerdict              { return ProxyVerdict{Kind: VerdictUnavailable} }
func TransportError(msg string) ProxyVerdict { return ProxyVerdict{Kind: VerdictTransportError, Msg: msg} }

// LivenessProbe asks whether an identity is still alive.
type LivenessProbe struct {
	RecordID    int    `json:"record_id"`
	IdentityKey string `json:"identity_key"`
}
