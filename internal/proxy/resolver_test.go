package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"browser-task-scheduler/internal/models"
)

func newRentalServer(t *testing.T, status int, body string) (*httptest.Server, *Resolver) {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	res := NewResolver(ResolverConfig{
		AllowedHosts: []string{u.Hostname()},
		UserAgent:    "test-agent",
		HTTPClient:   srv.Client(),
	})
	return srv, res
}

func TestResolveVerdicts(t *testing.T) {
	cases := []struct {
		name string
		code int
		body string
		want models.VerdictKind
	}{
		{"available", 200, `{"status":100,"proxyhttp":"1.2.3.4:8000:u:p"}`, models.VerdictAvailable},
		{"not ready", 200, `{"status":101,"message":"wait"}`, models.VerdictNotReady},
		{"unavailable", 200, `{"status":102}`, models.VerdictUnavailable},
		{"unknown status", 200, `{"status":500,"message":"key expired"}`, models.VerdictTransportError},
		{"missing status", 200, `{"proxyhttp":"1.2.3.4:8000:u:p"}`, models.VerdictTransportError},
		{"bad proxyhttp", 200, `{"status":100,"proxyhttp":"1.2.3.4:8000"}`, models.VerdictTransportError},
		{"malformed json", 200, `not json`, models.VerdictTransportError},
		{"http error", 502, `{"status":100}`, models.VerdictTransportError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, res := newRentalServer(t, tc.code, tc.body)
			v := res.Resolve(context.Background(), srv.URL+"/api/getproxy?key=abc")
			assert.Equal(t, tc.want, v.Kind, "msg=%s", v.Msg)
			if tc.want == models.VerdictAvailable {
				assert.Equal(t, models.ResolvedProxy{Addr: "1.2.3.4:8000", User: "u", Pass: "p"}, v.Proxy)
			}
			if tc.want == models.VerdictTransportError {
				assert.NotEmpty(t, v.Msg)
			}
		})
	}
}

func TestResolveRejectsUnknownHost(t *testing.T) {
	res := NewResolver(ResolverConfig{AllowedHosts: []string{"proxyxoay.shop"}})
	v := res.Resolve(context.Background(), "https://evil.example/api?key=1")
	assert.Equal(t, models.VerdictTransportError, v.Kind)
	assert.Contains(t, v.Msg, "not allowed")

	v = res.Resolve(context.Background(), "http://proxyxoay.shop/api?key=1")
	assert.Equal(t, models.VerdictTransportError, v.Kind)

	v = res.Resolve(context.Background(), "://bad")
	assert.Equal(t, models.VerdictTransportError, v.Kind)
}

type stubLimiter struct {
	keys []string
	err  error
}

func (s *stubLimiter) Wait(_ context.Context, key string) error {
	s.keys = append(s.keys, key)
	return s.err
}

func TestResolveUsesLimiter(t *testing.T) {
	srv, res := newRentalServer(t, 200, `{"status":102}`)
	lim := &stubLimiter{err: errors.New("redis down")}
	res.limiter = lim

	v := res.Resolve(context.Background(), srv.URL)
	require.Len(t, lim.keys, 1)
	assert.Equal(t, "127.0.0.1", lim.keys[0])
	assert.Equal(t, models.VerdictUnavailable, v.Kind, "limiter failure must not block resolution")
}
