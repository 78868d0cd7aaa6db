package ops

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "relaybot/pkg/logx"
)

func newTestService(t *testing.T, cfg Config, health HealthFunc) *Service {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "relaybot_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	return New(cfg, reg, health, logx.Nop())
}

func get(t *testing.T, h http.Handler, target string, hdr map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestMetricsAndHealth(t *testing.T) {
	s := newTestService(t, Config{}, nil)
	h := s.handler(Config{})

	code, body := get(t, h, "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "relaybot_test_total 1")

	code, body = get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, _ = get(t, h, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusNotFound, code, "pprof is opt-in")
}

func TestHealthFailure(t *testing.T) {
	s := newTestService(t, Config{}, func(context.Context) error { return errors.New("store down") })
	code, body := get(t, s.handler(Config{}), "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "store down")
}

func TestTokenAuth(t *testing.T) {
	cfg := Config{Token: "s3cret", Pprof: true}
	s := newTestService(t, cfg, nil)
	h := s.handler(cfg)

	code, _ := get(t, h, "/metrics", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = get(t, h, "/metrics", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = get(t, h, "/metrics", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, h, "/healthz?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, h, "/debug/pprof/?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestNormalizePrefix(t *testing.T) {
	assert.Equal(t, "/debug/pprof/", normalizePrefix(""))
	assert.Equal(t, "/dbg/", normalizePrefix("dbg"))
	assert.Equal(t, "/dbg/", normalizePrefix("/dbg/"))
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:9090"))
	assert.True(t, isLoopbackAddr("localhost:9090"))
	assert.True(t, isLoopbackAddr("[::1]:9090"))
	assert.False(t, isLoopbackAddr(":9090"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9090"))
	assert.False(t, isLoopbackAddr("garbage"))
}

func TestReconfigureLifecycle(t *testing.T) {
	s := newTestService(t, Config{}, nil)
	ctx := context.Background()

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	assert.Equal(t, "", s.Addr())
}

func TestRefusesInsecureBind(t *testing.T) {
	s := newTestService(t, Config{Addr: "0.0.0.0:0"}, nil)
	err := s.serveOnce(context.Background())
	assert.Error(t, err)
}
