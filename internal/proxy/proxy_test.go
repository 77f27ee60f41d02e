package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/EgressLite/internal/config"
	"github.com/AlexKimmel/EgressLite/internal/gateway"
	"github.com/AlexKimmel/EgressLite/internal/transport"
)

func newGateway(t *testing.T, doc string, hooks func(string) transport.Hooks) http.Handler {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)

	rr, err := BuildRouter(cfg, NewHTTPTransport(), zerolog.Nop(), hooks)
	require.NoError(t, err)

	return gateway.Chain(Handler(), gateway.RouteMatcher(rr, nil))
}

func TestProxyRetriesUpstream(t *testing.T) {
	var hits atomic.Int32
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("X-Upstream-Path", r.URL.Path)
		_, _ = io.WriteString(w, "hello")
	}))
	defer up.Close()

	var retries atomic.Int32
	hooks := func(routeID string) transport.Hooks {
		return transport.Hooks{OnRetry: func(key string, attempt int, reason string, delay time.Duration) {
			assert.Equal(t, "503", reason)
			retries.Add(1)
		}}
	}

	h := newGateway(t, fmt.Sprintf(`
retry: {backoff_factor: 0.01}
routes:
  - id: up
    match: {path_prefix: /up}
    upstream: {url: %q}
`, up.URL), hooks)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/up/items", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "/up/items", rec.Header().Get("X-Upstream-Path"))
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), retries.Load())
}

func TestProxyReturnsExhaustedStatus(t *testing.T) {
	var hits atomic.Int32
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer up.Close()

	h := newGateway(t, fmt.Sprintf(`
retry: {total_retries: 2, backoff_factor: 0.01}
routes:
  - id: up
    match: {path_prefix: /}
    upstream: {url: %q}
`, up.URL), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, int32(3), hits.Load())
}

func TestProxyAdmissionTimeout(t *testing.T) {
	var hits atomic.Int32
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	h := newGateway(t, fmt.Sprintf(`
routes:
  - id: slow
    match: {path_prefix: /}
    upstream: {url: %q, timeout_ms: 100}
    limits:
      requests_per_second: 5
      additional: [{max_calls: 1, period_ms: 3600000}]
`, up.URL), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/a", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	start := time.Now()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/b", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "admission_timeout")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(1), hits.Load())
}

func TestProxyUpstreamDown(t *testing.T) {
	up := httptest.NewServer(http.NotFoundHandler())
	addr := up.URL
	up.Close()

	h := newGateway(t, fmt.Sprintf(`
retry: {total_retries: 1, backoff_factor: 0}
routes:
  - id: gone
    match: {path_prefix: /}
    upstream: {url: %q}
`, addr), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream_unavailable")
}

func TestHandlerWithoutRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
