package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/EgressLite/internal/errs"
	"github.com/AlexKimmel/EgressLite/internal/ratelimit"
	"github.com/AlexKimmel/EgressLite/internal/retry"
)

const sample = `
server:
  addr: ":9090"
observability:
  log_level: debug
limits:
  requests_per_second: 10
  additional:
    - max_calls: 30
      period_ms: 60000
retry:
  total_retries: 3
  backoff_factor: 0.1
routes:
  - id: billing
    match:
      path_prefix: /billing
      methods: [GET, POST]
    upstream:
      url: https://billing.example.com
      timeout_ms: 5000
    retry:
      methods: [GET]
  - id: search
    match:
      path_prefix: /search
    upstream:
      url: http://search.internal:8080
    limits:
      requests_per_second: 2
      per_host: true
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Equal(t, "/metrics", cfg.Observability.PrometheusPath)
	assert.Equal(t, []ratelimit.Limit{
		{MaxCalls: 10, Period: time.Second},
		{MaxCalls: 30, Period: time.Minute},
	}, cfg.Limits.Windows())

	require.Len(t, cfg.Routes, 2)
	billing, search := cfg.Routes[0], cfg.Routes[1]

	assert.Equal(t, 5000, billing.Upstream.TimeoutMS)
	assert.Equal(t, cfg.Limits, cfg.RouteLimits(billing))
	r := cfg.RouteRetry(billing)
	require.NotNil(t, r.TotalRetries)
	assert.Equal(t, 3, *r.TotalRetries)
	assert.Equal(t, []string{"GET"}, r.Methods)

	assert.Equal(t, 30000, search.Upstream.TimeoutMS)
	assert.Equal(t, retry.DefaultMethods(), search.Match.Methods)
	sl := cfg.RouteLimits(search)
	assert.True(t, sl.PerHost)
	assert.Equal(t, []ratelimit.Limit{{MaxCalls: 2, Period: time.Second}}, sl.Windows())
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.Equal(t, 10, cfg.Limits.RequestsPerSecond)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout())
	assert.Equal(t, int64(10<<20), cfg.Server.MaxBody())

	p, err := retry.NewPolicy(cfg.Retry.Options()...)
	require.NoError(t, err)
	assert.Equal(t, 6, p.MaxAttempts())
	assert.Equal(t, 0.25, p.BackoffFactor())
}

func TestParseRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"negative rps":      "limits: {requests_per_second: -1}",
		"zero period":       "limits: {additional: [{max_calls: 3, period_ms: 0}]}",
		"negative backoff":  "retry: {backoff_factor: -0.5}",
		"negative retries":  "retry: {total_retries: -2}",
		"missing route id":  "routes: [{match: {path_prefix: /a}, upstream: {url: http://a}}]",
		"relative upstream": "routes: [{id: a, match: {path_prefix: /a}, upstream: {url: a.example}}]",
		"bad prefix":        "routes: [{id: a, match: {path_prefix: a}, upstream: {url: http://a}}]",
		"route override":    "routes: [{id: a, match: {path_prefix: /a}, upstream: {url: http://a}, limits: {requests_per_second: -4}}]",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, &errs.ConfigError{}), "got %v", err)
		})
	}
}

func TestParseReportsAllProblems(t *testing.T) {
	_, err := Parse([]byte(`
routes:
  - id: a
    match: {path_prefix: /a}
    upstream: {url: http://a}
  - id: a
    match: {path_prefix: b}
    upstream: {url: http://b}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "used twice")
	assert.Contains(t, err.Error(), "must start with /")
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("limits: ["))
	require.Error(t, err)
}
