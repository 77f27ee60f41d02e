package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AlexKimmel/EgressLite/internal/errs"
	"github.com/AlexKimmel/EgressLite/internal/ratelimit"
	"github.com/AlexKimmel/EgressLite/internal/retry"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

type Window struct {
	MaxCalls int `yaml:"max_calls"`
	PeriodMS int `yaml:"period_ms"`
}

type Limits struct {
	RequestsPerSecond int      `yaml:"requests_per_second"`
	Additional        []Window `yaml:"additional"`
	PerHost           bool     `yaml:"per_host"`
}

type Retry struct {
	TotalRetries      *int     `yaml:"total_retries"`
	BackoffFactor     *float64 `yaml:"backoff_factor"` // seconds
	BackoffMaxMS      int      `yaml:"backoff_max_ms"`
	Statuses          []int    `yaml:"statuses"`
	Methods           []string `yaml:"methods"`
	RespectRetryAfter *bool    `yaml:"respect_retry_after"`
}

type Routes struct {
	ID    string `yaml:"id"`
	Match struct {
		PathPrefix string   `yaml:"path_prefix"`
		Methods    []string `yaml:"methods"`
	} `yaml:"match"`

	Upstream struct {
		URL       string `yaml:"url"`
		TimeoutMS int    `yaml:"timeout_ms"`
	} `yaml:"upstream"`

	// optional per-route overrides of the top-level sections
	Limits *Limits `yaml:"limits"`
	Retry  *Retry  `yaml:"retry"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Limits        Limits        `yaml:"limits"`
	Retry         Retry         `yaml:"retry"`
	Routes        []Routes      `yaml:"routes"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// WriteTimeout covers admission waits and retries, so it is longer than a
// plain gateway would use.
func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
} // default 10MB

// Windows returns the base per-second window followed by the additional ones.
func (l Limits) Windows() []ratelimit.Limit {
	out := []ratelimit.Limit{ratelimit.PerSecond(l.RequestsPerSecond)}
	for _, w := range l.Additional {
		out = append(out, ratelimit.Limit{MaxCalls: w.MaxCalls, Period: time.Duration(w.PeriodMS) * time.Millisecond})
	}
	return out
}

// Options converts the section into retry policy options. Unset fields keep
// the policy defaults.
func (r Retry) Options() []retry.Option {
	var opts []retry.Option
	if r.TotalRetries != nil {
		opts = append(opts, retry.WithTotalRetries(*r.TotalRetries))
	}
	if r.BackoffFactor != nil {
		opts = append(opts, retry.WithBackoffFactor(*r.BackoffFactor))
	}
	if r.BackoffMaxMS > 0 {
		opts = append(opts, retry.WithBackoffMax(time.Duration(r.BackoffMaxMS)*time.Millisecond))
	}
	if len(r.Statuses) > 0 {
		opts = append(opts, retry.WithStatuses(r.Statuses...))
	}
	if len(r.Methods) > 0 {
		opts = append(opts, retry.WithMethods(r.Methods...))
	}
	if r.RespectRetryAfter != nil {
		opts = append(opts, retry.WithRetryAfter(*r.RespectRetryAfter))
	}
	return opts
}

// RouteLimits is the route override or the top-level section.
func (c *Root) RouteLimits(rt Routes) Limits {
	if rt.Limits != nil {
		return *rt.Limits
	}
	return c.Limits
}

// RouteRetry merges a route override over the top-level retry section.
func (c *Root) RouteRetry(rt Routes) Retry {
	r := c.Retry
	if rt.Retry == nil {
		return r
	}
	o := rt.Retry
	if o.TotalRetries != nil {
		r.TotalRetries = o.TotalRetries
	}
	if o.BackoffFactor != nil {
		r.BackoffFactor = o.BackoffFactor
	}
	if o.BackoffMaxMS > 0 {
		r.BackoffMaxMS = o.BackoffMaxMS
	}
	if len(o.Statuses) > 0 {
		r.Statuses = o.Statuses
	}
	if len(o.Methods) > 0 {
		r.Methods = o.Methods
	}
	if o.RespectRetryAfter != nil {
		r.RespectRetryAfter = o.RespectRetryAfter
	}
	return r
}

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Root, error) {
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	for i := range cfg.Routes {
		if cfg.Routes[i].Upstream.TimeoutMS <= 0 {
			cfg.Routes[i].Upstream.TimeoutMS = 30000
		}
		if len(cfg.Routes[i].Match.Methods) == 0 {
			cfg.Routes[i].Match.Methods = retry.DefaultMethods()
		}
		if l := cfg.Routes[i].Limits; l != nil && l.RequestsPerSecond == 0 {
			l.RequestsPerSecond = 10
		}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Limits.RequestsPerSecond == 0 {
		cfg.Limits.RequestsPerSecond = 10
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Root) Validate() error {
	var problems []error

	check := func(where string, l Limits, r Retry) {
		for _, w := range l.Windows() {
			if err := w.Validate(); err != nil {
				problems = append(problems, fmt.Errorf("%s.limits: %w", where, err))
			}
		}
		if _, err := retry.NewPolicy(r.Options()...); err != nil {
			problems = append(problems, fmt.Errorf("%s.retry: %w", where, err))
		}
	}
	check("root", c.Limits, c.Retry)

	seen := map[string]struct{}{}
	for i, rt := range c.Routes {
		where := fmt.Sprintf("routes[%d]", i)
		if rt.ID == "" {
			problems = append(problems, &errs.ConfigError{Component: "config", Field: where + ".id", Reason: "is required"})
		} else if _, dup := seen[rt.ID]; dup {
			problems = append(problems, &errs.ConfigError{Component: "config", Field: where + ".id", Reason: fmt.Sprintf("%q is used twice", rt.ID)})
		}
		seen[rt.ID] = struct{}{}

		if !strings.HasPrefix(rt.Match.PathPrefix, "/") {
			problems = append(problems, &errs.ConfigError{Component: "config", Field: where + ".match.path_prefix", Reason: "must start with /"})
		}
		if u, err := url.Parse(rt.Upstream.URL); err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, &errs.ConfigError{Component: "config", Field: where + ".upstream.url", Reason: fmt.Sprintf("%q is not an absolute URL", rt.Upstream.URL)})
		}
		check(where, c.RouteLimits(rt), c.RouteRetry(rt))
	}

	return errors.Join(problems...)
}
