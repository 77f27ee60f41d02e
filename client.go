package egresslite

import (
	"net/http"

	"github.com/AlexKimmel/EgressLite/internal/ratelimit"
	"github.com/AlexKimmel/EgressLite/internal/ratelimit/memory"
	"github.com/AlexKimmel/EgressLite/internal/retry"
	"github.com/AlexKimmel/EgressLite/internal/transport"
)

// NewRoundTripper builds a throttling, retrying http.RoundTripper.
// Invalid options are reported here and never at request time.
func NewRoundTripper(opts ...ConfigOption) (http.RoundTripper, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	limits := append([]ratelimit.Limit{ratelimit.PerSecond(cfg.requestsPerSecond)}, cfg.additional...)
	limiter, err := memory.New(limits)
	if err != nil {
		return nil, err
	}

	policy, err := retry.NewPolicy(
		retry.WithTotalRetries(cfg.totalRetries),
		retry.WithBackoffFactor(cfg.backoffFactor),
		retry.WithStatuses(cfg.retryStatuses...),
		retry.WithMethods(cfg.retryMethods...),
	)
	if err != nil {
		return nil, err
	}

	keyFn := transport.SharedKey
	if cfg.perHost {
		keyFn = transport.HostKey
	}

	return transport.New(cfg.transport, limiter, policy,
		transport.WithLogger(cfg.logger),
		transport.WithHooks(cfg.hooks),
		transport.WithKeyFunc(keyFn),
	), nil
}

// NewClient wraps NewRoundTripper in an *http.Client.
func NewClient(opts ...ConfigOption) (*http.Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	rt, err := NewRoundTripper(opts...)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: rt,
		Timeout:   cfg.timeout,
	}, nil
}
