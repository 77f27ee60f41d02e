package egresslite

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlexKimmel/EgressLite/internal/ratelimit"
	"github.com/AlexKimmel/EgressLite/internal/retry"
	"github.com/AlexKimmel/EgressLite/internal/transport"
)

type config struct {
	// requestsPerSecond sets the base window: at most this many calls
	// in any one-second interval.
	// default: 10
	requestsPerSecond int

	// additional quotas enforced on top of the base window
	// default: none
	additional []ratelimit.Limit

	// totalRetries is the number of retries after the first attempt
	// default: 5
	totalRetries int

	// backoffFactor is the first retry delay in seconds; it doubles
	// for every further retry
	// default: 0.25
	backoffFactor float64

	retryStatuses []int
	retryMethods  []string

	// perHost gives every upstream host its own set of windows
	// default: false, one set shared by all requests
	perHost bool

	// transport performs the actual HTTP calls
	// default: http.DefaultTransport
	transport http.RoundTripper

	// timeout bounds a whole request including admission waits and retries
	// default: 0, no timeout
	timeout time.Duration

	// default: disabled
	logger zerolog.Logger

	hooks transport.Hooks
}

func defaultConfig() *config {
	return &config{
		requestsPerSecond: 10,
		totalRetries:      retry.DefaultTotalRetries,
		backoffFactor:     retry.DefaultBackoffFactor,
		retryStatuses:     retry.DefaultStatuses(),
		retryMethods:      retry.DefaultMethods(),
		transport:         http.DefaultTransport,
		logger:            zerolog.Nop(),
	}
}

type ConfigOption func(c *config)

func WithRequestsPerSecond(rps int) ConfigOption {
	return func(c *config) {
		c.requestsPerSecond = rps
	}
}

// WithAdditionalLimit adds one more quota, e.g. WithAdditionalLimit(30, time.Minute).
func WithAdditionalLimit(maxCalls int, period time.Duration) ConfigOption {
	return func(c *config) {
		c.additional = append(c.additional, ratelimit.Limit{MaxCalls: maxCalls, Period: period})
	}
}

func WithTotalRetries(n int) ConfigOption {
	return func(c *config) {
		c.totalRetries = n
	}
}

func WithBackoffFactor(f float64) ConfigOption {
	return func(c *config) {
		c.backoffFactor = f
	}
}

func WithRetryStatuses(codes ...int) ConfigOption {
	return func(c *config) {
		c.retryStatuses = codes
	}
}

// WithRetryMethods replaces the methods eligible for retry. The default list
// contains POST and PATCH; drop them if repeated writes are harmful.
func WithRetryMethods(methods ...string) ConfigOption {
	return func(c *config) {
		c.retryMethods = methods
	}
}

func WithPerHost() ConfigOption {
	return func(c *config) {
		c.perHost = true
	}
}

func WithTransport(transport http.RoundTripper) ConfigOption {
	return func(c *config) {
		c.transport = transport
	}
}

func WithTimeout(timeout time.Duration) ConfigOption {
	return func(c *config) {
		c.timeout = timeout
	}
}

func WithLogger(logger zerolog.Logger) ConfigOption {
	return func(c *config) {
		c.logger = logger
	}
}

func WithHooks(hooks transport.Hooks) ConfigOption {
	return func(c *config) {
		c.hooks = hooks
	}
}
