package retry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/AlexKimmel/EgressLite/internal/errs"
)

const (
	DefaultTotalRetries  = 5
	DefaultBackoffFactor = 0.25
	DefaultBackoffMax    = 120 * time.Second
)

// DefaultStatuses are the response codes worth another attempt.
func DefaultStatuses() []int {
	return []int{
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
}

// DefaultMethods includes POST and PATCH. Retrying them can repeat a write
// on the remote side; narrow the list with WithMethods when that matters.
func DefaultMethods() []string {
	return []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodDelete,
		http.MethodHead,
		http.MethodOptions,
		http.MethodTrace,
		http.MethodPatch,
	}
}

// Policy decides whether a finished attempt is returned to the caller or
// tried again, and how long to wait in between.
type Policy struct {
	totalRetries      int
	backoffFactor     float64
	backoffMax        time.Duration
	statuses          map[int]struct{}
	methods           map[string]struct{}
	respectRetryAfter bool
}

type Option func(p *Policy)

// WithTotalRetries sets how many retries follow the first attempt.
func WithTotalRetries(n int) Option {
	return func(p *Policy) { p.totalRetries = n }
}

// WithBackoffFactor sets the base delay in seconds.
func WithBackoffFactor(f float64) Option {
	return func(p *Policy) { p.backoffFactor = f }
}

// WithBackoffMax caps a single backoff delay. Zero disables the cap.
func WithBackoffMax(d time.Duration) Option {
	return func(p *Policy) { p.backoffMax = d }
}

func WithStatuses(codes ...int) Option {
	return func(p *Policy) {
		p.statuses = make(map[int]struct{}, len(codes))
		for _, c := range codes {
			p.statuses[c] = struct{}{}
		}
	}
}

func WithMethods(methods ...string) Option {
	return func(p *Policy) {
		p.methods = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			p.methods[strings.ToUpper(strings.TrimSpace(m))] = struct{}{}
		}
	}
}

// WithRetryAfter controls whether a Retry-After header on 429/503 replaces
// the computed backoff.
func WithRetryAfter(respect bool) Option {
	return func(p *Policy) { p.respectRetryAfter = respect }
}

func NewPolicy(opts ...Option) (*Policy, error) {
	p := &Policy{
		totalRetries:      DefaultTotalRetries,
		backoffFactor:     DefaultBackoffFactor,
		backoffMax:        DefaultBackoffMax,
		respectRetryAfter: true,
	}
	WithStatuses(DefaultStatuses()...)(p)
	WithMethods(DefaultMethods()...)(p)

	for _, opt := range opts {
		opt(p)
	}

	if p.totalRetries < 0 {
		return nil, &errs.ConfigError{Component: "retry", Field: "total_retries", Reason: fmt.Sprintf("must be >= 0, got %d", p.totalRetries)}
	}
	if p.backoffFactor < 0 || math.IsNaN(p.backoffFactor) || math.IsInf(p.backoffFactor, 0) {
		return nil, &errs.ConfigError{Component: "retry", Field: "backoff_factor", Reason: fmt.Sprintf("must be a finite value >= 0, got %v", p.backoffFactor)}
	}
	if p.backoffMax < 0 {
		return nil, &errs.ConfigError{Component: "retry", Field: "backoff_max", Reason: fmt.Sprintf("must be >= 0, got %s", p.backoffMax)}
	}
	for code := range p.statuses {
		if code < 100 || code > 599 {
			return nil, &errs.ConfigError{Component: "retry", Field: "statuses", Reason: fmt.Sprintf("%d is not an HTTP status code", code)}
		}
	}
	return p, nil
}

// MaxAttempts counts the first attempt plus every retry.
func (p *Policy) MaxAttempts() int { return p.totalRetries + 1 }

func (p *Policy) TotalRetries() int { return p.totalRetries }

func (p *Policy) BackoffFactor() float64 { return p.backoffFactor }

func (p *Policy) Statuses() []int {
	out := make([]int, 0, len(p.statuses))
	for c := range p.statuses {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

func (p *Policy) Methods() []string {
	out := make([]string, 0, len(p.methods))
	for m := range p.methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Backoff is the delay before attempt n (1-indexed). The first retry
// (attempt 2) waits the factor itself, and each later retry doubles it.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 2 || p.backoffFactor == 0 {
		return 0
	}
	secs := p.backoffFactor * math.Pow(2, float64(attempt-2))
	if p.backoffMax > 0 && secs >= p.backoffMax.Seconds() {
		return p.backoffMax
	}
	if secs >= float64(math.MaxInt64)/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(secs * float64(time.Second))
}

// RetryableStatus reports whether code is in the retry set.
func (p *Policy) RetryableStatus(code int) bool {
	_, ok := p.statuses[code]
	return ok
}

func (p *Policy) RetryableMethod(method string) bool {
	if method == "" {
		method = http.MethodGet
	}
	_, ok := p.methods[strings.ToUpper(method)]
	return ok
}
