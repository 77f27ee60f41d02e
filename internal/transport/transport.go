package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AlexKimmel/EgressLite/internal/errs"
	"github.com/AlexKimmel/EgressLite/internal/ratelimit"
	"github.com/AlexKimmel/EgressLite/internal/retry"
)

// maxDrainBytes bounds how much of a discarded response body is read so the
// connection can go back to the pool.
const maxDrainBytes = 64 << 10

// Hooks are optional callbacks for metrics. Any of them may be nil.
type Hooks struct {
	OnAdmit     func(key string, waited time.Duration)
	OnAttempt   func(key string, attempt int, status int, err error)
	OnRetry     func(key string, attempt int, reason string, delay time.Duration)
	OnExhausted func(key string, attempts int)
}

// KeyFunc picks which gate a request goes through.
type KeyFunc func(req *http.Request) string

// SharedKey sends every request through one gate.
func SharedKey(*http.Request) string { return "" }

// HostKey gives every upstream host its own gate.
func HostKey(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	return req.URL.Host
}

type Option func(t *Transport)

func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

func WithHooks(h Hooks) Option {
	return func(t *Transport) { t.hooks = h }
}

func WithKeyFunc(fn KeyFunc) Option {
	return func(t *Transport) {
		if fn != nil {
			t.key = fn
		}
	}
}

// WithSleep replaces the context-aware sleep used between retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Transport) { t.sleep = sleep }
}

// Transport is an http.RoundTripper that waits for admission before every
// attempt and retries transient failures.
type Transport struct {
	base    http.RoundTripper
	limiter ratelimit.Limiter
	policy  *retry.Policy
	key     KeyFunc
	logger  zerolog.Logger
	hooks   Hooks
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ http.RoundTripper = &Transport{}

func New(base http.RoundTripper, limiter ratelimit.Limiter, policy *retry.Policy, opts ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{
		base:    base,
		limiter: limiter,
		policy:  policy,
		key:     SharedKey,
		logger:  zerolog.Nop(),
		sleep:   ratelimit.Sleep,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip sends req, re-acquiring admission before each retry. Whatever
// the last attempt produced is returned as is: a response (even a failing
// one) with a nil error, or the transport error.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := t.key(req)
	log := t.logger.With().
		Str("call_id", uuid.NewString()).
		Str("method", req.Method).
		Str("host", HostKey(req)).
		Logger()

	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	for attempt := 1; ; attempt++ {
		out, err := t.attemptRequest(req, attempt)
		if err != nil {
			return nil, err
		}

		waited, err := t.limiter.Acquire(ctx, key)
		if err != nil {
			closeBody(out)
			log.Debug().Int("attempt", attempt).Err(err).Msg("admission aborted")
			return nil, err
		}
		if t.hooks.OnAdmit != nil {
			t.hooks.OnAdmit(key, waited)
		}
		if waited > 0 {
			log.Debug().Int("attempt", attempt).Dur("waited", waited).Msg("admitted after wait")
		}

		resp, rerr := t.base.RoundTrip(out)
		if t.hooks.OnAttempt != nil {
			t.hooks.OnAttempt(key, attempt, statusOf(resp), rerr)
		}

		dec := t.policy.Decide(req.Method, attempt, retry.FromResponse(resp, rerr), replayable)
		switch dec.Action {
		case retry.Done:
			return resp, rerr
		case retry.Exhausted:
			log.Warn().
				Int("attempt", attempt).
				Int("max_attempts", t.policy.MaxAttempts()).
				Str("reason", dec.Reason).
				Err(rerr).
				Msg("retries exhausted; returning last outcome")
			if t.hooks.OnExhausted != nil {
				t.hooks.OnExhausted(key, attempt)
			}
			return resp, rerr
		}

		log.Warn().
			Int("attempt", attempt).
			Int("max_attempts", t.policy.MaxAttempts()).
			Str("reason", dec.Reason).
			Dur("delay", dec.Delay).
			Err(rerr).
			Msg("retrying")
		if t.hooks.OnRetry != nil {
			t.hooks.OnRetry(key, attempt, dec.Reason, dec.Delay)
		}
		drain(resp)

		if err := t.sleep(ctx, dec.Delay); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, errs.Canceled(err)
			}
			return nil, err
		}
	}
}

// attemptRequest returns the request to send on the given attempt. Retries
// get a clone with a fresh body from GetBody.
func (t *Transport) attemptRequest(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 || req.GetBody == nil || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.Body = body
	return out, nil
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, resp.Body, maxDrainBytes)
	_ = resp.Body.Close()
}

func closeBody(req *http.Request) {
	if req != nil && req.Body != nil {
		_ = req.Body.Close()
	}
}
