package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AlexKimmel/EgressLite/internal/errs"
	"github.com/AlexKimmel/EgressLite/internal/ratelimit"
)

type Option func(*options)

type options struct {
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func defaultOptions() options {
	return options{
		now:   time.Now,
		sleep: ratelimit.Sleep,
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSleep replaces the context-aware sleep used while waiting for quota.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// Gate admits a caller only when every one of its windows has room, and
// records the admission in all of them at once.
type Gate struct {
	mu      sync.Mutex
	windows []*Window
	opts    options

	onRecord func(time.Time) // test hook, called under mu
}

func NewGate(limits []ratelimit.Limit, opts ...Option) (*Gate, error) {
	if len(limits) == 0 {
		return nil, &errs.ConfigError{Component: "limit", Reason: "at least one limit is required"}
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	g := &Gate{opts: o, windows: make([]*Window, 0, len(limits))}
	for _, l := range limits {
		w, err := NewWindow(l)
		if err != nil {
			return nil, err
		}
		g.windows = append(g.windows, w)
	}
	return g, nil
}

func (g *Gate) Windows() []*Window {
	out := make([]*Window, len(g.windows))
	copy(out, g.windows)
	return out
}

// Acquire blocks until all windows admit the caller. After every sleep the
// windows are checked again: other callers may have taken the freed slots.
func (g *Gate) Acquire(ctx context.Context) (time.Duration, error) {
	start := g.opts.now()
	for {
		if err := ctx.Err(); err != nil {
			return g.opts.now().Sub(start), errs.Canceled(err)
		}

		g.mu.Lock()
		now := g.opts.now()
		wait := g.waitLocked(now)
		if wait <= 0 {
			for _, w := range g.windows {
				w.RecordCall(now)
			}
			if g.onRecord != nil {
				g.onRecord(now)
			}
			g.mu.Unlock()
			return now.Sub(start), nil
		}
		g.mu.Unlock()

		if err := g.opts.sleep(ctx, wait); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return g.opts.now().Sub(start), errs.Canceled(err)
			}
			return g.opts.now().Sub(start), err
		}
	}
}

func (g *Gate) waitLocked(now time.Time) time.Duration {
	var longest time.Duration
	for _, w := range g.windows {
		if d := w.WaitTime(now); d > longest {
			longest = d
		}
	}
	return longest
}

// Limiter keeps one Gate per key, all built from the same limits.
type Limiter struct {
	limits []ratelimit.Limit
	opts   []Option
	gates  sync.Map
}

var _ ratelimit.Limiter = &Limiter{}

func New(limits []ratelimit.Limit, opts ...Option) (*Limiter, error) {
	// build one gate up front so misconfiguration fails here
	if _, err := NewGate(limits, opts...); err != nil {
		return nil, err
	}
	ls := make([]ratelimit.Limit, len(limits))
	copy(ls, limits)
	return &Limiter{limits: ls, opts: opts}, nil
}

func (l *Limiter) Close() error { return nil }

func (l *Limiter) Limits() []ratelimit.Limit {
	out := make([]ratelimit.Limit, len(l.limits))
	copy(out, l.limits)
	return out
}

func (l *Limiter) Acquire(ctx context.Context, key string) (time.Duration, error) {
	return l.gate(key).Acquire(ctx)
}

func (l *Limiter) gate(key string) *Gate {
	if v, ok := l.gates.Load(key); ok {
		return v.(*Gate)
	}
	g, _ := NewGate(l.limits, l.opts...) // limits validated in New
	v, _ := l.gates.LoadOrStore(key, g)
	return v.(*Gate)
}
