package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AlexKimmel/EgressLite/internal/errs"
)

// Limit is one (max calls, period) quota.
type Limit struct {
	MaxCalls int
	Period   time.Duration
}

// PerSecond is the base quota derived from a requests-per-second setting.
func PerSecond(rps int) Limit {
	return Limit{MaxCalls: rps, Period: time.Second}
}

func (l Limit) Validate() error {
	if l.MaxCalls < 1 {
		return &errs.ConfigError{Component: "limit", Field: "max_calls", Reason: fmt.Sprintf("must be >= 1, got %d", l.MaxCalls)}
	}
	if l.Period <= 0 {
		return &errs.ConfigError{Component: "limit", Field: "period", Reason: fmt.Sprintf("must be > 0, got %s", l.Period)}
	}
	return nil
}

func (l Limit) String() string {
	return strconv.Itoa(l.MaxCalls) + "/" + l.Period.String()
}

// ParseLimit reads "30/1m" style quotas. A bare unit ("10/s") means one of it.
// Signed or fractional periods are handed to time.ParseDuration as written.
func ParseLimit(s string) (Limit, error) {
	calls, period, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Limit{}, &errs.ConfigError{Component: "limit", Reason: fmt.Sprintf("%q is not in calls/period form", s)}
	}
	n, err := strconv.Atoi(strings.TrimSpace(calls))
	if err != nil {
		return Limit{}, &errs.ConfigError{Component: "limit", Field: "max_calls", Reason: fmt.Sprintf("%q is not an integer", calls)}
	}
	period = strings.TrimSpace(period)
	if period != "" && !strings.ContainsRune("0123456789+-.", rune(period[0])) {
		period = "1" + period
	}
	d, err := time.ParseDuration(period)
	if err != nil {
		return Limit{}, &errs.ConfigError{Component: "limit", Field: "period", Reason: err.Error()}
	}
	l := Limit{MaxCalls: n, Period: d}
	return l, l.Validate()
}

// Limiter admits callers so that every configured quota holds.
// Acquire blocks until admission and returns how long the caller waited.
type Limiter interface {
	Acquire(ctx context.Context, key string) (time.Duration, error)
	Close() error
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
