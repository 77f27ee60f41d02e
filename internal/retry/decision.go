package retry

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Outcome is what one attempt produced: a response status or a transport
// error.
type Outcome struct {
	StatusCode int
	Header     http.Header
	Err        error
}

func FromResponse(resp *http.Response, err error) Outcome {
	if err != nil || resp == nil {
		return Outcome{Err: err}
	}
	return Outcome{StatusCode: resp.StatusCode, Header: resp.Header}
}

type Action int

const (
	// Done hands the outcome back: a success, a status outside the retry
	// set, or a retryable outcome that policy will not repeat.
	Done Action = iota
	Retry
	Exhausted
)

func (a Action) String() string {
	switch a {
	case Done:
		return "done"
	case Retry:
		return "retry"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

type Decision struct {
	Action Action
	Delay  time.Duration // before the next attempt, only for Retry
	Reason string
}

// Decide inspects the outcome of attempt (1-indexed). replayable is false
// when the request body cannot be sent a second time.
func (p *Policy) Decide(method string, attempt int, o Outcome, replayable bool) Decision {
	var reason string
	switch {
	case o.Err != nil:
		reason = "transport_error"
	case p.RetryableStatus(o.StatusCode):
		reason = strconv.Itoa(o.StatusCode)
	default:
		return Decision{Action: Done, Reason: "status_" + strconv.Itoa(o.StatusCode)}
	}

	if !p.RetryableMethod(method) {
		return Decision{Action: Done, Reason: "method_not_retryable"}
	}
	if !replayable {
		return Decision{Action: Done, Reason: "body_not_replayable"}
	}
	if attempt >= p.MaxAttempts() {
		return Decision{Action: Exhausted, Reason: reason}
	}

	delay := p.Backoff(attempt + 1)
	if o.Err == nil && p.respectRetryAfter {
		if ra, ok := retryAfter(o); ok {
			delay = ra
		}
	}
	return Decision{Action: Retry, Delay: delay, Reason: reason}
}

func retryAfter(o Outcome) (time.Duration, bool) {
	if o.StatusCode != http.StatusTooManyRequests && o.StatusCode != http.StatusServiceUnavailable {
		return 0, false
	}
	if o.Header == nil {
		return 0, false
	}
	return parseRetryAfter(o.Header.Get("Retry-After"), time.Now())
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		if int64(secs) > math.MaxInt64/int64(time.Second) {
			return time.Duration(math.MaxInt64), true
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
