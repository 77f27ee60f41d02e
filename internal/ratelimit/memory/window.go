package memory

import (
	"sync"
	"time"

	"github.com/AlexKimmel/EgressLite/internal/ratelimit"
)

// Window tracks a single quota as a ring of the last MaxCalls admission times.
type Window struct {
	mu     sync.Mutex
	limit  ratelimit.Limit
	times  []time.Time
	head   int // oldest entry once the ring is full
	length int
}

func NewWindow(l ratelimit.Limit) (*Window, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &Window{
		limit: l,
		times: make([]time.Time, l.MaxCalls),
	}, nil
}

func (w *Window) Limit() ratelimit.Limit { return w.limit }

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.length
}

// RecordCall appends now, evicting the oldest entry when full.
func (w *Window) RecordCall(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record(now)
}

// WaitTime is how long a caller must wait before this window admits it.
func (w *Window) WaitTime(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wait(now)
}

func (w *Window) record(now time.Time) {
	if w.length < len(w.times) {
		w.times[(w.head+w.length)%len(w.times)] = now
		w.length++
		return
	}
	w.times[w.head] = now
	w.head = (w.head + 1) % len(w.times)
}

func (w *Window) wait(now time.Time) time.Duration {
	if w.length < len(w.times) {
		return 0
	}
	elapsed := now.Sub(w.times[w.head])
	if elapsed >= w.limit.Period {
		return 0
	}
	return w.limit.Period - elapsed
}
