package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AlexKimmel/EgressLite/internal/gateway"
	"github.com/AlexKimmel/EgressLite/internal/routing"
	"github.com/AlexKimmel/EgressLite/internal/transport"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	AdmissionWait   *prometheus.HistogramVec
	Attempts        *prometheus.CounterVec
	Retries         *prometheus.CounterVec
	Exhausted       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egresslite_requests_total",
				Help: "Total HTTP requests processed by the proxy",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "egresslite_request_duration_seconds",
				Help:    "Request duration in seconds, admission waits and retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		AdmissionWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "egresslite_admission_wait_seconds",
				Help:    "Time spent waiting for an outbound slot per attempt",
				Buckets: []float64{0, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"route"},
		),
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egresslite_upstream_attempts_total",
				Help: "Upstream attempts by outcome (status code or transport_error)",
			},
			[]string{"route", "outcome"},
		),
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egresslite_retries_total",
				Help: "Retries scheduled, by reason",
			},
			[]string{"route", "reason"},
		),
		Exhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egresslite_retry_exhausted_total",
				Help: "Requests that used up their retry budget",
			},
			[]string{"route"},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.AdmissionWait, m.Attempts, m.Retries, m.Exhausted)
	return m
}

// Hooks feeds the transport callbacks of one route into the metrics.
func (m *Metrics) Hooks(route string) transport.Hooks {
	return transport.Hooks{
		OnAdmit: func(_ string, waited time.Duration) {
			m.AdmissionWait.WithLabelValues(route).Observe(waited.Seconds())
		},
		OnAttempt: func(_ string, _ int, status int, err error) {
			outcome := strconv.Itoa(status)
			if err != nil {
				outcome = "transport_error"
			}
			m.Attempts.WithLabelValues(route, outcome).Inc()
		},
		OnRetry: func(_ string, _ int, reason string, _ time.Duration) {
			m.Retries.WithLabelValues(route, reason).Inc()
		},
		OnExhausted: func(_ string, _ int) {
			m.Exhausted.WithLabelValues(route).Inc()
		},
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Flush keeps streaming responses working through the recorder.
func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records per-request metrics. It must run inside
// gateway.RouteMatcher to see the matched route.
func (m *Metrics) Middleware(skip map[string]struct{}) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			route := "unknown"
			if rt, ok := routing.RouteFrom(r); ok && rt != nil && rt.ID != "" {
				route = rt.ID
			}

			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(code)).Inc()
		})
	}
}
