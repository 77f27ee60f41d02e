package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/EgressLite/internal/config"
	"github.com/AlexKimmel/EgressLite/internal/errs"
	"github.com/AlexKimmel/EgressLite/internal/gateway"
	"github.com/AlexKimmel/EgressLite/internal/ratelimit/memory"
	"github.com/AlexKimmel/EgressLite/internal/retry"
	"github.com/AlexKimmel/EgressLite/internal/routing"
	"github.com/AlexKimmel/EgressLite/internal/transport"
)

// NewHTTPTransport is the pooled transport shared by every route.
func NewHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// BuildRouter creates one throttled transport per configured route on top
// of base. hooks may be nil.
func BuildRouter(cfg *config.Root, base http.RoundTripper, logger zerolog.Logger, hooks func(routeID string) transport.Hooks) (*routing.Router, error) {
	rr := routing.New()
	for _, rc := range cfg.Routes {
		up, err := url.Parse(rc.Upstream.URL)
		if err != nil {
			return nil, err
		}

		limits := cfg.RouteLimits(rc)
		limiter, err := memory.New(limits.Windows())
		if err != nil {
			return nil, err
		}
		policy, err := retry.NewPolicy(cfg.RouteRetry(rc).Options()...)
		if err != nil {
			return nil, err
		}

		opts := []transport.Option{
			transport.WithLogger(logger.With().Str("route", rc.ID).Logger()),
		}
		if limits.PerHost {
			opts = append(opts, transport.WithKeyFunc(transport.HostKey))
		}
		if hooks != nil {
			opts = append(opts, transport.WithHooks(hooks(rc.ID)))
		}

		rr.Add(&routing.Route{
			ID:        rc.ID,
			Methods:   routing.MethodSet(rc.Match.Methods),
			Prefix:    rc.Match.PathPrefix,
			UpURL:     up,
			Timeout:   time.Duration(rc.Upstream.TimeoutMS) * time.Millisecond,
			Transport: transport.New(base, limiter, policy, opts...),
		})
	}
	return rr, nil
}

// Handler returns a handler that proxies to the upstream specified by the matched route.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := routing.RouteFrom(r)
		if !ok {
			gateway.WriteJSON(w, http.StatusInternalServerError, "no_route_ctx", "route not in context")
			return
		}

		proxy := &httputil.ReverseProxy{
			Rewrite: func(pr *httputil.ProxyRequest) {
				pr.SetURL(rt.UpURL)
				pr.SetXForwarded()
			},
			Transport:    rt.Transport,
			ErrorHandler: errorHandler,
		}
		// per-route timeout, admission waits included
		ctx, cancel := context.WithTimeout(r.Context(), rt.Timeout)
		defer cancel()
		proxy.ServeHTTP(w, r.WithContext(ctx))
	})
}

func errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	hlog.FromRequest(r).Warn().Err(err).Msg("upstream call failed")

	switch {
	case errors.Is(err, errs.ErrAdmissionCanceled):
		gateway.WriteJSON(w, http.StatusServiceUnavailable, "admission_timeout", "request timed out waiting for an outbound slot")
	case errors.Is(err, context.DeadlineExceeded):
		gateway.WriteJSON(w, http.StatusGatewayTimeout, "upstream_timeout", "upstream did not answer in time")
	default:
		gateway.WriteJSON(w, http.StatusBadGateway, "upstream_unavailable", "upstream unavailable")
	}
}
