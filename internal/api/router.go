// Package api exposes the token lifecycle manager over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pysugar/tokenkeeper/internal/auth/token"
	"github.com/pysugar/tokenkeeper/internal/identity"
	"github.com/pysugar/tokenkeeper/internal/logging"
)

// Options configures the router.
type Options struct {
	AdminPassword string
	// SweepWindow is used by POST /api/refresh. Zero uses token.DefaultSweepWindow.
	SweepWindow time.Duration
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter builds the HTTP routes.
func NewRouter(mgr *token.Manager, opts Options) http.Handler {
	if opts.SweepWindow <= 0 {
		opts.SweepWindow = token.DefaultSweepWindow
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(logging.Middleware)
	r.Use(chimiddleware.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(AdminAuth(opts.AdminPassword))
		r.Use(identity.Middleware)

		r.Get("/token", TokenHandler(mgr))
		r.Get("/session", SessionHandler(mgr))
		r.Get("/accounts", AccountsHandler(mgr))
		r.Post("/accounts/{id}/refresh", RefreshAccountHandler(mgr))
		r.Post("/accounts/{id}/reconnect", ReconnectHandler(mgr))
		r.Post("/refresh", RefreshHandler(mgr, opts.SweepWindow))
	})

	return r
}
