// Package router wires the public gateway surface: the stream endpoint,
// ticket issuance, the admin API, and the operational probes.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamgate/streamgate/internal/access"
	"github.com/streamgate/streamgate/internal/cache"
	"github.com/streamgate/streamgate/internal/http/controllers/admin"
	"github.com/streamgate/streamgate/internal/http/controllers/health"
	"github.com/streamgate/streamgate/internal/http/controllers/stream"
	"github.com/streamgate/streamgate/internal/http/controllers/tickets"
	"github.com/streamgate/streamgate/internal/http/middlewares"
	"github.com/streamgate/streamgate/internal/media"
	"github.com/streamgate/streamgate/internal/rate"
	"github.com/streamgate/streamgate/internal/store/core"
	"github.com/streamgate/streamgate/internal/ticket"
)

// Deps carries everything the routes need.
type Deps struct {
	Repo     core.Repository
	Cache    cache.Client
	Tickets  *ticket.Service
	Resolver *media.Resolver
	Access   *access.Service
	Limiter  *rate.Service
	Verifier *middlewares.TokenVerifier
	Registry *prometheus.Registry

	MediaRoot          string
	CORSAllowedOrigins []string
}

// New builds the gateway router.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middlewares.WithRequestID())
	r.Use(middlewares.WithLogging())
	r.Use(middlewares.WithRecover())
	if len(d.CORSAllowedOrigins) > 0 {
		r.Use(middlewares.WithCORS(d.CORSAllowedOrigins))
	}

	healthCtrl := health.NewController(d.Repo, d.Cache)
	streamCtrl := stream.NewController(d.Tickets, d.MediaRoot)
	ticketsCtrl := tickets.NewController(d.Tickets, d.Access)
	adminCtrls := admin.NewControllers(d.Access, d.Tickets, d.Limiter, d.Repo, d.Resolver)

	// probes and metrics, no auth and no rate limiting
	r.Get("/healthz", healthCtrl.Live)
	r.Get("/readyz", healthCtrl.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))

	// stream redemption: the ticket token is the credential, the bearer
	// token is optional and only sharpens the rate-limit subject
	r.Group(func(r chi.Router) {
		r.Use(middlewares.OptionalAuth(d.Verifier))
		r.Use(middlewares.WithRateLimit(d.Limiter, rate.LimitStream))
		r.Get("/stream/{ticketID}", streamCtrl.Serve)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middlewares.RequireAuth(d.Verifier))
			r.Use(middlewares.WithRateLimit(d.Limiter, rate.LimitTicketCreate))
			r.Post("/tickets", ticketsCtrl.Create)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middlewares.RequireAuth(d.Verifier))
			r.Use(middlewares.RequireAdmin(d.Access))
			r.Use(middlewares.WithRateLimit(d.Limiter, rate.LimitAPI))

			r.Get("/users", adminCtrls.Users.List)
			r.Put("/users/{userID}/role", adminCtrls.Users.UpdateRole)
			r.Get("/users/{userID}/permissions", adminCtrls.Users.Permissions)
			r.Post("/users/{userID}/permissions", adminCtrls.Users.Grant)
			r.Delete("/users/{userID}/permissions", adminCtrls.Users.Revoke)
			r.Post("/users/{userID}/tickets/revoke", adminCtrls.Tickets.RevokeUser)

			r.Post("/tickets/{ticketID}/revoke", adminCtrls.Tickets.Revoke)

			r.Get("/blacklist", adminCtrls.Blacklist.List)
			r.Post("/blacklist", adminCtrls.Blacklist.Add)
			r.Delete("/blacklist/{ip}", adminCtrls.Blacklist.Remove)

			r.Put("/content", adminCtrls.Content.Upsert)

			r.Get("/security-events", adminCtrls.Events.List)
			r.Get("/analytics/tickets", adminCtrls.Analytics.Tickets)
		})
	})

	return r
}
