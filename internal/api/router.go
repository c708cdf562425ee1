package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/kiranshivaraju/honeykey/internal/api/middleware"
	"github.com/kiranshivaraju/honeykey/internal/api/response"
)

// MetricsPath is where Prometheus scrapes; requests to it are not recorded as events.
const MetricsPath = "/metrics"

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Observer  *mw.Observer
	RateLimit *mw.RateLimit
	CORS      mw.CORSConfig
	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler
	DecoyHandler   http.HandlerFunc

	ListIncidents  http.HandlerFunc
	GetIncident    http.HandlerFunc
	ListEvents     http.HandlerFunc
	AnalyzeHandler http.HandlerFunc
	LatestReport   http.HandlerFunc
	ReportHistory  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware, outermost first
	r.Use(mw.CorrelationID)
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	if deps.Observer != nil {
		r.Use(deps.Observer.Observe)
	}
	r.Use(mw.CORS(deps.CORS))
	r.Use(mw.Logger)
	r.Use(mw.Metrics)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, MetricsPath, deps.MetricsHandler)
	}

	// Decoy API surface
	decoy := orNotImplemented(deps.DecoyHandler)
	r.Get("/v1/projects", decoy)
	r.Get("/v1/secrets", decoy)
	r.Post("/v1/auth/verify", decoy)

	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", orNotImplemented(deps.ListIncidents))
		r.Get("/{incidentID}", orNotImplemented(deps.GetIncident))
		r.Get("/{incidentID}/events", orNotImplemented(deps.ListEvents))
		r.Get("/{incidentID}/ai-report", orNotImplemented(deps.LatestReport))
		r.Get("/{incidentID}/ai-reports", orNotImplemented(deps.ReportHistory))

		analyze := orNotImplemented(deps.AnalyzeHandler)
		if deps.RateLimit != nil {
			r.With(deps.RateLimit.Limit).Post("/{incidentID}/analyze", analyze)
		} else {
			r.Post("/{incidentID}/analyze", analyze)
		}
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
