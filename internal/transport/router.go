package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/clubpulse/internal/config"
	"github.com/pitabwire/clubpulse/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Authenticate func(http.Handler) http.Handler
	Dashboard    DashboardService
	Lookups      LookupProvider
	Exporter     Exporter
	Metrics      *observability.Metrics
	Gatherer     prometheus.Gatherer
	Readiness    observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Defaults()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders(cfg.Server.DevMode))
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes.
	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	if cfg.Observability.Metrics.Enabled && deps.Gatherer != nil {
		path := cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler(deps.Gatherer))
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = AnonymousAuthenticator(cfg.Identity.AnonymousSubject)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestLogging(logger))
		r.Use(auth)
		r.Use(BuildRequestContext(cfg.Identity.ClaimPaths))
		r.Use(RateLimit(cfg.Server.RateLimit))
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))

		r.Post("/ui/sessions", handleSessionCreate(deps.Dashboard))
		r.Route("/ui/sessions/{sessionId}", func(r chi.Router) {
			r.Get("/", handleSessionGet(deps.Dashboard))
			r.Delete("/", handleSessionDelete(deps.Dashboard))
			r.Post("/actions", handleDispatch(deps.Dashboard))
			r.Get("/locations", handleLocationWise(deps.Dashboard))
			if deps.Exporter != nil {
				r.Post("/export", handleExport(deps.Dashboard, deps.Exporter))
			}
		})
		r.Get("/ui/lookups/{lookupId}", handleLookup(deps.Lookups))
	})

	return r
}
