package medicine

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"MediStore/pkg/kit"
)

const writeLimitWindow = time.Minute

type HTTPDeps struct {
	Log      *zap.Logger
	Service  string
	Registry *prometheus.Registry

	MetricsEnabled bool
	MetricsToken   string

	AllowedOrigins   []string
	WriteLimitPerMin int
}

func NewHandler(s *Server, deps HTTPDeps) http.Handler {
	r := chi.NewRouter()

	if s.Log == nil {
		s.Log = deps.Log
	}

	setupMiddleware(r, deps)
	setupMetrics(r, s, deps)

	var writeLimit func(http.Handler) http.Handler
	if deps.WriteLimitPerMin > 0 {
		writeLimit = kit.NewIPRateLimiter(deps.WriteLimitPerMin, writeLimitWindow).Middleware
	}
	s.mountAPI(r, writeLimit)

	return r
}

func setupMiddleware(r *chi.Mux, deps HTTPDeps) {
	r.Use(kit.RequestID)
	r.Use(kit.Recoverer)
	r.Use(kit.Logging(deps.Log))
	r.Use(kit.CORS(deps.AllowedOrigins))
}

func setupMetrics(r *chi.Mux, s *Server, deps HTTPDeps) {
	if deps.Registry == nil {
		if deps.MetricsEnabled && deps.Log != nil {
			deps.Log.Warn("metrics enabled but Registry is nil")
		}
		return
	}

	metrics := kit.NewMetrics(deps.Registry)
	s.Metrics = metrics
	r.Use(metrics.Middleware(deps.Service, kit.ChiRoutePatternOrPath))

	if !deps.MetricsEnabled {
		return
	}

	r.With(kit.MetricsAuth(deps.MetricsToken)).
		Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
}
