package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cryptorafts/platform/internal/api"
	"cryptorafts/platform/internal/logging"
	"cryptorafts/platform/internal/middleware"
)

// RegisterRoutes builds the HTTP handler. metricsHandler serves /metrics;
// nil uses the default Prometheus registry.
func RegisterRoutes(deps *api.Dependencies, metricsHandler http.Handler, upSince time.Time) http.Handler {
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	// initialize Chi router
	r := chi.NewRouter()

	// global middleware
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.MetricsMiddleware(deps.Metrics))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true, // the role cookie tier needs credentialed requests
		MaxAge:           300,  // Maximum value not ignored by any of major browsers
	}))

	logging.Info("Router initialized with metrics and logging middleware")
	// health check
	r.Get("/healthCheck", api.HealthCheckHandler(deps.SQL, deps.Redis, upSince))
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	handlers := api.NewHandlers(deps)
	limiter := middleware.NewRateLimiter(deps.Config.RateLimitRPS, deps.Config.RateLimitBurst)

	RegisterAPIRoutes(r, deps, handlers, limiter)

	return r
}
