package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trackgate/internal/api/handler"
	"trackgate/internal/api/middleware"
	"trackgate/internal/stats"
)

// NewRouter serves /health openly and guards /stats and /metrics with
// statusToken when one is set.
func NewRouter(s *stats.Stats, gatherer prometheus.Gatherer, statusToken string, logger *zap.Logger) http.Handler {
	healthHandler := handler.NewHealthHandler(s)
	authMiddleware := middleware.NewAuthMiddleware(statusToken)
	logging := middleware.LoggingMiddleware(logger)

	mux := http.NewServeMux()

	mux.Handle("GET /health", logging(http.HandlerFunc(healthHandler.Health)))
	mux.Handle("GET /stats", logging(authMiddleware.Authenticate(http.HandlerFunc(healthHandler.Stats))))
	mux.Handle("GET /metrics", logging(authMiddleware.Authenticate(
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	)))

	return mux
}
