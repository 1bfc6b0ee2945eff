package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mlflow-proxy-go/internal/config"
	"mlflow-proxy-go/internal/metrics"
	"mlflow-proxy-go/internal/middleware"
	"mlflow-proxy-go/internal/web"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The proxy's
// own endpoints are registered first; everything else falls through to the
// catch-all and is forwarded to the MLflow server.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler, dash *DashboardHandler) {
	own := middleware.SecurityHeaders()

	e.GET("/", dash.Index, own)
	e.GET("/api/stats", dash.Stats, own)
	e.GET("/api/history", dash.History, own)
	e.GET("/health", health.Health, own)
	e.GET("/proxy/status", health.Status, own)
	e.StaticFS("/static", web.Static())

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/*", proxy.Handle)
}
