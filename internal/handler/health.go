package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mlflow-proxy-go/internal/config"
	"mlflow-proxy-go/internal/stats"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	stats   *stats.Store
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, st *stats.Store, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, stats: st, version: v}
}

// Health reports liveness along with the configured MLflow server and the
// number of requests proxied so far.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":           "healthy",
		"mlflow_server":    h.cfg.Upstream.BaseURL,
		"requests_proxied": h.stats.Requests(),
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           string(h.version),
		"mlflow_server":     h.cfg.Upstream.BaseURL,
		"dashboard_enabled": h.cfg.Dashboard.Enabled,
		"metrics_enabled":   h.cfg.Metrics.Enabled,
	})
}
