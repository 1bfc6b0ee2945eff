package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"mlflow-proxy-go/internal/config"
	"mlflow-proxy-go/internal/stats"
	"mlflow-proxy-go/internal/storage"
)

const dashboardDisabledText = "MLflow Proxy Server is running. Dashboard is disabled."

// DashboardHandler serves the HTML dashboard and the stats API.
type DashboardHandler struct {
	cfg     *config.Config
	stats   *stats.Store
	archive *storage.Archive
}

// NewDashboardHandler creates a DashboardHandler. The archive is optional.
func NewDashboardHandler(cfg *config.Config, st *stats.Store, archive *storage.Archive) *DashboardHandler {
	return &DashboardHandler{cfg: cfg, stats: st, archive: archive}
}

// dashboardPage is the data passed to the index template.
type dashboardPage struct {
	MLflowServer string
	Stats        stats.Stats
}

// Index renders the dashboard, or a plain notice when it is disabled.
func (h *DashboardHandler) Index(c echo.Context) error {
	if !h.cfg.Dashboard.Enabled {
		return c.String(http.StatusOK, dashboardDisabledText)
	}
	return c.Render(http.StatusOK, "index.html", dashboardPage{
		MLflowServer: h.cfg.Upstream.BaseURL,
		Stats:        h.stats.Snapshot(),
	})
}

// History returns archived request records, newest first. The optional limit
// query parameter bounds the result.
func (h *DashboardHandler) History(c echo.Context) error {
	if !h.cfg.Dashboard.Enabled {
		return c.JSON(http.StatusForbidden, map[string]string{
			"error": "Dashboard is disabled",
		})
	}
	if h.archive == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "Request history archive is not configured",
		})
	}

	limit := storage.DefaultRecentLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
		}
		limit = n
	}

	records, err := h.archive.Recent(c.Request().Context(), limit)
	if err != nil {
		c.Logger().Errorf("reading request history: %v", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "Request history is unavailable",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"records": records,
		"dropped": h.archive.Dropped(),
	})
}

// Stats returns a snapshot of the statistics store.
func (h *DashboardHandler) Stats(c echo.Context) error {
	if !h.cfg.Dashboard.Enabled {
		return c.JSON(http.StatusForbidden, map[string]string{
			"error": "Dashboard is disabled",
		})
	}
	return c.JSON(http.StatusOK, h.stats.Snapshot())
}
