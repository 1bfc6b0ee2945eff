package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/lmittmann/tint"
	"go.uber.org/fx"

	"mlflow-proxy-go/internal/config"
	"mlflow-proxy-go/internal/handler"
	"mlflow-proxy-go/internal/metrics"
	"mlflow-proxy-go/internal/middleware"
	"mlflow-proxy-go/internal/observe"
	"mlflow-proxy-go/internal/service"
	"mlflow-proxy-go/internal/stats"
	"mlflow-proxy-go/internal/storage"
	"mlflow-proxy-go/internal/upstream"
	"mlflow-proxy-go/internal/web"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("mlflow-proxy"),
		kong.Description("Transparent logging reverse proxy for an MLflow tracking server."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newEcho,
			metrics.New,
			stats.New,
			newArchive,
			observe.NewLogger,
			upstream.NewClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
			handler.NewDashboardHandler,
		),
		fx.Invoke(handler.RegisterRoutes, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	return newLoggerTo(os.Stdout, cfg)
}

func newLoggerTo(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "console":
		h = tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.DateTime})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}

	return slog.New(h)
}

// newArchive opens the request history archive, or returns nil when no
// database is configured.
func newArchive(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*storage.Archive, error) {
	if cfg.Storage.DatabaseURL == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	archive, err := storage.Open(ctx, cfg.Storage.DatabaseURL, cfg.Storage.QueueSize, logger)
	if err != nil {
		return nil, fmt.Errorf("open request archive: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			archive.Start()
			logger.Info("request history archive enabled", "queue_size", cfg.Storage.QueueSize)
			return nil
		},
		OnStop: archive.Close,
	})
	return archive, nil
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = web.NewRenderer()

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.IdleTimeout = 120 * time.Second
	// Read and write timeouts stay disabled: artifact uploads and downloads
	// stream for as long as they need. The upstream client bounds the wait
	// for response headers.
	e.Server.ReadTimeout = 0
	e.Server.WriteTimeout = 0

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger, "/health", "/static/*", cfg.Metrics.Path))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}

	return e
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"mlflow_server", cfg.Upstream.BaseURL,
				"dashboard", cfg.Dashboard.Enabled,
				"version", version,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
