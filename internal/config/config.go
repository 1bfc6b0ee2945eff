// Package config handles configuration loading and validation.
//
// Values are layered: built-in defaults, then an optional TOML file, then
// command-line flags and their environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// DefaultUpstreamURL is the MLflow server used when none is configured.
const DefaultUpstreamURL = "http://localhost:5001"

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/mlflow-proxy/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the proxy itself and never forwarded upstream.
var reservedRoutes = []string{"/health", "/api/stats", "/api/history", "/proxy/status", "/static"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config          string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host            string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port            int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Upstream        string `kong:"name='mlflow-server-url',help='MLflow server base URL (overrides config).',env='MLFLOW_SERVER_URL'"`
	LogLevel        string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	EnableDashboard string `kong:"help='Enable the dashboard: true|false (overrides config).',env='ENABLE_DASHBOARD'"`
	MaxLogBodySize  int    `kong:"help='Maximum number of body bytes written to the log (overrides config).',env='MAX_LOG_BODY_SIZE'"`
	DatabaseURL     string `kong:"help='PostgreSQL DSN for the request history archive (overrides config).',env='DATABASE_URL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Log       LogConfig       `toml:"log"`
	Dashboard DashboardConfig `toml:"dashboard"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Storage   StorageConfig   `toml:"storage"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"` // 0 means "use default" (6150)
	// BodyMaxBytes caps proxied request bodies. 0 means no limit.
	BodyMaxBytes int64 `toml:"body_max_bytes"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL string `toml:"base_url"`
	// TimeoutSeconds bounds the wait for upstream response headers. Body
	// streaming is not bounded so large artifact downloads are not cut off.
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// LogConfig holds logging settings, including the request/response dump toggles.
type LogConfig struct {
	Level           string `toml:"level"`
	Format          string `toml:"format"`
	RequestHeaders  bool   `toml:"request_headers"`
	RequestBody     bool   `toml:"request_body"`
	ResponseHeaders bool   `toml:"response_headers"`
	ResponseBody    bool   `toml:"response_body"`
	MaxBodyBytes    int    `toml:"max_body_bytes"`
}

// DashboardConfig controls the HTML dashboard and the stats API.
type DashboardConfig struct {
	Enabled bool `toml:"enabled"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// StorageConfig controls the optional PostgreSQL request history archive.
// An empty DatabaseURL disables it.
type StorageConfig struct {
	DatabaseURL string `toml:"database_url"`
	QueueSize   int    `toml:"queue_size"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Upstream: UpstreamConfig{BaseURL: DefaultUpstreamURL},
		Log: LogConfig{
			RequestHeaders:  true,
			RequestBody:     true,
			ResponseHeaders: true,
			ResponseBody:    true,
		},
		Dashboard: DashboardConfig{Enabled: true},
		Metrics:   MetricsConfig{Enabled: true},
	}
}

// Load builds the configuration from defaults, the TOML file and CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/mlflow-proxy/config.toml then configs/config.toml; a missing file in
// that case is not an error.
func Load(cli *CLI) (*Config, error) {
	cfg := Default()

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Upstream != "" {
		c.Upstream.BaseURL = cli.Upstream
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.EnableDashboard != "" {
		c.Dashboard.Enabled = strings.EqualFold(strings.TrimSpace(cli.EnableDashboard), "true")
	}
	if cli.MaxLogBodySize != 0 {
		c.Log.MaxBodyBytes = cli.MaxLogBodySize
	}
	if cli.DatabaseURL != "" {
		c.Storage.DatabaseURL = cli.DatabaseURL
	}
}

func (c *Config) validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.base_url must use http or https; got %q", c.Upstream.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.base_url has no host; got %q", c.Upstream.BaseURL)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Log.MaxBodyBytes < 0 {
		return fmt.Errorf("log.max_body_bytes must be non-negative; got %d", c.Log.MaxBodyBytes)
	}
	if c.Storage.QueueSize < 0 {
		return fmt.Errorf("storage.queue_size must be non-negative; got %d", c.Storage.QueueSize)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "console", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text, console; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		if p == "/" {
			return fmt.Errorf("metrics.path %q conflicts with the dashboard route", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with defaults. For integer fields zero
// means "unset": TOML cannot distinguish an explicit 0 from an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 6150
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 300
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.MaxBodyBytes == 0 {
		c.Log.MaxBodyBytes = 10000
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Storage.QueueSize == 0 {
		c.Storage.QueueSize = 1000
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AnyRequestLogging reports whether any part of the inbound request is dumped.
func (c *LogConfig) AnyRequestLogging() bool {
	return c.RequestHeaders || c.RequestBody
}

// AnyResponseLogging reports whether any part of the upstream response is dumped.
func (c *LogConfig) AnyResponseLogging() bool {
	return c.ResponseHeaders || c.ResponseBody
}
