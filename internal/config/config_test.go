package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 9000
body_max_bytes = 5242880

[upstream]
base_url = "http://mlflow.internal:5000"
timeout_seconds = 60
idle_connections = 50

[log]
level = "debug"
format = "json"
request_headers = false
response_body = false
max_body_bytes = 2048

[dashboard]
enabled = false
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Upstream.BaseURL != "http://mlflow.internal:5000" {
		t.Errorf("Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, "http://mlflow.internal:5000")
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Log.RequestHeaders {
		t.Error("Log.RequestHeaders = true, want false")
	}
	if !cfg.Log.RequestBody {
		t.Error("Log.RequestBody = false, want true (default kept)")
	}
	if cfg.Log.ResponseBody {
		t.Error("Log.ResponseBody = true, want false")
	}
	if cfg.Log.MaxBodyBytes != 2048 {
		t.Errorf("Log.MaxBodyBytes = %d, want %d", cfg.Log.MaxBodyBytes, 2048)
	}
	if cfg.Dashboard.Enabled {
		t.Error("Dashboard.Enabled = true, want false")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, "")))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Upstream.BaseURL != DefaultUpstreamURL {
		t.Errorf("default Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, DefaultUpstreamURL)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 6150 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 6150)
	}
	if cfg.Server.BodyMaxBytes != 0 {
		t.Errorf("default Server.BodyMaxBytes = %d, want 0 (no limit)", cfg.Server.BodyMaxBytes)
	}
	if cfg.Upstream.TimeoutSeconds != 300 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 300)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.MaxBodyBytes != 10000 {
		t.Errorf("default Log.MaxBodyBytes = %d, want %d", cfg.Log.MaxBodyBytes, 10000)
	}
	if !cfg.Log.AnyRequestLogging() || !cfg.Log.AnyResponseLogging() {
		t.Error("expected all logging toggles on by default")
	}
	if !cfg.Dashboard.Enabled {
		t.Error("expected dashboard enabled by default")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("default Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
	if cfg.Storage.DatabaseURL != "" {
		t.Errorf("default Storage.DatabaseURL = %q, want archive disabled", cfg.Storage.DatabaseURL)
	}
	if cfg.Storage.QueueSize != 1000 {
		t.Errorf("default Storage.QueueSize = %d, want 1000", cfg.Storage.QueueSize)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(&CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v; no config file should fall back to defaults", err)
	}
	if cfg.Upstream.BaseURL != DefaultUpstreamURL {
		t.Errorf("Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, DefaultUpstreamURL)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, "[server\nport = ")))
	if err == nil {
		t.Fatal("Load() expected error for malformed TOML, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want mention of parse", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[upstream]
base_url = "http://file-upstream:5000"

[log]
level = "info"
max_body_bytes = 500
`)

	cli := &CLI{
		Config:          path,
		Host:            "127.0.0.1",
		Port:            3000,
		Upstream:        "https://cli-upstream",
		LogLevel:        "debug",
		EnableDashboard: "FALSE",
		MaxLogBodySize:  42,
		DatabaseURL:     "postgres://proxy@db/mlflow_proxy",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Upstream.BaseURL != "https://cli-upstream" {
		t.Errorf("Upstream.BaseURL = %q, want %q (CLI override)", cfg.Upstream.BaseURL, "https://cli-upstream")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
	if cfg.Storage.DatabaseURL != "postgres://proxy@db/mlflow_proxy" {
		t.Errorf("Storage.DatabaseURL = %q (CLI override)", cfg.Storage.DatabaseURL)
	}
	if cfg.Dashboard.Enabled {
		t.Error("Dashboard.Enabled = true, want false (CLI override)")
	}
	if cfg.Log.MaxBodyBytes != 42 {
		t.Errorf("Log.MaxBodyBytes = %d, want %d (CLI override)", cfg.Log.MaxBodyBytes, 42)
	}
}

func TestApplyCLI_EnableDashboard(t *testing.T) {
	tests := []struct {
		value string
		start bool
		want  bool
	}{
		{"true", false, true},
		{"True", false, true},
		{" TRUE ", false, true},
		{"false", true, false},
		{"yes", true, false},
		{"1", true, false},
		{"", true, true},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			cfg := &Config{Dashboard: DashboardConfig{Enabled: tt.start}}
			cfg.applyCLI(&CLI{EnableDashboard: tt.value})
			if cfg.Dashboard.Enabled != tt.want {
				t.Errorf("Dashboard.Enabled = %v, want %v", cfg.Dashboard.Enabled, tt.want)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"ftp upstream", "[upstream]\nbase_url = \"ftp://mlflow\"", "http or https"},
		{"upstream without host", "[upstream]\nbase_url = \"http://\"", "no host"},
		{"negative port", "[server]\nport = -1", "server.port"},
		{"port too large", "[server]\nport = 70000", "server.port"},
		{"negative body limit", "[server]\nbody_max_bytes = -1", "body_max_bytes"},
		{"negative timeout", "[upstream]\ntimeout_seconds = -5", "timeout_seconds"},
		{"negative idle", "[upstream]\nidle_connections = -1", "idle_connections"},
		{"negative log body", "[log]\nmax_body_bytes = -1", "max_body_bytes"},
		{"bad level", "[log]\nlevel = \"verbose\"", "log.level"},
		{"bad format", "[log]\nformat = \"xml\"", "log.format"},
		{"negative queue", "[storage]\nqueue_size = -1", "storage.queue_size"},
		{"metrics on history route", "[metrics]\nenabled = true\npath = \"/api/history\"", "reserved route"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatalf("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, "[upstream]\nbase_url = \"http://localhost:5001\"\n")

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, "")
	path2 := writeConfig(t, "")

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = true
path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithReservedRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"root", "/"},
		{"health", "/health"},
		{"stats", "/api/stats"},
		{"stats sub", "/api/stats/metrics"},
		{"proxy status", "/proxy/status"},
		{"static", "/static/metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "[metrics]\nenabled = true\npath = \""+tt.path+"\"\n")

			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = false
path = "bad-no-slash"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 6150}
	want := "127.0.0.1:6150"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
