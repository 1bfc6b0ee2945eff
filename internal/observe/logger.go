package observe

import (
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"mlflow-proxy-go/internal/config"
	"mlflow-proxy-go/internal/model"
)

// sensitiveHeaders have their values masked in header dumps.
var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"Cookie":              true,
	"Set-Cookie":          true,
}

// Logger writes delimited dumps of proxied requests and responses.
// Logging is best effort: nothing here returns an error or panics out.
type Logger struct {
	logger    *slog.Logger
	cfg       config.LogConfig
	formatter *Formatter
}

// NewLogger creates a Logger honoring the dump toggles in cfg.
func NewLogger(cfg *config.Config, logger *slog.Logger) *Logger {
	return &Logger{
		logger:    logger.With("component", "observe"),
		cfg:       cfg.Log,
		formatter: NewFormatter(cfg.Log.MaxBodyBytes),
	}
}

// WantsRequestBody reports whether LogRequest needs a body preview.
func (l *Logger) WantsRequestBody() bool { return l.cfg.RequestBody }

// WantsResponseBody reports whether LogResponse needs a body preview.
func (l *Logger) WantsResponseBody() bool { return l.cfg.ResponseBody }

// PreviewLimit is the number of body bytes worth capturing for a dump.
func (l *Logger) PreviewLimit() int { return l.cfg.MaxBodyBytes }

// LogRequest dumps an inbound request. body is ignored when request body
// logging is off.
func (l *Logger) LogRequest(req *model.InboundRequest, body Preview) {
	if !l.cfg.AnyRequestLogging() {
		return
	}
	defer l.recoverDump("request")

	var sb strings.Builder
	sb.WriteString("==== INCOMING REQUEST ====\n")
	line(&sb, "Method", req.Method)
	line(&sb, "URL", req.URL())
	line(&sb, "Client", req.ClientAddr)
	line(&sb, "X-Forwarded-For", req.Header.Get("X-Forwarded-For"))
	line(&sb, "User-Agent", req.Header.Get("User-Agent"))
	if l.cfg.RequestHeaders {
		writeHeaders(&sb, req.Header)
	}
	if l.cfg.RequestBody && len(body.Data) > 0 {
		sb.WriteString("Body:\n")
		sb.WriteString(l.formatter.FormatPreview(body, req.Header.Get("Content-Type")))
		sb.WriteString("\n")
	}
	sb.WriteString("==== END REQUEST ====")

	l.logger.Info("incoming request",
		"request_id", req.RequestID,
		"method", req.Method,
		"path", req.Path,
		"dump", sb.String(),
	)
}

// LogResponse dumps an upstream response.
func (l *Logger) LogResponse(req *model.InboundRequest, resp *model.UpstreamResponse, body Preview, duration time.Duration) {
	if !l.cfg.AnyResponseLogging() {
		return
	}
	defer l.recoverDump("response")

	var sb strings.Builder
	sb.WriteString("==== OUTGOING RESPONSE ====\n")
	line(&sb, "Status", fmt.Sprint(resp.StatusCode))
	line(&sb, "Duration", fmt.Sprintf("%.3f seconds", duration.Seconds()))
	if l.cfg.ResponseHeaders {
		writeHeaders(&sb, resp.Header)
	}
	if l.cfg.ResponseBody {
		sb.WriteString("Body:\n")
		sb.WriteString(l.formatter.FormatPreview(body, resp.Header.Get("Content-Type")))
		sb.WriteString("\n")
	}
	sb.WriteString("==== END RESPONSE ====")

	l.logger.Info("outgoing response",
		"request_id", req.RequestID,
		"status", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"dump", sb.String(),
	)
}

func (l *Logger) recoverDump(what string) {
	if r := recover(); r != nil {
		l.logger.Warn("dump failed", "kind", what, "panic", r)
	}
}

// line writes "name: value", skipping absent values.
func line(sb *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "%s: %s\n", name, value)
}

func writeHeaders(sb *strings.Builder, h http.Header) {
	sb.WriteString("Headers:\n")
	for _, name := range slices.Sorted(maps.Keys(h)) {
		for _, v := range h[name] {
			if sensitiveHeaders[http.CanonicalHeaderKey(name)] {
				v = "[REDACTED]"
			}
			fmt.Fprintf(sb, "  %s: %s\n", name, v)
		}
	}
}
