// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"mlflow-proxy-go/internal/config"
	"mlflow-proxy-go/internal/model"
	"mlflow-proxy-go/internal/upstream"
)

// OverrideHeader names an alternate upstream base URL for a single request.
const OverrideHeader = "X-Original-Host"

// hopByHopHeaders apply to a single connection and are never relayed.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ProxyService forwards normalized requests to the MLflow server.
type ProxyService struct {
	client *upstream.Client
	cfg    *config.Config
	logger *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *upstream.Client, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client: c,
		cfg:    cfg,
		logger: logger.With("component", "proxy_service"),
	}
}

// Upstream returns the configured upstream base URL.
func (s *ProxyService) Upstream() string {
	return s.cfg.Upstream.BaseURL
}

// TargetURL returns the URL a request is forwarded to. The override header,
// when present, supersedes the configured upstream for this call only.
func (s *ProxyService) TargetURL(pr *model.InboundRequest) string {
	base := s.cfg.Upstream.BaseURL
	if pr.OverrideUpstream != "" {
		base = pr.OverrideUpstream
	}

	target := ResolveURL(pr.EscapedPath, base)
	if pr.RawQuery != "" {
		target += "?" + pr.RawQuery
	}
	return target
}

// Forward sends the request upstream exactly once and returns the response
// with hop-by-hop headers removed. The caller must close the response body.
func (s *ProxyService) Forward(pr *model.InboundRequest) (*model.UpstreamResponse, error) {
	target := s.TargetURL(pr)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"override", pr.OverrideUpstream != "",
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target, forwardHeaders(pr.Header), pr.Body, pr.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", target, err)
	}

	resp.Header = stripHopByHop(resp.Header)
	return resp, nil
}

// ResolveURL joins base and path with exactly one slash at the boundary.
// It never inspects the scheme or host.
func ResolveURL(path, base string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// forwardHeaders copies src without Host and hop-by-hop headers.
func forwardHeaders(src http.Header) http.Header {
	dst := stripHopByHop(src)
	dst.Del("Host")
	return dst
}

func stripHopByHop(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	// Headers named in Connection are hop-by-hop too.
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dst.Del(name)
			}
		}
	}
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
	return dst
}
