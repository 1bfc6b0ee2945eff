package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"mlflow-proxy-go/internal/classify"
	"mlflow-proxy-go/internal/config"
	"mlflow-proxy-go/internal/metrics"
	"mlflow-proxy-go/internal/model"
	"mlflow-proxy-go/internal/observe"
	"mlflow-proxy-go/internal/service"
	"mlflow-proxy-go/internal/stats"
	"mlflow-proxy-go/internal/storage"
)

// ProxyHandler forwards every unmatched request to the MLflow server.
type ProxyHandler struct {
	bodyLimit int64
	service   *service.ProxyService
	stats     *stats.Store
	dump      *observe.Logger
	archive   *storage.Archive
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. The archive and metrics parameters
// are optional.
func NewProxyHandler(cfg *config.Config, svc *service.ProxyService, st *stats.Store, dump *observe.Logger, archive *storage.Archive, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		bodyLimit: cfg.Server.BodyMaxBytes,
		service:   svc,
		stats:     st,
		dump:      dump,
		archive:   archive,
		metrics:   m,
		logger:    logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request upstream and streams the response back.
//
// The request is counted before the upstream call so failed calls still show
// up in the totals. A response yields a history record; a transport failure
// yields a 502 and an error count instead.
func (h *ProxyHandler) Handle(c echo.Context) error {
	pr := newInboundRequest(c)

	label := classify.Classify("/"+pr.Path, pr.Method)
	h.stats.Begin(label)
	if h.metrics != nil {
		h.metrics.ProxiedRequests.WithLabelValues(metrics.NormalizeType(label)).Inc()
	}

	if h.bodyLimit > 0 {
		if pr.ContentLength > h.bodyLimit {
			return h.rejectBody(c, pr, pr.ContentLength)
		}
		pr.Body = http.MaxBytesReader(c.Response(), pr.Body, h.bodyLimit)
	}

	var reqPreview observe.Preview
	if h.dump.WantsRequestBody() {
		p, body, err := observe.Peek(pr.Body, h.dump.PreviewLimit(), pr.ContentLength)
		if err != nil {
			h.logger.Warn("reading request body for log", "err", err, "request_id", pr.RequestID)
		}
		reqPreview, pr.Body = p, body
	}
	h.dump.LogRequest(pr, reqPreview)

	start := time.Now()
	resp, err := h.service.Forward(pr)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return h.rejectBody(c, pr, -1)
		}
		return h.mapError(c, pr, err)
	}
	duration := time.Since(start)
	defer func() { _ = resp.Body.Close() }()

	rec := stats.NewRecord(time.Now(), pr.Method, pr.Path, label, resp.StatusCode, duration)
	h.stats.Complete(rec, duration)
	h.archive.Enqueue(rec)

	var respPreview observe.Preview
	if h.dump.WantsResponseBody() {
		p, body, err := observe.Peek(resp.Body, h.dump.PreviewLimit(), resp.ContentLength)
		if err != nil {
			h.logger.Warn("reading response body for log", "err", err, "request_id", pr.RequestID)
		}
		respPreview, resp.Body = p, body
	}
	h.dump.LogResponse(pr, resp, respPreview, duration)

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)

	// Once the status is sent a mid-stream failure (upstream reset, client
	// disconnect) can only truncate the body. It is logged, not hidden.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", pr.Path,
			"request_id", pr.RequestID,
		)
	}

	return nil
}

// mapError answers a failed upstream call with 502 and counts the error.
func (h *ProxyHandler) mapError(c echo.Context, pr *model.InboundRequest, err error) error {
	h.stats.IncrementError()
	h.logger.Error("proxy error",
		"err", err,
		"reason", failureReason(err),
		"path", pr.Path,
		"request_id", pr.RequestID,
	)

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error":         "Error proxying to MLflow server: " + err.Error(),
		"mlflow_server": h.service.Upstream(),
	})
}

// rejectBody answers a request whose body exceeds server.body_max_bytes. The
// request stays in the totals; it is not an upstream error.
func (h *ProxyHandler) rejectBody(c echo.Context, pr *model.InboundRequest, size int64) error {
	h.logger.Warn("request body over limit",
		"limit", h.bodyLimit,
		"content_length", size,
		"path", pr.Path,
		"request_id", pr.RequestID,
	)
	return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
		"error": fmt.Sprintf("request body exceeds %d bytes", h.bodyLimit),
	})
}

// failureReason gives a short description of a transport failure for logs.
func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "upstream request timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "client disconnected"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "upstream host unreachable"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "upstream request timed out"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "upstream connection failed"
	}
	return "upstream request failed"
}

// newInboundRequest normalizes the echo request into the single shape the
// rest of the pipeline works with.
func newInboundRequest(c echo.Context) *model.InboundRequest {
	req := c.Request()

	header := req.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Del("Host")

	return &model.InboundRequest{
		Ctx:              req.Context(),
		Method:           req.Method,
		Scheme:           c.Scheme(),
		Host:             req.Host,
		Path:             strings.TrimPrefix(req.URL.Path, "/"),
		EscapedPath:      req.URL.EscapedPath(),
		RawQuery:         req.URL.RawQuery,
		Header:           header,
		Body:             req.Body,
		ContentLength:    req.ContentLength,
		ClientAddr:       req.RemoteAddr,
		RequestID:        c.Response().Header().Get(echo.HeaderXRequestID),
		OverrideUpstream: strings.TrimSpace(req.Header.Get(service.OverrideHeader)),
	}
}
