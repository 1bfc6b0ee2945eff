// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// InboundRequest is a client request normalized at the HTTP boundary.
// Downstream components only ever see this shape.
type InboundRequest struct {
	Ctx    context.Context
	Method string
	// Scheme and Host are what the client addressed, for logging.
	Scheme string
	Host   string
	// Path is the decoded request path without its leading slash.
	Path string
	// EscapedPath is the path as sent on the wire, used for forwarding.
	EscapedPath string
	// RawQuery is forwarded verbatim, preserving order and duplicate keys.
	RawQuery      string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64

	ClientAddr string
	RequestID  string
	// OverrideUpstream replaces the configured upstream for this call when set.
	OverrideUpstream string
}

// URI returns the path and query as seen by the proxy.
func (r *InboundRequest) URI() string {
	uri := "/" + r.Path
	if r.RawQuery != "" {
		uri += "?" + r.RawQuery
	}
	return uri
}

// URL returns the full request URL as the client addressed the proxy.
func (r *InboundRequest) URL() string {
	if r.Host == "" {
		return r.URI()
	}
	scheme := r.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URI()
}

// UpstreamResponse is the upstream response to be streamed back.
type UpstreamResponse struct {
	StatusCode    int
	Header        http.Header
	ContentLength int64
	Body          io.ReadCloser
}
