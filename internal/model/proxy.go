// Package model defines the per-request values exchanged between the proxy layers.
package model

import (
	"context"
	"net/http"
)

// ProxyRequest is an inbound request reduced to what is forwarded upstream.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// RequestURI is the path and query exactly as they appeared on the request line.
	RequestURI string
	Header     http.Header
	// Body is never nil; an empty body is a zero-length slice.
	Body []byte
}

// ProxyResponse is a fully read upstream response.
type ProxyResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}
