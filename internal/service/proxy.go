// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"basex-cors-proxy/internal/client"
	"basex-cors-proxy/internal/config"
	"basex-cors-proxy/internal/model"
)

// DefaultContentType is used when the upstream response carries no Content-Type.
const DefaultContentType = "text/xml; charset=utf-8"

const userAgent = "basex-cors-proxy/1.0"

// forwardableRequestHeaders are the only inbound headers sent upstream.
// Host, Connection, Cookie, Origin and the like stay on the inbound hop.
var forwardableRequestHeaders = []string{
	"Content-Type",
	"Authorization",
}

// forwarder is the outbound side of the proxy; *client.BaseXClient satisfies it.
type forwarder interface {
	Do(ctx context.Context, method string, target *url.URL, header http.Header, body []byte) (*model.ProxyResponse, error)
}

// ProxyService translates inbound requests into upstream BaseX requests.
type ProxyService struct {
	upstream      forwarder
	logger        *slog.Logger
	host          string // host:port of the upstream
	authorization string
}

// NewProxyService creates a ProxyService bound to the configured upstream.
// Credentials are resolved here once; the request path never reads config.
func NewProxyService(c *client.BaseXClient, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return newProxyService(c, cfg, logger)
}

func newProxyService(up forwarder, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		upstream:      up,
		logger:        logger.With("component", "proxy_service"),
		host:          net.JoinHostPort(cfg.BaseX.Host, strconv.Itoa(cfg.BaseX.Port)),
		authorization: cfg.BaseX.Authorization(),
	}
}

// Forward sends pr to the upstream and returns its complete response.
// Every upstream status code is a result; an error means no complete
// response was obtained. Forward never retries.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target := s.buildUpstreamURL(pr.RequestURI)
	header := s.buildRequestHeaders(pr.Header)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"target", client.TargetString(target),
		"credentials_injected", pr.Header.Get("Authorization") == "" && header.Get("Authorization") != "",
	)

	resp, err := s.upstream.Do(pr.Ctx, pr.Method, target, header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	if resp.ContentType == "" {
		resp.ContentType = DefaultContentType
	}
	return resp, nil
}

// buildUpstreamURL keeps the request URI byte-for-byte. The path travels in
// Opaque so net/http writes it to the request line without re-encoding.
func (s *ProxyService) buildUpstreamURL(requestURI string) *url.URL {
	path, query, hasQuery := strings.Cut(requestURI, "?")
	u := &url.URL{
		Scheme:     "http",
		Host:       s.host,
		RawQuery:   query,
		ForceQuery: hasQuery && query == "",
	}
	switch {
	case path == "":
		u.Opaque = "/"
	case strings.HasPrefix(path, "//"):
		// An opaque "//x" would be written as an absolute URI. RawPath is
		// used on the wire as long as it is a valid encoding of Path.
		u.Path, u.RawPath = path, path
		if unescaped, err := url.PathUnescape(path); err == nil {
			u.Path = unescaped
		}
	default:
		u.Opaque = path
	}
	return u
}

func (s *ProxyService) buildRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	if dst.Get("Authorization") == "" && s.authorization != "" {
		dst.Set("Authorization", s.authorization)
	}
	dst.Set("User-Agent", userAgent)
	return dst
}
