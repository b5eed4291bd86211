// Package client provides the upstream HTTP client for the BaseX server.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"basex-cors-proxy/internal/config"
	"basex-cors-proxy/internal/metrics"
	"basex-cors-proxy/internal/model"
)

// BaseXClient sends requests to the upstream BaseX HTTP server.
type BaseXClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewBaseXClient creates a BaseXClient whose calls are bounded by basex.timeout_seconds.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewBaseXClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BaseXClient {
	transport := &http.Transport{
		// The upstream is a fixed local origin; environment proxies do not apply.
		Proxy: nil,
		// Keep bodies byte-identical: no transparent gzip negotiation.
		DisableCompression: true,
		IdleConnTimeout:    90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &BaseXClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.BaseX.TimeoutSeconds) * time.Second,
			// Redirects are relayed to the browser, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "basex_client"),
		metrics: m,
	}
}

// Do issues exactly one request to target and reads the complete response.
// Any status code is a successful result; only transport failures (dial,
// timeout, truncated body) are returned as errors.
//
// target may carry its path in Opaque so that it reaches the wire unchanged.
func (c *BaseXClient) Do(ctx context.Context, method string, target *url.URL, header http.Header, body []byte) (*model.ProxyResponse, error) {
	if body == nil {
		body = []byte{}
	}
	req, err := http.NewRequestWithContext(ctx, method, target.Scheme+"://"+target.Host, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.URL = target
	req.Header = header

	display := TargetString(target)
	c.logger.Debug("upstream request",
		"method", method,
		"url", display,
		"bytes_in", len(body),
	)

	label := metrics.NormalizeMethod(method)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observeFailure(label, start)
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = display
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observeFailure(label, start)
		return nil, fmt.Errorf("read upstream response from %s: %w", display, err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		c.metrics.UpstreamResponses.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ProxyResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

func (c *BaseXClient) observeFailure(method string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	c.metrics.UpstreamFailures.WithLabelValues(method).Inc()
}

// TargetString renders target as an absolute URL, including an opaque path.
func TargetString(target *url.URL) string {
	if target.Opaque == "" {
		return target.String()
	}
	s := target.Scheme + "://" + target.Host + target.Opaque
	if target.RawQuery != "" || target.ForceQuery {
		s += "?" + target.RawQuery
	}
	return s
}
