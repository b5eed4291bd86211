// Package middleware provides Echo middleware for cross-origin headers,
// logging, metrics and rate limiting.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"basex-cors-proxy/internal/config"
	"basex-cors-proxy/internal/metrics"
)

// CORS returns middleware that attaches the configured cross-origin headers
// to every response, errors included, and answers every OPTIONS request
// locally with 200 and an empty body. m may be nil.
func CORS(cfg config.CORSConfig, m *metrics.Metrics) echo.MiddlewareFunc {
	allowMethods := strings.Join(cfg.AllowMethods, ", ")
	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")
	maxAge := ""
	if cfg.MaxAgeSeconds > 0 {
		maxAge = strconv.Itoa(cfg.MaxAgeSeconds)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, cfg.AllowOrigin)
			h.Set(echo.HeaderAccessControlAllowMethods, allowMethods)
			h.Set(echo.HeaderAccessControlAllowHeaders, allowHeaders)
			if maxAge != "" {
				h.Set(echo.HeaderAccessControlMaxAge, maxAge)
			}

			if c.Request().Method == http.MethodOptions {
				if m != nil {
					m.PreflightTotal.Inc()
				}
				return c.NoContent(http.StatusOK)
			}

			return next(c)
		}
	}
}
