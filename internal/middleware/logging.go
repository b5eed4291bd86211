package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Lines are emitted at DEBUG so the proxy stays quiet at the default level.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			if !logger.Enabled(req.Context(), slog.LevelDebug) {
				return err
			}
			res := c.Response()

			logger.LogAttrs(req.Context(), slog.LevelDebug, "request",
				slog.String("method", req.Method),
				slog.String("uri", req.RequestURI),
				slog.Int("status", statusOf(c, err)),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
				slog.String("remote_ip", c.RealIP()),
				slog.Int64("bytes_in", req.ContentLength),
				slog.Int64("bytes_out", res.Size),
			)

			return err
		}
	}
}
