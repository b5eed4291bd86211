package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"basex-cors-proxy/internal/config"
)

// forwardedMethods are the methods accepted on forwarded paths; others get 405.
var forwardedMethods = []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions}

// RegisterRoutes wires all route handlers onto the Echo instance. Paths
// under config.LocalPrefix are served locally; everything else is forwarded.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	e.GET(config.LocalPrefix+"/healthz", health.Healthz)
	e.GET(config.LocalPrefix+"/status", health.Status)
	// Anything else under the local prefix is unknown here and never reaches BaseX.
	e.Any(config.LocalPrefix, localNotFound)
	e.Any(config.LocalPrefix+"/*", localNotFound)

	e.Match(forwardedMethods, "/", proxy.Handle)
	e.Match(forwardedMethods, "/*", proxy.Handle)
}

func localNotFound(echo.Context) error {
	return echo.ErrNotFound
}
