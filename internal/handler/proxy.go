package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"basex-cors-proxy/internal/model"
	"basex-cors-proxy/internal/service"
)

// errReadBody marks a failure to read the inbound request body (a local fault).
var errReadBody = errors.New("read request body")

// ProxyHandler forwards requests to the upstream BaseX server.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle answers OPTIONS locally and forwards GET, HEAD and POST upstream,
// relaying status, content type and body unchanged. Upstream non-2xx codes
// are relayed as-is; only a failed exchange becomes a 502.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	if req.Method == http.MethodOptions {
		return c.NoContent(http.StatusOK)
	}

	body, err := readBody(req)
	if err != nil {
		// BodyLimit reports an oversized chunked body through the reader.
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return h.writeError(c, http.StatusInternalServerError, err)
	}

	resp, err := h.service.Forward(&model.ProxyRequest{
		Ctx:        req.Context(),
		Method:     req.Method,
		RequestURI: requestURI(req),
		Header:     req.Header,
		Body:       body,
	})
	if err != nil {
		return h.writeError(c, http.StatusBadGateway, err)
	}

	return c.Blob(resp.StatusCode, resp.ContentType, resp.Body)
}

// writeError sends the JSON error shape {"error": "..."} with the failure's text.
func (h *ProxyHandler) writeError(c echo.Context, status int, err error) error {
	h.logger.Warn("proxy error",
		"err", err,
		"status", status,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)
	return c.JSON(status, map[string]string{
		"error": err.Error(),
	})
}

// readBody reads the whole body the server delivers: Content-Length bytes,
// or the decoded chunks. No body yields an empty, non-nil slice.
func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return []byte{}, nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errReadBody, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// requestURI returns the path and query as sent on the request line.
// Absolute-form targets ("http://host/path") are reduced to their path.
func requestURI(req *http.Request) string {
	if uri := req.RequestURI; len(uri) > 0 && uri[0] == '/' {
		return uri
	}
	return req.URL.RequestURI()
}
