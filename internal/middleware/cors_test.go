package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"basex-cors-proxy/internal/config"
	"basex-cors-proxy/internal/metrics"
)

func defaultCORS() config.CORSConfig {
	return config.CORSConfig{
		AllowOrigin:   "*",
		AllowMethods:  []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization", "X-Requested-With"},
		MaxAgeSeconds: 600,
	}
}

func assertCORSHeaders(t *testing.T, h http.Header) {
	t.Helper()
	want := map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "GET, POST, HEAD, OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type, Authorization, X-Requested-With",
		"Access-Control-Max-Age":       "600",
	}
	for k, v := range want {
		if got := h.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	m := metrics.New()
	e := echo.New()
	e.Use(CORS(defaultCORS(), m))

	called := false
	e.Any("/*", func(c echo.Context) error {
		called = true
		return c.String(http.StatusTeapot, "should not run")
	})

	for _, path := range []string{"/rest/gesn", "/_proxy/healthz", "/unregistered"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, path, http.NoBody)
			req.Header.Set("Origin", "http://localhost:3000")
			req.Header.Set("Access-Control-Request-Method", "POST")
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("body = %q, want empty", rec.Body.String())
			}
			assertCORSHeaders(t, rec.Header())
		})
	}

	if called {
		t.Error("handler must not run for OPTIONS")
	}
}

func TestCORS_PreflightCounted(t *testing.T) {
	m := metrics.New()
	e := echo.New()
	e.Use(CORS(defaultCORS(), m))

	req := httptest.NewRequest(http.MethodOptions, "/rest", http.NoBody)
	e.ServeHTTP(httptest.NewRecorder(), req)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == "basex_proxy_preflight_requests_total" {
			if v := f.GetMetric()[0].GetCounter().GetValue(); v != 1 {
				t.Errorf("preflight counter = %v, want 1", v)
			}
			return
		}
	}
	t.Error("expected basex_proxy_preflight_requests_total")
}

func TestCORS_HeadersOnEveryResponse(t *testing.T) {
	e := echo.New()
	e.Use(CORS(defaultCORS(), nil))
	e.Use(echomw.BodyLimit("4B"))
	e.GET("/ok", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/ok", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/bad-gateway", func(c echo.Context) error {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "down"})
	})
	e.GET("/http-error", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusUnauthorized, "nope")
	})

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"success", http.MethodGet, "/ok", "", http.StatusOK},
		{"handler error response", http.MethodGet, "/bad-gateway", "", http.StatusBadGateway},
		{"returned HTTPError", http.MethodGet, "/http-error", "", http.StatusUnauthorized},
		{"route not found", http.MethodGet, "/missing", "", http.StatusNotFound},
		{"method not allowed", http.MethodDelete, "/ok", "", http.StatusMethodNotAllowed},
		{"body too large", http.MethodPost, "/ok", "0123456789", http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			assertCORSHeaders(t, rec.Header())
		})
	}
}

func TestCORS_NoMaxAge(t *testing.T) {
	cfg := defaultCORS()
	cfg.MaxAgeSeconds = 0

	e := echo.New()
	e.Use(CORS(cfg, nil))

	req := httptest.NewRequest(http.MethodOptions, "/rest", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if v, ok := rec.Header()["Access-Control-Max-Age"]; ok {
		t.Errorf("Access-Control-Max-Age = %q, want absent", v)
	}
}
