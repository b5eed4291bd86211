package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequestLogger_Levels(t *testing.T) {
	tests := []struct {
		name    string
		level   slog.Level
		wantLog bool
	}{
		{"quiet at info", slog.LevelInfo, false},
		{"logged at debug", slog.LevelDebug, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: tt.level}))
			e := echo.New()
			e.Use(RequestLogger(logger))
			e.GET("/rest/*", func(c echo.Context) error {
				return echo.NewHTTPError(http.StatusBadGateway, "down")
			})

			req := httptest.NewRequest(http.MethodGet, "/rest/gesn?q=1", http.NoBody)
			e.ServeHTTP(httptest.NewRecorder(), req)

			out := buf.String()
			if got := out != ""; got != tt.wantLog {
				t.Fatalf("logged = %v, want %v (output %q)", got, tt.wantLog, out)
			}
			if tt.wantLog {
				for _, want := range []string{"/rest/gesn?q=1", "status=502"} {
					if !strings.Contains(out, want) {
						t.Errorf("log %q missing %q", out, want)
					}
				}
			}
		})
	}
}
