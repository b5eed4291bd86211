package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	proxyproto "github.com/pires/go-proxyproto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"

	"basex-cors-proxy/internal/client"
	"basex-cors-proxy/internal/config"
	"basex-cors-proxy/internal/handler"
	"basex-cors-proxy/internal/metrics"
	"basex-cors-proxy/internal/middleware"
	"basex-cors-proxy/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("basex-cors-proxy"),
		kong.Description("CORS-enabling forwarding proxy for a BaseX HTTP server."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			client.NewBaseXClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, registerMetrics, warnConfigPermissions, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.ReadTimeout = 30 * time.Second
	// Slightly above the upstream timeout so a slow BaseX answer is still delivered.
	e.Server.WriteTimeout = time.Duration(cfg.BaseX.TimeoutSeconds)*time.Second + 5*time.Second
	e.Server.IdleTimeout = 120 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	if cfg.Metrics.Enabled {
		e.Use(middleware.RequestMetrics(m))
	}
	e.Use(middleware.RequestLogger(logger.With("component", "access")))
	// CORS goes before every middleware that can reject a request.
	e.Use(middleware.CORS(cfg.CORS, m))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func registerMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// listen binds the configured address. When the host is the IPv6 wildcard
// and the dual-stack bind fails, it retries on IPv4 loopback.
func listen(sc config.ServerConfig, logger *slog.Logger) (net.Listener, error) {
	addr := sc.Addr()
	ln, err := net.Listen("tcp", addr)
	if err == nil {
		return ln, nil
	}
	if sc.Host != "::" {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}

	fallback := net.JoinHostPort("127.0.0.1", strconv.Itoa(sc.Port))
	logger.Warn("dual-stack bind failed, falling back to IPv4 loopback",
		"addr", addr,
		"fallback", fallback,
		"err", err,
	)
	ln, ferr := net.Listen("tcp", fallback)
	if ferr != nil {
		return nil, fmt.Errorf("bind %s: %w", fallback, multierr.Combine(err, ferr))
	}
	return ln, nil
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := listen(cfg.Server, logger)
			if err != nil {
				return err
			}
			if cfg.Server.ProxyProtocol {
				ln = &proxyproto.Listener{Listener: ln}
			}
			logger.Info("starting server",
				"addr", ln.Addr().String(),
				"upstream", cfg.BaseX.Origin(),
				"credentials", cfg.BaseX.CredentialsMode(),
				"body_limit", humanize.IBytes(uint64(cfg.Server.BodyMaxBytes)),
				"proxy_protocol", cfg.Server.ProxyProtocol,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
