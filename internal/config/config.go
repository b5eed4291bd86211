// Package config handles configuration loading and validation.
//
// Values are resolved once at startup, in increasing precedence: built-in
// defaults, an optional TOML file, then environment variables and CLI flags.
// The resulting *Config is treated as read-only for the process lifetime.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
)

// LocalPrefix is the path prefix served by the proxy itself; everything else is forwarded.
const LocalPrefix = "/_proxy"

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/basex-cors-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config        string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host          string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port          int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BaseXHost     string `kong:"name='basex-host',help='BaseX HTTP host.',env='BASEX_HOST'"`
	BaseXPort     int    `kong:"name='basex-port',help='BaseX HTTP port.',env='BASEX_PORT'"`
	BaseXUser     string `kong:"name='basex-user',help='BaseX user for injected Basic credentials.',env='BASEX_USER'"`
	BaseXPassword string `kong:"name='basex-password',help='BaseX password for injected Basic credentials.',env='BASEX_PASSWORD'"`
	BaseXAuth     string `kong:"name='basex-auth',help='Pre-encoded Authorization value (wins over user/password).',env='BASEX_AUTH'"`
	LogLevel      string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	BaseX   BaseXConfig   `toml:"basex"`
	CORS    CORSConfig    `toml:"cors"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds inbound HTTP server settings.
type ServerConfig struct {
	Host          string          `toml:"host"`
	Port          int             `toml:"port"` // 0 means "use default" (8888)
	BodyMaxBytes  int64           `toml:"body_max_bytes"`
	ProxyProtocol bool            `toml:"proxy_protocol"`
	RateLimit     RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// BaseXConfig describes the upstream BaseX HTTP server and the static
// credentials injected when a request carries none.
type BaseXConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	User           string `toml:"user"`
	Password       string `toml:"password"`
	Auth           string `toml:"auth"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// CORSConfig holds the cross-origin headers attached to every response.
type CORSConfig struct {
	AllowOrigin   string   `toml:"allow_origin"`
	AllowMethods  []string `toml:"allow_methods"`
	AllowHeaders  []string `toml:"allow_headers"`
	MaxAgeSeconds int      `toml:"max_age_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Variables that are already set are left untouched and missing
// files are skipped. It must run before the CLI is parsed.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the optional TOML config file and applies CLI/env overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/basex-cors-proxy/config.toml then configs/config.toml; finding nothing
// is not an error.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.BaseXHost != "" {
		c.BaseX.Host = cli.BaseXHost
	}
	if cli.BaseXPort != 0 {
		c.BaseX.Port = cli.BaseXPort
	}
	if cli.BaseXUser != "" {
		c.BaseX.User = cli.BaseXUser
	}
	if cli.BaseXPassword != "" {
		c.BaseX.Password = cli.BaseXPassword
	}
	if cli.BaseXAuth != "" {
		c.BaseX.Auth = cli.BaseXAuth
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// validate reports every problem at once rather than stopping at the first.
func (c *Config) validate() error {
	var err error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port))
	}
	if c.Server.BodyMaxBytes < 0 {
		err = multierr.Append(err, fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes))
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		err = multierr.Append(err, fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond))
	}

	if c.BaseX.Port < 0 || c.BaseX.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("basex.port must be 0–65535; got %d", c.BaseX.Port))
	}
	if strings.ContainsAny(c.BaseX.Host, "/?#@ ") {
		err = multierr.Append(err, fmt.Errorf("basex.host must be a bare host name or address; got %q", c.BaseX.Host))
	}
	if c.BaseX.TimeoutSeconds < 0 {
		err = multierr.Append(err, fmt.Errorf("basex.timeout_seconds must be non-negative; got %d", c.BaseX.TimeoutSeconds))
	}
	if c.BaseX.Password != "" && c.BaseX.User == "" {
		err = multierr.Append(err, errors.New("basex.password is set but basex.user is empty"))
	}
	if strings.ContainsAny(c.BaseX.Auth, "\r\n") {
		err = multierr.Append(err, errors.New("basex.auth must not contain line breaks"))
	}

	if len(c.CORS.AllowMethods) > 0 {
		for _, m := range []string{"POST", "OPTIONS"} {
			if !slices.ContainsFunc(c.CORS.AllowMethods, func(s string) bool { return strings.EqualFold(s, m) }) {
				err = multierr.Append(err, fmt.Errorf("cors.allow_methods must include %s; got %v", m, c.CORS.AllowMethods))
			}
		}
	}
	if c.CORS.MaxAgeSeconds < 0 {
		err = multierr.Append(err, fmt.Errorf("cors.max_age_seconds must be non-negative; got %d", c.CORS.MaxAgeSeconds))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		err = multierr.Append(err, fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		err = multierr.Append(err, fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format))
	}

	// Anything outside LocalPrefix would shadow an upstream path.
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		switch {
		case !strings.HasPrefix(p, LocalPrefix+"/"):
			err = multierr.Append(err, fmt.Errorf("metrics.path must live under %s/; got %q", LocalPrefix, p))
		case slices.Contains(ReservedPaths(), p):
			err = multierr.Append(err, fmt.Errorf("metrics.path %q conflicts with reserved route", p))
		}
	}

	return err
}

// setDefaults fills zero-valued fields with defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "::"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8888
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 32 * 1024 * 1024 // 32 MB
	}
	if c.BaseX.Host == "" {
		c.BaseX.Host = "localhost"
	}
	if c.BaseX.Port == 0 {
		c.BaseX.Port = 8080
	}
	if c.BaseX.TimeoutSeconds == 0 {
		c.BaseX.TimeoutSeconds = 30
	}
	if c.CORS.AllowOrigin == "" {
		c.CORS.AllowOrigin = "*"
	}
	if len(c.CORS.AllowMethods) == 0 {
		c.CORS.AllowMethods = []string{"GET", "POST", "HEAD", "OPTIONS"}
	}
	if len(c.CORS.AllowHeaders) == 0 {
		c.CORS.AllowHeaders = []string{"Content-Type", "Authorization", "X-Requested-With"}
	}
	if c.CORS.MaxAgeSeconds == 0 {
		c.CORS.MaxAgeSeconds = 600
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = LocalPrefix + "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// ReservedPaths lists the local routes that are never forwarded upstream.
func ReservedPaths() []string {
	return []string{LocalPrefix + "/healthz", LocalPrefix + "/status"}
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Origin returns the upstream origin, e.g. "http://localhost:8080".
func (c *BaseXConfig) Origin() string {
	return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Authorization returns the header value injected when an inbound request
// has none, or "" when no credentials are configured. A pre-encoded value is
// used verbatim and wins over a user/password pair.
func (c *BaseXConfig) Authorization() string {
	if c.Auth != "" {
		return c.Auth
	}
	if c.User != "" {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.User+":"+c.Password))
	}
	return ""
}

// CredentialsMode describes how injected credentials are configured: "preset", "basic" or "none".
func (c *BaseXConfig) CredentialsMode() string {
	switch {
	case c.Auth != "":
		return "preset"
	case c.User != "":
		return "basic"
	default:
		return "none"
	}
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
