// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/delimited"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0, ingestions can run long)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-ingestion requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// MaxConcurrent is the maximum number of ingestions running at once (default: 4)
	MaxConcurrent int `env:"SERVER_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a request waits for an ingestion slot (default: 30s)
	MaxWaitTime time.Duration `env:"SERVER_MAX_WAIT_TIME" default:"30s"`

	// HistorySize is how many finished runs are kept for GET /api/ingestions (default: 100)
	HistorySize int `env:"SERVER_HISTORY_SIZE" default:"100"`

	// RateLimit is requests per minute per client IP; 0 disables it (default: 100)
	RateLimit int `env:"SERVER_RATE_LIMIT" default:"100"`

	// TrustedProxies lists CIDRs whose X-Real-IP / X-Forwarded-For headers are honoured
	TrustedProxies []string `env:"SERVER_TRUSTED_PROXIES"`
}

// DatabaseConfig holds the target database connection.
type DatabaseConfig struct {
	// URL is an optional connection URL (postgres://, mysql://, sqlserver://, sqlite:).
	// When set it takes precedence over the individual fields below.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// Driver selects the backend: postgres, mysql, sqlserver, sqlite (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres"`

	// Host is the database host (default: localhost)
	Host string `env:"DB_HOST" default:"localhost"`

	// Port is the database port; 0 uses the driver's default
	Port int `env:"DB_PORT"`

	// Name is the database name, or the file path for sqlite
	Name string `env:"DB_NAME"`

	// User is the database user
	User string `env:"DB_USER"`

	// Password is the database password
	Password string `env:"DB_PASSWORD"`

	// Params are extra driver parameters as comma-separated key=value pairs
	Params []string `env:"DB_PARAMS"`

	// ConnectTimeout bounds each connection attempt (default: 10s)
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"10s"`
}

// IngestConfig holds defaults applied to ingestion requests.
type IngestConfig struct {
	// DefaultSchema replaces the driver's default schema when a request names none
	DefaultSchema string `env:"INGEST_DEFAULT_SCHEMA"`

	// Delimiter is the default field delimiter: comma, pipe, tilde (default: comma)
	Delimiter string `env:"INGEST_DELIMITER" default:"comma"`

	// Encoding is the default source encoding; empty means UTF-8
	Encoding string `env:"INGEST_ENCODING"`

	// Timeout is the maximum duration of a single ingestion (default: 30m)
	Timeout time.Duration `env:"INGEST_TIMEOUT" default:"30m"`

	// MaxFileSize is the maximum size of an uploaded file in bytes (default: 1GB)
	MaxFileSize int64 `env:"INGEST_MAX_FILE_SIZE" default:"1073741824"`

	// UploadDir is where uploaded files are staged; empty uses the OS temp dir
	UploadDir string `env:"INGEST_UPLOAD_DIR"`

	// AllowFilePaths lets HTTP clients name a file already on the server (default: false)
	AllowFilePaths bool `env:"INGEST_ALLOW_FILE_PATHS" default:"false"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key checks on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// Profile converts the database settings into a connection profile. A URL
// wins over the individual fields.
func (c *DatabaseConfig) Profile() (core.ConnectionProfile, error) {
	if c.URL != "" {
		return ParseURL(c.URL)
	}
	params, err := parseParams(c.Params)
	if err != nil {
		return core.ConnectionProfile{}, err
	}
	return core.ConnectionProfile{
		Driver:   c.Driver,
		Host:     c.Host,
		Port:     c.Port,
		Database: c.Name,
		User:     c.User,
		Password: c.Password,
		Params:   params,
	}, nil
}

// Delim returns the parsed default delimiter.
func (c *IngestConfig) Delim() delimited.Delimiter {
	d, err := delimited.ParseDelimiter(c.Delimiter)
	if err != nil {
		return delimited.Comma
	}
	return d
}

// parseParams turns ["k=v", ...] into a map.
func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("DB_PARAMS entry %q is not key=value", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
