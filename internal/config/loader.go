package config

import (
	"encoding"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/tableload/internal/core"
	"github.com/JonMunkholm/tableload/internal/delimited"
)

// Load reads configuration from the process environment, applies defaults
// and validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LookupFunc reports the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// LoadFrom is Load with a custom variable source. Every malformed value is
// reported, not just the first.
func LoadFrom(lookup LookupFunc) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

var (
	durationType        = reflect.TypeOf(time.Duration(0))
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// loadStruct populates tagged fields of v, descending into nested structs.
// Tags: env (primary name), envAlt (fallback name), default, required.
func loadStruct(v reflect.Value, lookup LookupFunc) error {
	var errs []error
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			if field.Type.Kind() == reflect.Struct {
				if err := loadStruct(fieldVal, lookup); err != nil {
					errs = append(errs, err)
				}
			}
			continue
		}

		value, ok := lookup(envName)
		if !ok || value == "" {
			if alt := field.Tag.Get("envAlt"); alt != "" {
				value, _ = lookup(alt)
			}
		}
		if value == "" {
			if field.Tag.Get("required") == "true" {
				errs = append(errs, fmt.Errorf("required environment variable %s is not set", envName))
				continue
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", envName, value, err))
		}
	}

	return errors.Join(errs...)
}

// setField parses value into field according to the field's type.
func setField(field reflect.Value, value string) error {
	if field.CanAddr() && field.Addr().Type().Implements(textUnmarshalerType) {
		return field.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(value))
	}

	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))

	case field.Kind() == reflect.String:
		field.SetString(value)

	case field.CanInt():
		i, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		field.Set(reflect.ValueOf(parts))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}
	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.URL != "" {
		if _, err := ParseURL(c.Database.URL); err != nil {
			errs = append(errs, fmt.Sprintf("DATABASE_URL is invalid: %v", err))
		}
	} else {
		if _, err := core.LookupDriver(c.Database.Driver); err != nil {
			errs = append(errs, fmt.Sprintf("DB_DRIVER (%q) is not a registered driver", c.Database.Driver))
		}
		if c.Database.Name == "" {
			errs = append(errs, "DB_NAME is required")
		}
		if c.Database.Port < 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("DB_PORT (%d) must be 0-65535", c.Database.Port))
		}
		if _, err := parseParams(c.Database.Params); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.Database.ConnectTimeout < 0 {
		errs = append(errs, "DB_CONNECT_TIMEOUT must be non-negative")
	}

	// Ingest validation
	if _, err := delimited.ParseDelimiter(c.Ingest.Delimiter); err != nil {
		errs = append(errs, fmt.Sprintf("INGEST_DELIMITER (%q) must be one of: comma, pipe, tilde", c.Ingest.Delimiter))
	}
	if err := delimited.CheckEncoding(c.Ingest.Encoding); err != nil {
		errs = append(errs, fmt.Sprintf("INGEST_ENCODING (%q) must be one of: %s", c.Ingest.Encoding, strings.Join(delimited.Encodings(), ", ")))
	}
	if c.Ingest.DefaultSchema != "" {
		if err := core.ValidateIdentifier("schema", c.Ingest.DefaultSchema); err != nil {
			errs = append(errs, fmt.Sprintf("INGEST_DEFAULT_SCHEMA: %v", err))
		}
	}
	if c.Ingest.Timeout <= 0 {
		errs = append(errs, "INGEST_TIMEOUT must be positive")
	}
	if c.Ingest.MaxFileSize <= 0 {
		errs = append(errs, "INGEST_MAX_FILE_SIZE must be positive")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.MaxConcurrent <= 0 {
		errs = append(errs, "SERVER_MAX_CONCURRENT must be positive")
	}
	if c.Server.MaxWaitTime <= 0 {
		errs = append(errs, "SERVER_MAX_WAIT_TIME must be positive")
	}
	if c.Server.HistorySize <= 0 {
		errs = append(errs, "SERVER_HISTORY_SIZE must be positive")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "SERVER_RATE_LIMIT must be non-negative")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like passwords and database URLs are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d, MaxConcurrent: %d}, ",
		c.Server.Host, c.Server.Port, c.Server.MaxConcurrent))
	if c.Database.URL != "" {
		b.WriteString("Database: {URL: [MASKED]}, ")
	} else {
		b.WriteString(fmt.Sprintf("Database: {Driver: %q, Host: %q, Port: %d, Name: %q, User: %q, Password: [MASKED]}, ",
			c.Database.Driver, c.Database.Host, c.Database.Port, c.Database.Name, c.Database.User))
	}
	b.WriteString(fmt.Sprintf("Ingest: {DefaultSchema: %q, Delimiter: %q, Encoding: %q, Timeout: %s}, ",
		c.Ingest.DefaultSchema, c.Ingest.Delimiter, c.Ingest.Encoding, c.Ingest.Timeout))
	b.WriteString(fmt.Sprintf("Security: {RequireAPIKey: %v, APIKeys: %d configured}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
