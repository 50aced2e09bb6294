// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the environment nor the config file set a value.
const (
	DefaultMetaDBPath        = "geotables_meta.sqlite"
	DefaultStatementTimeout  = 5 * time.Minute
	DefaultPublicRole        = "publicuser"
	DefaultGeometryEmptyTTL  = 5 * time.Minute
	DefaultGeometryKindTTL   = 24 * time.Hour
	DefaultSchemaCacheTTL    = 30 * time.Second
	DefaultUpdateWideningCap = 3
)

// Config holds the configuration for the metastore, the PostGIS store and the
// table services.
type Config struct {
	MetaDBPath            string        // path to the SQLite metastore
	DatabaseURL           string        // PostGIS DSN used for statements run as owner roles
	PrivilegedDatabaseURL string        // PostGIS DSN for schema rewrites and grants (defaults to DatabaseURL)
	StatementTimeout      time.Duration // bound on every store transaction
	PublicRole            string        // role anonymous readers use
	GeometryEmptyTTL      time.Duration // cache lifetime when no geometry was detected
	GeometryKindTTL       time.Duration // cache lifetime of a detected geometry kind
	SchemaCacheTTL        time.Duration // lifetime of cached column lists; 0 disables
	UpdateWideningCap     int           // column widenings allowed per update
	Hostname              string        // usage counter host scope
	LogLevel              string        // log level: debug, info, warn, error (default "info")
	Env                   string        // environment: "development" (default) or "production"

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// fileConfig is the YAML overlay. Durations use time.ParseDuration syntax.
type fileConfig struct {
	MetaDBPath            string `yaml:"meta_db_path"`
	DatabaseURL           string `yaml:"database_url"`
	PrivilegedDatabaseURL string `yaml:"privileged_database_url"`
	StatementTimeout      string `yaml:"statement_timeout"`
	PublicRole            string `yaml:"public_role"`
	GeometryCache         struct {
		EmptyTTL   string `yaml:"empty_ttl"`
		PresentTTL string `yaml:"present_ttl"`
	} `yaml:"geometry_cache"`
	SchemaCacheTTL    string `yaml:"schema_cache_ttl"`
	UpdateWideningCap int    `yaml:"update_widening_cap"`
	Hostname          string `yaml:"hostname"`
	LogLevel          string `yaml:"log_level"`
	Env               string `yaml:"env"`
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate checks that the configuration can open the PostGIS store.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.StatementTimeout <= 0 {
		errs = append(errs, errors.New("STATEMENT_TIMEOUT must be positive"))
	}
	if c.UpdateWideningCap <= 0 {
		errs = append(errs, errors.New("UPDATE_WIDENING_CAP must be positive"))
	}
	if c.GeometryEmptyTTL < 0 || c.GeometryKindTTL < 0 || c.SchemaCacheTTL < 0 {
		errs = append(errs, errors.New("cache TTLs must not be negative"))
	}
	if c.IsProduction() && c.PrivilegedDatabaseURL == c.DatabaseURL {
		errs = append(errs, errors.New("PRIVILEGED_DATABASE_URL must differ from DATABASE_URL in production"))
	}
	return errors.Join(errs...)
}

// LoadFromEnv loads configuration from environment variables, layered over
// the YAML file named by GEOTABLES_CONFIG when set.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv("GEOTABLES_CONFIG"))
}

// Load reads the YAML file at path (skipped when empty), applies environment
// overrides, then fills defaults. Environment variables take precedence over
// the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	c.MetaDBPath = fc.MetaDBPath
	c.DatabaseURL = fc.DatabaseURL
	c.PrivilegedDatabaseURL = fc.PrivilegedDatabaseURL
	c.PublicRole = fc.PublicRole
	c.UpdateWideningCap = fc.UpdateWideningCap
	c.Hostname = fc.Hostname
	c.LogLevel = fc.LogLevel
	c.Env = fc.Env

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"statement_timeout", fc.StatementTimeout, &c.StatementTimeout},
		{"geometry_cache.empty_ttl", fc.GeometryCache.EmptyTTL, &c.GeometryEmptyTTL},
		{"geometry_cache.present_ttl", fc.GeometryCache.PresentTTL, &c.GeometryKindTTL},
		{"schema_cache_ttl", fc.SchemaCacheTTL, &c.SchemaCacheTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config %s: %s: %w", path, d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.MetaDBPath, "META_DB_PATH")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.PrivilegedDatabaseURL, "PRIVILEGED_DATABASE_URL")
	setString(&c.PublicRole, "PUBLIC_ROLE")
	setString(&c.Hostname, "HOSTNAME")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Env, "ENV")

	for key, dst := range map[string]*time.Duration{
		"STATEMENT_TIMEOUT":          &c.StatementTimeout,
		"GEOMETRY_CACHE_TTL_EMPTY":   &c.GeometryEmptyTTL,
		"GEOMETRY_CACHE_TTL_PRESENT": &c.GeometryKindTTL,
		"SCHEMA_CACHE_TTL":           &c.SchemaCacheTTL,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	if v := os.Getenv("UPDATE_WIDENING_CAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("UPDATE_WIDENING_CAP: %w", err)
		}
		c.UpdateWideningCap = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.MetaDBPath == "" {
		c.MetaDBPath = DefaultMetaDBPath
	}
	if c.PrivilegedDatabaseURL == "" && c.DatabaseURL != "" {
		c.PrivilegedDatabaseURL = c.DatabaseURL
		c.Warnings = append(c.Warnings, "PRIVILEGED_DATABASE_URL not set, using DATABASE_URL for schema rewrites and grants")
	}
	if c.StatementTimeout == 0 {
		c.StatementTimeout = DefaultStatementTimeout
	}
	if c.PublicRole == "" {
		c.PublicRole = DefaultPublicRole
	}
	if c.GeometryEmptyTTL == 0 {
		c.GeometryEmptyTTL = DefaultGeometryEmptyTTL
	}
	if c.GeometryKindTTL == 0 {
		c.GeometryKindTTL = DefaultGeometryKindTTL
	}
	if c.SchemaCacheTTL == 0 {
		c.SchemaCacheTTL = DefaultSchemaCacheTTL
	}
	if c.UpdateWideningCap == 0 {
		c.UpdateWideningCap = DefaultUpdateWideningCap
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
