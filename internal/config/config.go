//
// Go 1.21
//
// Package config provides environment- and file-driven configuration for
// the cache service: the HTTP/WebSocket server, the TimescaleDB-backed
// BackingStore, and cache settings. Comprehensive validation ensures the
// service never starts half-configured.
//
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/intelpoc/tscache/internal/tsschema"
)

// Default configuration constants used as fallbacks when neither a config
// file nor an environment variable supplies a value.
const (
	DefaultServerPort        = 8080
	DefaultDBPort            = 5432
	DefaultMaxConnections    = 25
	DefaultPopulateRPS       = 50.0
	DefaultWidenSeconds      = 0
	DefaultConnectionTimeout = 5 * time.Second
)

// ServerConfig configures the demo HTTP/WebSocket surface.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    float64
}

// DatabaseConfig configures the TimescaleDB connection backing the cache.
type DatabaseConfig struct {
	Host                  string
	Port                  int
	Database              string
	Username              string
	Password              string
	MaxConnections        int32
	ConnectionTimeout     time.Duration
	RetentionPeriod       time.Duration
	CompressionAfter      time.Duration
	CircuitBreakerTimeout time.Duration
}

// DSN renders the TimescaleDB connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.Username, d.Password, d.Host, d.Port, d.Database)
}

// CacheConfig holds the cache settings read from the config file and
// environment. cmd/cacheserver passes only PopulateRPS to the Facade; the
// other fields are validated but not turned into a CacheSetup anywhere in
// this module.
type CacheConfig struct {
	UseCache           bool
	CacheRawData       bool
	DownsamplingFilter tsschema.FilterType
	WidenSeconds       int64
	PopulateRPS        float64
}

// Config is the service's fully-resolved configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
}

// Validate performs comprehensive validation on all configuration fields,
// aggregating every problem found into a single error.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server port %d is out of valid range", c.Server.Port))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "server rate limit cannot be negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server shutdown timeout must be greater than zero")
	}

	if strings.TrimSpace(c.Database.Host) == "" {
		errs = append(errs, "database host is empty")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database port %d is out of valid range", c.Database.Port))
	}
	if strings.TrimSpace(c.Database.Database) == "" {
		errs = append(errs, "database name is empty")
	}
	if c.Database.MaxConnections < 1 {
		errs = append(errs, fmt.Sprintf("database max connections %d is invalid; must be at least 1", c.Database.MaxConnections))
	}
	if c.Database.ConnectionTimeout <= 0 {
		errs = append(errs, "database connection timeout must be greater than zero")
	}

	if c.Cache.WidenSeconds < 0 {
		errs = append(errs, "cache widen window cannot be negative")
	}
	if c.Cache.PopulateRPS < 0 {
		errs = append(errs, "cache populate rate limit cannot be negative")
	}
	switch c.Cache.DownsamplingFilter {
	case tsschema.FilterPoints, tsschema.FilterTimeWeightedPoints, tsschema.FilterTimeWeightedTime:
	default:
		errs = append(errs, fmt.Sprintf("cache downsampling filter %q is invalid", c.Cache.DownsamplingFilter))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n - %s", strings.Join(errs, "\n - "))
	}
	return nil
}

// LoadConfig reads configuration from an optional config file (config.yaml,
// searched in the working directory and /etc/tscache), overlaid with
// TSCACHE_-prefixed environment variables, applies defaults for anything
// left unset, and validates the result.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tscache")
	v.SetEnvPrefix("TSCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			ReadTimeout:     durationOrDefault(v.GetString("server.read_timeout"), 10*time.Second),
			WriteTimeout:    durationOrDefault(v.GetString("server.write_timeout"), 10*time.Second),
			ShutdownTimeout: durationOrDefault(v.GetString("server.shutdown_timeout"), 15*time.Second),
			RateLimitRPS:    v.GetFloat64("server.rate_limit_rps"),
		},
		Database: DatabaseConfig{
			Host:                  getEnvWithDefault("TSCACHE_DB_HOST", v.GetString("database.host"), "localhost"),
			Port:                  intOrDefault(v.GetString("database.port"), DefaultDBPort),
			Database:              getEnvWithDefault("TSCACHE_DB_NAME", v.GetString("database.database"), "tscache"),
			Username:              getEnvWithDefault("TSCACHE_DB_USER", v.GetString("database.username"), ""),
			Password:              getEnvWithDefault("TSCACHE_DB_PASS", v.GetString("database.password"), ""),
			MaxConnections:        int32(intOrDefault(v.GetString("database.max_connections"), DefaultMaxConnections)),
			ConnectionTimeout:     durationOrDefault(v.GetString("database.connection_timeout"), DefaultConnectionTimeout),
			RetentionPeriod:       durationOrDefault(v.GetString("database.retention_period"), 0),
			CompressionAfter:      durationOrDefault(v.GetString("database.compression_after"), 0),
			CircuitBreakerTimeout: durationOrDefault(v.GetString("database.circuit_breaker_timeout"), 30*time.Second),
		},
		Cache: CacheConfig{
			UseCache:           v.GetBool("cache.use_cache"),
			CacheRawData:       v.GetBool("cache.cache_raw_data"),
			DownsamplingFilter: filterOrDefault(v.GetString("cache.downsampling_filter")),
			WidenSeconds:       int64(intOrDefault(v.GetString("cache.widen_seconds"), DefaultWidenSeconds)),
			PopulateRPS:        floatOrDefault(v.GetString("cache.populate_rps"), DefaultPopulateRPS),
		},
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func filterOrDefault(s string) tsschema.FilterType {
	if _, err := tsschema.ParseFilterType(s); err != nil {
		return tsschema.FilterTimeWeightedPoints
	}
	return tsschema.FilterType(s)
}

func durationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func intOrDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func floatOrDefault(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

// getEnvWithDefault checks the environment for envKey, then falls back to a
// value already resolved from viper's config-file layer, then finally to
// defaultValue.
func getEnvWithDefault(envKey, fileValue, defaultValue string) string {
	if val, exists := os.LookupEnv(envKey); exists && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	if strings.TrimSpace(fileValue) != "" {
		return fileValue
	}
	return defaultValue
}
