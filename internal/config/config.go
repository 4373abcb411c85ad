// Package config loads runtime configuration from an optional TOML file and
// environment variables. Environment variables take precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/product-catalog-client/pkg/catalog"
	"github.com/Sternrassler/product-catalog-client/pkg/client"
	"github.com/Sternrassler/product-catalog-client/pkg/logging"
	"github.com/Sternrassler/product-catalog-client/pkg/ratelimit"
	"github.com/pelletier/go-toml/v2"
)

// DefaultUserAgent identifies this client to the catalog.
const DefaultUserAgent = "product-catalog-client/0.1.0"

// Duration is a time.Duration that decodes from strings such as "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the complete runtime configuration.
type Config struct {
	Client ClientConfig `toml:"client"`
	Loader LoaderConfig `toml:"loader"`
	Log    LogConfig    `toml:"log"`
	Server ServerConfig `toml:"server"`
	OTLP   OTLPConfig   `toml:"otlp"`
}

// ClientConfig configures the catalog HTTP client.
type ClientConfig struct {
	BaseURL   string   `toml:"base_url"`
	UserAgent string   `toml:"user_agent"`
	Timeout   Duration `toml:"timeout"`
	RateLimit float64  `toml:"rate_limit"`
	RateBurst int      `toml:"rate_burst"`
}

// LoaderConfig configures batch loading.
type LoaderConfig struct {
	MaxConcurrency int  `toml:"max_concurrency"`
	ResetOnLoad    bool `toml:"reset_on_load"`
	RangeLo        int  `toml:"range_lo"`
	RangeHi        int  `toml:"range_hi"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string `toml:"host"`
	Port string `toml:"port"`
}

// OTLPConfig configures trace export. An empty endpoint disables export.
type OTLPConfig struct {
	Endpoint    string `toml:"endpoint"`
	ServiceName string `toml:"service_name"`
	Environment string `toml:"environment"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			BaseURL:   client.DefaultBaseURL,
			UserAgent: DefaultUserAgent,
			Timeout:   Duration(30 * time.Second),
			RateBurst: ratelimit.DefaultConfig().Burst,
		},
		Loader: LoaderConfig{
			RangeLo: catalog.DefaultRangeLo,
			RangeHi: catalog.DefaultRangeHi,
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
		},
		OTLP: OTLPConfig{
			ServiceName: "product-catalog-client",
			Environment: "development",
		},
	}
}

// Load builds the configuration from defaults, the TOML file at path (if
// path is not empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error

	c.Client.BaseURL = getEnv("CATALOG_BASE_URL", c.Client.BaseURL)
	c.Client.UserAgent = getEnv("CATALOG_USER_AGENT", c.Client.UserAgent)
	c.Client.Timeout = Duration(durationEnv("CATALOG_TIMEOUT", time.Duration(c.Client.Timeout), &errs))
	c.Client.RateLimit = floatEnv("CATALOG_RATE_LIMIT", c.Client.RateLimit, &errs)
	c.Client.RateBurst = intEnv("CATALOG_RATE_BURST", c.Client.RateBurst, &errs)

	c.Loader.MaxConcurrency = intEnv("CATALOG_MAX_CONCURRENCY", c.Loader.MaxConcurrency, &errs)
	c.Loader.ResetOnLoad = boolEnv("CATALOG_RESET_ON_LOAD", c.Loader.ResetOnLoad, &errs)
	c.Loader.RangeLo = intEnv("CATALOG_RANGE_LO", c.Loader.RangeLo, &errs)
	c.Loader.RangeHi = intEnv("CATALOG_RANGE_HI", c.Loader.RangeHi, &errs)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Pretty = boolEnv("LOG_PRETTY", c.Log.Pretty, &errs)

	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnv("PORT", c.Server.Port)

	c.OTLP.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLP.Endpoint)
	c.OTLP.ServiceName = getEnv("OTEL_SERVICE_NAME", c.OTLP.ServiceName)
	c.OTLP.Environment = getEnv("OTEL_ENVIRONMENT", c.OTLP.Environment)

	return errors.Join(errs...)
}

// Validate checks the configuration for values no component accepts.
func (c *Config) Validate() error {
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client timeout must be > 0 (got %s)", time.Duration(c.Client.Timeout))
	}
	if c.Client.RateLimit > 0 && c.Client.RateBurst < 1 {
		return fmt.Errorf("rate burst must be >= 1 when rate limit is set (got %d)", c.Client.RateBurst)
	}
	if c.Loader.MaxConcurrency < 0 {
		return fmt.Errorf("max concurrency must be >= 0 (got %d)", c.Loader.MaxConcurrency)
	}
	if c.Loader.RangeLo < 1 || c.Loader.RangeHi < c.Loader.RangeLo {
		return fmt.Errorf("invalid default range [%d, %d]", c.Loader.RangeLo, c.Loader.RangeHi)
	}
	if c.Loader.RangeHi-c.Loader.RangeLo >= catalog.MaxRangeSize {
		return fmt.Errorf("default range [%d, %d] exceeds %d identifiers", c.Loader.RangeLo, c.Loader.RangeHi, catalog.MaxRangeSize)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ClientConfig converts the file/env settings into a client.Config.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.Client.UserAgent)
	cfg.BaseURL = c.Client.BaseURL
	cfg.Timeout = time.Duration(c.Client.Timeout)
	cfg.RateLimit = ratelimit.Config{
		RequestsPerSecond: c.Client.RateLimit,
		Burst:             c.Client.RateBurst,
	}
	return cfg
}

// LoaderConfig converts the settings into a catalog.Config.
func (c *Config) LoaderConfig() catalog.Config {
	return catalog.Config{
		MaxConcurrency: c.Loader.MaxConcurrency,
		ResetOnLoad:    c.Loader.ResetOnLoad,
	}
}

// LoggingConfig converts the settings into a logging.Config.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func intEnv(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func floatEnv(key string, defaultValue float64, errs *[]error) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return f
}

func boolEnv(key string, defaultValue bool, errs *[]error) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return b
}

func durationEnv(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}
