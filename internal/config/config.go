// Package config provides configuration management for the tile server.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/monkut/servembtiles/internal/service"
	"github.com/monkut/servembtiles/internal/tile"
)

// EnvPrefix is prepended to every environment override, e.g.
// SERVEMBTILES_ARCHIVE_PATH.
const EnvPrefix = "SERVEMBTILES"

// Config holds all configuration for the tile server.
type Config struct {
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Server      ServerConfig      `mapstructure:"server"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ArchiveConfig selects the .mbtiles file and how it is served.
type ArchiveConfig struct {
	Path         string `mapstructure:"path"`
	TileExt      string `mapstructure:"tile_ext"`
	Scheme       string `mapstructure:"scheme"`
	XYZ          bool   `mapstructure:"xyz"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// Addr returns the host:port the tile server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// CORSConfig holds cross-origin settings for browser map clients.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"filepath": "archive.path",
	"ext":      "archive.tile_ext",
	"scheme":   "archive.scheme",
	"xyz":      "archive.xyz",
	"address":  "server.address",
	"port":     "server.port",
}

// Load reads configuration from defaults, an optional file, environment
// variables and flags, in increasing order of precedence. flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/servembtiles/")
	}

	// Read environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag %q: %w", name, err)
			}
		}
	}

	// Read config file (ignore if not found, use defaults/env)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Archive.XYZ {
		cfg.Archive.Scheme = tile.XYZ.String()
	}

	if cfg.Archive.Path != "" {
		abs, err := filepath.Abs(cfg.Archive.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve archive path: %w", err)
		}
		cfg.Archive.Path = abs
	}

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Archive defaults
	v.SetDefault("archive.path", "")
	v.SetDefault("archive.tile_ext", ".png")
	v.SetDefault("archive.scheme", "tms")
	v.SetDefault("archive.xyz", false)
	v.SetDefault("archive.max_open_conns", 4)

	// Server defaults
	v.SetDefault("server.address", "localhost")
	v.SetDefault("server.port", 8005)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.request_timeout", "10s")

	// Rate limiter defaults
	v.SetDefault("rate_limiter.enabled", false)
	v.SetDefault("rate_limiter.requests_per_second", 1000.0)
	v.SetDefault("rate_limiter.burst_size", 100)

	// CORS defaults
	v.SetDefault("cors.allowed_origins", []string{"*"})

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Archive.Path == "" {
		return fmt.Errorf("archive path is required")
	}

	if _, err := tile.ParseFormat(c.Archive.TileExt); err != nil {
		return err
	}

	if _, err := tile.ParseScheme(c.Archive.Scheme); err != nil {
		return err
	}

	if c.Archive.MaxOpenConns <= 0 {
		return fmt.Errorf("archive max open conns must be positive")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server request timeout must be positive")
	}

	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limiter requests per second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return fmt.Errorf("rate limiter burst size must be positive")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
		if c.Metrics.Port == c.Server.Port {
			return fmt.Errorf("metrics port %d collides with server port", c.Metrics.Port)
		}
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	return nil
}

// ServiceOptions converts the archive section into tile service options.
// Callers add archive observers and recorders.
func (c *Config) ServiceOptions() (service.Options, error) {
	scheme, err := tile.ParseScheme(c.Archive.Scheme)
	if err != nil {
		return service.Options{}, err
	}
	return service.Options{
		ArchivePath: c.Archive.Path,
		TileExt:     c.Archive.TileExt,
		Scheme:      scheme,
	}, nil
}
