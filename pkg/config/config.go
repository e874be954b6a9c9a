// Package config loads the settings shared by the server, the worker and taskctl.
//
// Values come from defaults, an optional YAML file and LIBRARYTASKS_* environment
// variables, in increasing order of precedence. Nested keys map to environment
// variables with underscores, e.g. redis.addr is LIBRARYTASKS_REDIS_ADDR.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "LIBRARYTASKS"

// Transports.
const (
	TransportRedis = "redis"
	TransportNATS  = "nats"
)

// Config holds all configuration for the application.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	Transport string         `mapstructure:"transport" validate:"required,oneof=redis nats"`
	Log       LogConfig      `mapstructure:"log"`
	Server    ServerConfig   `mapstructure:"server"`
	Worker    WorkerConfig   `mapstructure:"worker"`
	Redis     RedisConfig    `mapstructure:"redis"`
	NATS      NATSConfig     `mapstructure:"nats"`
	Database  DatabaseConfig `mapstructure:"database"`
	Schedule  ScheduleConfig `mapstructure:"schedule"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`
	// APIKey protects the HTTP API. Empty disables authentication.
	APIKey string `mapstructure:"api_key"`
}

type WorkerConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr" validate:"required"`
	MaxRetries  int    `mapstructure:"max_retries" validate:"gte=0"`
	RateLimit   int    `mapstructure:"rate_limit" validate:"gt=0"`
	RateBurst   int    `mapstructure:"rate_burst" validate:"gtefield=RateLimit"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr" validate:"required,hostname_port"`
	Queue    string        `mapstructure:"queue" validate:"required"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl" validate:"gt=0"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject" validate:"required"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type ScheduleConfig struct {
	// ScanLibraries is a cron spec for the periodic scan of every library. Empty disables it.
	ScanLibraries string `mapstructure:"scan_libraries"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport", TransportRedis)
	v.SetDefault("log.level", "info")
	v.SetDefault("server.listen_addr", ":8081")
	v.SetDefault("server.api_key", "")
	v.SetDefault("worker.metrics_addr", ":8080")
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.rate_limit", 10)
	v.SetDefault("worker.rate_burst", 20)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.queue", "queue:tasks")
	v.SetDefault("redis.dedup_ttl", "1h")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "library.tasks")
	v.SetDefault("database.url", "")
	v.SetDefault("schedule.scan_libraries", "")
}

// Load reads the configuration. path names a config file; when empty, config.yaml
// is looked up in ./configs and the working directory and may be absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		cfg := sl.Current().Interface().(Config)
		if cfg.Transport == TransportNATS && cfg.NATS.URL == "" {
			sl.ReportError(cfg.NATS.URL, "NATS.URL", "URL", "required_with_nats", "")
		}
	}, Config{})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
