package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

/* Config holds every runtime setting of the relay
 * Values come from an optional .env file (toml) and are overridden by environment variables
 */
type Config struct {
	Port     string `mapstructure:"PORT"`
	DBDriver string `mapstructure:"DB_DRIVER"`
	DBURL    string `mapstructure:"DATABASE_URL"`

	AdminAPIKey      string `mapstructure:"ADMIN_API_KEY"`
	WebhookSecret    string `mapstructure:"WEBHOOK_SECRET"`
	RequireSignature bool   `mapstructure:"REQUIRE_SIGNATURE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	RateLimitBackend   string `mapstructure:"RATE_LIMIT_BACKEND"`
	WebhookRateLimit   int    `mapstructure:"WEBHOOK_RATE_LIMIT"`
	AdminRateLimit     int    `mapstructure:"ADMIN_RATE_LIMIT"`
	ProcessRateLimit   int    `mapstructure:"PROCESS_RATE_LIMIT"`
	JobsRateLimit      int    `mapstructure:"JOBS_RATE_LIMIT"`
	SignatureRateLimit int    `mapstructure:"SIGNATURE_RATE_LIMIT"`

	SchedulerIntervalSeconds int    `mapstructure:"SCHEDULER_INTERVAL_SECONDS"`
	AutoStartScheduler       bool   `mapstructure:"AUTO_START_SCHEDULER"`
	RetentionDays            int    `mapstructure:"RETENTION_DAYS"`
	DeliveryTimeoutSeconds   int    `mapstructure:"DELIVERY_TIMEOUT_SECONDS"`
	HandlerTimeoutSeconds    int    `mapstructure:"HANDLER_TIMEOUT_SECONDS"`
	InstanceID               string `mapstructure:"INSTANCE_ID"`

	EndpointsFile string `mapstructure:"ENDPOINTS_FILE"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// bindings lists every key so AutomaticEnv can fill them without a config file.
var bindings = []string{
	"PORT", "DB_DRIVER", "DATABASE_URL",
	"ADMIN_API_KEY", "WEBHOOK_SECRET", "REQUIRE_SIGNATURE",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"RATE_LIMIT_BACKEND", "WEBHOOK_RATE_LIMIT", "ADMIN_RATE_LIMIT",
	"PROCESS_RATE_LIMIT", "JOBS_RATE_LIMIT", "SIGNATURE_RATE_LIMIT",
	"SCHEDULER_INTERVAL_SECONDS", "AUTO_START_SCHEDULER", "RETENTION_DAYS",
	"DELIVERY_TIMEOUT_SECONDS", "HANDLER_TIMEOUT_SECONDS", "INSTANCE_ID",
	"ENDPOINTS_FILE", "LOG_LEVEL", "LOG_FORMAT",
}

// GetConfig reads ./.env (when present) and the environment.
func GetConfig() (*Config, error) {
	return Load(".")
}

// Load reads the .env file from dir and the environment into a Config.
// A missing .env file is not an error.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("toml")
	v.AddConfigPath(dir)
	v.AutomaticEnv()
	setDefaults(v)

	for _, key := range bindings {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_DRIVER", "sqlite3")
	v.SetDefault("DATABASE_URL", "file:webhook-relay.db?_busy_timeout=5000")
	v.SetDefault("RATE_LIMIT_BACKEND", "memory")
	v.SetDefault("WEBHOOK_RATE_LIMIT", 100)
	v.SetDefault("ADMIN_RATE_LIMIT", 50)
	v.SetDefault("PROCESS_RATE_LIMIT", 10)
	v.SetDefault("JOBS_RATE_LIMIT", 20)
	v.SetDefault("SIGNATURE_RATE_LIMIT", 200)
	v.SetDefault("SCHEDULER_INTERVAL_SECONDS", 30)
	v.SetDefault("RETENTION_DAYS", 30)
	v.SetDefault("DELIVERY_TIMEOUT_SECONDS", 10)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.RateLimitBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}
	if c.RequireSignature && c.WebhookSecret == "" {
		return fmt.Errorf("REQUIRE_SIGNATURE=true requires WEBHOOK_SECRET")
	}
	return nil
}

// SchedulerInterval returns the tick interval, falling back to 30s.
func (c *Config) SchedulerInterval() time.Duration {
	if c.SchedulerIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.SchedulerIntervalSeconds) * time.Second
}

// Retention returns how long processed events are kept, falling back to 30 days.
func (c *Config) Retention() time.Duration {
	days := c.RetentionDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// DeliveryTimeout returns the outgoing HTTP timeout, falling back to 10s.
func (c *Config) DeliveryTimeout() time.Duration {
	if c.DeliveryTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.DeliveryTimeoutSeconds) * time.Second
}

// HandlerTimeout returns the per-handler processing timeout; zero disables it.
func (c *Config) HandlerTimeout() time.Duration {
	if c.HandlerTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.HandlerTimeoutSeconds) * time.Second
}

// UseRedis reports whether any component needs a Redis client.
func (c *Config) UseRedis() bool {
	return c.RedisAddr != ""
}
