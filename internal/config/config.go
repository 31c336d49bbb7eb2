package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the platform.
type Config struct {
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	DBDriver   string `envconfig:"DB_DRIVER" default:"postgres"`
	PGHost     string `envconfig:"PG_HOST" default:"localhost"`
	PGPort     string `envconfig:"PG_PORT" default:"5432"`
	PGUser     string `envconfig:"PG_USER" default:"cryptorafts"`
	PGDB       string `envconfig:"PG_DB" default:"cryptorafts"`
	PGPassword string `envconfig:"PG_PASSWORD"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"cryptorafts.db"`

	RedisEnabled  bool   `envconfig:"REDIS_ENABLED" default:"true"`
	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     string `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	RoleCacheMemoryEnabled  bool          `envconfig:"ROLE_CACHE_MEMORY_ENABLED" default:"true"`
	RoleCacheLocalEnabled   bool          `envconfig:"ROLE_CACHE_LOCAL_ENABLED" default:"true"`
	RoleCacheSessionEnabled bool          `envconfig:"ROLE_CACHE_SESSION_ENABLED" default:"true"`
	RoleCacheCookiesEnabled bool          `envconfig:"ROLE_CACHE_COOKIES_ENABLED" default:"true"`
	RoleCacheDuration       time.Duration `envconfig:"ROLE_CACHE_DURATION" default:"5m"`
	RoleCacheCookieLifetime time.Duration `envconfig:"ROLE_CACHE_COOKIE_LIFETIME" default:"720h"`
	RoleCacheSessionBytes   int           `envconfig:"ROLE_CACHE_SESSION_MAX_BYTES" default:"33554432"`

	CallCleanupGrace       time.Duration `envconfig:"CALL_CLEANUP_GRACE" default:"5s"`
	CallSystemMessageDelay time.Duration `envconfig:"CALL_SYSTEM_MESSAGE_DELAY" default:"1s"`
	CallNotifiedTTL        time.Duration `envconfig:"CALL_NOTIFIED_TTL" default:"5m"`
	CallInvalidLogTTL      time.Duration `envconfig:"CALL_INVALID_LOG_TTL" default:"1m"`

	TaskWorkers   int `envconfig:"TASK_WORKERS" default:"4"`
	TaskQueueSize int `envconfig:"TASK_QUEUE_SIZE" default:"256"`

	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"10"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot express with tags.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("jwt secret must be provided")
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.RoleCacheDuration <= 0 {
		return errors.New("ROLE_CACHE_DURATION must be positive")
	}
	if c.TaskWorkers <= 0 {
		return errors.New("TASK_WORKERS must be positive")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
