package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	AppPort string `env:"APP_PORT" envDefault:"3000"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"redis"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisHost     string `env:"REDIS_HOST"`
	RedisPort     string `env:"REDIS_PORT" envDefault:"6379"`
	RedisUsername string `env:"REDIS_USERNAME"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	DatabaseDSN string `env:"DATABASE_DSN"`

	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"1h"`
	StoreTimeout   time.Duration `env:"STORE_TIMEOUT" envDefault:"2s"`
	SpinMaxRetries int           `env:"SPIN_MAX_RETRIES" envDefault:"8"`

	CookieName   string `env:"COOKIE_NAME" envDefault:"session_id"`
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"false"`

	// BalanceOverrideEnabled gates PUT /balance. Off unless an operator turns it on.
	BalanceOverrideEnabled bool   `env:"BALANCE_OVERRIDE_ENABLED" envDefault:"false"`
	OperatorKeyHash        string `env:"OPERATOR_KEY_HASH"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the process environment. REDIS_HOST/REDIS_PORT, when present,
// take precedence over REDIS_ADDR.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}

	if cfg.RedisHost != "" {
		cfg.RedisAddr = net.JoinHostPort(cfg.RedisHost, cfg.RedisPort)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
		}
	case BackendPostgres:
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN is required for the postgres backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.SpinMaxRetries < 1 {
		errs = append(errs, errors.New("SPIN_MAX_RETRIES must be at least 1"))
	}
	if c.CookieName == "" {
		errs = append(errs, errors.New("COOKIE_NAME must not be empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
