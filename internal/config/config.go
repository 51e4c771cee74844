package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	AuthSecret string `env:"AUTH_SECRET,required" validate:"required,min=32"`
	AdminToken string `env:"ADMIN_TOKEN,required" validate:"required,min=16"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RateLimitProvider     string `env:"RATE_LIMIT_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis,required_if=RateLimitProvider redis"`

	RateLimitPolicyPath string `env:"RATE_LIMIT_POLICY_PATH"`

	EmailProvider  string `env:"EMAIL_PROVIDER" envDefault:"none" validate:"omitempty,oneof=none resend"`
	EmailAPIKey    string `env:"EMAIL_API_KEY" validate:"required_if=EmailProvider resend"`
	EmailFrom      string `env:"EMAIL_FROM" validate:"required_if=EmailProvider resend,omitempty,email"`
	SupportAddress string `env:"SUPPORT_ADDRESS" validate:"omitempty,email"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	if strings.TrimSpace(c.AuthSecret) == strings.TrimSpace(c.AdminToken) {
		return fmt.Errorf("AUTH_SECRET and ADMIN_TOKEN must differ")
	}

	return nil
}
