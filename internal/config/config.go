package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                int    `env:"PORT" envDefault:"8080"`
	DatabaseURL         string `env:"DATABASE_URL,required"`
	RedisURL            string `env:"REDIS_URL,required"`
	APIBaseURL          string `env:"API_BASE_URL" envDefault:""`
	AllowedOrigins      string `env:"ALLOWED_ORIGINS" envDefault:"*"`
	AckTimeoutSeconds   int    `env:"ACK_TIMEOUT_SECONDS" envDefault:"10"`
	IdleSessionHours    int    `env:"IDLE_SESSION_HOURS" envDefault:"72"`
	ClosedRetentionDays int    `env:"CLOSED_RETENTION_DAYS" envDefault:"30"`
	RateLimitPerMin     int    `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutSeconds) * time.Second
}

func (c *Config) IdleSessionWindow() time.Duration {
	return time.Duration(c.IdleSessionHours) * time.Hour
}

func (c *Config) ClosedRetention() time.Duration {
	return time.Duration(c.ClosedRetentionDays) * 24 * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.AckTimeoutSeconds <= 0 {
		return fmt.Errorf("ACK_TIMEOUT_SECONDS must be positive")
	}

	if isProduction {
		if c.AllowedOrigins == "*" {
			log.Warn().Msg("ALLOWED_ORIGINS is * in production: websocket origin checks disabled")
		}
		if c.RateLimitPerMin <= 0 {
			log.Warn().Msg("RATE_LIMIT_PER_MIN disabled in production")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
