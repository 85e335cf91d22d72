package main

import (
	"log/slog"
	"time"

	"github.com/fastprodman/farmpay/internal/config"
)

type apiConfig struct {
	Port            uint16        `env:"APP_PORT" envDefault:"8080"`
	LogLevel        slog.Level    `env:"APP_LOG_LEVEL" envDefault:"INFO"`
	ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	Postgres        config.PostgresConfig
	Stripe          config.StripeConfig
	Auth            authConfig
	RateLimit       rateLimitConfig
}

type authConfig struct {
	Secret string `env:"JWT_SECRET"`
	Issuer string `env:"JWT_ISSUER" envDefault:"farmpay"`
}

// rateLimitConfig bounds authenticated requests; RPS 0 disables limiting.
type rateLimitConfig struct {
	RPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"50"`
	Burst int     `env:"RATE_LIMIT_BURST" envDefault:"100"`
}
