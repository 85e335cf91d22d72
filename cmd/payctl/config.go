package main

import (
	"log/slog"
	"time"

	"github.com/fastprodman/farmpay/internal/config"
)

type payctlConfig struct {
	APIURL          string        `env:"FARMPAY_API_URL" envDefault:"http://localhost:8080"`
	CredentialsPath string        `env:"FARMPAY_CREDENTIALS" envDefault:""`
	Timeout         time.Duration `env:"FARMPAY_TIMEOUT" envDefault:"8s"`
	CacheTTL        time.Duration `env:"FARMPAY_CACHE_TTL" envDefault:"2s"`
	LogLevel        slog.Level    `env:"FARMPAY_LOG_LEVEL" envDefault:"WARN"`
	Stripe          config.StripeConfig
	// JWTSecret is only needed by `payctl token` for local development.
	JWTSecret string `env:"JWT_SECRET" envDefault:""`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"farmpay"`
}
