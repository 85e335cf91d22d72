// Package config holds configuration sections shared by the binaries.
package config

import (
	"time"

	"github.com/fastprodman/farmpay/internal/infra/pgutils"
)

type PostgresConfig struct {
	DSN             string        `env:"PG_DSN"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME" envDefault:"30m"`
}

func (c PostgresConfig) Pool() pgutils.PoolOptions {
	return pgutils.PoolOptions{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

// StripeConfig configures the payment processor client. Binaries that
// talk to the processor check SecretKey themselves.
type StripeConfig struct {
	SecretKey  string `env:"STRIPE_SECRET_KEY" envDefault:""`
	Currency   string `env:"STRIPE_CURRENCY" envDefault:"usd"`
	BaseURL    string `env:"STRIPE_BASE_URL" envDefault:""`
	MaxRetries int64  `env:"STRIPE_MAX_RETRIES" envDefault:"2"`
}
