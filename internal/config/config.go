package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the API process.
type Config struct {
	Address     string `env:"APP_ADDRESS" envDefault:":8080"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL    string `env:"DATABASE_URL"`
	DBMaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`

	JWTSecret string        `env:"JWT_SECRET"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	Payment Payment

	StoreName       string        `env:"STORE_NAME" envDefault:"Shoe Store"`
	PendingOrderTTL time.Duration `env:"PENDING_ORDER_TTL" envDefault:"30m"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"storefront.orders"`
}

// Payment configures the payment provider adapter.
type Payment struct {
	KeyID         string        `env:"PAYMENT_KEY_ID"`
	KeySecret     string        `env:"PAYMENT_KEY_SECRET"`
	WebhookSecret string        `env:"PAYMENT_WEBHOOK_SECRET"`
	BaseURL       string        `env:"PAYMENT_BASE_URL" envDefault:"https://api.razorpay.com"`
	Timeout       time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"10s"`
	Currency      string        `env:"PAYMENT_CURRENCY" envDefault:"INR"`
}

// Load reads an optional .env file, the process environment and finally
// command line flags, in increasing order of precedence.
func Load(args []string) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("api", flag.ContinueOnError)
	fs.StringVar(&cfg.Address, "a", cfg.Address, "{host:port} to listen on")
	fs.StringVar(&cfg.DatabaseURL, "d", cfg.DatabaseURL, "Postgres connection string")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.DurationVar(&cfg.PendingOrderTTL, "ttl", cfg.PendingOrderTTL, "age after which unpaid orders are cancelled")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Payment.KeyID == "" {
		missing = append(missing, "PAYMENT_KEY_ID")
	}
	if c.Payment.KeySecret == "" {
		missing = append(missing, "PAYMENT_KEY_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.Payment.Timeout <= 0 {
		return errors.New("PAYMENT_TIMEOUT must be positive")
	}
	if c.SweepInterval <= 0 || c.PendingOrderTTL <= 0 {
		return errors.New("SWEEP_INTERVAL and PENDING_ORDER_TTL must be positive")
	}
	return nil
}
