package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"tokoledger/backend/internal/domain"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	DatabaseURL         string `envconfig:"DATABASE_URL"`
	DatabaseAutoMigrate bool   `envconfig:"DATABASE_AUTO_MIGRATE" default:"false"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	ManagerPIN     string        `envconfig:"MANAGER_PIN"`

	BootstrapAdminUsername string `envconfig:"BOOTSTRAP_ADMIN_USERNAME" default:"admin"`
	BootstrapAdminPassword string `envconfig:"BOOTSTRAP_ADMIN_PASSWORD"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	StoreTimezone       string `envconfig:"STORE_TIMEZONE" default:"UTC"`
	InvoicePrefix       string `envconfig:"INVOICE_PREFIX" default:"INV"`
	InvoiceMaxAttempts  int    `envconfig:"INVOICE_MAX_ATTEMPTS" default:"5"`
	ReturnRefundPricing string `envconfig:"RETURN_REFUND_PRICING" default:"sale_time"`
	RolloverCron        string `envconfig:"ROLLOVER_CRON" default:"5 0 * * *"`
}

// Load reads the environment. Secrets are trimmed but never defaulted;
// cmd/server refuses to start without them.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	cfg.BootstrapAdminUsername = strings.TrimSpace(cfg.BootstrapAdminUsername)
	cfg.BootstrapAdminPassword = strings.TrimSpace(cfg.BootstrapAdminPassword)
	cfg.ReturnRefundPricing = strings.ToLower(strings.TrimSpace(cfg.ReturnRefundPricing))

	if cfg.InvoiceMaxAttempts < 1 {
		return Config{}, fmt.Errorf("INVOICE_MAX_ATTEMPTS must be at least 1, got %d", cfg.InvoiceMaxAttempts)
	}
	if cfg.AccessTokenTTL <= 0 {
		return Config{}, fmt.Errorf("ACCESS_TOKEN_TTL must be positive, got %s", cfg.AccessTokenTTL)
	}
	switch cfg.ReturnRefundPricing {
	case domain.RefundPricingSaleTime, domain.RefundPricingCurrent:
	default:
		return Config{}, fmt.Errorf("RETURN_REFUND_PRICING must be %q or %q, got %q",
			domain.RefundPricingSaleTime, domain.RefundPricingCurrent, cfg.ReturnRefundPricing)
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location is the timezone that decides which calendar day a sale or
// withdrawal belongs to.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.StoreTimezone)
	if err != nil {
		return nil, fmt.Errorf("STORE_TIMEZONE %q: %w", c.StoreTimezone, err)
	}
	return loc, nil
}
