package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Empty(t, cfg.AuthSecret)
	require.Empty(t, cfg.ManagerPIN)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Address())
	require.Equal(t, "INV", cfg.InvoicePrefix)
	require.Equal(t, 5, cfg.InvoiceMaxAttempts)
	require.Equal(t, 8*time.Hour, cfg.AccessTokenTTL)
	require.Equal(t, "sale_time", cfg.ReturnRefundPricing)
	require.Equal(t, "5 0 * * *", cfg.RolloverCron)
	require.Equal(t, "admin", cfg.BootstrapAdminUsername)
	require.Empty(t, cfg.BootstrapAdminPassword)

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_TIMEZONE", "Asia/Jakarta")
	t.Setenv("RETURN_REFUND_PRICING", " Current ")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")
	t.Setenv("DATABASE_AUTO_MIGRATE", "true")
	t.Setenv("BOOTSTRAP_ADMIN_USERNAME", " owner ")
	t.Setenv("BOOTSTRAP_ADMIN_PASSWORD", " s3cret-pass ")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Address())
	require.Equal(t, "current", cfg.ReturnRefundPricing)
	require.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	require.True(t, cfg.DatabaseAutoMigrate)
	require.Equal(t, "owner", cfg.BootstrapAdminUsername)
	require.Equal(t, "s3cret-pass", cfg.BootstrapAdminPassword)

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "Asia/Jakarta", loc.String())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"RETURN_REFUND_PRICING": "list_price",
		"INVOICE_MAX_ATTEMPTS":  "0",
		"STORE_TIMEZONE":        "Mars/Olympus",
		"ACCESS_TOKEN_TTL":      "soon",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
