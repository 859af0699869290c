package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func newViper(values map[string]any) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestFromViperDefaults(t *testing.T) {
	cfg, err := fromViper(newViper(nil))
	require.NoError(t, err)

	require.Equal(t, "sandbox", cfg.App.Env)
	require.Equal(t, "0.0.0.0:8000", cfg.Addr())
	require.Equal(t, sandboxBaseURL, cfg.Mpesa.BaseURL)
	require.Equal(t, 30*time.Second, cfg.Mpesa.Timeout)
	require.Equal(t, 2*time.Minute, cfg.Security.ReplayWindow)
	require.Equal(t, DefaultProtectedPaths, cfg.Security.ProtectedPaths)
	require.Equal(t, 24*time.Hour, cfg.Redis.DedupeTTL)
	require.False(t, cfg.Redis.Enabled())
	require.Zero(t, cfg.Security.Merchants.Len())
}

func TestFromViperProductionAndOverrides(t *testing.T) {
	cfg, err := fromViper(newViper(map[string]any{
		"APP_ENV":               "production",
		"MPESA_TIMEOUT_SECONDS": 5,
		"MERCHANTS":             "merchant_123=https://shop.example.com, merchant_456=https://store.test.io|http://localhost:3000",
		"PROTECTED_PATHS":       "/api/v1/b2c/payment",
		"CALLBACK_BASE_URL":     "https://hooks.example.com/",
		"B2C_RESULT_URL":        "https://other.example.com/result",
		"REDIS_ADDR":            "localhost:6379",
	}))
	require.NoError(t, err)

	require.Equal(t, productionBaseURL, cfg.Mpesa.BaseURL)
	require.Equal(t, 5*time.Second, cfg.Mpesa.Timeout)
	require.Equal(t, []string{"/api/v1/b2c/payment"}, cfg.Security.ProtectedPaths)
	require.Equal(t, "https://hooks.example.com/api/v1/stk-push/callback", cfg.Mpesa.STKCallbackURL)
	require.Equal(t, "https://other.example.com/result", cfg.Mpesa.B2CResultURL)
	require.Equal(t, "https://hooks.example.com/api/v1/b2c/timeout", cfg.Mpesa.B2CTimeoutURL)
	require.True(t, cfg.Redis.Enabled())

	m, ok := cfg.Security.Merchants.Lookup("merchant_456")
	require.True(t, ok)
	require.Equal(t, []string{"https://store.test.io", "http://localhost:3000"}, m.AllowedOrigins)
}

func TestFromViperRejectsBadMerchants(t *testing.T) {
	_, err := fromViper(newViper(map[string]any{"MERCHANTS": "=https://nokey.example.com"}))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := fromViper(newViper(nil))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "MPESA_CONSUMER_KEY")
	require.Contains(t, err.Error(), "MPESA_SHORTCODE")

	cfg.Mpesa.ConsumerKey = "key"
	cfg.Mpesa.ConsumerSecret = "secret"
	cfg.Mpesa.Shortcode = "174379"
	require.NoError(t, cfg.Validate())
}
