package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"payrelay/internal/domain/merchant"
)

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"
)

// DefaultProtectedPaths are the merchant-initiated routes guarded against replay.
var DefaultProtectedPaths = []string{
	"/api/v1/stk-push/initiate",
	"/api/v1/b2c/payment",
}

type AppCfg struct {
	Env      string
	Host     string
	Port     string
	LogLevel string
}

// MpesaCfg carries the Daraja credentials and callback wiring.
type MpesaCfg struct {
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	Shortcode          string
	Passkey            string
	InitiatorName      string
	InitiatorPassword  string
	SecurityCredential string
	CertPath           string
	Timeout            time.Duration

	STKCallbackURL string
	B2CResultURL   string
	B2CTimeoutURL  string
}

type SecurityCfg struct {
	Merchants      *merchant.Registry
	ProtectedPaths []string
	ReplayWindow   time.Duration
	AdminToken     string
}

type RedisCfg struct {
	Addr      string
	Password  string
	DB        int
	Channel   string
	DedupeTTL time.Duration
}

// Enabled reports whether a Redis server was configured.
func (r RedisCfg) Enabled() bool { return r.Addr != "" }

type Cfg struct {
	App      AppCfg
	Mpesa    MpesaCfg
	Security SecurityCfg
	Redis    RedisCfg
}

// Load reads .env (if present) and the process environment. It is called once at
// start-up; the returned Cfg is not mutated afterwards.
func Load() (Cfg, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "sandbox")
	v.SetDefault("APP_HOST", "0.0.0.0")
	v.SetDefault("APP_PORT", "8000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MPESA_TIMEOUT_SECONDS", 30)
	v.SetDefault("MPESA_INITIATOR_NAME", "testapi")
	v.SetDefault("REPLAY_WINDOW", "2m")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_CHANNEL", "payments:outcomes")
	v.SetDefault("CALLBACK_DEDUPE_TTL", "24h")
}

func fromViper(v *viper.Viper) (Cfg, error) {
	env := strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV")))

	baseURL := strings.TrimSuffix(strings.TrimSpace(v.GetString("MPESA_BASE_URL")), "/")
	if baseURL == "" {
		baseURL = sandboxBaseURL
		if env == "production" {
			baseURL = productionBaseURL
		}
	}

	registry, err := merchant.ParseRegistry(v.GetString("MERCHANTS"))
	if err != nil {
		return Cfg{}, fmt.Errorf("parse MERCHANTS: %w", err)
	}

	protected := parseList(v.GetString("PROTECTED_PATHS"))
	if len(protected) == 0 {
		protected = append([]string(nil), DefaultProtectedPaths...)
	}

	callbackBase := strings.TrimSuffix(strings.TrimSpace(v.GetString("CALLBACK_BASE_URL")), "/")

	cfg := Cfg{
		App: AppCfg{
			Env:      env,
			Host:     v.GetString("APP_HOST"),
			Port:     v.GetString("APP_PORT"),
			LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),
		},
		Mpesa: MpesaCfg{
			BaseURL:            baseURL,
			ConsumerKey:        strings.TrimSpace(v.GetString("MPESA_CONSUMER_KEY")),
			ConsumerSecret:     strings.TrimSpace(v.GetString("MPESA_CONSUMER_SECRET")),
			Shortcode:          strings.TrimSpace(v.GetString("MPESA_SHORTCODE")),
			Passkey:            v.GetString("MPESA_PASSKEY"),
			InitiatorName:      v.GetString("MPESA_INITIATOR_NAME"),
			InitiatorPassword:  v.GetString("MPESA_INITIATOR_PASSWORD"),
			SecurityCredential: strings.TrimSpace(v.GetString("MPESA_SECURITY_CREDENTIAL")),
			CertPath:           v.GetString("MPESA_CERT_PATH"),
			Timeout:            time.Duration(v.GetInt("MPESA_TIMEOUT_SECONDS")) * time.Second,
			STKCallbackURL:     orDerived(v.GetString("STK_CALLBACK_URL"), callbackBase, "/api/v1/stk-push/callback"),
			B2CResultURL:       orDerived(v.GetString("B2C_RESULT_URL"), callbackBase, "/api/v1/b2c/result"),
			B2CTimeoutURL:      orDerived(v.GetString("B2C_TIMEOUT_URL"), callbackBase, "/api/v1/b2c/timeout"),
		},
		Security: SecurityCfg{
			Merchants:      registry,
			ProtectedPaths: protected,
			ReplayWindow:   v.GetDuration("REPLAY_WINDOW"),
			AdminToken:     strings.TrimSpace(v.GetString("ADMIN_TOKEN")),
		},
		Redis: RedisCfg{
			Addr:      strings.TrimSpace(v.GetString("REDIS_ADDR")),
			Password:  v.GetString("REDIS_PASSWORD"),
			DB:        v.GetInt("REDIS_DB"),
			Channel:   v.GetString("REDIS_CHANNEL"),
			DedupeTTL: v.GetDuration("CALLBACK_DEDUPE_TTL"),
		},
	}

	if cfg.Mpesa.Timeout <= 0 {
		cfg.Mpesa.Timeout = 30 * time.Second
	}
	if cfg.Security.ReplayWindow <= 0 {
		cfg.Security.ReplayWindow = 2 * time.Minute
	}
	return cfg, nil
}

// Validate fails fast on settings without which no provider call can succeed.
func (c Cfg) Validate() error {
	var missing []string
	if c.Mpesa.ConsumerKey == "" {
		missing = append(missing, "MPESA_CONSUMER_KEY")
	}
	if c.Mpesa.ConsumerSecret == "" {
		missing = append(missing, "MPESA_CONSUMER_SECRET")
	}
	if c.Mpesa.Shortcode == "" {
		missing = append(missing, "MPESA_SHORTCODE")
	}
	if len(missing) > 0 {
		return errors.New("missing required settings: " + strings.Join(missing, ", "))
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Cfg) Addr() string {
	return c.App.Host + ":" + c.App.Port
}

func orDerived(explicit, base, path string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	if base == "" {
		return ""
	}
	return base + path
}

// parseList splits a comma-separated value, dropping blanks.
func parseList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
