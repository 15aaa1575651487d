package config

import (
	// Go Internal Packages
	"os"
	"strconv"
	"strings"
	"time"

	// Local Packages
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/domain"
	errors "github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/errors"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/mpesa"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/usecase"

	// External Packages
	"github.com/joho/godotenv"
)

var DefaultConfig = []byte(`
application: "premium-payments"

logger:
  level: "info"

is_prod_mode: false

http:
  port: "8080"
  allowed_origins:
    - "http://localhost:5173"
  hmac_secret: ""
  sig_max_age_seconds: 300

sqlite:
  dsn: "./app.db"

redis:
  enabled: false
  uri: "localhost:6379"
  password: ""
  dead_letter_list: "payment-updates:dead-letter"
  lock_ttl: "60s"

mpesa:
  environment: "sandbox"
  base_url: ""
  shortcode: ""
  passkey: ""
  consumer_key: ""
  consumer_secret: ""
  callback_url: ""
  transaction_type: "CustomerPayBillOnline"
  timeout: "30s"

payments:
  flow: "at_initiation"
  account_reference: "transaction"
  duplicate_window: "2m"
  storage_timeout: "5s"
  description: "Insurance Payment"
`)

type Config struct {
	Application string   `koanf:"application"`
	Logger      Logger   `koanf:"logger"`
	IsProdMode  bool     `koanf:"is_prod_mode"`
	HTTP        HTTP     `koanf:"http"`
	SQLite      SQLite   `koanf:"sqlite"`
	Redis       Redis    `koanf:"redis"`
	Mpesa       Mpesa    `koanf:"mpesa"`
	Payments    Payments `koanf:"payments"`
}

type Logger struct {
	Level string `koanf:"level"`
}

type HTTP struct {
	Port             string   `koanf:"port"`
	AllowedOrigins   []string `koanf:"allowed_origins"`
	HMACSecret       string   `koanf:"hmac_secret"`
	SigMaxAgeSeconds int64    `koanf:"sig_max_age_seconds"`
}

type SQLite struct {
	DSN string `koanf:"dsn"`
}

type Redis struct {
	Enabled        bool          `koanf:"enabled"`
	URI            string        `koanf:"uri"`
	Password       string        `koanf:"password"`
	DeadLetterList string        `koanf:"dead_letter_list"`
	LockTTL        time.Duration `koanf:"lock_ttl"`
}

type Mpesa struct {
	Environment     string        `koanf:"environment"`
	BaseURL         string        `koanf:"base_url"`
	ShortCode       string        `koanf:"shortcode"`
	PassKey         string        `koanf:"passkey"`
	ConsumerKey     string        `koanf:"consumer_key"`
	ConsumerSecret  string        `koanf:"consumer_secret"`
	CallbackURL     string        `koanf:"callback_url"`
	TransactionType string        `koanf:"transaction_type"`
	Timeout         time.Duration `koanf:"timeout"`
}

type Payments struct {
	Flow             string        `koanf:"flow"`
	AccountReference string        `koanf:"account_reference"`
	DuplicateWindow  time.Duration `koanf:"duplicate_window"`
	StorageTimeout   time.Duration `koanf:"storage_timeout"`
	Description      string        `koanf:"description"`
}

// LoadSecrets loads a .env file when present and lets the environment
// override credentials and deployment-specific values.
func (c *Config) LoadSecrets(envFiles ...string) {
	_ = godotenv.Load(envFiles...)

	setString(&c.Mpesa.Environment, "MPESA_ENVIRONMENT")
	setString(&c.Mpesa.BaseURL, "MPESA_BASE_URL")
	setString(&c.Mpesa.ShortCode, "MPESA_SHORTCODE")
	setString(&c.Mpesa.PassKey, "MPESA_PASSKEY")
	setString(&c.Mpesa.ConsumerKey, "MPESA_CONSUMER_KEY")
	setString(&c.Mpesa.ConsumerSecret, "MPESA_CONSUMER_SECRET")
	setString(&c.Mpesa.CallbackURL, "MPESA_CALLBACK_URL")
	setString(&c.SQLite.DSN, "SQLITE_DSN")
	setString(&c.Redis.URI, "REDIS_URI")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.HTTP.HMACSecret, "HMAC_SECRET")
	setString(&c.HTTP.Port, "APP_PORT")
	setBool(&c.Redis.Enabled, "REDIS_ENABLED")
	setBool(&c.IsProdMode, "IS_PROD_MODE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	ve := errors.ValidationErrs()

	if c.Application == "" {
		ve.Add("application", "cannot be empty")
	}
	if c.Logger.Level == "" {
		ve.Add("logger.level", "cannot be empty")
	}
	if c.HTTP.Port == "" {
		ve.Add("http.port", "cannot be empty")
	}
	if c.SQLite.DSN == "" {
		ve.Add("sqlite.dsn", "cannot be empty")
	}
	if c.Redis.Enabled && c.Redis.URI == "" {
		ve.Add("redis.uri", "cannot be empty when redis is enabled")
	}
	// The lock spans the duplicate lookup, both inserts, the push and the
	// correlation write.
	if c.Redis.Enabled && c.Redis.LockTTL <= c.Mpesa.Timeout+2*c.Payments.StorageTimeout {
		ve.Add("redis.lock_ttl", "must exceed mpesa.timeout plus twice payments.storage_timeout")
	}

	switch strings.ToLower(c.Mpesa.Environment) {
	case "sandbox", "production":
	default:
		if c.Mpesa.BaseURL == "" {
			ve.Add("mpesa.environment", "must be sandbox or production")
		}
	}
	if c.Mpesa.ShortCode == "" {
		ve.Add("mpesa.shortcode", "cannot be empty")
	}
	if c.Mpesa.PassKey == "" {
		ve.Add("mpesa.passkey", "cannot be empty")
	}
	if c.Mpesa.ConsumerKey == "" {
		ve.Add("mpesa.consumer_key", "cannot be empty")
	}
	if c.Mpesa.ConsumerSecret == "" {
		ve.Add("mpesa.consumer_secret", "cannot be empty")
	}
	if c.Mpesa.CallbackURL == "" {
		ve.Add("mpesa.callback_url", "cannot be empty")
	} else if !strings.HasPrefix(c.Mpesa.CallbackURL, "https://") && c.IsProdMode {
		ve.Add("mpesa.callback_url", "must be https in prod mode")
	}

	if !domain.PaymentFlow(c.Payments.Flow).Valid() {
		ve.Add("payments.flow", "must be at_initiation or on_callback")
	}
	switch usecase.AccountReference(c.Payments.AccountReference) {
	case usecase.RefTransaction, usecase.RefPayment:
	default:
		ve.Add("payments.account_reference", "must be transaction or payment")
	}
	if c.Payments.DuplicateWindow <= 0 {
		ve.Add("payments.duplicate_window", "must be positive")
	}

	return ve.Err()
}

// MpesaConfig builds the gateway client configuration. An explicit base URL
// wins over the environment name.
func (c *Config) MpesaConfig() mpesa.Config {
	base := c.Mpesa.BaseURL
	if base == "" {
		base = mpesa.BaseURLFor(c.Mpesa.Environment)
	}
	return mpesa.Config{
		BaseURL:         base,
		ConsumerKey:     c.Mpesa.ConsumerKey,
		ConsumerSecret:  c.Mpesa.ConsumerSecret,
		ShortCode:       c.Mpesa.ShortCode,
		PassKey:         c.Mpesa.PassKey,
		CallbackURL:     c.Mpesa.CallbackURL,
		TransactionType: c.Mpesa.TransactionType,
		Timeout:         c.Mpesa.Timeout,
	}
}

func (c *Config) UsecaseOptions() usecase.Options {
	return usecase.Options{
		Flow:             domain.PaymentFlow(c.Payments.Flow),
		AccountReference: usecase.AccountReference(c.Payments.AccountReference),
		DuplicateWindow:  c.Payments.DuplicateWindow,
		StorageTimeout:   c.Payments.StorageTimeout,
		GatewayTimeout:   c.Mpesa.Timeout,
		Description:      c.Payments.Description,
	}
}
