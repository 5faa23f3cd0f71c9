package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App     AppConfig
	Redis   RedisConfig
	JWT     JWTConfig
	Backend BackendConfig
	Cart    CartConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Backend.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Cart.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env             string        `envconfig:"CARTSYNC_APP_ENV" required:"true"`
	Port            string        `envconfig:"CARTSYNC_APP_PORT" default:"8080"`
	LogLevel        string        `envconfig:"CARTSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack    bool          `envconfig:"CARTSYNC_LOG_WARN_STACK" default:"false"`
	ShutdownTimeout time.Duration `envconfig:"CARTSYNC_SHUTDOWN_TIMEOUT" default:"15s"`
	CORSOrigins     []string      `envconfig:"CARTSYNC_CORS_ORIGINS" default:"http://localhost:3000,http://localhost:8081"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type RedisConfig struct {
	URL            string        `envconfig:"CARTSYNC_REDIS_URL"`
	Address        string        `envconfig:"CARTSYNC_REDIS_ADDR"`
	Password       string        `envconfig:"CARTSYNC_REDIS_PASSWORD"`
	DB             int           `envconfig:"CARTSYNC_REDIS_DB" default:"0"`
	PoolSize       int           `envconfig:"CARTSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns   int           `envconfig:"CARTSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout    time.Duration `envconfig:"CARTSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout    time.Duration `envconfig:"CARTSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout   time.Duration `envconfig:"CARTSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
	UserIDTTL      time.Duration `envconfig:"CARTSYNC_REDIS_USER_ID_TTL" default:"24h"`
	IdempotencyTTL time.Duration `envconfig:"CARTSYNC_REDIS_IDEMPOTENCY_TTL" default:"24h"`
}

// Enabled reports whether enough settings are present to dial Redis.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"CARTSYNC_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CARTSYNC_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CARTSYNC_JWT_EXPIRATION_MINUTES" default:"60"`
}

// BackendConfig points at the remote cart REST service.
type BackendConfig struct {
	BaseURL            string        `envconfig:"CARTSYNC_BACKEND_BASE_URL" required:"true"`
	APIKey             string        `envconfig:"CARTSYNC_BACKEND_API_KEY"`
	HTTPTimeout        time.Duration `envconfig:"CARTSYNC_BACKEND_HTTP_TIMEOUT" default:"10s"`
	BreakerMaxFailures uint32        `envconfig:"CARTSYNC_BACKEND_BREAKER_MAX_FAILURES" default:"5"`
	BreakerOpenTimeout time.Duration `envconfig:"CARTSYNC_BACKEND_BREAKER_OPEN_TIMEOUT" default:"30s"`
}

func (b BackendConfig) validate() error {
	parsed, err := url.Parse(strings.TrimSpace(b.BaseURL))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", EnvBackendBaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) url", EnvBackendBaseURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s is missing a host", EnvBackendBaseURL)
	}
	return nil
}

// CartConfig tunes the per-session cart mirror.
type CartConfig struct {
	DebounceWindow time.Duration `envconfig:"CARTSYNC_CART_DEBOUNCE_WINDOW" default:"800ms"`
	RemoteTimeout  time.Duration `envconfig:"CARTSYNC_CART_REMOTE_TIMEOUT" default:"8s"`
	StaleAfter     time.Duration `envconfig:"CARTSYNC_CART_STALE_AFTER" default:"30s"`
	DeliveryFee    string        `envconfig:"CARTSYNC_CART_DELIVERY_FEE" default:"0"`
	FallbackPrice  string        `envconfig:"CARTSYNC_CART_FALLBACK_PRICE" default:"150"`
	MediaBaseURL   string        `envconfig:"CARTSYNC_CART_MEDIA_BASE_URL"`
}

// DeliveryFeeAmount parses the configured delivery fee.
func (c CartConfig) DeliveryFeeAmount() decimal.Decimal {
	fee, err := decimal.NewFromString(strings.TrimSpace(c.DeliveryFee))
	if err != nil {
		return decimal.Zero
	}
	return fee
}

// FallbackPriceAmount parses the configured last-resort unit price.
func (c CartConfig) FallbackPriceAmount() decimal.Decimal {
	price, err := decimal.NewFromString(strings.TrimSpace(c.FallbackPrice))
	if err != nil {
		return decimal.Zero
	}
	return price
}

func (c CartConfig) validate() error {
	if c.DebounceWindow <= 0 {
		return fmt.Errorf("%s must be positive", EnvCartDebounceWindow)
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvCartRemoteTimeout)
	}
	fee, err := decimal.NewFromString(strings.TrimSpace(c.DeliveryFee))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", EnvCartDeliveryFee, err)
	}
	if fee.IsNegative() {
		return fmt.Errorf("%s cannot be negative", EnvCartDeliveryFee)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(c.FallbackPrice))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", EnvCartFallbackPrice, err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%s must be positive", EnvCartFallbackPrice)
	}
	return nil
}
