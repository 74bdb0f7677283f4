package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (MERCADO_ prefix), flags, or YAML config files.
type Config struct {
	Addr           string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL    string `usage:"PostgreSQL connection URL (MERCADO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL       string `default:"redis://localhost:6379/0" usage:"Redis URL for device carts (MERCADO_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	APIKeyPepper   string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	TokenSecret    string `usage:"HS256 secret of buyer access tokens" flag:"token-secret"`
	PaymentBaseURL string `default:"https://pay.mercadochaco.com/checkout/" usage:"Payment page base URL; the order id is appended" flag:"payment-base-url"`
	ImageBaseURL   string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`
	Session        SessionConfig
	RateLimit      RateLimitConfig
	CORS           CORSConfig
	Graceful       GracefulConfig
}

// SessionConfig controls device cart sessions.
type SessionConfig struct {
	IdleTTL      time.Duration `default:"30m" usage:"Evict device sessions idle for this long" flag:"session-idle-ttl"`
	LocalCartTTL time.Duration `default:"720h" usage:"Expiry of anonymous device carts in Redis" flag:"local-cart-ttl"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MERCADO",
		Files:     []string{"config.yaml", "/etc/mercado/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set MERCADO_DATABASE_URL or DATABASE_URL")
	case c.APIKeyPepper == "":
		return errors.New("api key pepper is required: set MERCADO_API_KEY_PEPPER")
	case c.TokenSecret == "":
		return errors.New("token secret is required: set MERCADO_TOKEN_SECRET")
	case c.Session.IdleTTL <= 0:
		return errors.Errorf("session idle ttl must be positive, got %s", c.Session.IdleTTL)
	case c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0:
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's MERCADO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" && os.Getenv("MERCADO_REDIS_URL") == "" {
		c.RedisURL = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
