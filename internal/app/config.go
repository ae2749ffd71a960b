package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Payment providers.
const (
	ProviderStripe    = "stripe"
	ProviderSimulated = "simulated"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (ESCROW_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (ESCROW_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (ESCROW_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Storage      StorageConfig
	Payment      PaymentConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// StorageConfig selects where orders live. The memory driver keeps
// everything in process and seeds demo data on start.
type StorageConfig struct {
	Driver string `default:"postgres" usage:"Storage driver: postgres or memory"`
}

// PaymentConfig selects the payment processor.
type PaymentConfig struct {
	Provider        string        `default:"stripe" usage:"Payment provider: stripe or simulated"`
	StripeSecretKey string        `usage:"Stripe secret API key" flag:"stripe-secret-key"`
	Currency        string        `default:"eur" usage:"ISO currency of payment intents"`
	Timeout         time.Duration `default:"10s" usage:"Deadline for a single payment processor call"`
}

// RateLimitConfig controls the per-caller fixed window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads a .env file if present, then configuration from
// environment variables, flags and YAML config files.
func LoadConfig() (*Config, error) {
	return loadConfig(false)
}

func loadConfig(skipFlags bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ESCROW",
		SkipFlags: skipFlags,
		Files:     []string{"config.yaml", "/etc/escrow/config.yaml"},
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

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's ESCROW_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set ESCROW_DATABASE_URL or DATABASE_URL")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Payment.Provider {
	case ProviderStripe:
		if c.Payment.StripeSecretKey == "" {
			return errors.New("stripe secret key is required: set ESCROW_PAYMENT_STRIPE_SECRET_KEY")
		}
	case ProviderSimulated:
	default:
		return errors.Errorf("unknown payment provider %q", c.Payment.Provider)
	}

	if c.Payment.Timeout <= 0 {
		return errors.New("payment timeout must be positive")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}
