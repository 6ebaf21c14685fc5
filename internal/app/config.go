package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (ORDERS_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (ORDERS_DATABASE_URL or DATABASE_URL); in-memory storage when empty" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	Currency     string `default:"USD" usage:"ISO 4217 currency of all orders"`
	NumberPrefix string `default:"ORD" usage:"Prefix of human-readable order numbers" flag:"number-prefix"`
	Pricing      PricingConfig
	Promo        PromoConfig
	Stripe       StripeConfig
	AMQP         AMQPConfig
	Notify       NotifyConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// PricingConfig holds shipping and tax rules.
type PricingConfig struct {
	FreeShippingThreshold  int64         `default:"5000" usage:"Subtotal in minor units at which standard shipping is free; 0 disables" flag:"free-shipping-threshold"`
	InternationalSurcharge int64         `default:"1500" usage:"Surcharge in minor units for destinations outside the domestic country" flag:"international-surcharge"`
	DomesticCountry        string        `default:"US" usage:"ISO 3166 alpha-2 domestic country" flag:"domestic-country"`
	StandardCost           int64         `default:"999" usage:"Standard shipping cost in minor units"`
	ExpressCost            int64         `default:"1999" usage:"Express shipping cost in minor units"`
	OvernightCost          int64         `default:"3999" usage:"Overnight shipping cost in minor units"`
	PickupCost             int64         `default:"0" usage:"In-store pickup cost in minor units"`
	TaxRates               []string      `default:"CA=8.75,NY=8.875,TX=6.25" usage:"Tax rates as STATE=PERCENT or COUNTRY-STATE=PERCENT" flag:"tax-rates"`
	ReferralPercent        string        `default:"5" usage:"Referral discount percent applied when no promo code is given" flag:"referral-percent"`
	QuoteTTL               time.Duration `default:"5m" usage:"Cache lifetime of shipping base costs" flag:"quote-ttl"`
}

// PromoConfig controls the promo code prefilter.
type PromoConfig struct {
	FalsePositiveRate float64       `default:"0.001" usage:"Bloom filter false positive rate" flag:"promo-fpr"`
	Refresh           time.Duration `default:"5m" usage:"Promo filter rebuild interval, 0 disables" flag:"promo-refresh"`
}

// StripeConfig configures the payment gateway. Payments are disabled
// without a secret key.
type StripeConfig struct {
	SecretKey string        `usage:"Stripe secret key" flag:"stripe-secret-key"`
	AccountID string        `usage:"Stripe connected account" flag:"stripe-account"`
	Timeout   time.Duration `default:"10s" usage:"Stripe request timeout" flag:"stripe-timeout"`
}

// AMQPConfig configures event publishing. Events are only logged without a
// URL.
type AMQPConfig struct {
	URL        string        `usage:"AMQP broker URL" flag:"amqp-url"`
	Exchange   string        `default:"orders" usage:"Topic exchange for order events" flag:"amqp-exchange"`
	MaxRetries int           `default:"3" usage:"Publish attempts per event" flag:"amqp-retries"`
	RetryDelay time.Duration `default:"200ms" usage:"Delay between publish attempts" flag:"amqp-retry-delay"`
}

// NotifyConfig sizes the asynchronous event dispatcher.
type NotifyConfig struct {
	Workers int           `default:"4" usage:"Event delivery workers" flag:"notify-workers"`
	Buffer  int           `default:"1024" usage:"Queued events before dropping" flag:"notify-buffer"`
	Timeout time.Duration `default:"5s" usage:"Timeout of a single event delivery" flag:"notify-timeout"`
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

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERS",
		Files:     []string{"config.yaml", "/etc/orders/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values aconfig cannot check by itself.
func (c *Config) Validate() error {
	if _, err := currency.ParseISO(c.Currency); err != nil {
		return errors.Wrapf(err, "currency %q", c.Currency)
	}
	if len(c.Pricing.DomesticCountry) != 2 {
		return errors.Errorf("domestic country %q must be an ISO 3166 alpha-2 code", c.Pricing.DomesticCountry)
	}
	if _, err := c.Pricing.referralPercent(); err != nil {
		return err
	}
	if c.Promo.Refresh < 0 {
		return errors.Errorf("promo refresh interval %s must not be negative", c.Promo.Refresh)
	}
	if c.APIKeyPepper == "" {
		return errors.New("API key pepper is required: set ORDERS_API_KEY_PEPPER")
	}
	return nil
}

func (p PricingConfig) referralPercent() (decimal.Decimal, error) {
	if p.ReferralPercent == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(p.ReferralPercent)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "referral percent %q", p.ReferralPercent)
	}
	if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, errors.Errorf("referral percent %s out of range", v)
	}
	return v, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's ORDERS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
