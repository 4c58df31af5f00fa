package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (TAKEOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (TAKEOUT_DATABASE_URL or DATABASE_URL); empty keeps state in memory" flag:"database-url"`
	AMQP        AMQPConfig
	Kafka       KafkaConfig
	Payment     PaymentConfig
	Admin       AdminConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// AMQPConfig selects the broker receiving operator notifications. Without a
// URL notifications are only logged.
type AMQPConfig struct {
	URL      string `usage:"RabbitMQ URL for operator notifications" flag:"amqp-url"`
	Exchange string `default:"takeout.orders" usage:"Fanout exchange for operator notifications"`
}

// KafkaConfig configures the payment result consumer. It is disabled when no
// brokers are set.
type KafkaConfig struct {
	Brokers      []string `usage:"Kafka brokers delivering payment results"`
	PaymentTopic string   `default:"payment.results" usage:"Topic with payment results"`
	GroupID      string   `default:"takeout-api" usage:"Consumer group id"`
}

// PaymentConfig configures the payment provider. Without a base URL the
// in-process sandbox is used.
type PaymentConfig struct {
	BaseURL    string        `usage:"Payment provider base URL" flag:"payment-url"`
	MerchantID string        `usage:"Merchant id at the payment provider"`
	AppID      string        `usage:"Application id used in pay signatures"`
	Secret     string        `usage:"Shared secret for request and callback signatures"`
	Timeout    time.Duration `default:"5s" usage:"Payment provider request timeout"`
}

// AdminConfig protects the operator routes.
type AdminConfig struct {
	KeyHash string `usage:"Hex HMAC-SHA256 of the operator API key; empty disables admin auth"`
	Pepper  string `usage:"HMAC pepper for the operator API key (TAKEOUT_ADMIN_PEPPER)"`
}

// RateLimitConfig controls the per-client fixed window rate limiter.
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
		EnvPrefix: "TAKEOUT",
		Files:     []string{"config.yaml", "/etc/takeout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.Payment.BaseURL != "" && cfg.Payment.Secret == "" {
		return nil, errors.New("payment secret is required with a payment provider URL")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the TAKEOUT_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
