package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`

	// Stores
	RedisURL    string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:"host=localhost user=courier password=courier dbname=courier port=5432 sslmode=disable"`

	// Aramex
	AramexUsername           string `envconfig:"ARAMEX_USERNAME"`
	AramexPassword           string `envconfig:"ARAMEX_PASSWORD"`
	AramexAccountNumber      string `envconfig:"ARAMEX_ACCOUNT_NUMBER"`
	AramexAccountPin         string `envconfig:"ARAMEX_ACCOUNT_PIN" default:"000000"`
	AramexAccountEntity      string `envconfig:"ARAMEX_ACCOUNT_ENTITY" default:"RUH"`
	AramexAccountCountryCode string `envconfig:"ARAMEX_ACCOUNT_COUNTRY_CODE" default:"SA"`
	AramexBaseURL            string `envconfig:"ARAMEX_BASE_URL" default:"https://ws.aramex.net/ShippingAPI.V2"`
	AramexEnabled            bool   `envconfig:"ARAMEX_ENABLED" default:"true"`
	AramexUseMock            bool   `envconfig:"ARAMEX_USE_MOCK" default:"false"`
	AramexWebhookSecret      string `envconfig:"ARAMEX_WEBHOOK_SECRET"`

	// Circuit breaker
	BreakerFailureThreshold int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerOpenTimeout      time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"60s"`
	BreakerSuccessThreshold int           `envconfig:"BREAKER_SUCCESS_THRESHOLD" default:"2"`

	// Outbound HTTP
	HTTPMaxAttempts int           `envconfig:"HTTP_MAX_ATTEMPTS" default:"3"`
	HTTPBaseDelay   time.Duration `envconfig:"HTTP_BASE_DELAY" default:"1s"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`

	// Tracking cache
	TrackingCacheTerminalTTL time.Duration `envconfig:"TRACKING_CACHE_TERMINAL_TTL" default:"1h"`
	TrackingCacheActiveTTL   time.Duration `envconfig:"TRACKING_CACHE_ACTIVE_TTL" default:"5m"`

	// Webhooks
	WebhookMaxAge       time.Duration `envconfig:"WEBHOOK_MAX_AGE" default:"5m"`
	WebhookReplayWindow time.Duration `envconfig:"WEBHOOK_REPLAY_WINDOW" default:"10m"`

	// Background refresh of active shipments
	RefresherEnabled  bool   `envconfig:"REFRESHER_ENABLED" default:"true"`
	RefresherSchedule string `envconfig:"REFRESHER_SCHEDULE" default:"*/10 * * * *"`
	RefresherBatch    int    `envconfig:"REFRESHER_BATCH" default:"100"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"true"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"courier-gateway"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.Bool("aramex.enabled", c.AramexEnabled),
		attribute.Bool("aramex.mock", c.AramexUseMock),
	}
}
