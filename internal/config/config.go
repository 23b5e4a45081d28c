// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// RedisURL is the shared backend for quota counters and the response
	// cache. When empty or unreachable, both degrade to in-process storage.
	RedisURL string `env:"REDIS_URL"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`

	UpstageAPIKey  string `env:"UPSTAGE_API_KEY"`
	UpstageBaseURL string `env:"UPSTAGE_BASE_URL" envDefault:"https://api.upstage.ai/v1/solar"`
	UpstageModel   string `env:"UPSTAGE_MODEL" envDefault:"solar-pro"`

	// Provider routing
	PrimaryProvider    string        `env:"AI_PRIMARY_PROVIDER" envDefault:"openai"`
	FallbackEnabled    bool          `env:"AI_FALLBACK_ENABLED" envDefault:"true"`
	FallbackMaxRetries int           `env:"AI_FALLBACK_MAX_RETRIES" envDefault:"2"`
	FallbackRetryDelay time.Duration `env:"AI_FALLBACK_RETRY_DELAY" envDefault:"1s"`
	GenerateTimeout    time.Duration `env:"AI_GENERATE_TIMEOUT" envDefault:"60s"`

	// Quotas
	RateLimitPerMin int `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`
	RateLimitPerDay int `env:"RATE_LIMIT_PER_DAY" envDefault:"500"`
	// QuotaLocalHighWater triggers a stale-day sweep of the in-process
	// counter table; QuotaLocalMaxEntries is the hard cap after the sweep.
	QuotaLocalHighWater  int `env:"QUOTA_LOCAL_HIGH_WATER" envDefault:"8000"`
	QuotaLocalMaxEntries int `env:"QUOTA_LOCAL_MAX_ENTRIES" envDefault:"10000"`

	// Response cache
	CacheTTL            time.Duration `env:"CACHE_TTL" envDefault:"1h"`
	CacheLocalCapacity  int           `env:"CACHE_LOCAL_CAPACITY" envDefault:"1000"`
	StoreTimeout        time.Duration `env:"STORE_TIMEOUT" envDefault:"2s"`
	StoreConnectTimeout time.Duration `env:"STORE_CONNECT_TIMEOUT" envDefault:"2s"`

	// Batch execution
	BatchMaxSize       int `env:"BATCH_MAX_SIZE" envDefault:"100"`
	BatchMaxConcurrent int `env:"BATCH_MAX_CONCURRENT" envDefault:"3"`

	// AI request backoff
	AIBackoffMaxElapsedTime  time.Duration `env:"AI_BACKOFF_MAX_ELAPSED_TIME" envDefault:"90s"`
	AIBackoffInitialInterval time.Duration `env:"AI_BACKOFF_INITIAL_INTERVAL" envDefault:"2s"`
	AIBackoffMaxInterval     time.Duration `env:"AI_BACKOFF_MAX_INTERVAL" envDefault:"20s"`
	AIBackoffMultiplier      float64       `env:"AI_BACKOFF_MULTIPLIER" envDefault:"1.5"`

	// HTTP server
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"90s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ai-chat-generator"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// GetAIBackoffConfig returns backoff configuration appropriate for the
// current environment. Tests use much shorter intervals.
func (c Config) GetAIBackoffConfig() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return 5 * time.Second, 100 * time.Millisecond, 1 * time.Second, 2.0
	}
	return c.AIBackoffMaxElapsedTime, c.AIBackoffInitialInterval, c.AIBackoffMaxInterval, c.AIBackoffMultiplier
}
