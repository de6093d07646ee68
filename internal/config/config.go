// Package config provides configuration management for the lead scanner.
// It loads configuration from environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Pricing   PricingConfig
	Freshness FreshnessConfig
	Guard     GuardConfig
	Jobs      JobsConfig
	Provider  ProviderConfig
	Zone      ZoneConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string
	Host           string
	EmbedWorker    bool
	InternalAPIKey string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres       PostgresConfig
	Redis          RedisConfig
	MigrationsPath string
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by golang-migrate
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// PricingConfig is the flat credit price table
type PricingConfig struct {
	CacheFresh          int
	CacheStale          int
	ScrapingBasic       int
	ScrapingWithContact int
	EnrichmentPerItem   int
	ExportPremium       int
}

// FreshnessConfig holds the cache age thresholds
type FreshnessConfig struct {
	FreshAge      time.Duration
	StaleAge      time.Duration
	PageSize      int
	CheckCacheTTL time.Duration
}

// GuardConfig holds duplicate-search guard settings
type GuardConfig struct {
	Cooldown time.Duration
}

// JobsConfig holds scrape job processing settings
type JobsConfig struct {
	Workers         int
	QueueKey        string
	SweepInterval   time.Duration
	StuckAfter      time.Duration
	RefundOnFailure bool
	JobTimeout      time.Duration
	// AbandonAfter is how long a job may stay processing before the
	// sweeper fails it
	AbandonAfter  time.Duration
	ShutdownGrace time.Duration
}

// ProviderConfig holds listings provider configuration
type ProviderConfig struct {
	Name          string
	BaseURL       string
	APIKey        string
	MaxResults    int
	Timeout       time.Duration
	CallsPerMin   int
	FailureBudget int
}

// ZoneConfig holds map-drawn area retrieval settings
type ZoneConfig struct {
	Endpoints      []string
	ChunkDegrees   float64
	BatchSize      int
	MinSideMetres  float64
	WarnAreaKm2    float64
	MaxAreaKm2     float64
	AttemptTimeout time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
	EndpointRPS    float64
}

// RateLimitConfig holds per-plan request rate limits (requests per second)
type RateLimitConfig struct {
	FreeRPS       int
	StarterRPS    int
	ProRPS        int
	EnterpriseRPS int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			EmbedWorker:    getEnvAsBool("SERVER_EMBED_WORKER", false),
			InternalAPIKey: getEnv("INTERNAL_API_KEY", ""),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "lead_scanner"),
				User:           getEnv("POSTGRES_USER", "scanner"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Pricing: PricingConfig{
			CacheFresh:          getEnvAsInt("PRICE_CACHE_FRESH", 2),
			CacheStale:          getEnvAsInt("PRICE_CACHE_STALE", 15),
			ScrapingBasic:       getEnvAsInt("PRICE_SCRAPING_BASIC", 30),
			ScrapingWithContact: getEnvAsInt("PRICE_SCRAPING_CONTACT", 50),
			EnrichmentPerItem:   getEnvAsInt("PRICE_ENRICHMENT_PER_ITEM", 1),
			ExportPremium:       getEnvAsInt("PRICE_EXPORT_PREMIUM", 10),
		},
		Freshness: FreshnessConfig{
			FreshAge:      getEnvAsDuration("CACHE_FRESH_AGE", 7*24*time.Hour),
			StaleAge:      getEnvAsDuration("CACHE_STALE_AGE", 30*24*time.Hour),
			PageSize:      getEnvAsInt("CACHE_PAGE_SIZE", 100),
			CheckCacheTTL: getEnvAsDuration("CACHE_CHECK_TTL", 30*time.Second),
		},
		Guard: GuardConfig{
			Cooldown: getEnvAsDuration("DUPLICATE_COOLDOWN", 10*time.Minute),
		},
		Jobs: JobsConfig{
			Workers:         getEnvAsInt("JOBS_WORKERS", 4),
			QueueKey:        getEnv("JOBS_QUEUE_KEY", "scrape_jobs"),
			SweepInterval:   getEnvAsDuration("JOBS_SWEEP_INTERVAL", time.Minute),
			StuckAfter:      getEnvAsDuration("JOBS_STUCK_AFTER", 2*time.Minute),
			RefundOnFailure: getEnvAsBool("JOBS_REFUND_ON_FAILURE", false),
			JobTimeout:      getEnvAsDuration("JOBS_TIMEOUT", 5*time.Minute),
			AbandonAfter:    getEnvAsDuration("JOBS_ABANDON_AFTER", 0),
			ShutdownGrace:   getEnvAsDuration("JOBS_SHUTDOWN_GRACE", time.Minute),
		},
		Provider: ProviderConfig{
			Name:          getEnv("PROVIDER_NAME", "places"),
			BaseURL:       getEnv("PROVIDER_BASE_URL", "https://maps.googleapis.com/maps/api/place"),
			APIKey:        getEnv("PROVIDER_API_KEY", ""),
			MaxResults:    getEnvAsInt("PROVIDER_MAX_RESULTS", 60),
			Timeout:       getEnvAsDuration("PROVIDER_TIMEOUT", 20*time.Second),
			CallsPerMin:   getEnvAsInt("PROVIDER_CALLS_PER_MINUTE", 120),
			FailureBudget: getEnvAsInt("PROVIDER_CIRCUIT_MAX_FAILURES", 5),
		},
		Zone: ZoneConfig{
			Endpoints: getEnvAsSlice("ZONE_ENDPOINTS", []string{
				"https://overpass-api.de/api/interpreter",
				"https://overpass.kumi.systems/api/interpreter",
				"https://overpass.private.coffee/api/interpreter",
			}),
			ChunkDegrees:   getEnvAsFloat("ZONE_CHUNK_DEGREES", 0.018),
			BatchSize:      getEnvAsInt("ZONE_BATCH_SIZE", 3),
			MinSideMetres:  getEnvAsFloat("ZONE_MIN_SIDE_METRES", 100),
			WarnAreaKm2:    getEnvAsFloat("ZONE_WARN_AREA_KM2", 25),
			MaxAreaKm2:     getEnvAsFloat("ZONE_MAX_AREA_KM2", 400),
			AttemptTimeout: getEnvAsDuration("ZONE_ATTEMPT_TIMEOUT", 25*time.Second),
			MaxAttempts:    getEnvAsInt("ZONE_MAX_ATTEMPTS", 3),
			BaseBackoff:    getEnvAsDuration("ZONE_BASE_BACKOFF", time.Second),
			EndpointRPS:    getEnvAsFloat("ZONE_ENDPOINT_RPS", 2),
		},
		RateLimit: RateLimitConfig{
			FreeRPS:       getEnvAsInt("RATE_LIMIT_FREE", 2),
			StarterRPS:    getEnvAsInt("RATE_LIMIT_STARTER", 5),
			ProRPS:        getEnvAsInt("RATE_LIMIT_PRO", 10),
			EnterpriseRPS: getEnvAsInt("RATE_LIMIT_ENTERPRISE", 25),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if config.Jobs.AbandonAfter == 0 {
		config.Jobs.AbandonAfter = config.Jobs.JobTimeout + time.Minute
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Freshness.FreshAge <= 0 || c.Freshness.StaleAge <= c.Freshness.FreshAge {
		errs = append(errs, fmt.Errorf("freshness thresholds must satisfy 0 < fresh (%s) < stale (%s)",
			c.Freshness.FreshAge, c.Freshness.StaleAge))
	}
	if c.Freshness.PageSize <= 0 {
		errs = append(errs, errors.New("cache page size must be positive"))
	}
	if c.Jobs.Workers <= 0 {
		errs = append(errs, errors.New("job workers must be positive"))
	}
	if c.Jobs.AbandonAfter <= c.Jobs.JobTimeout {
		errs = append(errs, fmt.Errorf("job abandon age (%s) must exceed the job timeout (%s)",
			c.Jobs.AbandonAfter, c.Jobs.JobTimeout))
	}
	if c.Guard.Cooldown < 0 {
		errs = append(errs, errors.New("duplicate cooldown cannot be negative"))
	}
	if c.Zone.ChunkDegrees <= 0 || c.Zone.BatchSize <= 0 || c.Zone.MaxAttempts <= 0 {
		errs = append(errs, errors.New("zone chunk size, batch size and attempts must be positive"))
	}
	if c.Zone.WarnAreaKm2 > c.Zone.MaxAreaKm2 {
		errs = append(errs, fmt.Errorf("zone warn area (%.1f) exceeds max area (%.1f)",
			c.Zone.WarnAreaKm2, c.Zone.MaxAreaKm2))
	}
	p := c.Pricing
	if p.CacheFresh < 0 || p.CacheStale < 0 || p.ScrapingBasic <= 0 || p.ScrapingWithContact <= 0 {
		errs = append(errs, errors.New("prices must be non-negative and scrape prices positive"))
	}

	return errors.Join(errs...)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma-separated variable, dropping empty items
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
