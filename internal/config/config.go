// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Feed backends.
const (
	FeedBackendLocal = "local"
	FeedBackendHTTP  = "http"
)

// KnownDomains are the notification domains the hub understands.
var KnownDomains = []string{"message", "system", "promotion", "order", "product"}

// Config holds all configuration for the application.
type Config struct {
	// Server Configuration
	GinMode       string        `mapstructure:"GIN_MODE"`
	ServerHost    string        `mapstructure:"SERVER_HOST"`
	ServerPort    string        `mapstructure:"SERVER_PORT"`
	ServerTimeout time.Duration `mapstructure:"-"`
	CORSOrigins   []string      `mapstructure:"-"`

	// Database Configuration
	DBDriver          string        `mapstructure:"DB_DRIVER"`
	DBHost            string        `mapstructure:"DB_HOST"`
	DBPort            string        `mapstructure:"DB_PORT"`
	DBUser            string        `mapstructure:"DB_USER"`
	DBPassword        string        `mapstructure:"DB_PASSWORD"`
	DBName            string        `mapstructure:"DB_NAME"`
	DBSSLMode         string        `mapstructure:"DB_SSL_MODE"`
	DBTimezone        string        `mapstructure:"DB_TIMEZONE"`
	DBMaxIdleConns    int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBMaxOpenConns    int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBConnMaxLifetime time.Duration `mapstructure:"-"`
	DBSource          string        `mapstructure:"DB_SOURCE"`

	// Logging Configuration
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// Feed engine
	FeedBackend             string        `mapstructure:"FEED_BACKEND"`
	FeedPollInterval        time.Duration `mapstructure:"-"`
	FeedPollMaxInterval     time.Duration `mapstructure:"-"`
	FeedFetchTimeout        time.Duration `mapstructure:"-"`
	FeedPageLimit           int           `mapstructure:"FEED_PAGE_LIMIT"`
	FeedMaxPages            int           `mapstructure:"FEED_MAX_PAGES"`
	FeedDomains             []string      `mapstructure:"-"`
	FeedMutationConcurrency int           `mapstructure:"FEED_MUTATION_CONCURRENCY"`
	FeedMutationTimeout     time.Duration `mapstructure:"-"`

	// Upstream domain services, used when FEED_BACKEND=http
	UpstreamURLs      map[string]string `mapstructure:"-"`
	UpstreamAuthToken string            `mapstructure:"UPSTREAM_AUTH_TOKEN"`
	UpstreamTimeout   time.Duration     `mapstructure:"-"`

	// Cron Jobs
	NotificationRetentionDays    int    `mapstructure:"NOTIFICATION_RETENTION_DAYS"`
	NotificationPurgeJobSchedule string `mapstructure:"NOTIFICATION_PURGE_JOB_SCHEDULE"`

	// Firebase Configuration. Token verification is enabled when a key path is set.
	FirebaseServiceAccountKeyPath string `mapstructure:"FIREBASE_SERVICE_ACCOUNT_KEY_PATH"`
	FirebaseProjectID             string `mapstructure:"FIREBASE_PROJECT_ID"`

	// Redis badge relay. Disabled when REDIS_HOST is empty.
	RedisHost     string `mapstructure:"REDIS_HOST"`
	RedisPort     string `mapstructure:"REDIS_PORT"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisChannel  string `mapstructure:"REDIS_CHANNEL"`
}

// Load attempts to load configuration from a .env file (if present) and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling configuration: %w", err)
	}

	// Durations are given in whole seconds (minutes for the pool lifetime).
	cfg.ServerTimeout = time.Duration(v.GetInt("SERVER_TIMEOUT_SECONDS")) * time.Second
	cfg.DBConnMaxLifetime = time.Duration(v.GetInt("DB_CONN_MAX_LIFETIME_MINUTES")) * time.Minute
	cfg.FeedPollInterval = time.Duration(v.GetInt("FEED_POLL_INTERVAL_SECONDS")) * time.Second
	cfg.FeedPollMaxInterval = time.Duration(v.GetInt("FEED_POLL_MAX_INTERVAL_SECONDS")) * time.Second
	cfg.FeedFetchTimeout = time.Duration(v.GetInt("FEED_FETCH_TIMEOUT_SECONDS")) * time.Second
	cfg.FeedMutationTimeout = time.Duration(v.GetInt("FEED_MUTATION_TIMEOUT_SECONDS")) * time.Second
	cfg.UpstreamTimeout = time.Duration(v.GetInt("UPSTREAM_TIMEOUT_SECONDS")) * time.Second

	cfg.FeedDomains = splitList(v.GetString("FEED_DOMAINS"))
	cfg.CORSOrigins = splitList(v.GetString("CORS_ALLOWED_ORIGINS"))
	cfg.UpstreamURLs = make(map[string]string, len(KnownDomains))
	for _, d := range KnownDomains {
		if u := strings.TrimSpace(v.GetString("UPSTREAM_" + strings.ToUpper(d) + "_URL")); u != "" {
			cfg.UpstreamURLs[d] = strings.TrimRight(u, "/")
		}
	}

	// GORM connects with the key/value DSN built from the individual DB_* params
	// unless DB_SOURCE was set explicitly.
	if strings.TrimSpace(cfg.DBSource) == "" && cfg.DBDriver == "sqlite" {
		cfg.DBSource = cfg.DBName + ".db"
	} else if strings.TrimSpace(cfg.DBSource) == "" {
		cfg.DBSource = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode, cfg.DBTimezone)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_TIMEOUT_SECONDS", 30)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "notification_hub_db")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_TIMEZONE", "UTC")
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_MAX_OPEN_CONNS", 100)
	v.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 60)
	v.SetDefault("DB_SOURCE", "")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("FEED_BACKEND", FeedBackendLocal)
	v.SetDefault("FEED_POLL_INTERVAL_SECONDS", 30)
	v.SetDefault("FEED_POLL_MAX_INTERVAL_SECONDS", 300)
	v.SetDefault("FEED_FETCH_TIMEOUT_SECONDS", 15)
	v.SetDefault("FEED_PAGE_LIMIT", 50)
	v.SetDefault("FEED_MAX_PAGES", 4)
	v.SetDefault("FEED_DOMAINS", "")
	v.SetDefault("FEED_MUTATION_CONCURRENCY", 8)
	v.SetDefault("FEED_MUTATION_TIMEOUT_SECONDS", 10)

	v.SetDefault("UPSTREAM_AUTH_TOKEN", "")
	v.SetDefault("UPSTREAM_TIMEOUT_SECONDS", 10)
	for _, d := range KnownDomains {
		v.SetDefault("UPSTREAM_"+strings.ToUpper(d)+"_URL", "")
	}

	v.SetDefault("NOTIFICATION_RETENTION_DAYS", 30)
	v.SetDefault("NOTIFICATION_PURGE_JOB_SCHEDULE", "@daily")

	// Firebase
	v.SetDefault("FIREBASE_PROJECT_ID", "") // Optional
	v.SetDefault("FIREBASE_SERVICE_ACCOUNT_KEY_PATH", "")

	// Redis
	v.SetDefault("REDIS_HOST", "")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_CHANNEL", "notification_hub:counts")
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.FeedBackend {
	case FeedBackendLocal:
	case FeedBackendHTTP:
		if len(c.UpstreamURLs) == 0 {
			return fmt.Errorf("FEED_BACKEND=http requires at least one UPSTREAM_<DOMAIN>_URL")
		}
	default:
		return fmt.Errorf("FEED_BACKEND must be %q or %q, got %q", FeedBackendLocal, FeedBackendHTTP, c.FeedBackend)
	}

	for _, d := range c.FeedDomains {
		if !isKnownDomain(d) {
			return fmt.Errorf("FEED_DOMAINS contains unknown domain %q", d)
		}
	}
	if c.FeedPollInterval <= 0 {
		return fmt.Errorf("FEED_POLL_INTERVAL_SECONDS must be positive")
	}
	if c.FeedPollMaxInterval < c.FeedPollInterval {
		return fmt.Errorf("FEED_POLL_MAX_INTERVAL_SECONDS must not be below FEED_POLL_INTERVAL_SECONDS")
	}
	if c.FeedPageLimit <= 0 || c.FeedMaxPages <= 0 {
		return fmt.Errorf("FEED_PAGE_LIMIT and FEED_MAX_PAGES must be positive")
	}
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}

	if path := strings.TrimSpace(c.FirebaseServiceAccountKeyPath); path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("firebase service account key file specified in FIREBASE_SERVICE_ACCOUNT_KEY_PATH (%s) not found", path)
		}
	}
	return nil
}

// AuthEnabled reports whether requests must carry a Firebase ID token.
func (c *Config) AuthEnabled() bool {
	return strings.TrimSpace(c.FirebaseServiceAccountKeyPath) != ""
}

// RedisEnabled reports whether the badge relay should run.
func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.RedisHost) != ""
}

func isKnownDomain(d string) bool {
	for _, known := range KnownDomains {
		if d == known {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
