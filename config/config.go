package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Store     StoreConfig     `mapstructure:"store"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	Host              string        `mapstructure:"host"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes    int64         `mapstructure:"max_upload_bytes"`
	APIKey            string        `mapstructure:"api_key"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// CORSConfig lists the origins allowed to call the API from a browser
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// StoreConfig selects the record store backend
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Migrate    bool   `mapstructure:"migrate"`
}

// RegistryConfig selects the task registry backend
type RegistryConfig struct {
	// Driver is one of memory, redis
	Driver   string        `mapstructure:"driver"`
	RedisURL string        `mapstructure:"redis_url"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// IngestionConfig controls decoding, resolution and batching
type IngestionConfig struct {
	BatchSize         int                 `mapstructure:"batch_size"`
	BatchDelay        time.Duration       `mapstructure:"batch_delay"`
	PollInterval      time.Duration       `mapstructure:"poll_interval"`
	MaxConcurrent     int                 `mapstructure:"max_concurrent"`
	AutoStart         bool                `mapstructure:"auto_start"`
	AllowedExtensions []string            `mapstructure:"allowed_extensions"`
	Encoding          string              `mapstructure:"encoding"`
	Delimiter         string              `mapstructure:"delimiter"`
	DefaultCaseStatus string              `mapstructure:"default_case_status"`
	RequiredFields    []string            `mapstructure:"required_fields"`
	ResolutionLock    string              `mapstructure:"resolution_lock"`
	FieldMapping      map[string][]string `mapstructure:"field_mapping"`
}

// WebhookConfig holds the optional outbound relay settings
type WebhookConfig struct {
	URL               string        `mapstructure:"url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// StorageConfig holds staging storage configuration
type StorageConfig struct {
	Type     string `mapstructure:"type"`
	BasePath string `mapstructure:"base_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	NoColor    bool   `mapstructure:"no_color"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// TelemetryConfig holds OpenTelemetry export settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// SweeperConfig controls removal of staged uploads and, when
// TaskRetention is set, of old terminal tasks
type SweeperConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	Retention     time.Duration `mapstructure:"retention"`
	TaskRetention time.Duration `mapstructure:"task_retention"`
}

var globalConfig *Config

// Load loads the configuration from file, .env, and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg(".env file not loaded")
	}

	v.SetEnvPrefix("CASE_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("store.driver postgres requires database.url (DATABASE_URL)")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Registry.Driver {
	case "memory":
	case "redis":
		if c.Registry.RedisURL == "" {
			return errors.New("registry.driver redis requires registry.redis_url (REDIS_URL)")
		}
	default:
		return fmt.Errorf("unknown registry.driver %q", c.Registry.Driver)
	}

	if c.Ingestion.BatchSize <= 0 {
		return fmt.Errorf("ingestion.batch_size must be positive, got %d", c.Ingestion.BatchSize)
	}
	if c.Ingestion.MaxConcurrent <= 0 {
		return fmt.Errorf("ingestion.max_concurrent must be positive, got %d", c.Ingestion.MaxConcurrent)
	}
	return nil
}

// loadEnvFile loads the first .env found; existing variables win
func loadEnvFile() error {
	for _, dir := range []string{".", "./config"} {
		envFile := filepath.Join(dir, ".env")
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		return godotenv.Load(envFile)
	}
	return errors.New("no .env file found")
}

// bindEnvVars binds the conventional unprefixed variables
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.url", "CASE_SERVICE_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("registry.redis_url", "CASE_SERVICE_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("server.port", "CASE_SERVICE_PORT", "PORT")
	_ = v.BindEnv("logging.level", "CASE_SERVICE_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("webhook.url", "CASE_SERVICE_WEBHOOK_URL", "WEBHOOK_URL")
	_ = v.BindEnv("storage.base_path", "CASE_SERVICE_STAGING_PATH", "STAGING_PATH")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	// Progress streams stay open for the lifetime of a task.
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_upload_bytes", 64<<20)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.requests_per_second", 20)
	v.SetDefault("server.burst", 40)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.sqlite_path", "./data/cases.db")
	v.SetDefault("store.migrate", true)

	v.SetDefault("registry.driver", "memory")
	v.SetDefault("registry.prefix", "case-service")
	v.SetDefault("registry.ttl", 0)

	v.SetDefault("ingestion.batch_size", 10)
	v.SetDefault("ingestion.batch_delay", 0)
	v.SetDefault("ingestion.poll_interval", 500*time.Millisecond)
	v.SetDefault("ingestion.max_concurrent", 10)
	v.SetDefault("ingestion.auto_start", false)
	v.SetDefault("ingestion.allowed_extensions", []string{".csv", ".xlsx"})
	v.SetDefault("ingestion.encoding", "utf-8")
	v.SetDefault("ingestion.delimiter", "")
	v.SetDefault("ingestion.default_case_status", "new")
	v.SetDefault("ingestion.required_fields", []string{"customer_email"})
	v.SetDefault("ingestion.resolution_lock", "none")

	v.SetDefault("webhook.timeout", 5*time.Minute)
	v.SetDefault("webhook.requests_per_second", 0)
	v.SetDefault("webhook.burst", 1)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.base_path", "./data/staging")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.no_color", false)
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.service_name", "case-service")
	v.SetDefault("telemetry.environment", "development")

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", 10*time.Minute)
	v.SetDefault("sweeper.retention", 24*time.Hour)
	v.SetDefault("sweeper.task_retention", 0)
}

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}
