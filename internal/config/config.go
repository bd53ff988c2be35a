package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"carbon-scribe/report-engine/internal/reports/scheduler"
	"carbon-scribe/report-engine/internal/telemetry"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Security  SecurityConfig   `mapstructure:"security"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Reports   ReportsConfig    `mapstructure:"reports"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Scheduler SchedulerConfig  `mapstructure:"scheduler"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig represents database configuration. An empty host disables
// query sources and the database definition source.
type DatabaseConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"db_name"`
	SSLMode        string        `mapstructure:"ssl_mode"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
}

// SecurityConfig holds the JWT settings
type SecurityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

// LoggingConfig selects the zap preset
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ReportsConfig configures definition loading, caching and resolution
type ReportsConfig struct {
	DefinitionsDir string `mapstructure:"definitions_dir"`
	// DefinitionSource is "file", "database" or "both" (database first)
	DefinitionSource string `mapstructure:"definition_source"`
	WatchDefinitions bool   `mapstructure:"watch_definitions"`

	// CacheBackend is "memory", "sqlite" or "none"
	CacheBackend    string        `mapstructure:"cache_backend"`
	CachePath       string        `mapstructure:"cache_path"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	Parallelism int `mapstructure:"parallelism"`
}

// StorageConfig configures where binary exports are kept. Backend is
// "none", "local" or "s3".
type StorageConfig struct {
	Backend   string        `mapstructure:"backend"`
	Prefix    string        `mapstructure:"prefix"`
	LocalDir  string        `mapstructure:"local_dir"`
	BaseURL   string        `mapstructure:"base_url"`
	Bucket    string        `mapstructure:"bucket"`
	Region    string        `mapstructure:"region"`
	Endpoint  string        `mapstructure:"endpoint"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	URLExpiry time.Duration `mapstructure:"url_expiry"`
}

// SchedulerConfig lists recurring generations
type SchedulerConfig struct {
	Enabled        bool                 `mapstructure:"enabled"`
	Timeout        time.Duration        `mapstructure:"timeout"`
	WebhookRetries int                  `mapstructure:"webhook_retries"`
	MaxFileSize    int64                `mapstructure:"max_file_size"`
	Schedules      []scheduler.Schedule `mapstructure:"schedules"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			IdleTimeout:     time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "carbonscribe_reports",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
		},
		Security: SecurityConfig{JWTIssuer: "carbon-scribe"},
		Logging:  LoggingConfig{Level: "info"},
		Reports: ReportsConfig{
			DefinitionsDir:   "definitions",
			DefinitionSource: "file",
			CacheBackend:     "memory",
			CachePath:        "report-cache.db",
			CleanupInterval:  5 * time.Minute,
			Parallelism:      4,
		},
		Storage: StorageConfig{
			Backend:   "none",
			LocalDir:  "exports",
			Region:    "us-east-1",
			URLExpiry: 15 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Timeout:        30 * time.Minute,
			WebhookRetries: 3,
			MaxFileSize:    100 * 1024 * 1024,
		},
		Telemetry: telemetry.Config{ServiceName: "report-engine"},
	}
}

// LoadConfig loads configuration from file and environment variables. A
// missing file leaves the defaults in place; a malformed one is an error.
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v := viper.New()
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := v.Unmarshal(config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	overrideWithEnv(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// overrideWithEnv applies SERVER_*, DATABASE_*, JWT_SECRET, REPORTS_*,
// STORAGE_* and OTEL_* variables
func overrideWithEnv(config *Config) {
	v := viper.New()
	v.AutomaticEnv()

	setString := func(key string, dst *string) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	setString("SERVER_HOST", &config.Server.Host)
	setInt("SERVER_PORT", &config.Server.Port)

	setString("DATABASE_HOST", &config.Database.Host)
	setInt("DATABASE_PORT", &config.Database.Port)
	setString("DATABASE_USER", &config.Database.User)
	setString("DATABASE_PASSWORD", &config.Database.Password)
	setString("DATABASE_DBNAME", &config.Database.DBName)
	setString("DATABASE_SSLMODE", &config.Database.SSLMode)

	setString("JWT_SECRET", &config.Security.JWTSecret)
	setString("LOG_LEVEL", &config.Logging.Level)
	setBool("LOG_DEVELOPMENT", &config.Logging.Development)

	setString("REPORTS_DEFINITIONS_DIR", &config.Reports.DefinitionsDir)
	setString("REPORTS_DEFINITION_SOURCE", &config.Reports.DefinitionSource)
	setBool("REPORTS_WATCH_DEFINITIONS", &config.Reports.WatchDefinitions)
	setString("REPORTS_CACHE_BACKEND", &config.Reports.CacheBackend)
	setString("REPORTS_CACHE_PATH", &config.Reports.CachePath)
	setDuration("REPORTS_CLEANUP_INTERVAL", &config.Reports.CleanupInterval)
	setInt("REPORTS_PARALLELISM", &config.Reports.Parallelism)

	setString("STORAGE_BACKEND", &config.Storage.Backend)
	setString("STORAGE_PREFIX", &config.Storage.Prefix)
	setString("STORAGE_LOCAL_DIR", &config.Storage.LocalDir)
	setString("STORAGE_BASE_URL", &config.Storage.BaseURL)
	setString("STORAGE_BUCKET", &config.Storage.Bucket)
	setString("STORAGE_REGION", &config.Storage.Region)
	setString("STORAGE_ENDPOINT", &config.Storage.Endpoint)
	setString("AWS_ACCESS_KEY_ID", &config.Storage.AccessKey)
	setString("AWS_SECRET_ACCESS_KEY", &config.Storage.SecretKey)

	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &config.Telemetry.Endpoint)
	setString("OTEL_SERVICE_NAME", &config.Telemetry.ServiceName)
}

// Validate checks enumerated settings
func (c *Config) Validate() error {
	switch c.Reports.DefinitionSource {
	case "file", "database", "both":
	default:
		return fmt.Errorf("invalid reports.definition_source %q", c.Reports.DefinitionSource)
	}
	if c.Reports.DefinitionSource != "file" && c.Database.Host == "" {
		return fmt.Errorf("reports.definition_source %q requires database.host", c.Reports.DefinitionSource)
	}
	switch c.Reports.CacheBackend {
	case "memory", "sqlite", "none":
	default:
		return fmt.Errorf("invalid reports.cache_backend %q", c.Reports.CacheBackend)
	}
	switch c.Storage.Backend {
	case "none", "local", "s3":
	default:
		return fmt.Errorf("invalid storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "s3" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required for the s3 backend")
	}
	for i := range c.Scheduler.Schedules {
		c.Scheduler.Schedules[i].ID = strings.TrimSpace(c.Scheduler.Schedules[i].ID)
		if c.Scheduler.Schedules[i].ID == "" {
			return fmt.Errorf("scheduler.schedules[%d]: id is required", i)
		}
	}
	return nil
}

// Enabled reports whether a database is configured
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewLogger builds the zap logger selected by the logging section
func (c LoggingConfig) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
		zc.Level = level
	}
	return zc.Build()
}
