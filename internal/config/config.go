package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	// Server Configuration
	GinMode       string        `mapstructure:"GIN_MODE"`
	ServerHost    string        `mapstructure:"SERVER_HOST"`
	ServerPort    string        `mapstructure:"SERVER_PORT"`
	ServerTimeout time.Duration `mapstructure:"-"` // SERVER_TIMEOUT_SECONDS

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
	DBConnMaxLifetime time.Duration `mapstructure:"-"` // DB_CONN_MAX_LIFETIME_MINUTES
	DBSource          string        `mapstructure:"DB_SOURCE"`

	// Logging Configuration
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// Proximity tuning. These are the start-up values; the live values sit in proximity.Tuning.
	EntryRadiusMeters        float64       `mapstructure:"ENTRY_RADIUS_METERS"`
	ExitRadiusMeters         float64       `mapstructure:"EXIT_RADIUS_METERS"`
	AccuracyFactor           float64       `mapstructure:"ACCURACY_FACTOR"`
	GeofenceRadiusMeters     float64       `mapstructure:"GEOFENCE_RADIUS_METERS"`
	DetectionThresholdMeters float64       `mapstructure:"DETECTION_THRESHOLD_METERS"`
	DetectionCooldown        time.Duration `mapstructure:"-"` // DETECTION_COOLDOWN_SECONDS
	NotificationCooldown     time.Duration `mapstructure:"-"` // NOTIFICATION_COOLDOWN_SECONDS
	Debounce                 time.Duration `mapstructure:"-"` // DEBOUNCE_MILLIS
	LedgerCapacity           int           `mapstructure:"LEDGER_CAPACITY"`
	TuningFile               string        `mapstructure:"TUNING_FILE"`

	// Target source
	TargetSource          string `mapstructure:"TARGET_SOURCE"`
	TargetRefreshSchedule string `mapstructure:"TARGET_REFRESH_SCHEDULE"`
	TargetsIndex          string `mapstructure:"TARGETS_INDEX"`

	// Ingest throttling
	IngestRatePerSecond float64 `mapstructure:"INGEST_RATE_PER_SECOND"`
	IngestBurst         int     `mapstructure:"INGEST_BURST"`

	// Firebase Configuration
	FirebaseServiceAccountKeyPath string `mapstructure:"FIREBASE_SERVICE_ACCOUNT_KEY_PATH"`
	FirebaseProjectID             string `mapstructure:"FIREBASE_PROJECT_ID"`
	FCMDeviceToken                string `mapstructure:"FCM_DEVICE_TOKEN"`
	FCMTopic                      string `mapstructure:"FCM_TOPIC"`

	// Redis (optional, shared notification cooldowns)
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// Elasticsearch Configuration
	ElasticsearchURL string `mapstructure:"ELASTICSEARCH_URL"`
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

	// Duration fields are configured as plain numbers and converted here.
	cfg.ServerTimeout = time.Duration(v.GetInt("SERVER_TIMEOUT_SECONDS")) * time.Second
	cfg.DBConnMaxLifetime = time.Duration(v.GetInt("DB_CONN_MAX_LIFETIME_MINUTES")) * time.Minute
	cfg.DetectionCooldown = time.Duration(v.GetInt("DETECTION_COOLDOWN_SECONDS")) * time.Second
	cfg.NotificationCooldown = time.Duration(v.GetInt("NOTIFICATION_COOLDOWN_SECONDS")) * time.Second
	cfg.Debounce = time.Duration(v.GetInt("DEBOUNCE_MILLIS")) * time.Millisecond

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.TargetSource = strings.ToLower(strings.TrimSpace(cfg.TargetSource))

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

	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_SOURCE", "spotalert.db")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "spotalert_db")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_TIMEZONE", "UTC")
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 60)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("ENTRY_RADIUS_METERS", 25.0)
	v.SetDefault("EXIT_RADIUS_METERS", 35.0)
	v.SetDefault("ACCURACY_FACTOR", 1.0)
	v.SetDefault("GEOFENCE_RADIUS_METERS", 100.0)
	v.SetDefault("DETECTION_THRESHOLD_METERS", 50.0)
	v.SetDefault("DETECTION_COOLDOWN_SECONDS", 300)
	v.SetDefault("NOTIFICATION_COOLDOWN_SECONDS", 3600)
	v.SetDefault("DEBOUNCE_MILLIS", 500)
	v.SetDefault("LEDGER_CAPACITY", 100)
	v.SetDefault("TUNING_FILE", "")

	v.SetDefault("TARGET_SOURCE", "database")
	v.SetDefault("TARGET_REFRESH_SCHEDULE", "@every 15m")
	v.SetDefault("TARGETS_INDEX", "spots")

	v.SetDefault("INGEST_RATE_PER_SECOND", 20.0)
	v.SetDefault("INGEST_BURST", 40)

	// Firebase is optional. Without a key the push path is disabled.
	v.SetDefault("FIREBASE_SERVICE_ACCOUNT_KEY_PATH", "")
	v.SetDefault("FIREBASE_PROJECT_ID", "")
	v.SetDefault("FCM_DEVICE_TOKEN", "")
	v.SetDefault("FCM_TOPIC", "")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ELASTICSEARCH_URL", "")
}

// Validate checks the relationships between settings that the rest of the
// application relies on.
func (c *Config) Validate() error {
	if c.EntryRadiusMeters <= 0 {
		return fmt.Errorf("ENTRY_RADIUS_METERS must be positive, got %v", c.EntryRadiusMeters)
	}
	if c.ExitRadiusMeters <= c.EntryRadiusMeters {
		return fmt.Errorf("EXIT_RADIUS_METERS (%v) must be greater than ENTRY_RADIUS_METERS (%v)", c.ExitRadiusMeters, c.EntryRadiusMeters)
	}
	if c.DetectionThresholdMeters <= 0 || c.DetectionThresholdMeters > c.GeofenceRadiusMeters {
		return fmt.Errorf("DETECTION_THRESHOLD_METERS (%v) must be in (0, GEOFENCE_RADIUS_METERS=%v]", c.DetectionThresholdMeters, c.GeofenceRadiusMeters)
	}
	if c.LedgerCapacity <= 0 {
		return fmt.Errorf("LEDGER_CAPACITY must be positive, got %d", c.LedgerCapacity)
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (expected sqlite or postgres)", c.DBDriver)
	}
	switch c.TargetSource {
	case "database":
	case "elasticsearch":
		if strings.TrimSpace(c.ElasticsearchURL) == "" {
			return fmt.Errorf("TARGET_SOURCE=elasticsearch requires ELASTICSEARCH_URL")
		}
	default:
		return fmt.Errorf("unsupported TARGET_SOURCE %q (expected database or elasticsearch)", c.TargetSource)
	}
	if c.FirebaseServiceAccountKeyPath != "" {
		if _, err := os.Stat(c.FirebaseServiceAccountKeyPath); os.IsNotExist(err) {
			return fmt.Errorf("firebase service account key file specified in FIREBASE_SERVICE_ACCOUNT_KEY_PATH (%s) not found", c.FirebaseServiceAccountKeyPath)
		}
	}
	return nil
}

// PushEnabled reports whether Firebase credentials were configured.
func (c *Config) PushEnabled() bool {
	return strings.TrimSpace(c.FirebaseServiceAccountKeyPath) != ""
}
