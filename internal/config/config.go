package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"marketplace/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig          `yaml:"app"`
	Database      DatabaseConfig     `yaml:"database"`
	Redis         RedisConfig        `yaml:"redis"`
	Backup        BackupConfig       `yaml:"backup"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Logging       LoggingConfig      `yaml:"logging"`
	API           APIConfig          `yaml:"api"`
	Notifications NotificationConfig `yaml:"notifications"`
	Reviews       ReviewConfig       `yaml:"reviews"`
	Exports       ExportConfig       `yaml:"exports"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderUserID string         `yaml:"header_user_id"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout_ms"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// NotificationConfig selects where best-effort notifications are published.
type NotificationConfig struct {
	Backend       string        `yaml:"backend"` // redis | amqp | memory
	ChannelPrefix string        `yaml:"channel_prefix"`
	AMQPURL       string        `yaml:"amqp_url"`
	Queue         string        `yaml:"queue"`
	RelayInterval time.Duration `yaml:"relay_interval"`
	RelayBatch    int           `yaml:"relay_batch"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBase     time.Duration `yaml:"retry_base"`
	RetryMax      time.Duration `yaml:"retry_max"`
	RetryFactor   float64       `yaml:"retry_factor"`
}

type ReviewConfig struct {
	EditWindowDays int `yaml:"edit_window_days"`
}

// EditWindow returns the review edit window as a duration.
func (r ReviewConfig) EditWindow() time.Duration {
	return time.Duration(r.EditWindowDays) * 24 * time.Hour
}

const (
	BackendRedis  = "redis"
	BackendAMQP   = "amqp"
	BackendMemory = "memory"
)

func Load(configPath string) (*Config, error) {
	// .env необязателен
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch c.Notifications.Backend {
	case BackendRedis:
		if c.Redis.Address == "" {
			return errors.New("notifications.backend=redis requires redis.address")
		}
	case BackendAMQP:
		if c.Notifications.AMQPURL == "" {
			return errors.New("notifications.backend=amqp requires notifications.amqp_url")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown notifications backend %q", c.Notifications.Backend)
	}

	if c.Notifications.RetryFactor != 0 && c.Notifications.RetryFactor < 1 {
		return fmt.Errorf("notifications.retry_factor must be at least 1, got %g", c.Notifications.RetryFactor)
	}

	if c.Reviews.EditWindowDays < 0 {
		return fmt.Errorf("reviews.edit_window_days must not be negative, got %d", c.Reviews.EditWindowDays)
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

// ValidateAPIKeys rejects empty and duplicate keys.
func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		key := strings.TrimSpace(k.Key)
		if key == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "marketplace"
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5000
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderUserID == "" {
		c.API.Auth.HeaderUserID = "x-user-id"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}

	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}

	// Notifications defaults
	if c.Notifications.Backend == "" {
		c.Notifications.Backend = BackendMemory
	}
	if c.Notifications.ChannelPrefix == "" {
		c.Notifications.ChannelPrefix = "notifications"
	}
	if c.Notifications.Queue == "" {
		c.Notifications.Queue = "notifications"
	}
	if c.Notifications.RelayInterval == 0 {
		c.Notifications.RelayInterval = 5 * time.Second
	}
	if c.Notifications.RelayBatch == 0 {
		c.Notifications.RelayBatch = 50
	}
	if c.Notifications.MaxRetries == 0 {
		c.Notifications.MaxRetries = 5
	}
	if c.Notifications.RetryBase == 0 {
		c.Notifications.RetryBase = 2 * time.Second
	}
	if c.Notifications.RetryMax == 0 {
		c.Notifications.RetryMax = 5 * time.Minute
	}
	if c.Notifications.RetryFactor == 0 {
		c.Notifications.RetryFactor = 2
	}

	if c.Reviews.EditWindowDays == 0 {
		c.Reviews.EditWindowDays = models.DefaultEditWindowDays
	}
}
