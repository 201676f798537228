package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Chain    ChainConfig    `yaml:"chain"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the store backend
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite", "postgres" or "memory"
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection URL for postgres
}

// LogConfig contains logging settings
type LogConfig struct {
	Level       string `yaml:"level"` // "debug", "info", "warn", "error"
	Development bool   `yaml:"development"`
}

// ChainConfig bounds the approval chain walk
type ChainConfig struct {
	MaxHops int  `yaml:"max_hops"`
	Strict  bool `yaml:"strict"`
}

// NotifyConfig contains notification dispatch settings. Kafka and Redis are
// enabled by listing brokers or an address; the log sink is always on.
type NotifyConfig struct {
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	Kafka       KafkaConfig   `yaml:"kafka"`
	Redis       RedisConfig   `yaml:"redis"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
	InboxSize     int    `yaml:"inbox_size"`
}

// Default returns a configuration that runs without a config file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "leave.db"},
		Log:      LogConfig{Level: "info"},
		Chain:    ChainConfig{MaxHops: 5},
		Notify: NotifyConfig{
			Workers:     2,
			QueueSize:   256,
			MaxAttempts: 3,
			Backoff:     200 * time.Millisecond,
			Kafka:       KafkaConfig{Topic: "hr.leave.lifecycle.v1"},
			Redis:       RedisConfig{ChannelPrefix: "leave:notify:", InboxSize: 50},
		},
	}
}

// Load reads configuration from a YAML file on top of Default. An empty
// path skips the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.overrideWithEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// overrideWithEnv overrides config values with LEAVE_* environment variables
func (c *Config) overrideWithEnv() error {
	if val := os.Getenv("LEAVE_HOST"); val != "" {
		c.Server.Host = val
	}
	if err := envInt("LEAVE_PORT", &c.Server.Port); err != nil {
		return err
	}
	if val := os.Getenv("LEAVE_ALLOWED_ORIGINS"); val != "" {
		c.Server.AllowedOrigins = splitList(val)
	}

	if val := os.Getenv("LEAVE_DB_DRIVER"); val != "" {
		c.Database.Driver = val
	}
	if val := os.Getenv("LEAVE_DB_DSN"); val != "" {
		c.Database.DSN = val
	}

	if val := os.Getenv("LEAVE_LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LEAVE_LOG_DEVELOPMENT"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("LEAVE_LOG_DEVELOPMENT: %w", err)
		}
		c.Log.Development = b
	}

	if err := envInt("LEAVE_CHAIN_MAX_HOPS", &c.Chain.MaxHops); err != nil {
		return err
	}
	if val := os.Getenv("LEAVE_CHAIN_STRICT"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("LEAVE_CHAIN_STRICT: %w", err)
		}
		c.Chain.Strict = b
	}

	if err := envInt("LEAVE_NOTIFY_WORKERS", &c.Notify.Workers); err != nil {
		return err
	}
	if val := os.Getenv("LEAVE_KAFKA_BROKERS"); val != "" {
		c.Notify.Kafka.Brokers = splitList(val)
	}
	if val := os.Getenv("LEAVE_KAFKA_TOPIC"); val != "" {
		c.Notify.Kafka.Topic = val
	}
	if val := os.Getenv("LEAVE_REDIS_ADDR"); val != "" {
		c.Notify.Redis.Addr = val
	}
	if val := os.Getenv("LEAVE_REDIS_PASSWORD"); val != "" {
		c.Notify.Redis.Password = val
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database driver: %q", c.Database.Driver)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Log.Level)
	}

	if c.Chain.MaxHops <= 0 {
		return fmt.Errorf("chain max_hops must be positive, got %d", c.Chain.MaxHops)
	}

	if c.Notify.Workers < 0 {
		return fmt.Errorf("notify workers must not be negative, got %d", c.Notify.Workers)
	}
	if c.Notify.QueueSize <= 0 {
		return fmt.Errorf("notify queue_size must be positive, got %d", c.Notify.QueueSize)
	}
	if c.Notify.MaxAttempts <= 0 {
		return fmt.Errorf("notify max_attempts must be positive, got %d", c.Notify.MaxAttempts)
	}
	return nil
}

func envInt(key string, dst *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(val string) []string {
	var out []string
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
