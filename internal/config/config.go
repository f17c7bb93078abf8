package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Environment variables that override secrets from the config file.
const (
	EnvJWTSecret          = "JWT_SECRET"
	EnvTranslationAPIKey  = "TRANSLATION_API_KEY"
	EnvDatabasePassword   = "DATABASE_PASSWORD"
	EnvRabbitMQPassword   = "RABBITMQ_PASSWORD"
	EnvRedisPassword      = "REDIS_PASSWORD"
	defaultMembershipPref = "chat"
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Auth        AuthConfig        `yaml:"auth"`
	Chat        ChatConfig        `yaml:"chat"`
	Translation TranslationConfig `yaml:"translation"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQL connection configuration.
// Driver is one of postgres, pgx or sqlite; Path is only used by sqlite.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds the membership store connection
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RabbitMQConfig holds the optional result relay connection
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Relay      RelayConfig      `yaml:"relay"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// RelayConfig sizes the in-process buffer in front of the publisher
type RelayConfig struct {
	Buffer         int           `yaml:"buffer"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	TimeFormat   string `yaml:"time_format"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// ChatConfig holds room delivery tunables
type ChatConfig struct {
	TypingWindow      time.Duration `yaml:"typing_window"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HistoryLimit      int           `yaml:"history_limit"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	MembershipPrefix  string        `yaml:"membership_prefix"`
}

// TranslationConfig holds translation pipeline tunables
type TranslationConfig struct {
	BaseURL          string        `yaml:"base_url"`
	APIKey           string        `yaml:"api_key"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxConnsPerHost  int           `yaml:"max_conns_per_host"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	DispatchTimeout  time.Duration `yaml:"dispatch_timeout"`
	Retention        time.Duration `yaml:"retention"`
	SweepSchedule    string        `yaml:"sweep_schedule"`
}

// Load reads and parses the configuration file, fills defaults and
// applies environment overrides.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnvOverrides()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "topic"
	}
	if c.RabbitMQ.Relay.Buffer == 0 {
		c.RabbitMQ.Relay.Buffer = 256
	}
	if c.RabbitMQ.Relay.PublishTimeout == 0 {
		c.RabbitMQ.Relay.PublishTimeout = 5 * time.Second
	}

	if c.Chat.TypingWindow == 0 {
		c.Chat.TypingWindow = 4 * time.Second
	}
	if c.Chat.HeartbeatInterval == 0 {
		c.Chat.HeartbeatInterval = 30 * time.Second
	}
	if c.Chat.HistoryLimit == 0 {
		c.Chat.HistoryLimit = 50
	}
	if c.Chat.MembershipPrefix == "" {
		c.Chat.MembershipPrefix = defaultMembershipPref
	}

	t := &c.Translation
	if t.Timeout == 0 {
		t.Timeout = 15 * time.Second
	}
	if t.DispatchInterval == 0 {
		t.DispatchInterval = 2 * time.Second
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = 3
	}
	if t.RetryDelay == 0 {
		t.RetryDelay = 10 * time.Second
	}
	if t.DispatchTimeout == 0 {
		t.DispatchTimeout = 30 * time.Second
	}
	if t.Retention == 0 {
		t.Retention = 7 * 24 * time.Hour
	}
	if t.SweepSchedule == "" {
		t.SweepSchedule = "@hourly"
	}
}

func (c *Config) applyEnvOverrides() {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	override(&c.Auth.JWTSecret, EnvJWTSecret)
	override(&c.Translation.APIKey, EnvTranslationAPIKey)
	override(&c.Database.Password, EnvDatabasePassword)
	override(&c.RabbitMQ.Password, EnvRabbitMQPassword)
	override(&c.Redis.Password, EnvRedisPassword)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.Redis.Addr == "" {
		return errors.New("redis addr is required")
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return errors.New("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return errors.New("rabbitmq exchange name is required")
		}
	}

	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth jwt_secret is required")
	}

	if c.Translation.BaseURL == "" {
		return errors.New("translation base_url is required")
	}

	if c.Translation.MaxRetries <= 0 {
		return errors.New("translation max_retries must be greater than 0")
	}

	if c.Chat.HistoryLimit < 0 {
		return errors.New("chat history_limit must not be negative")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"chat.typing_window", c.Chat.TypingWindow},
		{"chat.heartbeat_interval", c.Chat.HeartbeatInterval},
		{"translation.timeout", c.Translation.Timeout},
		{"translation.dispatch_interval", c.Translation.DispatchInterval},
		{"translation.retry_delay", c.Translation.RetryDelay},
		{"translation.dispatch_timeout", c.Translation.DispatchTimeout},
		{"translation.retention", c.Translation.Retention},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be greater than 0", d.name)
		}
	}

	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database path is required for sqlite")
		}
		return nil
	case "postgres", "pgx":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Database.Host == "" {
		return errors.New("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return errors.New("database name is required")
	}

	return nil
}
