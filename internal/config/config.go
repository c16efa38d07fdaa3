package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Model    ModelConfig    `yaml:"model"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	APIPrefix       string        `yaml:"api_prefix"`
	MaxUploadSize   int64         `yaml:"max_upload_size"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// DatabaseConfig holds PostgreSQL connection configuration for the failure ledger.
// The ledger is disabled when Host is empty.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// Enabled reports whether a database is configured
func (d *DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// RabbitMQConfig holds RabbitMQ connection and queue topology configuration
type RabbitMQConfig struct {
	URL        string           `yaml:"url"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Work       WorkQueueConfig  `yaml:"work"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// WorkQueueConfig holds the work queue and the exchange dead-lettered jobs return through
type WorkQueueConfig struct {
	Exchange   string        `yaml:"exchange"`
	Queue      string        `yaml:"queue"`
	MessageTTL time.Duration `yaml:"message_ttl"`
}

// DeadLetterConfig holds the retry path; RetryDelay is the dead-letter queue TTL
type DeadLetterConfig struct {
	Exchange   string        `yaml:"exchange"`
	Queue      string        `yaml:"queue"`
	RoutingKey string        `yaml:"routing_key"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish settings
type PublishConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int    `yaml:"prefetch_count"`
	Tag           string `yaml:"tag"`
}

// RedisConfig holds result store configuration
type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	ResultTTL    time.Duration `yaml:"result_ttl"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ModelConfig selects and configures the classification model
type ModelConfig struct {
	Type        string `yaml:"type"`
	WeightsPath string `yaml:"weights_path"`
	Label       string `yaml:"label"`
}

// Default returns the configuration used for any key the file leaves out
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxUploadSize:   100 << 20,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			User:     "guest",
			Password: "guest",
			VHost:    "/",
			Work: WorkQueueConfig{
				Exchange: "amq.direct",
				Queue:    "pgdb",
			},
			DeadLetter: DeadLetterConfig{
				Exchange:   "dlx",
				Queue:      "dlq",
				RoutingKey: "dlq",
				RetryDelay: 5 * time.Second,
			},
			Connection: ConnectionConfig{
				RetryAttempts:     10,
				RetryInterval:     5 * time.Second,
				Heartbeat:         10 * time.Second,
				ConnectionTimeout: 30 * time.Second,
			},
			Publish: PublishConfig{
				Timeout: 5 * time.Second,
			},
			Consumer: ConsumerConfig{
				PrefetchCount: 1,
			},
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			ResultTTL:    24 * time.Hour,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		App: AppConfig{
			Environment: "development",
		},
		Worker: WorkerConfig{
			MaxRetries:      5,
			ShutdownTimeout: 30 * time.Second,
		},
		Model: ModelConfig{
			Type: "linear",
		},
	}
}

// Load reads and parses the configuration file over Default, then applies
// environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return config, nil
}

// applyEnv applies the environment variables the services have always honoured
func (c *Config) applyEnv() error {
	if v := os.Getenv("AMQP_URL"); v != "" {
		c.RabbitMQ.URL = v
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}

	if v := os.Getenv("REDIS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_PORT %q: %w", v, err)
		}
		c.Redis.Port = port
	}

	if v := os.Getenv("MODEL_TYPE"); v != "" {
		c.Model.Type = v
	}

	if v := os.Getenv("MAX_RETRY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_RETRY %q: %w", v, err)
		}
		c.Worker.MaxRetries = n
	}

	return nil
}

// Validate checks the sections both services depend on
func (c *Config) Validate() error {
	if c.RabbitMQ.URL == "" {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
	}

	if c.RabbitMQ.Work.Queue == "" {
		return fmt.Errorf("rabbitmq work queue name is required")
	}

	if c.RabbitMQ.Work.Exchange == "" {
		return fmt.Errorf("rabbitmq work exchange name is required")
	}

	if c.RabbitMQ.DeadLetter.Exchange == "" || c.RabbitMQ.DeadLetter.Queue == "" || c.RabbitMQ.DeadLetter.RoutingKey == "" {
		return fmt.Errorf("rabbitmq dead_letter exchange, queue and routing_key are required")
	}

	if c.RabbitMQ.DeadLetter.RetryDelay <= 0 {
		return fmt.Errorf("rabbitmq dead_letter retry_delay must be greater than 0")
	}

	if c.RabbitMQ.Connection.RetryAttempts <= 0 {
		return fmt.Errorf("rabbitmq connection retry_attempts must be greater than 0")
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
		return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
	}

	if c.Redis.ResultTTL < 0 {
		return fmt.Errorf("redis result_ttl must not be negative")
	}

	if c.Database.Enabled() {
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	return nil
}

// ValidateAPIConfig checks the configuration of the api-service
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.MaxUploadSize <= 0 {
		return fmt.Errorf("server max_upload_size must be greater than 0")
	}

	return nil
}

// ValidateWorkerConfig checks the configuration of the worker-service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker max_retries must not be negative")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Model.Type == "" {
		return fmt.Errorf("model type is required")
	}

	return nil
}
