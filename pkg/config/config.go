// Package config loads service configuration from an optional YAML file, an
// optional .env file and the process environment, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	StorageMemory  = "memory"
	StorageMongoDB = "mongodb"
)

// Guard backends
const (
	GuardLocal = "local"
	GuardRedis = "redis"
)

// Config holds the settings shared by cmd/api and cmd/worker
type Config struct {
	ServiceName string `yaml:"serviceName"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"logLevel"`
	ServerAddr  string `yaml:"serverAddr"`
	// MetricsAddr serves health and metrics for processes without an API
	MetricsAddr string `yaml:"metricsAddr"`

	StorageBackend  string `yaml:"storageBackend"`
	MongoDBURI      string `yaml:"mongodbUri"`
	MongoDBDatabase string `yaml:"mongodbDatabase"`

	GuardBackend     string        `yaml:"guardBackend"`
	RedisAddr        string        `yaml:"redisAddr"`
	GuardLockTimeout time.Duration `yaml:"guardLockTimeout"`

	KafkaBrokers       []string `yaml:"kafkaBrokers"`
	KafkaConsumerGroup string   `yaml:"kafkaConsumerGroup"`

	// OutboxPublisher runs the outbox relay in this process. Enable it in one
	// process per MongoDB database.
	OutboxPublisher bool `yaml:"outboxPublisher"`

	TracingEnabled bool   `yaml:"tracingEnabled"`
	OTLPEndpoint   string `yaml:"otlpEndpoint"`

	TemporalHost      string `yaml:"temporalHost"`
	TemporalNamespace string `yaml:"temporalNamespace"`

	// ReplenishmentBatches accepts verified batches on the API and hands them
	// to the worker through Temporal
	ReplenishmentBatches bool `yaml:"replenishmentBatches"`

	RateLimit         string   `yaml:"rateLimit"`
	CORSOrigins       []string `yaml:"corsOrigins"`
	OpenAPIValidation bool     `yaml:"openapiValidation"`

	RequireDistinctApprover bool `yaml:"requireDistinctApprover"`
}

// Default returns the built-in defaults
func Default(serviceName string) *Config {
	return &Config{
		ServiceName:             serviceName,
		Environment:             "development",
		LogLevel:                "info",
		ServerAddr:              ":8010",
		MetricsAddr:             ":9090",
		StorageBackend:          StorageMemory,
		MongoDBURI:              "mongodb://localhost:27017",
		MongoDBDatabase:         "stockledger",
		GuardBackend:            GuardLocal,
		RedisAddr:               "localhost:6379",
		GuardLockTimeout:        5 * time.Second,
		KafkaBrokers:            []string{"localhost:9092"},
		KafkaConsumerGroup:      "stock-ledger",
		OutboxPublisher:         true,
		TracingEnabled:          false,
		OTLPEndpoint:            "localhost:4317",
		TemporalHost:            "localhost:7233",
		TemporalNamespace:       "default",
		ReplenishmentBatches:    false,
		RateLimit:               "300-M",
		CORSOrigins:             []string{"*"},
		OpenAPIValidation:       false,
		RequireDistinctApprover: true,
	}
}

// Load builds the configuration. A missing .env file is not an error; a
// CONFIG_FILE that cannot be read or parsed is.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default(serviceName)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.ServerAddr = getEnv("SERVER_ADDR", c.ServerAddr)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.StorageBackend = strings.ToLower(getEnv("STORAGE_BACKEND", c.StorageBackend))
	c.MongoDBURI = getEnv("MONGODB_URI", c.MongoDBURI)
	c.MongoDBDatabase = getEnv("MONGODB_DATABASE", c.MongoDBDatabase)
	c.GuardBackend = strings.ToLower(getEnv("GUARD_BACKEND", c.GuardBackend))
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.GuardLockTimeout = getEnvDuration("GUARD_LOCK_TIMEOUT", c.GuardLockTimeout)
	c.KafkaBrokers = getEnvList("KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaConsumerGroup = getEnv("KAFKA_CONSUMER_GROUP", c.KafkaConsumerGroup)
	c.OutboxPublisher = getEnvBool("OUTBOX_PUBLISHER_ENABLED", c.OutboxPublisher)
	c.TracingEnabled = getEnvBool("TRACING_ENABLED", c.TracingEnabled)
	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.TemporalHost = getEnv("TEMPORAL_HOST", c.TemporalHost)
	c.TemporalNamespace = getEnv("TEMPORAL_NAMESPACE", c.TemporalNamespace)
	c.ReplenishmentBatches = getEnvBool("REPLENISHMENT_BATCHES_ENABLED", c.ReplenishmentBatches)
	c.RateLimit = getEnv("RATE_LIMIT", c.RateLimit)
	c.CORSOrigins = getEnvList("CORS_ALLOWED_ORIGINS", c.CORSOrigins)
	c.OpenAPIValidation = getEnvBool("OPENAPI_VALIDATION", c.OpenAPIValidation)
	c.RequireDistinctApprover = getEnvBool("TRANSFER_REQUIRE_DISTINCT_APPROVER", c.RequireDistinctApprover)
}

// Validate rejects unknown backends and non-positive timeouts
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageMemory, StorageMongoDB:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	switch c.GuardBackend {
	case GuardLocal, GuardRedis:
	default:
		return fmt.Errorf("unknown GUARD_BACKEND %q", c.GuardBackend)
	}
	if c.GuardLockTimeout <= 0 {
		return fmt.Errorf("GUARD_LOCK_TIMEOUT must be positive, got %s", c.GuardLockTimeout)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
